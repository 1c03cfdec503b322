package repository

import (
	"testing"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

func seedWorkflow(t *testing.T, repo *WorkflowRepository) *models.Workflow {
	t.Helper()

	w := &models.Workflow{
		Name:        "onboarding",
		TriggerType: models.TriggerManual,
		IsActive:    true,
		Steps: []models.Step{
			{StepOrder: 0, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 60}},
			{StepOrder: 1, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: "g1"}},
		},
	}
	if err := repo.Create(w); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return w
}

func TestWorkflowStepsRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	repo := NewWorkflowRepository(database.DB)

	w := seedWorkflow(t, repo)

	got, err := repo.GetByID(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("workflow not found")
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	if got.Steps[0].ActionType != models.ActionWait || got.Steps[0].Config.WaitMinutes != 60 {
		t.Errorf("step 0 = %+v", got.Steps[0])
	}
	if got.Steps[1].Config.GroupID != "g1" {
		t.Errorf("step 1 = %+v", got.Steps[1])
	}
}

func TestWorkflowUpdateReplacesWholeStepList(t *testing.T) {
	database := setupTestDB(t)
	repo := NewWorkflowRepository(database.DB)

	w := seedWorkflow(t, repo)

	w.Steps = []models.Step{
		{StepOrder: 0, ActionType: models.ActionSendSavedMail, Config: models.StepConfig{SavedMailID: "m1"}},
	}
	if err := repo.Update(w); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByID(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Steps) != 1 {
		t.Fatalf("steps = %d, want 1 after replacement", len(got.Steps))
	}
	if got.Steps[0].ActionType != models.ActionSendSavedMail {
		t.Errorf("step 0 = %+v", got.Steps[0])
	}
}

func TestListByTriggerSkipsInactive(t *testing.T) {
	database := setupTestDB(t)
	repo := NewWorkflowRepository(database.DB)

	active := seedWorkflow(t, repo)
	inactive := seedWorkflow(t, repo)
	if err := repo.SetActive(inactive.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := repo.ListByTrigger(models.TriggerManual)
	if err != nil {
		t.Fatalf("list by trigger: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("got %d workflows, want only the active one", len(got))
	}
}

func TestWorkflowDeleteCascadesToRuns(t *testing.T) {
	database := setupTestDB(t)
	workflows := NewWorkflowRepository(database.DB)
	runs := NewRunRepository(database.DB)

	w := seedWorkflow(t, workflows)
	run := &models.WorkflowRun{WorkflowID: w.ID, Subject: "a@example.com"}
	if err := runs.Create(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := workflows.Delete(w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got != nil {
		t.Error("run survived workflow delete")
	}
}
