package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/db"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type fakeSender struct {
	sent     []sentMail
	failures int // fail this many calls before succeeding
}

func (f *fakeSender) SendOneOff(_ context.Context, to, subject, body string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp connection refused")
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

type testEnv struct {
	engine    *Engine
	workflows *repository.WorkflowRepository
	runs      *repository.RunRepository
	groups    *repository.GroupRepository
	saved     *repository.SavedMailRepository
	sender    *fakeSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	workflows := repository.NewWorkflowRepository(database.DB)
	runs := repository.NewRunRepository(database.DB)
	groups := repository.NewGroupRepository(database.DB)
	saved := repository.NewSavedMailRepository(database.DB)
	campaigns := repository.NewCampaignRepository(database.DB)
	sender := &fakeSender{}

	m := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(workflows, runs, groups, campaigns, saved, sender, m, 3, logger)

	return &testEnv{
		engine:    engine,
		workflows: workflows,
		runs:      runs,
		groups:    groups,
		saved:     saved,
		sender:    sender,
	}
}

func (env *testEnv) createWorkflow(t *testing.T, steps []models.Step) *models.Workflow {
	t.Helper()
	w := &models.Workflow{
		Name:        "onboarding",
		TriggerType: models.TriggerManual,
		IsActive:    true,
		Steps:       steps,
	}
	if err := env.engine.Create(w); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return w
}

func (env *testEnv) createSavedMail(t *testing.T) *models.SavedMail {
	t.Helper()
	m := &models.SavedMail{Name: "welcome", Subject: "Welcome!", Body: "Hello there"}
	if err := env.saved.Create(m); err != nil {
		t.Fatalf("create saved mail: %v", err)
	}
	return m
}

func (env *testEnv) createGroup(t *testing.T, name string) *models.Group {
	t.Helper()
	g := &models.Group{Name: name}
	if err := env.groups.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}
	return g
}

func TestValidateSteps(t *testing.T) {
	tests := []struct {
		name    string
		steps   []models.Step
		wantErr bool
	}{
		{
			name:    "empty list rejected",
			steps:   nil,
			wantErr: true,
		},
		{
			name: "valid sequence",
			steps: []models.Step{
				{StepOrder: 0, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 60}},
				{StepOrder: 1, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: "g1"}},
			},
			wantErr: false,
		},
		{
			name: "gap in order",
			steps: []models.Step{
				{StepOrder: 0, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 60}},
				{StepOrder: 2, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: "g1"}},
			},
			wantErr: true,
		},
		{
			name: "not starting at zero",
			steps: []models.Step{
				{StepOrder: 1, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 60}},
			},
			wantErr: true,
		},
		{
			name: "wait needs positive minutes",
			steps: []models.Step{
				{StepOrder: 0, ActionType: models.ActionWait},
			},
			wantErr: true,
		},
		{
			name: "send_campaign needs campaign id",
			steps: []models.Step{
				{StepOrder: 0, ActionType: models.ActionSendCampaign},
			},
			wantErr: true,
		},
		{
			name: "unknown action rejected",
			steps: []models.Step{
				{StepOrder: 0, ActionType: "explode"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps)
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestTriggerRunsStepsInOrder(t *testing.T) {
	env := newTestEnv(t)
	mail := env.createSavedMail(t)
	group := env.createGroup(t, "customers")

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionSendSavedMail, Config: models.StepConfig{SavedMailID: mail.ID}},
		{StepOrder: 1, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})

	run, err := env.engine.Trigger(context.Background(), w.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if len(env.sender.sent) != 1 {
		t.Fatalf("expected 1 mail sent, got %d", len(env.sender.sent))
	}
	if env.sender.sent[0].To != "alice@example.com" || env.sender.sent[0].Subject != "Welcome!" {
		t.Errorf("unexpected mail: %+v", env.sender.sent[0])
	}

	member, err := env.groups.IsMember(group.ID, "alice@example.com")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Error("subject should have been added to group")
	}

	got, err := env.runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestTriggerInactiveWorkflowRejected(t *testing.T) {
	env := newTestEnv(t)
	group := env.createGroup(t, "customers")

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})
	if err := env.workflows.SetActive(w.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := env.engine.Trigger(context.Background(), w.ID, "alice@example.com"); !errors.Is(err, ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}

	runs, err := env.runs.ListByWorkflow(w.ID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestWaitParksAndResumeContinues(t *testing.T) {
	env := newTestEnv(t)
	mail := env.createSavedMail(t)
	group := env.createGroup(t, "engaged")

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.engine.SetNow(func() time.Time { return start })

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionSendSavedMail, Config: models.StepConfig{SavedMailID: mail.ID}},
		{StepOrder: 1, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 60}},
		{StepOrder: 2, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})

	run, err := env.engine.Trigger(context.Background(), w.ID, "bob@example.com")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Mail goes out immediately, then the run parks on the wait step.
	if len(env.sender.sent) != 1 {
		t.Fatalf("expected 1 mail before the wait, got %d", len(env.sender.sent))
	}
	got, err := env.runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusWaiting {
		t.Fatalf("run status = %s, want waiting", got.Status)
	}
	if got.ResumeAt == nil || !got.ResumeAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("resume_at = %v, want %v", got.ResumeAt, start.Add(time.Hour))
	}

	// Not due yet.
	due, err := env.runs.WaitingDue(start.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("waiting due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("run became due too early")
	}

	// An hour later the run is due; claim it and resume.
	later := start.Add(time.Hour)
	due, err = env.runs.WaitingDue(later)
	if err != nil {
		t.Fatalf("waiting due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due run, got %d", len(due))
	}

	claimed, err := env.runs.ClaimResume(run.ID, later)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("claim should have succeeded")
	}

	if err := env.engine.Resume(context.Background(), run.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	member, err := env.groups.IsMember(group.ID, "bob@example.com")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if !member {
		t.Error("post-wait step did not run")
	}

	got, err = env.runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", got.Status)
	}
	if len(env.sender.sent) != 1 {
		t.Errorf("resume must not repeat the pre-wait step, sent=%d", len(env.sender.sent))
	}
}

func TestClaimResumeSkipsDeactivatedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	group := env.createGroup(t, "engaged")

	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	env.engine.SetNow(func() time.Time { return start })

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 5}},
		{StepOrder: 1, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})

	run, err := env.engine.Trigger(context.Background(), w.ID, "carol@example.com")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := env.workflows.SetActive(w.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	claimed, err := env.runs.ClaimResume(run.ID, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed {
		t.Error("claim must fail once the workflow is deactivated")
	}
}

func TestStepRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t)
	mail := env.createSavedMail(t)

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionSendSavedMail, Config: models.StepConfig{SavedMailID: mail.ID}},
	})

	env.sender.failures = 2

	run, err := env.engine.Trigger(context.Background(), w.ID, "dave@example.com")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if len(env.sender.sent) != 1 {
		t.Fatalf("expected the retried send to land, sent=%d", len(env.sender.sent))
	}
	got, err := env.runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", got.Status)
	}
}

func TestStepRetriesExhaustedFailsRun(t *testing.T) {
	env := newTestEnv(t)
	mail := env.createSavedMail(t)
	group := env.createGroup(t, "customers")

	w := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionSendSavedMail, Config: models.StepConfig{SavedMailID: mail.ID}},
		{StepOrder: 1, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})

	env.sender.failures = 100

	run, err := env.engine.Trigger(context.Background(), w.ID, "erin@example.com")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	got, err := env.runs.GetByID(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusFailed {
		t.Fatalf("run status = %s, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Error("last_error should record the failing step")
	}

	// The run halted before the group step.
	member, err := env.groups.IsMember(group.ID, "erin@example.com")
	if err != nil {
		t.Fatalf("is member: %v", err)
	}
	if member {
		t.Error("steps after a failed step must not run")
	}
}

func TestGroupMutationsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	group := env.createGroup(t, "customers")

	add := env.createWorkflow(t, []models.Step{
		{StepOrder: 0, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
	})

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Trigger(context.Background(), add.ID, "frank@example.com"); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}

	members, err := env.groups.Members(group.ID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member after repeated add, got %d", len(members))
	}

	// Removing an absent member succeeds too.
	if err := env.groups.RemoveMember(group.ID, "frank@example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.groups.RemoveMember(group.ID, "frank@example.com"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestTriggerEventFiresMatchingWorkflows(t *testing.T) {
	env := newTestEnv(t)
	group := env.createGroup(t, "newcomers")

	w := &models.Workflow{
		Name:        "on signup",
		TriggerType: models.TriggerContactAdded,
		IsActive:    true,
		Steps: []models.Step{
			{StepOrder: 0, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
		},
	}
	if err := env.engine.Create(w); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	other := &models.Workflow{
		Name:        "manual only",
		TriggerType: models.TriggerManual,
		IsActive:    true,
		Steps: []models.Step{
			{StepOrder: 0, ActionType: models.ActionAddToGroup, Config: models.StepConfig{GroupID: group.ID}},
		},
	}
	if err := env.engine.Create(other); err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	if err := env.engine.TriggerEvent(context.Background(), models.TriggerContactAdded, "gina@example.com"); err != nil {
		t.Fatalf("trigger event: %v", err)
	}

	runs, err := env.runs.ListByWorkflow(w.ID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run for matching workflow, got %d", len(runs))
	}

	otherRuns, err := env.runs.ListByWorkflow(other.ID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(otherRuns) != 0 {
		t.Errorf("manual workflow must not fire on events, got %d runs", len(otherRuns))
	}
}

func TestCreateRejectsBadDefinition(t *testing.T) {
	env := newTestEnv(t)

	w := &models.Workflow{Name: "", TriggerType: models.TriggerManual, Steps: []models.Step{
		{StepOrder: 0, ActionType: models.ActionWait, Config: models.StepConfig{WaitMinutes: 1}},
	}}
	if err := env.engine.Create(w); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}

	w = &models.Workflow{Name: "no steps", TriggerType: models.TriggerManual}
	if err := env.engine.Create(w); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty steps, got %v", err)
	}
}
