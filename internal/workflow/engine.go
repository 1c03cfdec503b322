// Package workflow executes multi-step automations attached to a
// triggering contact.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
)

var (
	// ErrValidation marks a malformed workflow definition.
	ErrValidation = errors.New("validation error")

	// ErrInactive is returned when triggering a deactivated workflow.
	ErrInactive = errors.New("workflow is not active")
)

// GroupStore mutates group membership. Mutations are idempotent.
type GroupStore interface {
	AddMember(groupID, email string) error
	RemoveMember(groupID, email string) error
}

// CampaignSource loads campaign content for send_campaign steps.
type CampaignSource interface {
	GetByID(id string) (*models.Campaign, error)
}

// SavedMailSource loads saved mail content for send_saved_mail steps.
type SavedMailSource interface {
	GetByID(id string) (*models.SavedMail, error)
}

// OneOffSender delivers a single message to the triggering contact.
// Implemented by the campaign lifecycle.
type OneOffSender interface {
	SendOneOff(ctx context.Context, to, subject, body string) error
}

// Engine drives WorkflowRun state machines. Steps execute strictly in
// order; a later step never starts before an earlier one completes.
type Engine struct {
	workflows *repository.WorkflowRepository
	runs      *repository.RunRepository
	groups    GroupStore
	campaigns CampaignSource
	saved     SavedMailSource
	sender    OneOffSender
	metrics   *metrics.Metrics
	logger    *slog.Logger

	maxRetries int
	now        func() time.Time
}

func NewEngine(
	workflows *repository.WorkflowRepository,
	runs *repository.RunRepository,
	groups GroupStore,
	campaigns CampaignSource,
	saved SavedMailSource,
	sender OneOffSender,
	m *metrics.Metrics,
	maxRetries int,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		workflows:  workflows,
		runs:       runs,
		groups:     groups,
		campaigns:  campaigns,
		saved:      saved,
		sender:     sender,
		metrics:    m,
		maxRetries: maxRetries,
		logger:     logger.With("component", "workflow"),
		now:        time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// ValidateSteps rejects empty or non-contiguous step lists at the write
// boundary rather than trusting the order field as given.
func ValidateSteps(steps []models.Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: workflow must have at least one step", ErrValidation)
	}

	for i, s := range steps {
		if s.StepOrder != i {
			return fmt.Errorf("%w: step orders must be contiguous from 0, got %d at position %d", ErrValidation, s.StepOrder, i)
		}
		switch s.ActionType {
		case models.ActionWait:
			if s.Config.WaitMinutes < 1 {
				return fmt.Errorf("%w: wait step %d needs wait_minutes >= 1", ErrValidation, i)
			}
		case models.ActionSendCampaign:
			if s.Config.CampaignID == "" {
				return fmt.Errorf("%w: step %d needs campaign_id", ErrValidation, i)
			}
		case models.ActionSendSavedMail:
			if s.Config.SavedMailID == "" {
				return fmt.Errorf("%w: step %d needs saved_mail_id", ErrValidation, i)
			}
		case models.ActionAddToGroup, models.ActionRemoveFromGroup:
			if s.Config.GroupID == "" {
				return fmt.Errorf("%w: step %d needs group_id", ErrValidation, i)
			}
		default:
			return fmt.Errorf("%w: unknown action type %q at step %d", ErrValidation, s.ActionType, i)
		}
	}
	return nil
}

// Create validates and persists a workflow definition.
func (e *Engine) Create(w *models.Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := ValidateSteps(w.Steps); err != nil {
		return err
	}
	return e.workflows.Create(w)
}

// Update replaces a workflow definition including its whole step list.
func (e *Engine) Update(w *models.Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if err := ValidateSteps(w.Steps); err != nil {
		return err
	}
	return e.workflows.Update(w)
}

// Trigger starts a run of a workflow for the triggering subject and
// executes steps until the run parks, completes or fails.
func (e *Engine) Trigger(ctx context.Context, workflowID, subject string) (*models.WorkflowRun, error) {
	w, err := e.workflows.GetByID(workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if w == nil {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	if !w.IsActive {
		return nil, ErrInactive
	}

	run := &models.WorkflowRun{
		WorkflowID: workflowID,
		Subject:    subject,
	}
	if err := e.runs.Create(run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	e.metrics.WorkflowRunsStartedTotal.Inc()
	e.logger.Info("workflow triggered", "workflow_id", workflowID, "run_id", run.ID, "subject", subject)

	if err := e.advance(ctx, run, w); err != nil {
		return run, err
	}
	return run, nil
}

// TriggerEvent fires all active workflows registered for an event type.
func (e *Engine) TriggerEvent(ctx context.Context, triggerType, subject string) error {
	workflows, err := e.workflows.ListByTrigger(triggerType)
	if err != nil {
		return fmt.Errorf("failed to list workflows for trigger %s: %w", triggerType, err)
	}

	for _, w := range workflows {
		if _, err := e.Trigger(ctx, w.ID, subject); err != nil {
			e.logger.Error("trigger failed", "workflow_id", w.ID, "trigger", triggerType, "error", err)
		}
	}
	return nil
}

// Resume continues a claimed run whose wait has elapsed. The claim moved
// the run back to 'running' and re-checked the workflow's activity flag.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	run, err := e.runs.GetByID(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil || run.Status != models.RunStatusRunning {
		return nil
	}

	w, err := e.workflows.GetByID(run.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}
	if w == nil {
		return e.runs.Fail(runID, "workflow deleted")
	}

	// The step pointer still references the wait step the run parked on.
	next := run.CurrentStep + 1
	if err := e.runs.SetStep(runID, next); err != nil {
		return err
	}
	run.CurrentStep = next

	return e.advance(ctx, run, w)
}

// advance executes steps sequentially from the run's current position.
func (e *Engine) advance(ctx context.Context, run *models.WorkflowRun, w *models.Workflow) error {
	for i := run.CurrentStep; i < len(w.Steps); i++ {
		step := w.Steps[i]

		if step.ActionType == models.ActionWait {
			resumeAt := e.now().UTC().Add(time.Duration(step.Config.WaitMinutes) * time.Minute)
			if err := e.runs.Park(run.ID, i, resumeAt); err != nil {
				return err
			}
			e.metrics.WorkflowStepsTotal.WithLabelValues(step.ActionType, "parked").Inc()
			e.logger.Info("run parked", "run_id", run.ID, "step", i, "resume_at", resumeAt)
			return nil
		}

		if err := e.executeWithRetry(ctx, run, step); err != nil {
			e.metrics.WorkflowStepsTotal.WithLabelValues(step.ActionType, "failed").Inc()
			reason := fmt.Sprintf("step %d (%s): %v", i, step.ActionType, err)
			if ferr := e.runs.Fail(run.ID, reason); ferr != nil {
				return ferr
			}
			e.logger.Warn("run failed", "run_id", run.ID, "step", i, "error", err)
			return nil
		}

		e.metrics.WorkflowStepsTotal.WithLabelValues(step.ActionType, "ok").Inc()
		if err := e.runs.SetStep(run.ID, i+1); err != nil {
			return err
		}
	}

	if err := e.runs.Complete(run.ID); err != nil {
		return err
	}
	e.logger.Info("run completed", "run_id", run.ID)
	return nil
}

func (e *Engine) executeWithRetry(ctx context.Context, run *models.WorkflowRun, step models.Step) error {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.execute(ctx, run, step)
		if lastErr == nil {
			return nil
		}
		e.logger.Debug("step attempt failed",
			"run_id", run.ID,
			"action", step.ActionType,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func (e *Engine) execute(ctx context.Context, run *models.WorkflowRun, step models.Step) error {
	switch step.ActionType {
	case models.ActionSendCampaign:
		campaign, err := e.campaigns.GetByID(step.Config.CampaignID)
		if err != nil {
			return err
		}
		if campaign == nil {
			return fmt.Errorf("campaign %s not found", step.Config.CampaignID)
		}
		return e.sender.SendOneOff(ctx, run.Subject, campaign.Subject, campaign.Body)

	case models.ActionSendSavedMail:
		m, err := e.saved.GetByID(step.Config.SavedMailID)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("saved mail %s not found", step.Config.SavedMailID)
		}
		return e.sender.SendOneOff(ctx, run.Subject, m.Subject, m.Body)

	case models.ActionAddToGroup:
		return e.groups.AddMember(step.Config.GroupID, run.Subject)

	case models.ActionRemoveFromGroup:
		return e.groups.RemoveMember(step.Config.GroupID, run.Subject)
	}

	return fmt.Errorf("unknown action type %q", step.ActionType)
}
