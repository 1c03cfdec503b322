package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create creates a new workflow run in 'running' state.
func (r *RunRepository) Create(run *models.WorkflowRun) error {
	run.ID = uuid.New().String()
	run.Status = models.RunStatusRunning
	run.CurrentStep = 0
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO workflow_runs (id, workflow_id, subject, current_step, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.Subject, run.CurrentStep, run.Status, run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// GetByID returns a run by ID, or nil if not found.
func (r *RunRepository) GetByID(id string) (*models.WorkflowRun, error) {
	row := r.db.QueryRow(`
		SELECT r.id, r.workflow_id, w.name, r.subject, r.current_step, r.status,
			r.resume_at, r.last_error, r.created_at, r.updated_at, r.completed_at
		FROM workflow_runs r
		LEFT JOIN workflows w ON r.workflow_id = w.id
		WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListByWorkflow returns runs of a workflow, newest first.
func (r *RunRepository) ListByWorkflow(workflowID string) ([]models.WorkflowRun, error) {
	rows, err := r.db.Query(`
		SELECT r.id, r.workflow_id, w.name, r.subject, r.current_step, r.status,
			r.resume_at, r.last_error, r.created_at, r.updated_at, r.completed_at
		FROM workflow_runs r
		LEFT JOIN workflows w ON r.workflow_id = w.id
		WHERE r.workflow_id = ?
		ORDER BY r.created_at DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// WaitingDue returns runs parked on a wait step whose resume time has
// passed and whose workflow is still active.
func (r *RunRepository) WaitingDue(now time.Time) ([]models.WorkflowRun, error) {
	rows, err := r.db.Query(`
		SELECT r.id, r.workflow_id, w.name, r.subject, r.current_step, r.status,
			r.resume_at, r.last_error, r.created_at, r.updated_at, r.completed_at
		FROM workflow_runs r
		JOIN workflows w ON r.workflow_id = w.id
		WHERE r.status = ? AND r.resume_at IS NOT NULL AND r.resume_at <= ? AND w.is_active = 1
		ORDER BY r.resume_at`, models.RunStatusWaiting, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ClaimResume atomically moves a due waiting run back to 'running'. The
// workflow's activity flag is re-checked at claim time, so a workflow
// deactivated after the wait was parked never resumes.
func (r *RunRepository) ClaimResume(id string, now time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE workflow_runs SET status = ?, resume_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND resume_at IS NOT NULL AND resume_at <= ?
		AND EXISTS (SELECT 1 FROM workflows w WHERE w.id = workflow_id AND w.is_active = 1)`,
		models.RunStatusRunning, time.Now().UTC(), id, models.RunStatusWaiting, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Park suspends a run on a wait step until resumeAt. No process resource is
// held while parked; the next due tick picks it up.
func (r *RunRepository) Park(id string, currentStep int, resumeAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE workflow_runs SET status = ?, current_step = ?, resume_at = ?, updated_at = ?
		WHERE id = ?`,
		models.RunStatusWaiting, currentStep, resumeAt, time.Now().UTC(), id)
	return err
}

// SetStep advances the run's step pointer.
func (r *RunRepository) SetStep(id string, currentStep int) error {
	_, err := r.db.Exec(`UPDATE workflow_runs SET current_step = ?, updated_at = ? WHERE id = ?`,
		currentStep, time.Now().UTC(), id)
	return err
}

// Complete marks a run as finished.
func (r *RunRepository) Complete(id string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		UPDATE workflow_runs SET status = ?, resume_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		models.RunStatusCompleted, now, now, id)
	return err
}

// Fail marks a run as failed with the step's error. The run halts; later
// steps are never attempted.
func (r *RunRepository) Fail(id, reason string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		UPDATE workflow_runs SET status = ?, resume_at = NULL, last_error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		models.RunStatusFailed, reason, now, now, id)
	return err
}

func scanRun(row rowScanner) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{}
	var workflowName sql.NullString
	var resumeAt, completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.WorkflowID, &workflowName, &run.Subject, &run.CurrentStep, &run.Status,
		&resumeAt, &run.LastError, &run.CreatedAt, &run.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if workflowName.Valid {
		run.WorkflowName = workflowName.String
	}
	if resumeAt.Valid {
		run.ResumeAt = &resumeAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return run, nil
}
