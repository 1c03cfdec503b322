package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type WorkflowRepository struct {
	db *sql.DB
}

func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create creates a workflow with its steps in one transaction.
func (r *WorkflowRepository) Create(w *models.Workflow) error {
	w.ID = uuid.New().String()
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO workflows (id, name, trigger_type, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.TriggerType, w.IsActive, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	if err := insertSteps(tx, w.ID, w.Steps); err != nil {
		return err
	}

	return tx.Commit()
}

// GetByID returns a workflow with its ordered steps, or nil if not found.
func (r *WorkflowRepository) GetByID(id string) (*models.Workflow, error) {
	w := &models.Workflow{}
	err := r.db.QueryRow(`
		SELECT id, name, trigger_type, is_active, created_at, updated_at
		FROM workflows WHERE id = ?`, id,
	).Scan(&w.ID, &w.Name, &w.TriggerType, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	steps, err := r.getSteps(id)
	if err != nil {
		return nil, err
	}
	w.Steps = steps

	return w, nil
}

// List returns all workflows with their steps.
func (r *WorkflowRepository) List() ([]models.Workflow, error) {
	rows, err := r.db.Query(`
		SELECT id, name, trigger_type, is_active, created_at, updated_at
		FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workflows := []models.Workflow{}
	for rows.Next() {
		var w models.Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.TriggerType, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workflows {
		steps, err := r.getSteps(workflows[i].ID)
		if err != nil {
			return nil, err
		}
		workflows[i].Steps = steps
	}

	return workflows, nil
}

// ListByTrigger returns active workflows for a trigger type.
func (r *WorkflowRepository) ListByTrigger(triggerType string) ([]models.Workflow, error) {
	rows, err := r.db.Query(`
		SELECT id, name, trigger_type, is_active, created_at, updated_at
		FROM workflows WHERE trigger_type = ? AND is_active = 1
		ORDER BY created_at`, triggerType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	workflows := []models.Workflow{}
	for rows.Next() {
		var w models.Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.TriggerType, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workflows {
		steps, err := r.getSteps(workflows[i].ID)
		if err != nil {
			return nil, err
		}
		workflows[i].Steps = steps
	}

	return workflows, nil
}

// Update replaces a workflow's fields and its whole step list. Partial step
// edits are not supported at this boundary.
func (r *WorkflowRepository) Update(w *models.Workflow) error {
	w.UpdatedAt = time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE workflows SET name = ?, trigger_type = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		w.Name, w.TriggerType, w.IsActive, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM workflow_steps WHERE workflow_id = ?`, w.ID); err != nil {
		return err
	}
	if err := insertSteps(tx, w.ID, w.Steps); err != nil {
		return err
	}

	return tx.Commit()
}

// SetActive toggles a workflow. Deactivated workflows never fire and their
// waiting runs are never resumed.
func (r *WorkflowRepository) SetActive(id string, active bool) error {
	_, err := r.db.Exec(`UPDATE workflows SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	return err
}

// Delete deletes a workflow. Steps and runs cascade.
func (r *WorkflowRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM workflows WHERE id = ?", id)
	return err
}

func (r *WorkflowRepository) getSteps(workflowID string) ([]models.Step, error) {
	rows, err := r.db.Query(`
		SELECT step_order, action_type, action_config
		FROM workflow_steps WHERE workflow_id = ?
		ORDER BY step_order`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []models.Step{}
	for rows.Next() {
		var s models.Step
		var cfg string
		if err := rows.Scan(&s.StepOrder, &s.ActionType, &cfg); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cfg), &s.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step config: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func insertSteps(tx *sql.Tx, workflowID string, steps []models.Step) error {
	stmt, err := tx.Prepare(`
		INSERT INTO workflow_steps (id, workflow_id, step_order, action_type, action_config)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range steps {
		cfg, err := json.Marshal(s.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step config: %w", err)
		}
		if _, err := stmt.Exec(uuid.New().String(), workflowID, s.StepOrder, s.ActionType, string(cfg)); err != nil {
			return fmt.Errorf("failed to insert step %d: %w", s.StepOrder, err)
		}
	}
	return nil
}
