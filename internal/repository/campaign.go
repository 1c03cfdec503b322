package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, title, subject, subject_b, body, preheader, group_ids, explicit_emails, manual_emails,
	send_mode, scheduled_for, status, ab_enabled, ab_test_duration, ab_winner_criteria, ab_state,
	ab_evaluate_at, ab_evaluated_at, ab_winner, excluded_from_tracking,
	sent_count, opened_count, clicked_count, last_error, created_at, updated_at`

// Create creates a new campaign. The caller sets Status and ScheduledFor.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.ABState == "" {
		c.ABState = models.ABStateNotStarted
	}

	groupIDs, err := json.Marshal(c.GroupIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal group ids: %w", err)
	}
	explicit, err := json.Marshal(c.ExplicitEmails)
	if err != nil {
		return fmt.Errorf("failed to marshal explicit emails: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO campaigns (id, title, subject, subject_b, body, preheader, group_ids, explicit_emails, manual_emails,
			send_mode, scheduled_for, status, ab_enabled, ab_test_duration, ab_winner_criteria, ab_state,
			excluded_from_tracking, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Subject, c.SubjectB, c.Body, c.Preheader, string(groupIDs), string(explicit), c.ManualEmails,
		c.SendMode, c.ScheduledFor, c.Status, c.ABEnabled, c.ABTestDuration, c.ABWinnerCriteria, c.ABState,
		c.ExcludedFromTracking, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if not found.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	countQuery := "SELECT COUNT(*) FROM campaigns WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		countQuery += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args = []any{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}

	return campaigns, total, nil
}

// Update updates the editable content fields of a campaign.
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now().UTC()

	groupIDs, err := json.Marshal(c.GroupIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal group ids: %w", err)
	}
	explicit, err := json.Marshal(c.ExplicitEmails)
	if err != nil {
		return fmt.Errorf("failed to marshal explicit emails: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE campaigns SET title = ?, subject = ?, subject_b = ?, body = ?, preheader = ?,
			group_ids = ?, explicit_emails = ?, manual_emails = ?, send_mode = ?, scheduled_for = ?,
			ab_enabled = ?, ab_test_duration = ?, ab_winner_criteria = ?, updated_at = ?
		WHERE id = ?`,
		c.Title, c.Subject, c.SubjectB, c.Body, c.Preheader,
		string(groupIDs), string(explicit), c.ManualEmails, c.SendMode, c.ScheduledFor,
		c.ABEnabled, c.ABTestDuration, c.ABWinnerCriteria, c.UpdatedAt, c.ID,
	)
	return err
}

// SetStatus updates campaign status and records the failure reason if any.
func (r *CampaignRepository) SetStatus(id, status, lastError string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, time.Now().UTC(), id)
	return err
}

// SetExcluded toggles tracking exclusion without touching stats.
func (r *CampaignRepository) SetExcluded(id string, excluded bool) error {
	_, err := r.db.Exec(`UPDATE campaigns SET excluded_from_tracking = ?, updated_at = ? WHERE id = ?`,
		excluded, time.Now().UTC(), id)
	return err
}

// Delete deletes a campaign. Recipient rows cascade.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// ScheduledDue returns campaigns with status 'scheduled' and scheduled_for <= now.
func (r *CampaignRepository) ScheduledDue(now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.Query(`SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND scheduled_for IS NOT NULL AND scheduled_for <= ?
		ORDER BY scheduled_for`, models.CampaignStatusScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// EvaluationsDue returns campaigns whose A/B evaluation is due.
func (r *CampaignRepository) EvaluationsDue(now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.Query(`SELECT `+campaignColumns+` FROM campaigns
		WHERE ab_state = ? AND ab_evaluate_at IS NOT NULL AND ab_evaluate_at <= ?
		ORDER BY ab_evaluate_at`, models.ABStateTesting, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCampaigns(rows)
}

// ClaimDispatch atomically moves a campaign from fromStatus to 'sending'.
// Returns false when another tick already claimed it or the campaign is gone.
func (r *CampaignRepository) ClaimDispatch(id, fromStatus string) (bool, error) {
	res, err := r.db.Exec(`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.CampaignStatusSending, time.Now().UTC(), id, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StartTest marks the A/B test as running and records when it must be evaluated.
func (r *CampaignRepository) StartTest(id string, evaluateAt time.Time) error {
	_, err := r.db.Exec(`UPDATE campaigns SET ab_state = ?, ab_evaluate_at = ?, updated_at = ? WHERE id = ?`,
		models.ABStateTesting, evaluateAt, time.Now().UTC(), id)
	return err
}

// ClaimEvaluation atomically claims a due evaluation. Returns false when
// another tick already claimed it, the test is not due, or the campaign is gone.
func (r *CampaignRepository) ClaimEvaluation(id string, now time.Time) (bool, error) {
	res, err := r.db.Exec(`UPDATE campaigns SET ab_state = ?, updated_at = ?
		WHERE id = ? AND ab_state = ? AND ab_evaluate_at IS NOT NULL AND ab_evaluate_at <= ?`,
		models.ABStateEvaluating, time.Now().UTC(), id, models.ABStateTesting, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishEvaluation stamps the verdict. The A/B state becomes terminal.
func (r *CampaignRepository) FinishEvaluation(id, winner string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE campaigns SET ab_state = ?, ab_winner = ?, ab_evaluated_at = ?, updated_at = ?
		WHERE id = ? AND ab_state = ?`,
		models.ABStateEvaluated, winner, at, time.Now().UTC(), id, models.ABStateEvaluating)
	return err
}

// AddOpened increments the opened counter. Called only by the event
// ingestion path.
func (r *CampaignRepository) AddOpened(id string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET opened_count = opened_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// AddClicked increments the clicked counter. Called only by the event
// ingestion path.
func (r *CampaignRepository) AddClicked(id string) error {
	_, err := r.db.Exec(`UPDATE campaigns SET clicked_count = clicked_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// AddSent adds n to the sent counter.
func (r *CampaignRepository) AddSent(id string, n int) error {
	_, err := r.db.Exec(`UPDATE campaigns SET sent_count = sent_count + ?, updated_at = ? WHERE id = ?`,
		n, time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var groupIDs, explicit string
	var scheduledFor, evaluateAt, evaluatedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.Title, &c.Subject, &c.SubjectB, &c.Body, &c.Preheader, &groupIDs, &explicit, &c.ManualEmails,
		&c.SendMode, &scheduledFor, &c.Status, &c.ABEnabled, &c.ABTestDuration, &c.ABWinnerCriteria, &c.ABState,
		&evaluateAt, &evaluatedAt, &c.ABWinner, &c.ExcludedFromTracking,
		&c.SentCount, &c.OpenedCount, &c.ClickedCount, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(groupIDs), &c.GroupIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group ids: %w", err)
	}
	if err := json.Unmarshal([]byte(explicit), &c.ExplicitEmails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal explicit emails: %w", err)
	}
	if scheduledFor.Valid {
		c.ScheduledFor = &scheduledFor.Time
	}
	if evaluateAt.Valid {
		c.ABEvaluateAt = &evaluateAt.Time
	}
	if evaluatedAt.Valid {
		c.ABEvaluatedAt = &evaluatedAt.Time
	}

	return c, nil
}

func collectCampaigns(rows *sql.Rows) ([]models.Campaign, error) {
	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}
