package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/jeylabbb/newsletter-hq/internal/models"
)

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// CreateBatch inserts recipient rows for a campaign. Rows that already exist
// for the same (campaign, email) pair are left untouched, so re-running
// dispatch after a crash never duplicates rows or re-assigns cohorts.
func (r *RecipientRepository) CreateBatch(recipients []models.Recipient) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO campaign_recipients (id, campaign_id, email, cohort, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range recipients {
		recipients[i].ID = uuid.New().String()
		recipients[i].Status = models.RecipientStatusPending
		recipients[i].CreatedAt = now

		_, err := stmt.Exec(recipients[i].ID, recipients[i].CampaignID, recipients[i].Email,
			recipients[i].Cohort, recipients[i].Status, recipients[i].CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListByCampaign returns all recipient rows of a campaign.
func (r *RecipientRepository) ListByCampaign(campaignID string) ([]models.Recipient, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, email, cohort, status, opened_at, clicked_at, sent_at, last_error, created_at
		FROM campaign_recipients WHERE campaign_id = ?
		ORDER BY email`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecipients(rows)
}

// PendingByCohort returns pending rows of one cohort, ordered by email.
func (r *RecipientRepository) PendingByCohort(campaignID, cohort string) ([]models.Recipient, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, email, cohort, status, opened_at, clicked_at, sent_at, last_error, created_at
		FROM campaign_recipients WHERE campaign_id = ? AND cohort = ? AND status = ?
		ORDER BY email`, campaignID, cohort, models.RecipientStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecipients(rows)
}

// MarkSent records a successful per-address delivery.
func (r *RecipientRepository) MarkSent(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE campaign_recipients SET status = ?, sent_at = ?, last_error = '' WHERE id = ?`,
		models.RecipientStatusSent, at, id)
	return err
}

// MarkFailed records a per-address delivery failure.
func (r *RecipientRepository) MarkFailed(id, lastError string) error {
	_, err := r.db.Exec(`UPDATE campaign_recipients SET status = ?, last_error = ? WHERE id = ?`,
		models.RecipientStatusFailed, lastError, id)
	return err
}

// MarkOpened stamps opened_at if not already set. Returns true on first touch.
func (r *RecipientRepository) MarkOpened(campaignID, email string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`UPDATE campaign_recipients SET opened_at = ?
		WHERE campaign_id = ? AND email = ? AND opened_at IS NULL`,
		at, campaignID, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkClicked stamps clicked_at if not already set. Returns true on first touch.
func (r *RecipientRepository) MarkClicked(campaignID, email string, at time.Time) (bool, error) {
	res, err := r.db.Exec(`UPDATE campaign_recipients SET clicked_at = ?
		WHERE campaign_id = ? AND email = ? AND clicked_at IS NULL`,
		at, campaignID, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkBounced transitions a recipient row to bounced.
func (r *RecipientRepository) MarkBounced(campaignID, email string) error {
	_, err := r.db.Exec(`UPDATE campaign_recipients SET status = ?
		WHERE campaign_id = ? AND email = ?`,
		models.RecipientStatusBounced, campaignID, email)
	return err
}

// CountNonTerminal returns how many rows of a campaign still await delivery.
func (r *RecipientRepository) CountNonTerminal(campaignID string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM campaign_recipients
		WHERE campaign_id = ? AND status = ?`,
		campaignID, models.RecipientStatusPending).Scan(&n)
	return n, err
}

// StatusCounts returns the number of recipient rows per status.
func (r *RecipientRepository) StatusCounts(campaignID string) (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM campaign_recipients
		WHERE campaign_id = ? GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// CohortStats returns engagement counters per cohort for a campaign.
func (r *RecipientRepository) CohortStats(campaignID string) (map[string]models.CohortStats, error) {
	rows, err := r.db.Query(`
		SELECT cohort,
			SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END) as sent,
			SUM(CASE WHEN opened_at IS NOT NULL THEN 1 ELSE 0 END) as opens,
			SUM(CASE WHEN clicked_at IS NOT NULL THEN 1 ELSE 0 END) as clicks
		FROM campaign_recipients WHERE campaign_id = ?
		GROUP BY cohort`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]models.CohortStats)
	for rows.Next() {
		var cohort string
		var s models.CohortStats
		if err := rows.Scan(&cohort, &s.Sent, &s.Opens, &s.Clicks); err != nil {
			return nil, err
		}
		stats[cohort] = s
	}
	return stats, rows.Err()
}

func collectRecipients(rows *sql.Rows) ([]models.Recipient, error) {
	recipients := []models.Recipient{}
	for rows.Next() {
		var rec models.Recipient
		var openedAt, clickedAt, sentAt sql.NullTime

		err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.Email, &rec.Cohort, &rec.Status,
			&openedAt, &clickedAt, &sentAt, &rec.LastError, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}

		if openedAt.Valid {
			rec.OpenedAt = &openedAt.Time
		}
		if clickedAt.Valid {
			rec.ClickedAt = &clickedAt.Time
		}
		if sentAt.Valid {
			rec.SentAt = &sentAt.Time
		}

		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}
