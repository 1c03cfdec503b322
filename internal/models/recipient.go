package models

import "time"

// Per-recipient delivery statuses. Sent, Bounced and Failed are terminal.
const (
	RecipientStatusPending = "pending"
	RecipientStatusSent    = "sent"
	RecipientStatusBounced = "bounced"
	RecipientStatusFailed  = "failed"
)

// Cohorts for A/B testing. Recipients of a campaign without an A/B test
// carry an empty cohort.
const (
	CohortA         = "A"
	CohortB         = "B"
	CohortRemainder = "remainder"
)

// Recipient is one resolved address of a campaign. There is exactly one row
// per (campaign, email) pair regardless of how many times dispatch runs.
type Recipient struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	Email      string     `json:"email"`
	Cohort     string     `json:"cohort,omitempty"`
	Status     string     `json:"status"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	ClickedAt  *time.Time `json:"clicked_at,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TerminalRecipientStatus reports whether a per-row status is final.
func TerminalRecipientStatus(status string) bool {
	switch status {
	case RecipientStatusSent, RecipientStatusBounced, RecipientStatusFailed:
		return true
	}
	return false
}

// CohortStats holds the engagement counters of one cohort at evaluation time.
type CohortStats struct {
	Sent   int `json:"sent"`
	Opens  int `json:"opens"`
	Clicks int `json:"clicks"`
}
