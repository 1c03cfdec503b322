package models

import "time"

// Campaign send modes
const (
	SendModeDraft     = "draft"
	SendModeImmediate = "immediate"
	SendModeScheduled = "scheduled"
)

// Campaign statuses. Sent and Failed are terminal.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusPending   = "pending"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusFailed    = "failed"
)

// A/B test states
const (
	ABStateNotStarted = "not_started"
	ABStateTesting    = "testing"
	ABStateEvaluating = "evaluating" // claimed by a tick, verdict pending
	ABStateEvaluated  = "evaluated"
)

// Winner criteria for A/B evaluation
const (
	CriteriaOpens    = "opens"
	CriteriaClicks   = "clicks"
	CriteriaCTR      = "ctr"
	CriteriaCombined = "combined"
)

// Campaign represents a newsletter campaign
type Campaign struct {
	ID        string `json:"id"`
	Title     string `json:"title"` // internal label, not shown to recipients
	Subject   string `json:"subject"`
	SubjectB  string `json:"subject_b,omitempty"`
	Body      string `json:"body"`
	Preheader string `json:"preheader,omitempty"`

	// Addressing: union of group members, explicit emails and manually
	// entered free text, deduplicated at dispatch time.
	GroupIDs       []string `json:"group_ids"`
	ExplicitEmails []string `json:"explicit_emails"`
	ManualEmails   string   `json:"manual_emails,omitempty"`

	SendMode     string     `json:"send_mode"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Status       string     `json:"status"`

	ABEnabled        bool       `json:"ab_enabled"`
	ABTestDuration   int        `json:"ab_test_duration"` // days
	ABWinnerCriteria string     `json:"ab_winner_criteria,omitempty"`
	ABState          string     `json:"ab_state"`
	ABEvaluateAt     *time.Time `json:"ab_evaluate_at,omitempty"`
	ABEvaluatedAt    *time.Time `json:"ab_evaluated_at,omitempty"`
	ABWinner         string     `json:"ab_winner,omitempty"` // "A" or "B"

	ExcludedFromTracking bool `json:"excluded_from_tracking"`

	SentCount    int `json:"sent_count"`
	OpenedCount  int `json:"opened_count"`
	ClickedCount int `json:"clicked_count"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the campaign can transition further.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignStatusSent || c.Status == CampaignStatusFailed
}

// SubjectFor returns the subject line a cohort receives.
func (c *Campaign) SubjectFor(cohort string) string {
	if cohort == CohortB {
		return c.SubjectB
	}
	return c.Subject
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status string
	Limit  int
	Offset int
}
