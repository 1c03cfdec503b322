package models

import "time"

// Workflow trigger types
const (
	TriggerManual       = "manual"
	TriggerContactAdded = "contact_added"
	TriggerGroupJoined  = "group_joined"
)

// Step action types
const (
	ActionWait            = "wait"
	ActionSendCampaign    = "send_campaign"
	ActionSendSavedMail   = "send_saved_mail"
	ActionAddToGroup      = "add_to_group"
	ActionRemoveFromGroup = "remove_from_group"
)

// WorkflowRun statuses. Completed and Failed are terminal.
const (
	RunStatusRunning   = "running"
	RunStatusWaiting   = "waiting"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Workflow is an ordered list of steps executed per triggering contact.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	TriggerType string    `json:"trigger_type"`
	IsActive    bool      `json:"is_active"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Step is a single workflow step. StepOrder is zero-based and contiguous
// within a workflow; execution is strictly sequential.
type Step struct {
	StepOrder  int        `json:"step_order"`
	ActionType string     `json:"action_type"`
	Config     StepConfig `json:"action_config"`
}

// StepConfig carries the per-action parameters. Only the fields relevant to
// the step's action type are set.
type StepConfig struct {
	WaitMinutes int    `json:"wait_minutes,omitempty"`
	CampaignID  string `json:"campaign_id,omitempty"`
	SavedMailID string `json:"saved_mail_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
}

// WorkflowRun is one execution of a workflow for one triggering subject.
type WorkflowRun struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Subject      string     `json:"subject"` // triggering contact email
	CurrentStep  int        `json:"current_step"`
	Status       string     `json:"status"`
	ResumeAt     *time.Time `json:"resume_at,omitempty"` // set only while waiting
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	WorkflowName string     `json:"workflow_name,omitempty"` // joined field
}
