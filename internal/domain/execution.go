package domain

import "time"

// ExecutionStatus enumerates the lifecycle states of an execution.
type ExecutionStatus string

const (
	ExecutionActive    ExecutionStatus = "active"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionHandover  ExecutionStatus = "handover"
	ExecutionFailed    ExecutionStatus = "failed"
)

// AllExecutionStatuses lists every status in lifecycle order.
var AllExecutionStatuses = []ExecutionStatus{
	ExecutionActive, ExecutionPaused, ExecutionCompleted, ExecutionHandover, ExecutionFailed,
}

// IsTerminal returns true for statuses that never dispatch again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionHandover || s == ExecutionFailed
}

// Execution is the mutable progress record of one lead through one campaign.
type Execution struct {
	ID         string `json:"id" db:"id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	// CurrentStepIndex is 0-based and never decreases.
	CurrentStepIndex int              `json:"current_step_index" db:"current_step_index"`
	Status           ExecutionStatus  `json:"status" db:"status"`
	StartedAt        time.Time        `json:"started_at" db:"started_at"`
	NextRunAt        time.Time        `json:"next_run_at" db:"next_run_at"`
	History          []DispatchResult `json:"history" db:"history"`

	HandoverReason    string     `json:"handover_reason,omitempty" db:"handover_reason"`
	TriggeredCriteria []string   `json:"triggered_criteria,omitempty" db:"triggered_criteria"`
	LastError         string     `json:"last_error,omitempty" db:"last_error"`
	TerminalAt        *time.Time `json:"terminal_at,omitempty" db:"terminal_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the execution is in a final state.
func (e *Execution) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// ConversationLength counts the messages that reached the lead or the
// provider. Failed attempts and chat sends without a live connection are
// not part of the conversation.
func (e *Execution) ConversationLength() int {
	n := 0
	for _, r := range e.History {
		if r.Reached() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so registry snapshots never alias live state.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.History != nil {
		cp.History = make([]DispatchResult, len(e.History))
		copy(cp.History, e.History)
	}
	if e.TriggeredCriteria != nil {
		cp.TriggeredCriteria = append([]string(nil), e.TriggeredCriteria...)
	}
	if e.TerminalAt != nil {
		t := *e.TerminalAt
		cp.TerminalAt = &t
	}
	return &cp
}

// ExecutionContext is the running state the handover evaluator consults.
type ExecutionContext struct {
	ConversationLength int   `json:"conversation_length"`
	ElapsedSeconds     int64 `json:"elapsed_seconds"`
}

// HandoverEvaluation is the evaluator's verdict.
type HandoverEvaluation struct {
	ShouldHandover    bool     `json:"should_handover"`
	Reason            string   `json:"reason,omitempty"`
	TriggeredCriteria []string `json:"triggered_criteria"`
}
