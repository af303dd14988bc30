package schemas

import "time"

// -- Session Trace Schemas --

// TraceStep is a censored summary of one loop iteration. Action text still
// carries inventory placeholders, never resolved values.
type TraceStep struct {
	Iteration          int            `json:"iteration"`
	URL                string         `json:"url,omitempty"`
	Title              string         `json:"title,omitempty"`
	DecisionKind       string         `json:"decision_kind,omitempty"`
	ProgressAssessment string         `json:"progress_assessment,omitempty"`
	Action             *BrowserAction `json:"action,omitempty"`
	Outcome            string         `json:"outcome"`
	ErrorCode          ErrorCode      `json:"error_code,omitempty"`
	Message            string         `json:"message,omitempty"`
}

// Trace is the record of a finished session. It is what gets reported to
// collective memory and persisted by the trace store.
type Trace struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id,omitempty"`
	StartURL    string      `json:"start_url"`
	Objective   []string    `json:"objective"`
	State       string      `json:"state"`
	FailureKind string      `json:"failure_kind,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Result      any         `json:"result,omitempty"`
	Iterations  int         `json:"iterations"`
	Decisions   int         `json:"decisions"`
	Steps       []TraceStep `json:"steps"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}
