// internal/agentbrowser/types.go
package agentbrowser

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/hdr-browser/internal/agent"
)

// State is the lifecycle state of a session.
type State string

const (
	StateRunning               State = "Running"               // Initial state; the loop continues.
	StateComplete              State = "Complete"              // The model declared the objective achieved.
	StateFailed                State = "Failed"                // See FailureKind.
	StateMaxIterationsExceeded State = "MaxIterationsExceeded" // The iteration bound ran out while Running.
)

// Terminal reports whether no further iterations happen in this state.
func (s State) Terminal() bool { return s != StateRunning }

// FailureKind explains a Failed result.
type FailureKind string

const (
	KindNavigationError       FailureKind = "NavigationError"
	KindRepeatedInvalidOutput FailureKind = "RepeatedInvalidOutput"
	KindObjectiveFailed       FailureKind = "ObjectiveFailed"
	KindActionExecutionError  FailureKind = "ActionExecutionError"
	KindProviderError         FailureKind = "ProviderError"
	KindCancelled             FailureKind = "Cancelled"
)

// ErrInvalidArgs is returned by Browse before any browser work.
var ErrInvalidArgs = errors.New("invalid browse arguments")

// Args describes one browse run.
type Args struct {
	StartURL      string   `json:"startUrl"`
	Objective     []string `json:"objective"`
	MaxIterations int      `json:"maxIterations"`
}

// Validate checks Args.
func (a Args) Validate() error {
	if strings.TrimSpace(a.StartURL) == "" {
		return fmt.Errorf("%w: start URL is required", ErrInvalidArgs)
	}
	if u, err := url.Parse(a.StartURL); err != nil || u.Scheme == "" {
		return fmt.Errorf("%w: start URL %q must be absolute", ErrInvalidArgs, a.StartURL)
	}
	if len(a.Objective) == 0 {
		return fmt.Errorf("%w: objective must contain at least one statement", ErrInvalidArgs)
	}
	for i, goal := range a.Objective {
		if strings.TrimSpace(goal) == "" {
			return fmt.Errorf("%w: objective statement %d is empty", ErrInvalidArgs, i+1)
		}
	}
	if a.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidArgs, a.MaxIterations)
	}
	return nil
}

// Result is the terminal outcome of Browse.
type Result struct {
	SessionID string      `json:"sessionId"`
	State     State       `json:"state"`
	Failure   FailureKind `json:"failure,omitempty"`
	// Reason is censored text explaining a failure.
	Reason string `json:"reason,omitempty"`
	// Result is the ObjectiveComplete payload.
	Result     any                  `json:"result,omitempty"`
	Iterations int                  `json:"iterations"`
	Decisions  int                  `json:"decisions"`
	History    []agent.HistoryEntry `json:"-"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
}

// Succeeded reports whether the objective was completed.
func (r *Result) Succeeded() bool { return r != nil && r.State == StateComplete }

// EventType names a progress event.
type EventType string

const (
	EventIteration EventType = "iteration"
	EventDecision  EventType = "decision"
	EventOutcome   EventType = "outcome"
	EventTerminal  EventType = "terminal"
)

// Event is one progress notification. Text fields are censored.
type Event struct {
	SessionID          string      `json:"sessionId"`
	Type               EventType   `json:"type"`
	Iteration          int         `json:"iteration"`
	Decision           string      `json:"decision,omitempty"`
	ProgressAssessment string      `json:"progressAssessment,omitempty"`
	Outcome            string      `json:"outcome,omitempty"`
	State              State       `json:"state,omitempty"`
	Failure            FailureKind `json:"failure,omitempty"`
	Time               time.Time   `json:"time"`
}

// EventSink receives progress events. Publish must not block the loop.
type EventSink interface {
	Publish(Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(Event)

func (f EventFunc) Publish(e Event) { f(e) }
