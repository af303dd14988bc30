package agent

import (
	"fmt"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// DecisionKind tags the three shapes a model reply can take.
type DecisionKind string

const (
	KindBrowserAction     DecisionKind = "BrowserAction"     // Perform Action next.
	KindObjectiveComplete DecisionKind = "ObjectiveComplete" // Stop; Result holds the payload.
	KindObjectiveFailed   DecisionKind = "ObjectiveFailed"   // Stop; Reason explains why.
)

// AllDecisionKinds lists the decision kinds in prompt order.
var AllDecisionKinds = []DecisionKind{KindBrowserAction, KindObjectiveComplete, KindObjectiveFailed}

// Decision is a validated model reply. Exactly one of Action, Result or
// Reason is meaningful, selected by Kind. Action text may still contain
// {{Name}} inventory placeholders.
type Decision struct {
	Kind               DecisionKind           `json:"kind"`
	ProgressAssessment string                 `json:"progressAssessment"`
	Action             *schemas.BrowserAction `json:"action,omitempty"`
	Result             any                    `json:"result,omitempty"`
	Reason             string                 `json:"reason,omitempty"`
}

// Terminal reports whether the decision ends the session.
func (d Decision) Terminal() bool {
	return d.Kind == KindObjectiveComplete || d.Kind == KindObjectiveFailed
}

// String renders a compact summary used in history and logs.
func (d Decision) String() string {
	switch d.Kind {
	case KindBrowserAction:
		if d.Action == nil {
			return string(d.Kind)
		}
		return d.Action.String()
	case KindObjectiveFailed:
		return fmt.Sprintf("%s(%q)", d.Kind, d.Reason)
	default:
		return string(d.Kind)
	}
}

// HistoryEntry records one loop iteration. Observation is nil when the page
// could not be observed and Decision is nil when the model reply was rejected.
// All text is already censored.
type HistoryEntry struct {
	Iteration   int                  `json:"iteration"`
	Observation *schemas.Observation `json:"observation,omitempty"`
	Decision    *Decision            `json:"decision,omitempty"`
	Outcome     string               `json:"outcome"`
}
