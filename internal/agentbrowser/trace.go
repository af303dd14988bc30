package agentbrowser

import (
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// trace builds the censored record of a finished session. History entries
// are censored when recorded; the start URL, objective and result are
// censored here.
func (b *AgentBrowser) trace(s *session) schemas.Trace {
	r := s.result
	t := schemas.Trace{
		ID:          uuid.NewString(),
		SessionID:   b.id,
		StartURL:    b.censor(s.args.StartURL),
		Objective:   make([]string, len(s.args.Objective)),
		State:       string(r.State),
		FailureKind: string(r.Failure),
		Reason:      r.Reason,
		Result:      b.censorValue(r.Result),
		Iterations:  r.Iterations,
		Decisions:   r.Decisions,
		Steps:       make([]schemas.TraceStep, 0, len(s.history)),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	for i, goal := range s.args.Objective {
		t.Objective[i] = b.censor(goal)
	}
	for _, h := range s.history {
		t.Steps = append(t.Steps, b.traceStep(s, h))
	}
	return t
}

func (b *AgentBrowser) traceStep(s *session, h agent.HistoryEntry) schemas.TraceStep {
	step := schemas.TraceStep{
		Iteration: h.Iteration,
		Outcome:   h.Outcome,
		ErrorCode: s.codes[h.Iteration],
	}
	if h.Observation != nil {
		step.URL = h.Observation.URL
		step.Title = h.Observation.Title
	}
	if d := h.Decision; d != nil {
		step.DecisionKind = string(d.Kind)
		step.ProgressAssessment = b.censor(d.ProgressAssessment)
		if d.Action != nil {
			// Placeholders stay unresolved; censoring catches literal values the model may have typed.
			action := *d.Action
			action.Text = b.censor(action.Text)
			action.URL = b.censor(action.URL)
			step.Action = &action
		}
		if d.Kind == agent.KindObjectiveFailed {
			step.Message = b.censor(d.Reason)
		}
	}
	return step
}

// censorValue censors a JSON compatible value by round-tripping it through
// its encoded form.
func (b *AgentBrowser) censorValue(v any) any {
	if v == nil || b.inventory.Len() == 0 {
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		b.logger.Warn("Result could not be encoded for the trace.", zap.Error(err))
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(b.censor(string(raw))), &out); err != nil {
		b.logger.Warn("Censored result could not be decoded.", zap.Error(err))
		return nil
	}
	return out
}
