// Package agentbrowser runs the decision loop: observe the page, ask the
// agent for a decision, execute it and repeat until a terminal state.
package agentbrowser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
	"github.com/xkilldash9x/hdr-browser/internal/agent"
	"github.com/xkilldash9x/hdr-browser/internal/browser"
	"github.com/xkilldash9x/hdr-browser/internal/inventory"
)

const defaultMaxConsecutiveFailures = 2

// Decider produces the next decision. *agent.Agent implements it.
type Decider interface {
	Decide(ctx context.Context, req agent.DecisionRequest) (agent.Decision, error)
}

// Reporter receives the censored trace of every finished session. Report
// must return without waiting for delivery.
type Reporter interface {
	Report(trace schemas.Trace)
}

// AgentBrowser owns one session: its page, inventory, agent and history.
// Browse is not safe for concurrent use on the same AgentBrowser.
type AgentBrowser struct {
	id          string
	page        browser.Page
	agent       Decider
	inventory   *inventory.Inventory
	policy      ActionPolicy
	maxFailures int
	reporter    Reporter
	events      EventSink
	logger      *zap.Logger
	now         func() time.Time
}

// Option customizes an AgentBrowser.
type Option func(*AgentBrowser)

// WithInventory supplies the secrets the model may reference by placeholder.
func WithInventory(inv *inventory.Inventory) Option {
	return func(b *AgentBrowser) { b.inventory = inv }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p ActionPolicy) Option {
	return func(b *AgentBrowser) { b.policy = p }
}

// WithMaxConsecutiveFailures bounds back-to-back invalid outputs. Values below 1 keep the default.
func WithMaxConsecutiveFailures(n int) Option {
	return func(b *AgentBrowser) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithReporter enables collective memory reporting.
func WithReporter(r Reporter) Option {
	return func(b *AgentBrowser) { b.reporter = r }
}

// WithEventSink streams progress events.
func WithEventSink(s EventSink) Option {
	return func(b *AgentBrowser) { b.events = s }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(b *AgentBrowser) { b.id = id }
}

// New creates an AgentBrowser around an open page.
func New(page browser.Page, decider Decider, logger *zap.Logger, opts ...Option) *AgentBrowser {
	b := &AgentBrowser{
		id:          uuid.NewString(),
		page:        page,
		agent:       decider,
		policy:      DefaultPolicy(),
		maxFailures: defaultMaxConsecutiveFailures,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logger.Named("agent_browser").With(zap.String("session_id", b.id))
	return b
}

// ID returns the session id.
func (b *AgentBrowser) ID() string { return b.id }

// Page returns the page the session drives.
func (b *AgentBrowser) Page() browser.Page { return b.page }

// session is the mutable state of one Browse call.
type session struct {
	args      Args
	schema    *agent.ResponseSchema
	result    *Result
	history   []agent.HistoryEntry
	failures  int
	decisions int
	iteration int

	// codes records the executor error code of failed actions by iteration.
	codes map[int]schemas.ErrorCode
}

// Browse drives the page toward args.Objective. Expected terminal outcomes
// are reported in the Result; the only error is ErrInvalidArgs. The page is
// left open.
func (b *AgentBrowser) Browse(ctx context.Context, args Args, rs *agent.ResponseSchema) (*Result, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if rs == nil {
		rs = agent.BuildResponseSchema(nil)
	}

	s := &session{
		args:   args,
		schema: rs,
		result: &Result{
			SessionID: b.id,
			State:     StateRunning,
			StartedAt: b.now(),
		},
		codes: map[int]schemas.ErrorCode{},
	}

	b.logger.Info("Starting session.",
		zap.String("start_url", b.censor(args.StartURL)),
		zap.Int("max_iterations", args.MaxIterations),
		zap.Int("inventory_entries", b.inventory.Len()))

	if err := b.page.Navigate(ctx, args.StartURL); err != nil {
		if ctx.Err() != nil {
			b.fail(s, KindCancelled, ctx.Err().Error())
		} else {
			b.fail(s, KindNavigationError, err.Error())
		}
	}

	for s.result.State == StateRunning && s.iteration < args.MaxIterations {
		if ctx.Err() != nil {
			b.fail(s, KindCancelled, ctx.Err().Error())
			break
		}
		s.iteration++
		b.step(ctx, s)
	}
	if s.result.State == StateRunning {
		s.result.State = StateMaxIterationsExceeded
		s.result.Reason = fmt.Sprintf("objective not reached within %d iterations", args.MaxIterations)
	}

	return b.finish(s), nil
}

// step runs one iteration and records its history entry.
func (b *AgentBrowser) step(ctx context.Context, s *session) {
	log := b.logger.With(zap.Int("iteration", s.iteration))
	b.publish(Event{Type: EventIteration, Iteration: s.iteration})

	entry := agent.HistoryEntry{Iteration: s.iteration}
	defer func() { s.history = append(s.history, entry) }()

	var observeNote string
	if obs, err := b.page.Observe(ctx); err != nil {
		observeNote = "page could not be observed: " + b.censor(err.Error())
		log.Warn("Observation failed.", zap.String("error", observeNote))
	} else {
		censored := b.inventory.CensorObservation(obs)
		entry.Observation = &censored
	}

	decision, err := b.agent.Decide(ctx, agent.DecisionRequest{
		Objective:     s.args.Objective,
		History:       s.history,
		Observation:   entry.Observation,
		Schema:        s.schema,
		Secrets:       b.inventory,
		Iteration:     s.iteration,
		MaxIterations: s.args.MaxIterations,
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		entry.Outcome = "cancelled"
		b.fail(s, KindCancelled, ctx.Err().Error())
		return
	case errors.Is(err, agent.ErrInvalidOutput):
		entry.Outcome = joinNotes(observeNote, "invalid output: "+b.censor(err.Error()))
		log.Warn("Model reply rejected.", zap.String("error", b.censor(err.Error())))
		b.recoverable(s, entry.Outcome)
		return
	default:
		entry.Outcome = "provider error"
		b.fail(s, KindProviderError, b.censor(err.Error()))
		return
	}

	s.decisions++
	entry.Decision = &decision
	log.Info("Progress.", zap.String("decision", decision.String()), zap.String("assessment", b.censor(decision.ProgressAssessment)))
	b.publish(Event{Type: EventDecision, Iteration: s.iteration, Decision: b.censor(decision.String()), ProgressAssessment: b.censor(decision.ProgressAssessment)})

	switch decision.Kind {
	case agent.KindObjectiveComplete:
		entry.Outcome = "objective complete"
		s.result.State = StateComplete
		s.result.Result = decision.Result
		return
	case agent.KindObjectiveFailed:
		entry.Outcome = "objective failed"
		b.fail(s, KindObjectiveFailed, b.censor(decision.Reason))
		return
	}

	entry.Outcome = joinNotes(observeNote, b.act(ctx, s, *decision.Action))
	b.publish(Event{Type: EventOutcome, Iteration: s.iteration, Outcome: entry.Outcome})
}

// act resolves placeholders, executes the action and returns the outcome
// text for the history.
func (b *AgentBrowser) act(ctx context.Context, s *session, action schemas.BrowserAction) string {
	resolved, err := b.inventory.ResolveAction(action)
	if err != nil {
		outcome := "inventory resolution failed: " + err.Error()
		b.recoverable(s, outcome)
		return outcome
	}
	// Only a decision that resolved completely ends a run of invalid outputs.
	s.failures = 0

	err = b.page.Execute(ctx, resolved)
	if err == nil {
		return "ok"
	}
	if ctx.Err() != nil {
		b.fail(s, KindCancelled, ctx.Err().Error())
		return "cancelled"
	}

	code := browser.CodeOf(err)
	msg := b.censor(err.Error())
	s.codes[s.iteration] = code
	if b.policy.Fatal(action.Kind, code) {
		b.logger.Error("Fatal action error.", zap.String("code", string(code)), zap.String("error", msg))
		b.fail(s, KindActionExecutionError, msg)
		return "fatal error: " + msg
	}
	b.logger.Warn("Action failed.", zap.String("code", string(code)), zap.String("error", msg))
	return "error: " + msg
}

// recoverable counts an invalid output and fails the session once the bound is reached.
func (b *AgentBrowser) recoverable(s *session, outcome string) {
	s.failures++
	b.publish(Event{Type: EventOutcome, Iteration: s.iteration, Outcome: outcome})
	if s.failures >= b.maxFailures {
		b.fail(s, KindRepeatedInvalidOutput, fmt.Sprintf("%d consecutive invalid outputs, last: %s", s.failures, outcome))
	}
}

func (b *AgentBrowser) fail(s *session, kind FailureKind, reason string) {
	s.result.State = StateFailed
	s.result.Failure = kind
	s.result.Reason = b.censor(reason)
}

func (b *AgentBrowser) finish(s *session) *Result {
	r := s.result
	r.Iterations = s.iteration
	r.Decisions = s.decisions
	r.History = s.history
	r.FinishedAt = b.now()

	fields := []zap.Field{
		zap.String("state", string(r.State)),
		zap.Int("iterations", r.Iterations),
		zap.Int("decisions", r.Decisions),
	}
	if r.Failure != "" {
		fields = append(fields, zap.String("failure", string(r.Failure)), zap.String("reason", r.Reason))
	}
	b.logger.Info("Session finished.", fields...)
	b.publish(Event{Type: EventTerminal, Iteration: r.Iterations, State: r.State, Failure: r.Failure, Outcome: r.Reason})

	if b.reporter != nil {
		b.reporter.Report(b.trace(s))
	}
	return r
}

func (b *AgentBrowser) publish(e Event) {
	if b.events == nil {
		return
	}
	e.SessionID = b.id
	e.Time = b.now()
	b.events.Publish(e)
}

func (b *AgentBrowser) censor(text string) string {
	return b.inventory.Censor(text)
}

func joinNotes(notes ...string) string {
	out := ""
	for _, n := range notes {
		if n == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += n
	}
	return out
}
