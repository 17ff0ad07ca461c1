package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/actionparser"
	"github.com/harun/agerus/pkg/provider"
	"github.com/harun/agerus/pkg/streamfilter"
	"github.com/harun/agerus/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run outcomes, also used as metric labels.
const (
	OutcomeDone       = "done"
	OutcomeError      = "error"
	OutcomeCapReached = "cap_reached"
	OutcomeCancelled  = "cancelled"
)

const (
	defaultMaxTurns      = 15
	defaultReasoningOpen = "<think>"
	defaultReasoningEnd  = "</think>"
)

// ToolSource lists and executes tools. *toolexecutor.Registry satisfies it.
type ToolSource interface {
	ListTools(ctx context.Context) ([]toolexecutor.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// Config holds runner configuration
type Config struct {
	Provider provider.Client
	Tools    ToolSource
	// Events receives progress events. Non-terminal sends give up when the
	// run's context ends; the terminal event is always delivered, so the
	// consumer must keep draining until it sees one. Nil drops all events.
	Events       chan<- Event
	Model        string
	SystemPrompt string
	// MaxTurns caps model requests per run. Zero means 15.
	MaxTurns       int
	ReasoningOpen  string
	ReasoningClose string
	Logger         zerolog.Logger
}

// Result is the outcome of one run.
type Result struct {
	Conversation Conversation
	Turns        int
	Outcome      string
}

// Runner drives conversations through the tool loop.
type Runner struct {
	provider       provider.Client
	tools          ToolSource
	events         chan<- Event
	model          string
	systemPrompt   string
	maxTurns       int
	reasoningOpen  string
	reasoningClose string
	logger         zerolog.Logger

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool source is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("max turns cannot be negative")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns == 0 {
		maxTurns = defaultMaxTurns
	}
	open, closeTag := cfg.ReasoningOpen, cfg.ReasoningClose
	if open == "" || closeTag == "" {
		open, closeTag = defaultReasoningOpen, defaultReasoningEnd
	}

	return &Runner{
		provider:       cfg.Provider,
		tools:          cfg.Tools,
		events:         cfg.Events,
		model:          cfg.Model,
		systemPrompt:   cfg.SystemPrompt,
		maxTurns:       maxTurns,
		reasoningOpen:  open,
		reasoningClose: closeTag,
		logger:         cfg.Logger,
		activeRuns:     make(map[string]context.CancelFunc),
	}, nil
}

// run is the mutable state of one Run call.
type run struct {
	key          string
	conv         Conversation
	specs        []provider.ToolSpec
	extractor    *actionparser.Extractor
	toolsEnabled bool
	turn         int
	logger       zerolog.Logger
}

type turnOutput struct {
	answer    string
	reasoning string
	calls     []provider.ToolCall
}

// Run continues conv until the model stops asking for tools, a fatal error
// occurs or the turn cap is hit. The returned Result always carries the
// conversation as far as it got. The error is nil only for OutcomeDone.
func (r *Runner) Run(ctx context.Context, key string, conv Conversation) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.register(key, cancel); err != nil {
		return Result{Conversation: conv, Outcome: OutcomeError}, err
	}
	defer r.unregister(key)

	runCtx = tracing.NewRunContext(runCtx, key)
	runCtx, span := tracing.StartSpan(
		runCtx,
		"agerus.agent",
		"agent.run",
		attribute.String("conversation", key),
		attribute.String("provider", r.provider.Name()),
		attribute.String("model", r.model),
	)
	defer span.End()

	st := &run{
		key:    key,
		conv:   conv.Clone(),
		logger: tracing.LoggerFromContext(runCtx, r.logger),
	}

	start := time.Now()
	outcome, err := r.loop(runCtx, st)
	duration := time.Since(start)
	observability.RecordAgentRun(r.provider.Name(), outcome, duration)

	span.SetAttributes(attribute.Int("turns", st.turn), attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		st.logger.Warn().Err(err).Str("outcome", outcome).Int("turns", st.turn).Dur("duration", duration).Msg("Agent run ended")
	} else {
		st.logger.Info().Int("turns", st.turn).Dur("duration", duration).Msg("Agent run finished")
	}

	return Result{Conversation: st.conv, Turns: st.turn, Outcome: outcome}, err
}

// Abort cancels the active run for key. It is a no-op when none is running.
func (r *Runner) Abort(key string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[key]
	if !exists {
		r.logger.Debug().Str("conversation", key).Msg("No active run to abort")
		return
	}

	r.logger.Info().Str("conversation", key).Msg("Aborting agent run")
	cancel()
}

// IsRunning reports whether key has an active run.
func (r *Runner) IsRunning(key string) bool {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	_, exists := r.activeRuns[key]
	return exists
}

func (r *Runner) register(key string, cancel context.CancelFunc) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	if _, exists := r.activeRuns[key]; exists {
		return ErrRunInProgress
	}
	r.activeRuns[key] = cancel
	return nil
}

func (r *Runner) unregister(key string) {
	r.runsMu.Lock()
	delete(r.activeRuns, key)
	r.runsMu.Unlock()
}

func (r *Runner) loop(ctx context.Context, st *run) (string, error) {
	defs, err := r.tools.ListTools(ctx)
	if err != nil {
		return r.fail(ctx, st, fmt.Errorf("%w: %v", ErrToolsUnavailable, err))
	}

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
		st.specs = append(st.specs, provider.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Schema(),
		})
	}
	st.extractor = actionparser.New(names...)
	st.toolsEnabled = len(st.specs) > 0

	for st.turn = 1; st.turn <= r.maxTurns; st.turn++ {
		if ctx.Err() != nil {
			return r.fail(ctx, st, ctx.Err())
		}

		turnCtx := tracing.WithTurn(ctx, st.turn)
		turnCtx, span := tracing.StartSpan(turnCtx, "agerus.agent", "agent.turn", attribute.Int("turn", st.turn))
		done, err := r.step(turnCtx, st, span)
		span.End()

		if err != nil {
			return r.fail(ctx, st, err)
		}
		if done {
			return OutcomeDone, nil
		}
	}

	st.turn = r.maxTurns
	r.emit(ctx, st, Event{
		Kind: EventCapReached,
		Text: fmt.Sprintf("Stopped after %d turns", r.maxTurns),
		Err:  ErrTurnCapReached,
	})
	return OutcomeCapReached, ErrTurnCapReached
}

// step runs one turn. It returns true when the run finished.
func (r *Runner) step(ctx context.Context, st *run, span trace.Span) (bool, error) {
	observability.RecordAgentTurn(r.provider.Name())

	out, err := r.requestTurn(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	calls := r.resolveCalls(st, out)
	span.SetAttributes(attribute.Int("tool_calls", len(calls)))

	if len(calls) == 0 {
		if strings.TrimSpace(out.answer) != "" {
			st.conv = append(st.conv, Message{Role: RoleAssistant, Content: out.answer, Timestamp: time.Now()})
		}
		r.emit(ctx, st, Event{Kind: EventFinished, Text: out.answer})
		return true, nil
	}

	st.conv = append(st.conv, Message{
		Role:      RoleAssistant,
		Content:   out.answer,
		ToolCalls: calls,
		Timestamp: time.Now(),
	})

	for _, call := range calls {
		text, err := r.dispatch(ctx, st, call)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("%w: %v", ErrToolsUnavailable, err)
		}
		st.conv = append(st.conv, Message{
			Role:       RoleTool,
			Content:    text,
			ToolCallID: call.ID,
			Name:       call.Name,
			Timestamp:  time.Now(),
		})
	}
	return false, nil
}

// requestTurn streams one reply. A tools rejection disables tools for the
// rest of the run and retries the turn once without them.
func (r *Runner) requestTurn(ctx context.Context, st *run) (turnOutput, error) {
	out, err := r.streamTurn(ctx, st, st.toolsEnabled)
	if err != nil && st.toolsEnabled && errors.Is(err, provider.ErrToolsUnsupported) {
		st.toolsEnabled = false
		observability.RecordToolFallback(r.provider.Name())
		st.logger.Warn().Err(err).Int("turn", st.turn).Msg("Model rejected tools, retrying without them")
		r.emit(ctx, st, Event{
			Kind: EventNotice,
			Text: fmt.Sprintf("Model %s does not support native tool calling; continuing with text actions", r.model),
		})
		out, err = r.streamTurn(ctx, st, false)
	}
	if err != nil {
		return turnOutput{}, err
	}

	if strings.TrimSpace(out.answer) == "" && strings.TrimSpace(out.reasoning) == "" && len(out.calls) == 0 {
		return turnOutput{}, ErrEmptyTurn
	}
	return out, nil
}

func (r *Runner) streamTurn(ctx context.Context, st *run, withTools bool) (turnOutput, error) {
	req := provider.Request{
		Model:    r.model,
		Messages: st.conv.ToProvider(r.systemPrompt),
	}
	if withTools {
		req.Tools = st.specs
	}

	st.logger.Debug().
		Int("turn", st.turn).
		Int("messages", len(req.Messages)).
		Bool("tools", withTools).
		Msg("Requesting model turn")

	chunks, err := r.provider.Stream(ctx, req)
	if err != nil {
		return turnOutput{}, err
	}

	filter := streamfilter.New(r.reasoningOpen, r.reasoningClose)
	if r.provider.SeparatesReasoning() {
		filter = streamfilter.NewPassthrough()
	}

	var (
		answer    strings.Builder
		reasoning strings.Builder
		out       turnOutput
	)
	forward := func(segments []streamfilter.Segment) {
		for _, seg := range segments {
			if seg.Reasoning {
				reasoning.WriteString(seg.Text)
				r.emit(ctx, st, Event{Kind: EventThinking, Text: seg.Text})
			} else {
				answer.WriteString(seg.Text)
				r.emit(ctx, st, Event{Kind: EventToken, Text: seg.Text})
			}
		}
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return turnOutput{}, chunk.Err
		}
		forward(filter.PushFields(chunk.Reasoning, chunk.Content))
		out.calls = append(out.calls, chunk.ToolCalls...)
	}
	forward(filter.Flush())

	if ctx.Err() != nil {
		return turnOutput{}, ctx.Err()
	}

	out.answer = answer.String()
	out.reasoning = reasoning.String()
	return out, nil
}

// resolveCalls prefers native tool calls and falls back to extracting one
// action from the answer text. Every call gets an ID.
func (r *Runner) resolveCalls(st *run, out turnOutput) []provider.ToolCall {
	calls := out.calls
	if len(calls) == 0 {
		action, ok, err := st.extractor.Extract(out.answer)
		if err != nil || !ok {
			return nil
		}
		name, args := action.ToolCall()
		calls = []provider.ToolCall{{Name: name, Arguments: args}}
		st.logger.Debug().Str("tool", name).Msg("Recovered action from answer text")
	}

	resolved := make([]provider.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" {
			call.ID = newCallID()
		}
		if call.Arguments == nil {
			call.Arguments = map[string]interface{}{}
		}
		resolved = append(resolved, call)
	}
	return resolved
}

func (r *Runner) dispatch(ctx context.Context, st *run, call provider.ToolCall) (string, error) {
	r.emit(ctx, st, Event{
		Kind:   EventCommandStart,
		Text:   describeCall(call),
		Tool:   call.Name,
		CallID: call.ID,
	})

	callCtx := toolexecutor.ContextWithCallInfo(ctx, toolexecutor.CallInfo{
		ID:           call.ID,
		Conversation: st.key,
		Turn:         st.turn,
	})
	text, err := r.tools.CallTool(callCtx, call.Name, call.Arguments)
	if err != nil {
		return "", err
	}

	r.emit(ctx, st, Event{
		Kind:   EventCommandEnd,
		Text:   text,
		Tool:   call.Name,
		CallID: call.ID,
	})
	return text, nil
}

// fail emits the terminal error event and maps err to an outcome.
func (r *Runner) fail(ctx context.Context, st *run, err error) (string, error) {
	outcome := OutcomeError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = OutcomeCancelled
	}
	r.emit(ctx, st, Event{Kind: EventError, Text: err.Error(), Err: err})
	return outcome, err
}

func (r *Runner) emit(ctx context.Context, st *run, ev Event) {
	if r.events == nil {
		return
	}
	ev.Conversation = st.key
	ev.Turn = st.turn
	ev.Time = time.Now()

	if ev.Kind.Terminal() {
		r.events <- ev
		return
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// describeCall renders a call the way the user would type it.
func describeCall(call provider.ToolCall) string {
	switch call.Name {
	case "run_command":
		if cmd, ok := call.Arguments["command"].(string); ok {
			return cmd
		}
	case "write_file", "read_file", "list_files":
		if path, ok := call.Arguments["path"].(string); ok {
			return call.Name + " " + path
		}
	}
	data, err := json.Marshal(call.Arguments)
	if err != nil || len(call.Arguments) == 0 {
		return call.Name
	}
	return call.Name + " " + string(data)
}

func newCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("call_%d", time.Now().UnixNano())
	}
	return "call_" + id
}
