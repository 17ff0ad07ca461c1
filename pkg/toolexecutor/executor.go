package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler executes one call. Returning a *ToolError keeps its kind;
// any other error is classified with the definition's FailureKind.
type ToolHandler func(ctx context.Context, args Args) (string, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	FailureKind ErrorKind       `json:"-"`
	Handler     ToolHandler     `json:"-"`
}

// Schema returns the JSON Schema object describing the parameters.
func (d ToolDefinition) Schema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Config configures a Registry.
type Config struct {
	Logger zerolog.Logger
	// Timeout bounds a single handler call. Zero means 2 minutes.
	Timeout time.Duration
	// QueueSize is the mailbox capacity. Zero means 32.
	QueueSize int
}

type listRequest struct {
	reply chan []ToolDefinition
}

type callRequest struct {
	ctx   context.Context
	name  string
	args  map[string]interface{}
	reply chan string
}

// Registry owns the tool table and executes calls one at a time from its
// mailbox. Register tools first, then Start or Run it.
type Registry struct {
	logger  zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	tools   []*ToolDefinition
	index   map[string]int
	schemas map[string]*gojsonschema.Schema
	started bool

	mailbox chan interface{}
	done    chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	observability.EnsureRegistered()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 32
	}

	return &Registry{
		logger:  cfg.Logger,
		timeout: timeout,
		index:   make(map[string]int),
		schemas: make(map[string]*gojsonschema.Schema),
		mailbox: make(chan interface{}, queue),
		done:    make(chan struct{}),
	}
}

// Register adds a tool. Names are unique; the table is frozen once the
// registry starts so ListTools is stable for a run.
func (r *Registry) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Schema()))
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRegistryStarted
	}
	if _, exists := r.index[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	r.index[def.Name] = len(r.tools)
	r.tools = append(r.tools, &def)
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Start runs the mailbox loop in its own goroutine.
func (r *Registry) Start(ctx context.Context) {
	go func() {
		_ = r.Run(ctx)
	}()
}

// Run processes the mailbox until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRegistryStarted
	}
	r.started = true
	r.mu.Unlock()

	defer close(r.done)
	r.logger.Info().Int("tools", len(r.tools)).Msg("Tool registry started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Tool registry stopped")
			return ctx.Err()
		case msg := <-r.mailbox:
			switch req := msg.(type) {
			case listRequest:
				req.reply <- r.definitions()
			case callRequest:
				req.reply <- r.execute(req.ctx, req.name, req.args)
			}
		}
	}
}

// Done is closed when the loop exits.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

// ListTools returns the registered tools in registration order.
func (r *Registry) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	reply := make(chan []ToolDefinition, 1)
	if err := r.send(ctx, listRequest{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case defs := <-reply:
		return defs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrRegistryStopped
	}
}

// CallTool executes a tool and returns its text result. Tool failures come
// back as descriptive text; the error is reserved for mailbox failures.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	reply := make(chan string, 1)
	if err := r.send(ctx, callRequest{ctx: ctx, name: name, args: args, reply: reply}); err != nil {
		return "", err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return "", ErrRegistryStopped
	}
}

func (r *Registry) send(ctx context.Context, msg interface{}) error {
	select {
	case <-r.done:
		return ErrRegistryStopped
	default:
	}
	select {
	case r.mailbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRegistryStopped
	}
}

func (r *Registry) definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.tools))
	for i, def := range r.tools {
		out[i] = *def
	}
	return out
}

func (r *Registry) execute(ctx context.Context, name string, raw map[string]interface{}) string {
	startTime := time.Now()
	ctx, span := tracing.StartSpan(ctx, "agerus.tools", "tool.call", attribute.String("tool", name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", name).Logger()

	out, err := r.invoke(logger.WithContext(ctx), name, raw)
	duration := time.Since(startTime)
	observability.RecordToolExecution(name, duration, err == nil)

	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			toolErr = &ToolError{Kind: KindSubprocess, Err: err}
		}
		if toolErr.Tool == "" {
			toolErr.Tool = name
		}
		span.RecordError(toolErr)
		span.SetStatus(codes.Error, toolErr.Error())
		logger.Warn().
			Str("kind", string(toolErr.Kind)).
			Dur("duration", duration).
			Err(toolErr.Err).
			Msg("Tool execution failed")
		return toolErr.Text()
	}

	logger.Debug().
		Dur("duration", duration).
		Int("bytes", len(out)).
		Msg("Tool execution completed")
	return out
}

func (r *Registry) invoke(ctx context.Context, name string, raw map[string]interface{}) (string, error) {
	idx, ok := r.index[name]
	if !ok {
		return "", &ToolError{Kind: KindUnknownTool, Tool: name, Err: fmt.Errorf("tool not found: %s", name)}
	}
	def := r.tools[idx]

	if raw == nil {
		raw = map[string]interface{}{}
	}
	args, err := ArgsFrom(raw)
	if err != nil {
		return "", &ToolError{Kind: KindInvalidArgument, Tool: name, Err: err}
	}
	if err := validateParameters(r.schemas[name], args.Raw()); err != nil {
		return "", &ToolError{Kind: KindInvalidArgument, Tool: name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := def.Handler(callCtx, args)
	if err == nil {
		return out, nil
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return "", err
	}
	kind := def.FailureKind
	if kind == "" {
		kind = KindSubprocess
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %v: %w", r.timeout, err)
	}
	return "", &ToolError{Kind: kind, Tool: name, Err: err}
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

// Truncate cuts s to at most limit bytes, backing up to a rune boundary, and
// appends marker when anything was removed.
func Truncate(s string, limit int, marker string) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + marker, true
}
