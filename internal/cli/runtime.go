package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/agerus/internal/config"
	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/coretools"
	"github.com/harun/agerus/pkg/gateway"
	"github.com/harun/agerus/pkg/provider"
	"github.com/harun/agerus/pkg/sandbox"
	"github.com/harun/agerus/pkg/session"
	"github.com/harun/agerus/pkg/shell"
	"github.com/harun/agerus/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// eventFlush never leaves the CLI; it marks a point in the event stream.
const eventFlush agent.EventKind = "flush"

// Runtime wires the sandbox, shell, tool registry, model client and agent
// runner for one process.
type Runtime struct {
	cfg    *config.Config
	logger zerolog.Logger

	env      sandbox.Environment
	shell    *shell.Session
	registry *toolexecutor.Registry
	client   provider.Client
	runner   *agent.Runner
	sessions *session.Manager
	gateway  *gateway.Server
	browser  *coretools.RodFetcher
	renderer *Renderer

	events   chan agent.Event
	terminal chan string
	flushed  chan struct{}
	// pumpDone is closed once pump stops reading terminal.
	pumpDone chan struct{}
}

// newRuntime initializes every component in dependency order. Nothing is
// started yet; Serve runs them.
func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, out io.Writer) (*Runtime, error) {
	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("agerus"); err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	}

	if cfg.Tools.AuditLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Tools.AuditLog), 0o755); err == nil {
			if err := observability.InitAuditLogger(cfg.Tools.AuditLog); err != nil {
				logger.Warn().Err(err).Msg("Failed to initialize audit logger")
			}
		}
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		renderer: NewRenderer(out, true),
		events:   make(chan agent.Event, 256),
		terminal: make(chan string, 256),
		flushed:  make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	workspace, err := filepath.Abs(cfg.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	rt.env, err = sandbox.New(sandboxConfig(cfg, workspace), sandbox.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := rt.env.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare sandbox %s: %w", rt.env.Name(), err)
	}
	logger.Info().Str("sandbox", rt.env.Name()).Str("workspace", workspace).Msg("Sandbox ready")

	rt.shell, err = shell.New(shell.Config{
		Launcher:  rt.env,
		Sentinel:  cfg.Sandbox.Sentinel,
		Broadcast: rt.broadcastLine,
		Logger:    logger.With().Str("component", "shell").Logger(),
	})
	if err != nil {
		return nil, err
	}

	rt.registry = toolexecutor.NewRegistry(toolexecutor.Config{
		Logger: logger.With().Str("component", "tools").Logger(),
	})

	opts := coretools.Options{
		Workspace: workspace,
		Shell:     rt.shell,
		Limits: coretools.Limits{
			ShellOutputBytes: cfg.Tools.ShellOutputCap,
			ReadLines:        cfg.Tools.ReadLineCap,
			FetchBytes:       cfg.Tools.FetchByteCap,
			DocsBytes:        cfg.Tools.DocsByteCap,
			SearchResults:    cfg.Tools.SearchMaxResults,
		},
		HTTPClient: &http.Client{Timeout: cfg.Tools.Timeout},
		UserAgent:  cfg.Tools.UserAgent,
		SearchURL:  cfg.Tools.SearchURL,
		DocsURL:    cfg.Tools.DocsURL,
	}
	if cfg.Tools.BrowserFetch {
		rt.browser = coretools.NewRodFetcher(cfg.Tools.BrowserBin, cfg.Tools.Timeout, logger)
		opts.Browser = rt.browser
	}
	if err := coretools.Register(rt.registry, opts); err != nil {
		return nil, err
	}

	rt.client, err = provider.New(providerConfig(cfg, logger))
	if err != nil {
		return nil, err
	}

	rt.runner, err = agent.NewRunner(agent.Config{
		Provider:       rt.client,
		Tools:          rt.registry,
		Events:         rt.events,
		Model:          cfg.Model,
		SystemPrompt:   cfg.SystemPrompt,
		MaxTurns:       cfg.Agent.MaxTurns,
		ReasoningOpen:  cfg.Agent.ReasoningOpen,
		ReasoningClose: cfg.Agent.ReasoningClose,
		Logger:         logger.With().Str("component", "agent").Logger(),
	})
	if err != nil {
		return nil, err
	}

	rt.sessions, err = session.New(session.Config{Dir: cfg.SessionsDir, Logger: logger})
	if err != nil {
		return nil, err
	}

	if cfg.Events.Enabled {
		rt.gateway, err = gateway.NewServer(gateway.Config{
			Addr:         cfg.Events.Addr,
			SharedSecret: cfg.Events.SharedSecret,
			TickInterval: cfg.Events.TickInterval,
			Logger:       logger.With().Str("component", "gateway").Logger(),
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("provider", rt.client.Name()).
		Str("model", cfg.Model).
		Int("max_turns", cfg.Agent.MaxTurns).
		Msg("Runtime initialized")

	return rt, nil
}

func sandboxConfig(cfg *config.Config, workspace string) sandbox.Config {
	return sandbox.Config{
		Runtime:   sandbox.Runtime(cfg.Sandbox.Mode),
		Workspace: workspace,
		Shell:     cfg.Sandbox.Shell,
		Docker: sandbox.DockerConfig{
			Container:   cfg.Sandbox.Container,
			Image:       cfg.Sandbox.Image,
			MountPath:   cfg.Sandbox.MountPoint,
			Network:     cfg.Sandbox.Network,
			MaxMemoryMB: cfg.Sandbox.MaxMemoryMB,
		},
	}
}

// providerConfig drops the stock Ollama endpoint for hosted providers so
// their SDK default applies.
func providerConfig(cfg *config.Config, logger zerolog.Logger) provider.Config {
	endpoint := cfg.Endpoint
	if cfg.Provider != config.ProviderOllama && endpoint == config.DefaultConfig().Endpoint {
		endpoint = ""
	}
	return provider.Config{
		Provider:  cfg.Provider,
		Endpoint:  endpoint,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Agent.RequestTimeout,
		Logger:    logger.With().Str("component", "provider").Logger(),
	}
}

// broadcastLine runs on the shell goroutine. It blocks while the renderer is
// behind, which holds back further shell reads, and gives up only once pump
// has exited.
func (rt *Runtime) broadcastLine(line string) {
	select {
	case rt.terminal <- line:
	case <-rt.pumpDone:
	}
}

// Serve starts the shell, the registry and the gateway, runs fn, and shuts
// everything down once fn returns or any component fails.
func (rt *Runtime) Serve(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := rt.shell.Start(ctx); err != nil {
		return err
	}

	go func() {
		defer close(rt.pumpDone)
		rt.pump()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(gctx, rt.registry.Run(gctx))
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return rt.shell.Close()
		case <-rt.shell.Done():
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: the sandbox shell exited", shell.ErrClosed)
		}
	})

	if rt.gateway != nil {
		g.Go(func() error {
			return rt.gateway.Run(gctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})

	err := g.Wait()

	close(rt.events)
	<-rt.pumpDone

	if rt.browser != nil {
		_ = rt.browser.Close()
	}
	_ = observability.GetAuditLogger().Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(tracing.Detach(ctx), 5*time.Second)
	defer cancelShutdown()
	if serr := tracing.ShutdownOpenTelemetry(shutdownCtx); serr != nil {
		rt.logger.Debug().Err(serr).Msg("Tracer shutdown failed")
	}

	return err
}

// pump fans events out to the renderer and the gateway until the events
// channel is closed.
func (rt *Runtime) pump() {
	for {
		select {
		case ev, ok := <-rt.events:
			if !ok {
				return
			}
			if ev.Kind == eventFlush {
				rt.drainTerminal()
				rt.flushed <- struct{}{}
				continue
			}
			rt.publish(ev)
		case line := <-rt.terminal:
			rt.publish(agent.Event{Kind: agent.EventTerminalLine, Text: line})
		}
	}
}

func (rt *Runtime) drainTerminal() {
	for {
		select {
		case line := <-rt.terminal:
			rt.publish(agent.Event{Kind: agent.EventTerminalLine, Text: line})
		default:
			return
		}
	}
}

func (rt *Runtime) publish(ev agent.Event) {
	rt.renderer.Render(ev)
	if rt.gateway != nil {
		rt.gateway.Publish(ev)
	}
}

// Flush waits until every event emitted so far has been rendered.
func (rt *Runtime) Flush() {
	rt.events <- agent.Event{Kind: eventFlush}
	<-rt.flushed
}

func ignoreCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
