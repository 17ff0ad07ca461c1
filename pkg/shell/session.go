package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/agerus/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultSentinel marks the end of a command's output.
const DefaultSentinel = "__END_OF_CMD__"

var (
	// ErrSpawn is returned when the shell process cannot be started.
	ErrSpawn = errors.New("failed to spawn shell")

	// ErrClosed is returned for requests made after the shell exited.
	ErrClosed = errors.New("shell session closed")

	// ErrNotStarted is returned for requests made before Start.
	ErrNotStarted = errors.New("shell session not started")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateStarting State = iota
	StateIdle
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var allStates = []string{"starting", "idle", "busy", "closed"}

// Launcher builds the shell process. sandbox.Environment satisfies it.
type Launcher interface {
	ShellCommand(ctx context.Context) *exec.Cmd
}

// Config configures a Session.
type Config struct {
	Launcher Launcher
	// Sentinel is echoed after every command. Defaults to DefaultSentinel.
	Sentinel string
	// Broadcast receives every output line except sentinels, including lines
	// printed while no command is running. It runs on the session goroutine,
	// so a slow Broadcast stalls reading from the shell; lines are never
	// dropped.
	Broadcast func(line string)
	Logger    zerolog.Logger
	// QueueSize bounds the mailbox. Defaults to 100.
	QueueSize int
	// StopGrace is how long Close waits for the shell to exit on EOF before
	// killing it. Defaults to 2 seconds.
	StopGrace time.Duration
}

type request struct {
	command string
	ctx     context.Context
	// out is nil for user input.
	out chan string
}

// Session is the shell actor. All process I/O happens on its own goroutine;
// callers talk to it only through RunCommand and SendInput.
type Session struct {
	sentinel  string
	broadcast func(string)
	logger    zerolog.Logger
	grace     time.Duration
	launcher  Launcher

	requests chan request

	// mu guards enqueueing against shutdown draining the mailbox.
	mu      sync.RWMutex
	closing chan struct{}
	done    chan struct{}

	state     atomic.Int32
	started   atomic.Bool
	closeOnce sync.Once

	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// New validates cfg and returns an unstarted session.
func New(cfg Config) (*Session, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("launcher is required")
	}
	sentinel := cfg.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 100
	}
	grace := cfg.StopGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	broadcast := cfg.Broadcast
	if broadcast == nil {
		broadcast = func(string) {}
	}

	observability.EnsureRegistered()

	return &Session{
		sentinel:  sentinel,
		broadcast: broadcast,
		logger:    cfg.Logger,
		grace:     grace,
		launcher:  cfg.Launcher,
		requests:  make(chan request, queue),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start spawns the shell and the session goroutines. The process is tied to
// ctx: cancelling it kills the shell and closes the session.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("shell session already started")
	}

	cmd := s.launcher.ShellCommand(ctx)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.abort()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	// stdout and stderr share one pipe so lines arrive in the order written.
	r, w, err := os.Pipe()
	if err != nil {
		s.abort()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		s.abort()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	_ = w.Close()

	s.cmd = cmd
	s.stdin = stdin

	s.setState(StateIdle)

	lines := make(chan string, 64)
	go s.readLines(r, lines)
	go s.loop(lines)

	s.logger.Info().Int("pid", cmd.Process.Pid).Str("path", cmd.Path).Msg("Shell session started")
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// RunCommand queues cmd and returns a channel that yields its output lines
// and is closed when the command finishes or the shell exits. If ctx ends
// while output is still arriving the channel stops receiving lines but is
// still closed when the command completes.
func (s *Session) RunCommand(ctx context.Context, cmd string) (<-chan string, error) {
	out := make(chan string, 64)
	if err := s.enqueue(ctx, request{command: cmd, ctx: ctx, out: out}); err != nil {
		return nil, err
	}
	return out, nil
}

// SendInput queues a command typed by the user. Its output goes to the
// broadcast only.
func (s *Session) SendInput(ctx context.Context, text string) error {
	return s.enqueue(ctx, request{command: text, ctx: ctx})
}

// Capture runs cmd and collects its output. Output gathered before the
// shell exited is returned together with ErrClosed.
func (s *Session) Capture(ctx context.Context, cmd string) (string, error) {
	out, err := s.RunCommand(ctx, cmd)
	if err != nil {
		return "", err
	}

	var lines []string
	for {
		select {
		case line, ok := <-out:
			if !ok {
				output := strings.Join(lines, "\n")
				if s.State() == StateClosed {
					return output, ErrClosed
				}
				return output, nil
			}
			lines = append(lines, line)
		case <-ctx.Done():
			return strings.Join(lines, "\n"), ctx.Err()
		}
	}
}

// Close ends the shell: stdin is closed so it exits on its own, and the
// process is killed if it is still alive after the grace period.
func (s *Session) Close() error {
	if !s.started.Load() {
		return nil
	}

	s.closeOnce.Do(func() {
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
	})

	select {
	case <-s.done:
		return nil
	case <-time.After(s.grace):
	}

	if s.cmd != nil && s.cmd.Process != nil {
		s.logger.Warn().Int("pid", s.cmd.Process.Pid).Msg("Shell did not exit, killing")
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	return nil
}

func (s *Session) enqueue(ctx context.Context, req request) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closing:
		return ErrClosed
	default:
	}

	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closing:
		return ErrClosed
	}
}

func (s *Session) readLines(r *os.File, lines chan<- string) {
	defer close(lines)
	defer r.Close()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn().Err(err).Msg("Shell output read failed")
			}
			break
		}
	}

	if err := s.cmd.Wait(); err != nil {
		s.logger.Debug().Err(err).Msg("Shell exited")
	}
}

// loop owns all session state after Start. While a command is in flight it
// reads only output, so queued requests stay in the mailbox.
func (s *Session) loop(lines <-chan string) {
	defer close(s.done)

	var (
		current   *request
		abandoned bool
	)

	for {
		if current == nil {
			select {
			case req := <-s.requests:
				if err := s.write(req.command); err != nil {
					s.logger.Warn().Err(err).Msg("Shell write failed")
					if req.out != nil {
						close(req.out)
					}
					observability.RecordShellCommand(false)
					continue
				}
				current = &req
				abandoned = false
				s.setState(StateBusy)

			case line, ok := <-lines:
				if !ok {
					s.shutdown(nil)
					return
				}
				observability.RecordShellLine()
				s.broadcast(line)
			}
			continue
		}

		line, ok := <-lines
		if !ok {
			observability.RecordShellCommand(false)
			s.shutdown(current)
			return
		}

		if idx := strings.Index(line, s.sentinel); idx >= 0 {
			// Output without a trailing newline shares the sentinel's line.
			if idx > 0 {
				abandoned = s.deliver(current, line[:idx], abandoned)
			}
			if current.out != nil {
				close(current.out)
			}
			observability.RecordShellCommand(true)
			current = nil
			s.setState(StateIdle)
			continue
		}

		abandoned = s.deliver(current, line, abandoned)
	}
}

// deliver broadcasts a line and hands it to the current responder. It
// reports whether the responder has been abandoned.
func (s *Session) deliver(current *request, line string, abandoned bool) bool {
	observability.RecordShellLine()
	s.broadcast(line)

	if current.out == nil || abandoned {
		return abandoned
	}
	select {
	case current.out <- line:
		return false
	case <-current.ctx.Done():
		// Receiver gave up; keep draining to the sentinel.
		return true
	}
}

func (s *Session) write(command string) error {
	framed := fmt.Sprintf("{ %s; } 2>&1; echo %s\n", command, s.sentinel)
	_, err := io.WriteString(s.stdin, framed)
	return err
}

// shutdown closes the session. The state flips before any responder is
// closed so receivers can tell a finished command from a dead shell.
func (s *Session) shutdown(current *request) {
	s.setState(StateClosed)
	if current != nil && current.out != nil {
		close(current.out)
	}
	close(s.closing)

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case req := <-s.requests:
			if req.out != nil {
				close(req.out)
			}
		default:
			s.logger.Info().Msg("Shell session closed")
			return
		}
	}
}

// abort marks a session that never started as closed.
func (s *Session) abort() {
	s.setState(StateClosed)
	close(s.closing)
	close(s.done)
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
	observability.SetShellState(state.String(), allStates)
}
