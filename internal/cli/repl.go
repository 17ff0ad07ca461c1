package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/session"
)

const replHelp = `Commands:
  /new [name]     start a new conversation
  /save [name]    save the conversation (optionally under a new name)
  /load <name>    load a saved conversation
  /list           list saved conversations
  /reset          clear the current conversation
  /shell <text>   type text into the sandbox shell
  /help           show this help
  /exit           quit
Ctrl-C aborts a running request; on an empty prompt it quits.`

// repl is the interactive chat loop. It owns the current conversation.
type repl struct {
	rt   *Runtime
	in   io.Reader
	name string
	conv agent.Conversation
	now  func() time.Time
}

func newREPL(rt *Runtime, in io.Reader, name string) *repl {
	r := &repl{rt: rt, in: in, now: time.Now}
	r.name = name
	if r.name == "" {
		r.name = session.DefaultName(r.now())
	}
	return r
}

// parseSlash splits "/cmd rest" into cmd and rest.
func parseSlash(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	cmd, arg, _ := strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

func (r *repl) run(ctx context.Context) error {
	interrupts := make(chan os.Signal, 1)
	stopSignals := notifyInterrupt(interrupts)
	defer stopSignals()

	lines := make(chan string)
	stopScan := make(chan struct{})
	defer close(stopScan)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stopScan:
				return
			}
		}
	}()

	r.rt.renderer.Printf("agerus %s  conversation %s  (/help for commands)", version, r.name)

	for {
		r.rt.renderer.Prompt("> ")

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			r.rt.renderer.Printf("")
			return nil
		case l, ok := <-lines:
			if !ok {
				r.rt.renderer.Printf("")
				return nil
			}
			line = l
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if cmd, arg, ok := parseSlash(line); ok {
			quit, err := r.handleSlash(ctx, cmd, arg)
			if err != nil {
				r.rt.renderer.Printf("[error] %v", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.ask(ctx, line, interrupts); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// ask runs the agent on one user message. An interrupt aborts the run but
// keeps the REPL alive.
func (r *repl) ask(ctx context.Context, text string, interrupts <-chan os.Signal) error {
	conv := append(r.conv.Clone(), agent.Message{Role: agent.RoleUser, Content: text, Timestamp: r.now()})

	type outcome struct {
		result agent.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := r.rt.runner.Run(ctx, r.name, conv)
		done <- outcome{result: result, err: err}
	}()

	var res outcome
wait:
	for {
		select {
		case res = <-done:
			break wait
		case <-interrupts:
			r.rt.runner.Abort(r.name)
		}
	}

	r.rt.Flush()

	r.conv = res.result.Conversation
	if len(r.conv) > 0 {
		if err := r.rt.sessions.Save(tracing.Detach(ctx), r.name, r.conv); err != nil {
			r.rt.renderer.Printf("[error] failed to save conversation: %v", err)
		}
	}
	return res.err
}

func (r *repl) handleSlash(ctx context.Context, cmd, arg string) (bool, error) {
	switch cmd {
	case "exit", "quit", "q":
		return true, nil

	case "help", "?":
		r.rt.renderer.Printf("%s", replHelp)

	case "new":
		name := arg
		if name == "" {
			name = session.DefaultName(r.now())
		}
		if err := session.ValidateName(name); err != nil {
			return false, err
		}
		r.name = name
		r.conv = nil
		r.resetContext()
		r.rt.renderer.Printf("Started conversation %s", name)

	case "save":
		if arg != "" {
			if err := session.ValidateName(arg); err != nil {
				return false, err
			}
			r.name = arg
		}
		if err := r.rt.sessions.Save(ctx, r.name, r.conv); err != nil {
			return false, err
		}
		r.rt.renderer.Printf("Saved %d messages to %s", len(r.conv), r.name)

	case "load":
		if arg == "" {
			return false, errors.New("usage: /load <name>")
		}
		conv, err := r.rt.sessions.Load(ctx, arg)
		if err != nil {
			return false, err
		}
		r.name = arg
		r.conv = conv
		r.resetContext()
		r.rt.renderer.Printf("Loaded %s (%d messages)", arg, len(conv))

	case "list", "ls":
		names, err := r.rt.sessions.List()
		if err != nil {
			return false, err
		}
		if len(names) == 0 {
			r.rt.renderer.Printf("No saved conversations")
		}
		for _, name := range names {
			marker := " "
			if name == r.name {
				marker = "*"
			}
			r.rt.renderer.Printf("%s %s", marker, name)
		}

	case "reset", "clear":
		r.conv = nil
		r.resetContext()
		r.rt.renderer.Printf("Conversation cleared")

	case "shell", "sh":
		if arg == "" {
			return false, errors.New("usage: /shell <text>")
		}
		if err := r.rt.shell.SendInput(ctx, arg); err != nil {
			return false, err
		}

	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", cmd)
	}
	return false, nil
}

// resetContext drops server-side context kept by the generate endpoint.
func (r *repl) resetContext() {
	if resetter, ok := r.rt.client.(interface{ ResetContext() }); ok {
		resetter.ResetContext()
	}
}
