package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/harun/agerus/pkg/agent"
)

const previewLines = 5

// Renderer prints progress events as plain text lines. Token and thinking
// text is streamed as it arrives; everything else starts on a fresh line.
type Renderer struct {
	mu           sync.Mutex
	out          io.Writer
	showThinking bool
	stream       agent.EventKind
	midLine      bool
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer, showThinking bool) *Renderer {
	return &Renderer{out: out, showThinking: showThinking}
}

// Render prints one event.
func (r *Renderer) Render(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case agent.EventToken:
		r.streamText(agent.EventToken, "", ev.Text)
	case agent.EventThinking:
		if r.showThinking {
			r.streamText(agent.EventThinking, "[thinking] ", ev.Text)
		}
	case agent.EventCommandStart:
		if ev.Tool == "run_command" {
			r.line("$ " + ev.Text)
		} else {
			r.line("-> " + ev.Text)
		}
	case agent.EventCommandEnd:
		// Shell output is already shown line by line.
		if ev.Tool != "run_command" {
			r.preview(ev.Text)
		}
	case agent.EventTerminalLine:
		r.line("  " + ev.Text)
	case agent.EventNotice:
		r.line("[notice] " + ev.Text)
	case agent.EventError:
		r.line("[error] " + ev.Text)
	case agent.EventCapReached:
		r.line("[stopped] " + ev.Text)
	case agent.EventFinished:
		r.endLine()
		r.stream = ""
	}
}

// Printf writes a status line outside the event stream.
func (r *Renderer) Printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(fmt.Sprintf(format, args...))
}

// Prompt writes text without a trailing newline.
func (r *Renderer) Prompt(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	r.stream = ""
	fmt.Fprint(r.out, text)
}

func (r *Renderer) streamText(kind agent.EventKind, prefix, text string) {
	if text == "" {
		return
	}
	if r.stream != kind {
		r.endLine()
		r.stream = kind
		fmt.Fprint(r.out, prefix)
	}
	fmt.Fprint(r.out, text)
	r.midLine = !strings.HasSuffix(text, "\n")
}

func (r *Renderer) line(text string) {
	r.endLine()
	r.stream = ""
	fmt.Fprintln(r.out, text)
}

func (r *Renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func (r *Renderer) preview(text string) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	shown := lines
	if len(lines) > previewLines {
		shown = lines[:previewLines]
	}
	for _, l := range shown {
		r.line("  " + l)
	}
	if len(lines) > previewLines {
		r.line(fmt.Sprintf("  ... (%d more lines)", len(lines)-previewLines))
	}
}

func formatAge(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd%dh", days, h)
	}
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
