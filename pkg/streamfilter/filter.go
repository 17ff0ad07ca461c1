package streamfilter

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultOpen opens a reasoning span.
	DefaultOpen = "<think>"
	// DefaultClose closes a reasoning span.
	DefaultClose = "</think>"
)

// Segment is one run of text of a single kind.
type Segment struct {
	Reasoning bool
	Text      string
}

// Filter is a stateful tag scanner. It is not safe for concurrent use; one
// filter belongs to one stream.
type Filter struct {
	open        string
	close       string
	buf         string
	inside      bool
	passthrough bool
}

// New creates a filter that scans for the given span delimiters. Empty
// delimiters fall back to DefaultOpen and DefaultClose.
func New(open, close string) *Filter {
	if open == "" {
		open = DefaultOpen
	}
	if close == "" {
		close = DefaultClose
	}
	return &Filter{open: open, close: close}
}

// NewPassthrough creates a filter for providers that deliver reasoning in a
// separate field. Push treats everything as answer text.
func NewPassthrough() *Filter {
	return &Filter{passthrough: true}
}

// Passthrough reports whether the filter skips tag scanning.
func (f *Filter) Passthrough() bool {
	return f.passthrough
}

// InReasoning reports whether the scanner is currently inside a span.
func (f *Filter) InReasoning() bool {
	return f.inside
}

// Push consumes a chunk and returns the segments that can be emitted safely.
func (f *Filter) Push(chunk string) []Segment {
	if f.passthrough {
		if chunk == "" {
			return nil
		}
		return []Segment{{Text: chunk}}
	}

	f.buf += chunk
	var out []Segment
	for {
		delim := f.open
		if f.inside {
			delim = f.close
		}

		if i := strings.Index(f.buf, delim); i >= 0 {
			out = f.emit(out, f.buf[:i])
			f.buf = f.buf[i+len(delim):]
			f.inside = !f.inside
			continue
		}

		// Hold back enough bytes to complete a delimiter on the next push.
		cut := len(f.buf) - (len(delim) - 1)
		for cut > 0 && cut < len(f.buf) && !utf8.RuneStart(f.buf[cut]) {
			cut--
		}
		if cut > 0 {
			out = f.emit(out, f.buf[:cut])
			f.buf = f.buf[cut:]
		}
		return out
	}
}

// PushFields handles providers with structured reasoning and content fields.
func (f *Filter) PushFields(reasoning, content string) []Segment {
	var out []Segment
	if reasoning != "" {
		out = append(out, Segment{Reasoning: true, Text: reasoning})
	}
	if content != "" {
		if f.passthrough {
			out = append(out, Segment{Text: content})
		} else {
			out = append(out, f.Push(content)...)
		}
	}
	return out
}

// Flush emits whatever is still buffered in the current mode.
func (f *Filter) Flush() []Segment {
	out := f.emit(nil, f.buf)
	f.buf = ""
	return out
}

func (f *Filter) emit(out []Segment, text string) []Segment {
	if text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Reasoning == f.inside {
		out[n-1].Text += text
		return out
	}
	return append(out, Segment{Reasoning: f.inside, Text: text})
}

// Split concatenates segments into reasoning and answer text.
func Split(segments []Segment) (reasoning, answer string) {
	var r, a strings.Builder
	for _, seg := range segments {
		if seg.Reasoning {
			r.WriteString(seg.Text)
		} else {
			a.WriteString(seg.Text)
		}
	}
	return r.String(), a.String()
}
