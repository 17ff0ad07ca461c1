package logger

import (
	"io"
	"regexp"
	"strings"
	"sync"
)

const redacted = "[REDACTED]"

var defaultPatterns = []string{
	// Provider keys
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`(?i)api[_-]?key["\s:=]+[^\s",]+`,

	// Authorization headers and the event gateway secret
	`Bearer\s+[a-zA-Z0-9._-]+`,
	`(?i)x-agerus-secret["\s:=]+[^\s"]+`,

	`password["\s:=]+[^\s"]+`,
	`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
	`AKIA[0-9A-Z]{16}`,
	`secret["\s:=]+[^\s"]+`,
}

// Redactor masks credentials in log output: well-known key shapes plus the
// literal secret values the process was configured with.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  *strings.Replacer
	literal  []string
}

// NewRedactor creates a redactor for the default patterns and the given
// secret values. Empty and very short values are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	for _, s := range secrets {
		r.AddSecret(s)
	}
	return r
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// AddSecret masks every occurrence of value. Values shorter than four bytes
// would mask ordinary text and are skipped.
func (r *Redactor) AddSecret(value string) {
	value = strings.TrimSpace(value)
	if len(value) < 4 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.literal = append(r.literal, value)
	pairs := make([]string, 0, 2*len(r.literal))
	for _, s := range r.literal {
		pairs = append(pairs, s, redacted)
	}
	r.secrets = strings.NewReplacer(pairs...)
}

// Redact returns s with every secret masked.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.secrets != nil {
		s = r.secrets.Replace(s)
	}
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success: callers count input bytes, not the
// shorter or longer redacted output.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
