package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/agerus/internal/observability"
	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/agent"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const fileExt = ".jsonl"

// ErrNotFound is returned when a session file does not exist.
var ErrNotFound = errors.New("session not found")

// DefaultName names a new session after its creation time.
func DefaultName(now time.Time) string {
	return "chat_" + now.Format("2006-01-02_15-04-05")
}

// Config configures a Manager.
type Config struct {
	Dir    string
	Logger zerolog.Logger
}

// Info describes a stored session.
type Info struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Messages     int       `json:"messages"`
}

// Manager manages conversation persistence using JSONL format
type Manager struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates the sessions directory when needed.
func New(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	dir := cfg.Dir
	if dir == "" {
		dataDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		dir = filepath.Join(dataDir, "agerus", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	cfg.Logger.Debug().Str("dir", dir).Msg("Session manager initialized")

	return &Manager{
		dir:        dir,
		logger:     cfg.Logger,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the sessions directory.
func (m *Manager) Dir() string {
	return m.dir
}

// ValidateName reports whether name can be used as a session file name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("session name cannot be empty")
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("session name cannot contain '..'")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("session name cannot contain path separators")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("session name cannot contain null bytes")
	}
	return nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+fileExt)
}

func (m *Manager) lock(name string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if lock, exists := m.writeLocks[name]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.writeLocks[name] = lock
	return lock
}

func (m *Manager) span(ctx context.Context, op, name string) (context.Context, trace.Span, zerolog.Logger) {
	ctx = tracing.WithConversation(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "agerus.session", "session."+op, attribute.String("session", name))
	return ctx, span, tracing.LoggerFromContext(ctx, m.logger)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Save replaces the session with conv. The file is written to a temporary
// path and renamed into place.
func (m *Manager) Save(ctx context.Context, name string, conv agent.Conversation) error {
	ctx, span, logger := m.span(ctx, "save", name)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateName(name); err != nil {
		return fail(span, err)
	}

	lock := m.lock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := m.writeAtomic(name, conv); err != nil {
		return fail(span, err)
	}

	logger.Debug().Str("session", name).Int("messages", len(conv)).Msg("Session saved")
	return nil
}

func (m *Manager) writeAtomic(name string, conv agent.Conversation) error {
	sessionPath := m.path(name)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, msg := range conv {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := writer.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Append adds one message to the end of the session, creating it if needed.
func (m *Manager) Append(ctx context.Context, name string, msg agent.Message) error {
	ctx, span, logger := m.span(ctx, "append", name)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	if err := ValidateName(name); err != nil {
		return fail(span, err)
	}
	if msg.Role == "" {
		return fail(span, fmt.Errorf("message role cannot be empty"))
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	lock := m.lock(name)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(m.path(name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fail(span, fmt.Errorf("failed to open session file: %w", err))
	}
	defer file.Close()

	data, err := json.Marshal(msg)
	if err != nil {
		return fail(span, fmt.Errorf("failed to marshal message: %w", err))
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fail(span, fmt.Errorf("failed to write message: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(span, fmt.Errorf("failed to sync file: %w", err))
	}

	logger.Debug().Str("session", name).Str("role", msg.Role).Msg("Message appended")
	return nil
}

// Load reads the session. Lines that do not decode, or carry no role, are
// skipped.
func (m *Manager) Load(ctx context.Context, name string) (agent.Conversation, error) {
	ctx, span, logger := m.span(ctx, "load", name)
	defer span.End()
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	if err := ValidateName(name); err != nil {
		return nil, fail(span, err)
	}

	file, err := os.Open(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fail(span, fmt.Errorf("%w: %s", ErrNotFound, name))
		}
		return nil, fail(span, fmt.Errorf("failed to open session file: %w", err))
	}
	defer file.Close()

	conv := agent.Conversation{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg agent.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			logger.Warn().Str("session", name).Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if msg.Role == "" {
			logger.Warn().Str("session", name).Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		conv = append(conv, msg)
	}

	if err := scanner.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("failed to read session file: %w", err))
	}

	logger.Debug().Str("session", name).Int("messages", len(conv)).Msg("Session loaded")
	return conv, nil
}

// Delete removes the session. Deleting a missing session returns ErrNotFound.
func (m *Manager) Delete(ctx context.Context, name string) error {
	ctx, span, logger := m.span(ctx, "delete", name)
	defer span.End()

	if err := ValidateName(name); err != nil {
		return fail(span, err)
	}

	lock := m.lock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(m.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fail(span, fmt.Errorf("%w: %s", ErrNotFound, name))
		}
		return fail(span, fmt.Errorf("failed to delete session file: %w", err))
	}

	m.locksMu.Lock()
	delete(m.writeLocks, name)
	m.locksMu.Unlock()

	logger.Info().Str("session", name).Msg("Session deleted")
	return nil
}

// List returns the stored session names in sorted order.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(entry.Name(), fileExt))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Info returns metadata about a session.
func (m *Manager) Info(ctx context.Context, name string) (Info, error) {
	if err := ValidateName(name); err != nil {
		return Info{}, err
	}

	stat, err := os.Stat(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Info{}, fmt.Errorf("failed to stat session file: %w", err)
	}

	conv, err := m.Load(ctx, name)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Name:         name,
		Size:         stat.Size(),
		LastModified: stat.ModTime(),
		Messages:     len(conv),
	}, nil
}
