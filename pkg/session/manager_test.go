package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) (*Manager, string) {
	tempDir := t.TempDir()
	m, err := New(Config{Dir: tempDir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return m, tempDir
}

func sampleConversation() agent.Conversation {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return agent.Conversation{
		{Role: agent.RoleUser, Content: "list files", Timestamp: ts},
		{Role: agent.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "c1", Name: "run_command", Arguments: map[string]interface{}{"command": "ls"}}}, Timestamp: ts},
		{Role: agent.RoleTool, Content: "go.mod\nmain.go", ToolCallID: "c1", Name: "run_command", Timestamp: ts},
		{Role: agent.RoleAssistant, Content: "Two files.", Timestamp: ts},
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "chat_2026-01-02_03-04-05", false},
		{"empty key", "", true},
		{"blank key", "   ", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultName(t *testing.T) {
	name := DefaultName(time.Date(2026, 10, 19, 8, 5, 9, 0, time.UTC))
	assert.Equal(t, "chat_2026-10-19_08-05-09", name)
	assert.NoError(t, ValidateName(name))
}

func TestManager_SaveLoad(t *testing.T) {
	m, dir := setupTestManager(t)
	ctx := context.Background()
	conv := sampleConversation()

	require.NoError(t, m.Save(ctx, "s1", conv))

	loaded, err := m.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded, len(conv))
	assert.Equal(t, conv[0].Content, loaded[0].Content)
	assert.Equal(t, "ls", loaded[1].ToolCalls[0].Arguments["command"])
	assert.Equal(t, "c1", loaded[2].ToolCallID)
	assert.True(t, conv[3].Timestamp.Equal(loaded[3].Timestamp))

	_, err = os.Stat(filepath.Join(dir, "s1.jsonl.tmp"))
	assert.True(t, os.IsNotExist(err))

	t.Run("should replace on save", func(t *testing.T) {
		require.NoError(t, m.Save(ctx, "s1", conv[:1]))
		loaded, err := m.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)
	})
}

func TestManager_Append(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, "s2", agent.Message{Role: agent.RoleUser, Content: "one"}))
	require.NoError(t, m.Append(ctx, "s2", agent.Message{Role: agent.RoleAssistant, Content: "two"}))
	assert.Error(t, m.Append(ctx, "s2", agent.Message{Content: "no role"}))

	loaded, err := m.Load(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "two", loaded[1].Content)
	assert.False(t, loaded[0].Timestamp.IsZero())
}

func TestManager_LoadSkipsMalformedLines(t *testing.T) {
	m, dir := setupTestManager(t)
	content := `{"role":"user","content":"hi"}
this is not json

{"content":"missing role"}
{"role":"assistant","content":"hello"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jsonl"), []byte(content), 0600))

	loaded, err := m.Load(context.Background(), "broken")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "hello", loaded[1].Content)
}

func TestManager_NotFound(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Delete(ctx, "missing"), ErrNotFound)

	_, err = m.Info(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ListDeleteInfo(t *testing.T) {
	m, dir := setupTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, "b", sampleConversation()))
	require.NoError(t, m.Save(ctx, "a", sampleConversation()[:2]))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jsonl"), 0700))

	names, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	info, err := m.Info(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Messages)
	assert.Positive(t, info.Size)

	require.NoError(t, m.Delete(ctx, "a"))
	names, err = m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)
}

func TestManager_RejectsUnsafeNames(t *testing.T) {
	m, _ := setupTestManager(t)
	ctx := context.Background()

	assert.Error(t, m.Save(ctx, "../escape", nil))
	_, err := m.Load(ctx, "a/b")
	assert.Error(t, err)
}

func TestManager_Prune(t *testing.T) {
	m, dir := setupTestManager(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.Save(ctx, "old", sampleConversation()))
	require.NoError(t, m.Save(ctx, "long", sampleConversation()))
	require.NoError(t, m.Save(ctx, "short", sampleConversation()[:1]))

	stale := now.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.jsonl"), stale, stale))

	stats, err := m.Prune(ctx, PruneOptions{OlderThan: 7 * 24 * time.Hour, MaxMessages: 2, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, stats.Deleted)
	assert.Equal(t, []string{"long"}, stats.Trimmed)

	loaded, err := m.Load(ctx, "long")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Two files.", loaded[1].Content)

	names, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"long", "short"}, names)
}
