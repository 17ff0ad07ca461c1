package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSlash(t *testing.T) {
	tests := []struct {
		line string
		cmd  string
		arg  string
		ok   bool
	}{
		{line: "/help", cmd: "help", ok: true},
		{line: "  /LOAD  old-chat ", cmd: "load", arg: "old-chat", ok: true},
		{line: "/shell ls -la", cmd: "shell", arg: "ls -la", ok: true},
		{line: "what does /tmp hold?"},
		{line: ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, arg, ok := parseSlash(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	mgr, err := session.New(session.Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	rt := &Runtime{sessions: mgr, renderer: NewRenderer(out, false)}
	r := newREPL(rt, nil, "current")
	r.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return r, out
}

func TestREPL_HandleSlash(t *testing.T) {
	ctx := context.Background()

	t.Run("exit quits", func(t *testing.T) {
		r, _ := newTestREPL(t)
		for _, cmd := range []string{"exit", "quit", "q"} {
			quit, err := r.handleSlash(ctx, cmd, "")
			require.NoError(t, err)
			assert.True(t, quit)
		}
	})

	t.Run("new starts an empty conversation", func(t *testing.T) {
		r, out := newTestREPL(t)
		r.conv = agent.Conversation{{Role: agent.RoleUser, Content: "hello"}}

		_, err := r.handleSlash(ctx, "new", "")
		require.NoError(t, err)
		assert.Equal(t, "chat_2026-03-04_05-06-07", r.name)
		assert.Empty(t, r.conv)
		assert.Contains(t, out.String(), "Started conversation chat_2026-03-04_05-06-07")

		_, err = r.handleSlash(ctx, "new", "../escape")
		assert.Error(t, err)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		r, out := newTestREPL(t)
		r.conv = agent.Conversation{
			{Role: agent.RoleUser, Content: "hello"},
			{Role: agent.RoleAssistant, Content: "hi there"},
		}

		_, err := r.handleSlash(ctx, "save", "kept")
		require.NoError(t, err)
		assert.Equal(t, "kept", r.name)
		assert.Contains(t, out.String(), "Saved 2 messages to kept")

		_, err = r.handleSlash(ctx, "reset", "")
		require.NoError(t, err)
		assert.Empty(t, r.conv)

		_, err = r.handleSlash(ctx, "load", "kept")
		require.NoError(t, err)
		require.Len(t, r.conv, 2)
		assert.Equal(t, "hi there", r.conv[1].Content)
	})

	t.Run("load reports missing conversations", func(t *testing.T) {
		r, _ := newTestREPL(t)
		_, err := r.handleSlash(ctx, "load", "")
		assert.EqualError(t, err, "usage: /load <name>")

		_, err = r.handleSlash(ctx, "load", "nope")
		assert.ErrorIs(t, err, session.ErrNotFound)
		assert.Equal(t, "current", r.name)
	})

	t.Run("list marks the current conversation", func(t *testing.T) {
		r, out := newTestREPL(t)
		_, err := r.handleSlash(ctx, "list", "")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "No saved conversations")

		require.NoError(t, r.rt.sessions.Save(ctx, "current", agent.Conversation{{Role: agent.RoleUser, Content: "a"}}))
		require.NoError(t, r.rt.sessions.Save(ctx, "other", agent.Conversation{{Role: agent.RoleUser, Content: "b"}}))

		out.Reset()
		_, err = r.handleSlash(ctx, "ls", "")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "* current")
		assert.Contains(t, out.String(), "  other")
	})

	t.Run("shell requires text", func(t *testing.T) {
		r, _ := newTestREPL(t)
		_, err := r.handleSlash(ctx, "shell", "")
		assert.EqualError(t, err, "usage: /shell <text>")
	})

	t.Run("unknown command", func(t *testing.T) {
		r, _ := newTestREPL(t)
		quit, err := r.handleSlash(ctx, "frobnicate", "")
		assert.False(t, quit)
		assert.EqualError(t, err, "unknown command /frobnicate (try /help)")
	})

	t.Run("help", func(t *testing.T) {
		r, out := newTestREPL(t)
		_, err := r.handleSlash(ctx, "help", "")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "/load <name>")
	})
}
