package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/provider"
	"github.com/harun/agerus/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSessions(t *testing.T) {
	mgr, err := session.New(session.Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())

	require.NoError(t, listSessions(cmd, mgr, time.Now()))
	assert.Equal(t, "No saved conversations\n", out.String())

	conv := agent.Conversation{
		{Role: agent.RoleUser, Content: "one"},
		{Role: agent.RoleAssistant, Content: "two"},
		{Role: agent.RoleUser, Content: "three"},
	}
	require.NoError(t, mgr.Save(context.Background(), "project-x", conv))

	out.Reset()
	require.NoError(t, listSessions(cmd, mgr, time.Now()))
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "MESSAGES")
	assert.Regexp(t, `project-x\s+3\s+\d+`, out.String())
}

func TestPrintConversation(t *testing.T) {
	conv := agent.Conversation{
		{Role: agent.RoleUser, Content: "list the files"},
		{Role: agent.RoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "c1", Name: "run_command", Arguments: map[string]interface{}{"command": "ls"}},
			{ID: "c2", Name: "read_file", Arguments: map[string]interface{}{"path": "go.mod"}},
		}},
		{Role: agent.RoleTool, Name: "run_command", ToolCallID: "c1", Content: "a.go\nb.go\n"},
		{Role: agent.RoleAssistant, Content: "Two files."},
	}

	out := &bytes.Buffer{}
	printConversation(out, conv)

	want := "[user] list the files\n" +
		"[assistant] calls run_command: ls\n" +
		"[assistant] calls read_file: go.mod\n" +
		"[tool run_command]\n  a.go\n  b.go\n" +
		"[assistant] Two files.\n"
	assert.Equal(t, want, out.String())
}

func TestDescribeToolCall(t *testing.T) {
	assert.Equal(t, "run_command: make test", describeToolCall("run_command", map[string]interface{}{"command": "make test"}))
	assert.Equal(t, "list_files: src", describeToolCall("list_files", map[string]interface{}{"path": "src"}))
	assert.Equal(t, "web_search", describeToolCall("web_search", map[string]interface{}{"query": "go"}))
}
