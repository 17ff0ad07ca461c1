package actionparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Run("should prefer the rightmost recognized object", func(t *testing.T) {
		action, ok, err := Extract(`Let's see {"x":1} now {"command":"ls"}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ls", action.Command)

		name, args := action.ToolCall()
		assert.Equal(t, "run_command", name)
		assert.Equal(t, map[string]any{"command": "ls"}, args)
	})

	t.Run("should skip later objects without action keys", func(t *testing.T) {
		action, ok, err := Extract(`{"command":"pwd"} and then {"note":"done"}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "pwd", action.Command)
	})

	t.Run("should pick the final draft when the model restates itself", func(t *testing.T) {
		text := "Draft: {\"command\": \"rm -rf build\"}\nActually:\n```json\n{\"command\": \"make clean\"}\n```"
		action, ok, err := Extract(text)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "make clean", action.Command)
	})

	t.Run("should return none without error for unbalanced braces", func(t *testing.T) {
		action, ok, err := Extract(`no json here { "command": "ls"`)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Action{}, action)
	})

	t.Run("should return none for plain prose", func(t *testing.T) {
		_, ok, err := Extract("The build is green. Nothing else to do.")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should fail on empty source", func(t *testing.T) {
		_, _, err := Extract("  \n\t")
		assert.ErrorIs(t, err, ErrEmptySource)
	})

	t.Run("should treat a null command as no action", func(t *testing.T) {
		_, ok, err := Extract(`{"thought": "all done", "command": "null", "write_file": null}`)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestExtract_WriteFile(t *testing.T) {
	text := `{"thought": "create it", "command": null, "write_file": {"path": "src/main.go", "content": "package main\n"}}`

	action, ok, err := Extract(text)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, action.WriteFile)
	assert.Equal(t, "create it", action.Thought)

	name, args := action.ToolCall()
	assert.Equal(t, "write_file", name)
	assert.Equal(t, "src/main.go", args["path"])
	assert.Equal(t, "package main\n", args["content"])
}

func TestExtract_ExplicitTool(t *testing.T) {
	t.Run("should read nested arguments", func(t *testing.T) {
		action, ok, err := Extract(`Calling {"tool": "read_file", "arguments": {"path": "go.mod"}}`)
		require.NoError(t, err)
		require.True(t, ok)

		name, args := action.ToolCall()
		assert.Equal(t, "read_file", name)
		assert.Equal(t, map[string]any{"path": "go.mod"}, args)
	})

	t.Run("should decode string encoded arguments", func(t *testing.T) {
		action, ok, err := New("web_search").Extract(`{"name": "web_search", "arguments": "{\"query\": \"golang\"}"}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "web_search", action.Tool)
		assert.Equal(t, "golang", action.Arguments["query"])
	})

	t.Run("should ignore name keys that are not tools", func(t *testing.T) {
		_, ok, err := New("read_file").Extract(`{"name": "Alice", "age": 3}`)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("should accept a registered tool name as key", func(t *testing.T) {
		action, ok, err := New("list_files").Extract(`{"list_files": {"path": "."}}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "list_files", action.Tool)
		assert.Equal(t, ".", action.Arguments["path"])
	})
}

func TestExtract_BraceInsideString(t *testing.T) {
	// Brace counting does not understand quoted braces: the object below is
	// never balanced, so the earlier valid action wins.
	text := `{"command":"echo ok"} {"command":"echo }"}`
	action, ok, err := Extract(text)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "echo ok", action.Command)
}
