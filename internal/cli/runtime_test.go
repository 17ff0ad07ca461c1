package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/agerus/internal/config"
	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/sandbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedOllama answers the n-th chat request with the n-th reply; the last
// reply repeats.
func scriptedOllama(t *testing.T, replies ...[]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range replies[n] {
			fmt.Fprintln(w, line)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func localConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.WorkspacePath = filepath.Join(dir, "workspace")
	cfg.DataDir = dir
	cfg.SessionsDir = filepath.Join(dir, "sessions")
	cfg.Sandbox.Mode = config.SandboxLocal
	cfg.Sandbox.Shell = "sh"
	cfg.Tools.AuditLog = ""
	cfg.Events.Enabled = false
	require.NoError(t, cfg.Validate())
	return cfg
}

var toolThenAnswer = [][]string{
	{
		`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"run_command","arguments":{"command":"echo hi"}}}]},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true}`,
	},
	{
		`{"message":{"role":"assistant","content":"All "},"done":false}`,
		`{"message":{"role":"assistant","content":"done."},"done":true}`,
	},
}

func TestRuntime_RunPrompt(t *testing.T) {
	srv, calls := scriptedOllama(t, toolThenAnswer...)
	cfg := localConfig(t, srv.URL+"/api/chat")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	rt, err := newRuntime(ctx, cfg, zerolog.Nop(), &out)
	require.NoError(t, err)

	err = rt.Serve(ctx, func(ctx context.Context) error {
		return rt.runPrompt(ctx, "demo", "say hi")
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	rendered := out.String()
	assert.Contains(t, rendered, "$ echo hi")
	assert.Contains(t, rendered, "All done.")

	conv, err := rt.sessions.Load(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, conv, 4)
	assert.Equal(t, agent.RoleUser, conv[0].Role)
	assert.Equal(t, "say hi", conv[0].Content)
	require.Len(t, conv[1].ToolCalls, 1)
	assert.Equal(t, "run_command", conv[1].ToolCalls[0].Name)
	assert.Equal(t, agent.RoleTool, conv[2].Role)
	assert.Contains(t, conv[2].Content, "hi")
	assert.Equal(t, "All done.", conv[3].Content)
}

func TestRuntime_RunPromptContinuesSession(t *testing.T) {
	srv, _ := scriptedOllama(t, []string{
		`{"message":{"role":"assistant","content":"Second answer."},"done":true}`,
	})
	cfg := localConfig(t, srv.URL+"/api/chat")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	rt, err := newRuntime(ctx, cfg, zerolog.Nop(), &out)
	require.NoError(t, err)

	prior := agent.Conversation{
		{Role: agent.RoleUser, Content: "first"},
		{Role: agent.RoleAssistant, Content: "first answer"},
	}
	require.NoError(t, rt.sessions.Save(ctx, "ongoing", prior))

	err = rt.Serve(ctx, func(ctx context.Context) error {
		return rt.runPrompt(ctx, "ongoing", "second")
	})
	require.NoError(t, err)

	conv, err := rt.sessions.Load(context.Background(), "ongoing")
	require.NoError(t, err)
	require.Len(t, conv, 4)
	assert.Equal(t, "second", conv[2].Content)
	assert.Equal(t, "Second answer.", conv[3].Content)
}

func TestRuntime_RunPromptCapReached(t *testing.T) {
	srv, _ := scriptedOllama(t, toolThenAnswer[0])
	cfg := localConfig(t, srv.URL+"/api/chat")
	cfg.Agent.MaxTurns = 2

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	rt, err := newRuntime(ctx, cfg, zerolog.Nop(), &out)
	require.NoError(t, err)

	err = rt.Serve(ctx, func(ctx context.Context) error {
		return rt.runPrompt(ctx, "", "loop forever")
	})
	require.ErrorIs(t, err, agent.ErrTurnCapReached)
	assert.Contains(t, out.String(), "[stopped]")

	names, err := rt.sessions.List()
	require.NoError(t, err)
	assert.Empty(t, names, "unnamed runs are not saved")
}

func TestRuntime_ChatREPL(t *testing.T) {
	srv, _ := scriptedOllama(t, []string{
		`{"message":{"role":"assistant","content":"Nothing here yet."},"done":true}`,
	})
	cfg := localConfig(t, srv.URL+"/api/chat")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	rt, err := newRuntime(ctx, cfg, zerolog.Nop(), &out)
	require.NoError(t, err)

	input := strings.NewReader("what is in the workspace?\n/list\n/bogus\n/exit\n")
	r := newREPL(rt, input, "session-one")

	require.NoError(t, rt.Serve(ctx, r.run))

	rendered := out.String()
	assert.Contains(t, rendered, "conversation session-one")
	assert.Contains(t, rendered, "Nothing here yet.")
	assert.Contains(t, rendered, "* session-one")
	assert.Contains(t, rendered, "[error] unknown command /bogus")

	conv, err := rt.sessions.Load(context.Background(), "session-one")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "what is in the workspace?", conv[0].Content)
}

// slowWriter simulates a terminal that cannot keep up with the shell.
type slowWriter struct {
	mu    sync.Mutex
	delay time.Duration
	buf   bytes.Buffer
}

func (w *slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *slowWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestRuntime_SlowRendererKeepsEveryShellLine(t *testing.T) {
	cfg := localConfig(t, "http://localhost:11434/api/chat")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	out := &slowWriter{delay: 100 * time.Microsecond}
	rt, err := newRuntime(ctx, cfg, zerolog.Nop(), out)
	require.NoError(t, err)

	const total = 2000
	var captured string
	err = rt.Serve(ctx, func(ctx context.Context) error {
		var err error
		captured, err = rt.shell.Capture(ctx, fmt.Sprintf("seq 1 %d", total))
		rt.Flush()
		return err
	})
	require.NoError(t, err)

	assert.Len(t, strings.Split(captured, "\n"), total)

	rendered := 0
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "  ") {
			rendered++
		}
	}
	assert.Equal(t, total, rendered)
	assert.Contains(t, out.String(), fmt.Sprintf("  %d\n", total))
}

func TestProbeSandbox(t *testing.T) {
	cfg := localConfig(t, "http://localhost:11434/api/chat")
	env, err := sandbox.New(sandboxConfig(cfg, cfg.WorkspacePath))
	require.NoError(t, err)

	out, err := probeSandbox(context.Background(), cfg, env)
	require.NoError(t, err)
	assert.Equal(t, "workspace", filepath.Base(out))
}

func TestProviderConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, cfg.Endpoint, providerConfig(cfg, zerolog.Nop()).Endpoint)

	cfg.Provider = config.ProviderOpenAI
	assert.Empty(t, providerConfig(cfg, zerolog.Nop()).Endpoint)

	cfg.Endpoint = "https://llm.internal/v1"
	assert.Equal(t, "https://llm.internal/v1", providerConfig(cfg, zerolog.Nop()).Endpoint)
}

func TestSandboxConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	sc := sandboxConfig(cfg, "/abs/workspace")

	assert.Equal(t, "docker", string(sc.Runtime))
	assert.Equal(t, "/abs/workspace", sc.Workspace)
	assert.Equal(t, "bash", sc.Shell)
	assert.Equal(t, "agerus_sandbox", sc.Docker.Container)
	assert.Equal(t, "/workspace", sc.Docker.MountPath)
}
