package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(zerolog.New(&buf))

	audit.Record(context.Background(), ToolAudit{
		Tool:         "run_command",
		Conversation: "chat_1",
		CallID:       "call_abc",
		Turn:         3,
		Duration:     1500 * time.Millisecond,
		Metadata:     map[string]interface{}{"command": "ls"},
	})
	audit.Record(context.Background(), ToolAudit{Tool: "fetch_url", Failed: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run_command", first["tool"])
	assert.Equal(t, "success", first["status"])
	assert.Equal(t, "chat_1", first["conversation"])
	assert.Equal(t, "call_abc", first["call_id"])
	assert.Equal(t, float64(3), first["turn"])
	assert.Equal(t, map[string]interface{}{"command": "ls"}, first["metadata"])
	assert.NotContains(t, first, "trace_id")

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "failure", second["status"])
	assert.NotContains(t, second, "metadata")
}

func TestInitAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() {
		auditMu.Lock()
		auditInst = &AuditLogger{logger: zerolog.Nop()}
		auditMu.Unlock()
	})

	RecordToolAudit(context.Background(), ToolAudit{Tool: "write_file", Metadata: map[string]interface{}{"path": "a.txt"}})
	require.NoError(t, GetAuditLogger().Close())

	// Records after Close are dropped, not written to a closed file.
	RecordToolAudit(context.Background(), ToolAudit{Tool: "read_file"})
	require.NoError(t, GetAuditLogger().Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool":"write_file"`)
	assert.NotContains(t, string(data), "read_file")
}

func TestMetricsHandler(t *testing.T) {
	RecordToolExecution("read_file", 0, true)
	RecordShellCommand(false)
	SetShellState("idle", []string{"starting", "idle", "busy", "closed"})

	assert.NotNil(t, MetricsHandler())
}
