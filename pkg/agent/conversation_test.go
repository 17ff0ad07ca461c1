package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/harun/agerus/pkg/provider"
)

func TestConversation_ToProvider(t *testing.T) {
	calls := []provider.ToolCall{{ID: "c1", Name: "run_command", Arguments: map[string]interface{}{"command": "ls"}}}
	conv := Conversation{
		{Role: RoleUser, Content: "list files"},
		{Role: RoleThinking, Content: "use ls"},
		{Role: RoleAssistant, Content: "Listing.", ToolCalls: calls},
		{Role: RoleTool, Content: "go.mod", ToolCallID: "c1", Name: "run_command"},
		{Role: RoleSystem, Content: "Session loaded"},
		{Role: RoleError, Content: "connection lost"},
		{Role: RoleThinking, Content: "dangling"},
	}

	got := conv.ToProvider("be careful")
	want := []provider.Message{
		{Role: provider.RoleSystem, Content: "be careful"},
		{Role: provider.RoleUser, Content: "list files"},
		{Role: provider.RoleAssistant, Content: "use ls\n\nListing.", ToolCalls: calls},
		{Role: provider.RoleTool, Content: "go.mod", ToolCallID: "c1", Name: "run_command"},
		{Role: provider.RoleUser, Content: "[system] Session loaded"},
		{Role: provider.RoleUser, Content: "[error] connection lost"},
		{Role: provider.RoleAssistant, Content: "dangling"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToProvider() mismatch (-want +got):\n%s", diff)
	}
}

func TestConversation_ToProviderWithoutSystemPrompt(t *testing.T) {
	got := Conversation{{Role: RoleUser, Content: "hi"}}.ToProvider("  ")
	want := []provider.Message{{Role: provider.RoleUser, Content: "hi"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToProvider() mismatch (-want +got):\n%s", diff)
	}
}

func TestConversation_Clone(t *testing.T) {
	conv := Conversation{{Role: RoleUser, Content: "a"}}
	clone := conv.Clone()
	clone[0].Content = "b"
	if conv[0].Content != "a" {
		t.Fatalf("clone shares backing array")
	}
}
