package agent

import (
	"strings"
	"time"

	"github.com/harun/agerus/pkg/provider"
)

// Conversation roles. Thinking, system and error entries are shown to the
// user and mapped onto protocol roles before they reach the model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleError     = "error"
	RoleThinking  = "thinking"
	RoleTool      = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCalls  []provider.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
	Timestamp  time.Time           `json:"timestamp,omitempty"`
}

// Conversation is the ordered message history of one chat.
type Conversation []Message

// Clone returns a copy that can be appended to without touching c.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// ToProvider maps the conversation onto protocol roles. Thinking entries are
// folded into the next assistant message; system and error entries become
// user messages with a bracketed prefix so the model reads them as context.
func (c Conversation) ToProvider(systemPrompt string) []provider.Message {
	out := make([]provider.Message, 0, len(c)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}

	var thinking []string
	flushThinking := func() {
		if len(thinking) == 0 {
			return
		}
		out = append(out, provider.Message{Role: provider.RoleAssistant, Content: strings.Join(thinking, "\n\n")})
		thinking = nil
	}

	for _, msg := range c {
		switch msg.Role {
		case RoleThinking:
			thinking = append(thinking, msg.Content)
		case RoleAssistant:
			content := msg.Content
			if len(thinking) > 0 {
				content = strings.TrimSpace(strings.Join(append(thinking, content), "\n\n"))
				thinking = nil
			}
			out = append(out, provider.Message{
				Role:      provider.RoleAssistant,
				Content:   content,
				ToolCalls: msg.ToolCalls,
			})
		case RoleTool:
			flushThinking()
			out = append(out, provider.Message{
				Role:       provider.RoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})
		case RoleSystem, RoleError:
			flushThinking()
			out = append(out, provider.Message{
				Role:    provider.RoleUser,
				Content: "[" + msg.Role + "] " + msg.Content,
			})
		default:
			flushThinking()
			out = append(out, provider.Message{Role: provider.RoleUser, Content: msg.Content})
		}
	}
	flushThinking()
	return out
}
