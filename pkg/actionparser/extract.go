// Package actionparser recovers a structured action from free-form model text
// when the model did not use native tool calling.
package actionparser

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptySource is returned when there is no text to extract from at all.
var ErrEmptySource = errors.New("empty source text")

// FileWrite is the payload of a write_file action.
type FileWrite struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Action is the single structured command the model asked for.
type Action struct {
	Thought   string
	Command   string
	WriteFile *FileWrite
	Tool      string
	Arguments map[string]any
	Raw       map[string]any
}

// ToolCall converts the action into a tool name and argument map.
func (a Action) ToolCall() (string, map[string]any) {
	switch {
	case a.Tool != "":
		args := a.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return a.Tool, args
	case a.WriteFile != nil:
		return "write_file", map[string]any{"path": a.WriteFile.Path, "content": a.WriteFile.Content}
	default:
		return "run_command", map[string]any{"command": a.Command}
	}
}

// Extractor recognizes actions by key. Registered tool names are accepted as
// top-level keys in addition to the built-in command, write_file, tool and
// name keys.
type Extractor struct {
	tools map[string]struct{}
}

// New creates an extractor that also recognizes the given tool names.
func New(toolNames ...string) *Extractor {
	e := &Extractor{tools: make(map[string]struct{}, len(toolNames))}
	for _, name := range toolNames {
		e.tools[name] = struct{}{}
	}
	return e
}

// Extract is shorthand for New().Extract(text).
func Extract(text string) (Action, bool, error) {
	return New().Extract(text)
}

// Extract scans every '{' from the right and returns the first balanced
// object that parses and carries a recognized action key. Brace matching does
// not understand string literals, so a quoted brace can break a candidate.
func (e *Extractor) Extract(text string) (Action, bool, error) {
	if strings.TrimSpace(text) == "" {
		return Action{}, false, ErrEmptySource
	}

	var starts []int
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			starts = append(starts, i)
		}
	}

	for i := len(starts) - 1; i >= 0; i-- {
		start := starts[i]
		end := matchBrace(text, start)
		if end < 0 {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
			continue
		}

		action, recognized := e.classify(obj)
		if !recognized {
			continue
		}
		if action.empty() {
			return Action{}, false, nil
		}
		return action, true, nil
	}

	return Action{}, false, nil
}

func matchBrace(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (e *Extractor) classify(obj map[string]any) (Action, bool) {
	action := Action{Raw: obj}
	action.Thought, _ = obj["thought"].(string)
	recognized := false

	if raw, ok := obj["write_file"]; ok {
		recognized = true
		if fw, ok := raw.(map[string]any); ok {
			path, _ := fw["path"].(string)
			content, _ := fw["content"].(string)
			if strings.TrimSpace(path) != "" {
				action.WriteFile = &FileWrite{Path: path, Content: content}
				return action, true
			}
		}
	}

	if raw, ok := obj["command"]; ok {
		recognized = true
		if cmd, ok := raw.(string); ok {
			cmd = strings.TrimSpace(cmd)
			if cmd != "" && cmd != "null" {
				action.Command = cmd
				return action, true
			}
		}
	}

	for _, key := range []string{"tool", "name"} {
		name, ok := obj[key].(string)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		// "name" is too common a key to trust unless it names a known tool.
		if _, known := e.tools[name]; key == "name" && len(e.tools) > 0 && !known {
			continue
		}
		action.Tool = name
		action.Arguments = argumentsOf(obj)
		return action, true
	}

	for name := range e.tools {
		if raw, ok := obj[name]; ok {
			if args, ok := raw.(map[string]any); ok {
				action.Tool = name
				action.Arguments = args
				return action, true
			}
		}
	}

	return action, recognized
}

func argumentsOf(obj map[string]any) map[string]any {
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		switch v := obj[key].(type) {
		case map[string]any:
			return v
		case string:
			// Some models double-encode arguments.
			var decoded map[string]any
			if err := json.Unmarshal([]byte(v), &decoded); err == nil {
				return decoded
			}
		}
	}
	return map[string]any{}
}

func (a Action) empty() bool {
	return a.Command == "" && a.WriteFile == nil && a.Tool == ""
}
