package agent

import "time"

// EventKind names a progress event.
type EventKind string

const (
	EventToken        EventKind = "token"
	EventThinking     EventKind = "thinking"
	EventCommandStart EventKind = "command_start"
	EventCommandEnd   EventKind = "command_end"
	EventTerminalLine EventKind = "terminal_line"
	EventNotice       EventKind = "notice"
	EventError        EventKind = "error"
	EventCapReached   EventKind = "cap_reached"
	EventFinished     EventKind = "finished"
	EventTick         EventKind = "tick"
)

// Terminal reports whether the kind ends a run.
func (k EventKind) Terminal() bool {
	return k == EventFinished || k == EventError || k == EventCapReached
}

// Event is one progress report. Text carries the token, line or command
// rendering; Tool and CallID are set on command events.
type Event struct {
	Kind         EventKind `json:"kind"`
	Conversation string    `json:"conversation,omitempty"`
	Turn         int       `json:"turn,omitempty"`
	Text         string    `json:"text,omitempty"`
	Tool         string    `json:"tool,omitempty"`
	CallID       string    `json:"call_id,omitempty"`
	Err          error     `json:"-"`
	Time         time.Time `json:"time"`
}

// ErrorText returns the error text, if any.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
