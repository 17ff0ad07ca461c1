package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventMessage is one server-initiated websocket frame.
type EventMessage struct {
	Type         string      `json:"type"`
	Event        string      `json:"event"`
	Seq          int64       `json:"seq"`
	Data         interface{} `json:"data"`
	Timestamp    int64       `json:"timestamp"`
	TraceID      string      `json:"trace_id,omitempty"`
	RunID        string      `json:"run_id,omitempty"`
	Conversation string      `json:"conversation,omitempty"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	IPAddress    string    `json:"ipAddress"`
	Conversation string    `json:"conversation,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string
	// Conversation limits delivery to one conversation's events. Empty
	// receives everything.
	Conversation string

	writeMu sync.Mutex
}

// Wants reports whether an event for conversation should reach the client.
// Events without a conversation (ticks, shutdown) go to everyone.
func (c *Client) Wants(conversation string) bool {
	return c.Conversation == "" || conversation == "" || c.Conversation == conversation
}

const writeWait = 5 * time.Second

// WriteMessage writes one frame. Writes to the same connection are
// serialized.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}
