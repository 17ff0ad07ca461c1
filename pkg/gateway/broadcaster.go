package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster stamps events with a process-wide sequence number and
// fans them out to subscribed clients.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     uint64
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		clients: clients,
		logger:  logger,
	}
}

// Broadcast sends an event to all clients
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastTyped(EventMessage{Event: event, Data: data})
}

// BroadcastTyped fills in type, sequence and timestamp and sends msg.
func (b *EventBroadcaster) BroadcastTyped(msg EventMessage) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.nextSeq()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	b.broadcastMessage(msg)
}

// broadcastMessage writes msg to every subscribed client and drops clients
// whose write fails.
func (b *EventBroadcaster) broadcastMessage(msg EventMessage) {
	var payload []byte
	delivered, dropped := 0, 0

	for _, client := range b.clients.Subscribers(msg.Conversation) {
		if payload == nil {
			data, err := json.Marshal(msg)
			if err != nil {
				b.logger.Error().Err(err).Str("event", msg.Event).Int64("seq", msg.Seq).Msg("Failed to marshal event")
				return
			}
			payload = data
		}

		if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Dropping client after failed write")
			if b.clients.Remove(client.ID) {
				_ = client.Conn.Close()
			}
			dropped++
			continue
		}
		delivered++
	}

	if delivered+dropped > 0 {
		b.logger.Debug().
			Str("event", msg.Event).
			Str("conversation", msg.Conversation).
			Int64("seq", msg.Seq).
			Int("delivered", delivered).
			Int("dropped", dropped).
			Msg("Event broadcast")
	}
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
