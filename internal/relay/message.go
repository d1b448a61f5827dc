package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names on the wire.
const (
	EventMonitorID            = "monitor_id"
	EventMonitorConnection    = "monitor_connection"
	EventMonitorDisconnection = "monitor_disconnection"
	EventCommand              = "command"
)

// isPresence reports whether event describes the monitor set. Presence
// events are never dropped for lack of queue space.
func isPresence(event string) bool {
	switch event {
	case EventMonitorID, EventMonitorConnection, EventMonitorDisconnection:
		return true
	}
	return false
}

var errMissingEvent = errors.New("frame has no event name")

// Message is the JSON envelope exchanged with clients.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	msg := Message{Event: event}
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		msg.Data = p
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		msg.Data = data
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", event, err)
	}
	return frame, nil
}

func decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if msg.Event == "" {
		return Message{}, errMissingEvent
	}
	return msg, nil
}
