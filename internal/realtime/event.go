package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// EventNewComment is pushed to a post's room when a comment is persisted.
	EventNewComment = "newComment"
	// EventJoinPost subscribes the sending connection to a post's room.
	EventJoinPost = "joinPost"
	// EventLeavePost unsubscribes the sending connection from a post's room.
	EventLeavePost = "leavePost"
	// EventHeartbeat keeps idle streams open through proxies.
	EventHeartbeat = "heartbeat"
	// EventError reports a rejected client message.
	EventError = "error"
)

var errMissingEventName = errors.New("realtime: event name required")

// Event is the wire envelope for both directions: {"event": name, "data": payload}.
// Data is encoded once and shared by every recipient.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes payload into an Event.
func NewEvent(name string, payload any) (Event, error) {
	if strings.TrimSpace(name) == "" {
		return Event{}, errMissingEventName
	}
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// DecodeEvent parses a client frame.
func DecodeEvent(frame []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(frame, &event); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(event.Name) == "" {
		return Event{}, errMissingEventName
	}
	return event, nil
}

// PostID extracts the post id carried by joinPost/leavePost. Both a bare JSON string and a
// number are accepted since clients often keep numeric ids.
func (e Event) PostID() string {
	if len(e.Data) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(e.Data, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(e.Data, &number); err == nil {
		return number.String()
	}
	return ""
}
