package pubsub

import (
	"encoding/json"
	"time"
)

// Server-originated event names for presence transitions.
const (
	EventMemberAdded   = "pusher_internal:member_added"
	EventMemberRemoved = "pusher_internal:member_removed"
)

// Envelope is the channel event frame fanned out to subscribers. Data is an
// opaque blob the core routes without interpreting.
type Envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func newEnvelope(channel, event string, data json.RawMessage) []byte {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	payload, _ := json.Marshal(Envelope{
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: timestamp(),
	})
	return payload
}

// memberFrame announces a presence transition to the channel's other
// subscribers. It carries no timestamp, matching the internal event shape.
type memberFrame struct {
	Event   string        `json:"event"`
	Channel string        `json:"channel"`
	Data    memberPayload `json:"data"`
}

type memberPayload struct {
	UserID   string          `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info,omitempty"`
}

func newMemberFrame(event, channel string, ident Identity) []byte {
	payload, _ := json.Marshal(memberFrame{
		Event:   event,
		Channel: channel,
		Data: memberPayload{
			UserID:   ident.UserID,
			UserInfo: ident.UserInfo,
		},
	})
	return payload
}

// beamFrame is the out-of-band notification envelope, delivered independent
// of any channel subscription.
type beamFrame struct {
	Type         string          `json:"type"`
	Notification json.RawMessage `json:"notification"`
	Timestamp    string          `json:"timestamp"`
}

func newBeamFrame(notification json.RawMessage) []byte {
	payload, _ := json.Marshal(beamFrame{
		Type:         "beam",
		Notification: notification,
		Timestamp:    timestamp(),
	})
	return payload
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
