package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Wire event names. Inbound application events carry the "client-" prefix
// and keep their full name.
const (
	eventEstablished      = "pusher:connection_established"
	eventSubscribe        = "pusher:subscribe"
	eventUnsubscribe      = "pusher:unsubscribe"
	eventPing             = "pusher:ping"
	eventPong             = "pusher:pong"
	eventError            = "pusher:error"
	eventSubSucceeded     = "pusher_internal:subscription_succeeded"
	eventSubError         = "pusher:subscription_error"
	eventRegisterInterest = "beam:register_interest"
	eventRegisterUser     = "beam:register_user"

	clientEventPrefix = "client-"
)

var errMalformedFrame = errors.New("malformed frame")

// frame is the raw inbound envelope. It is decoded once at the gateway
// boundary into a typed command; nothing downstream touches raw JSON.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// command is the tagged variant over the known inbound kinds. Frames with a
// well-formed envelope but an unrecognized event decode to unknownCmd so the
// caller can reply with an error while keeping the connection open.
type command interface{ isCommand() }

type subscribeCmd struct {
	Channel string
	Auth    string
}

type unsubscribeCmd struct {
	Channel string
}

type clientEventCmd struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

type pingCmd struct{}

type registerInterestCmd struct {
	Interest string
}

type registerUserCmd struct {
	UserID string
}

type unknownCmd struct {
	Event string
}

func (subscribeCmd) isCommand()        {}
func (unsubscribeCmd) isCommand()      {}
func (clientEventCmd) isCommand()      {}
func (pingCmd) isCommand()             {}
func (registerInterestCmd) isCommand() {}
func (registerUserCmd) isCommand()     {}
func (unknownCmd) isCommand()          {}

// decodeCommand parses one inbound frame into its typed command.
func decodeCommand(raw []byte) (command, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errMalformedFrame
	}
	if f.Event == "" {
		return nil, errMalformedFrame
	}

	switch f.Event {
	case eventSubscribe:
		var data struct {
			Channel string `json:"channel"`
			Auth    string `json:"auth"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil || data.Channel == "" {
			return nil, errMalformedFrame
		}
		return subscribeCmd{Channel: data.Channel, Auth: data.Auth}, nil

	case eventUnsubscribe:
		var data struct {
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil || data.Channel == "" {
			return nil, errMalformedFrame
		}
		return unsubscribeCmd{Channel: data.Channel}, nil

	case eventPing:
		return pingCmd{}, nil

	case eventRegisterInterest:
		var data struct {
			Interest string `json:"interest"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil || data.Interest == "" {
			return nil, errMalformedFrame
		}
		return registerInterestCmd{Interest: data.Interest}, nil

	case eventRegisterUser:
		var data struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil || data.UserID == "" {
			return nil, errMalformedFrame
		}
		return registerUserCmd{UserID: data.UserID}, nil
	}

	if strings.HasPrefix(f.Event, clientEventPrefix) {
		if f.Channel == "" {
			return nil, errMalformedFrame
		}
		return clientEventCmd{Channel: f.Channel, Event: f.Event, Data: f.Data}, nil
	}

	return unknownCmd{Event: f.Event}, nil
}

// --- outbound frames --------------------------------------------------------

type outboundFrame struct {
	Event   string      `json:"event"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func establishedFrame(socketID string, activityTimeout int) []byte {
	return marshalFrame(outboundFrame{
		Event: eventEstablished,
		Data: map[string]interface{}{
			"socket_id":        socketID,
			"activity_timeout": activityTimeout,
		},
	})
}

func succeededFrame(channel string, data json.RawMessage) []byte {
	return marshalFrame(outboundFrame{
		Event:   eventSubSucceeded,
		Channel: channel,
		Data:    data,
	})
}

func subscriptionErrorFrame(channel, message string) []byte {
	return marshalFrame(outboundFrame{
		Event:   eventSubError,
		Channel: channel,
		Data:    map[string]string{"message": message},
	})
}

func errorFrame(message string) []byte {
	return marshalFrame(outboundFrame{
		Event: eventError,
		Data:  map[string]string{"message": message},
	})
}

func pongFrame() []byte {
	return marshalFrame(outboundFrame{Event: eventPong})
}

func marshalFrame(f outboundFrame) []byte {
	payload, err := json.Marshal(f)
	if err != nil {
		// Frames are built from plain maps and pre-encoded JSON; marshal
		// cannot fail at runtime.
		panic(fmt.Sprintf("marshal outbound frame: %v", err))
	}
	return payload
}
