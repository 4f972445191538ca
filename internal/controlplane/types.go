package controlplane

import "encoding/json"

// PublishEventRequest is the body of POST /channels/:channel/events. Data is
// routed verbatim to subscribers.
type PublishEventRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// PublishBeamRequest is the body of POST /beams/publish. At least one of
// Interests or UserIDs must be non-empty.
type PublishBeamRequest struct {
	Interests    []string        `json:"interests"`
	UserIDs      []string        `json:"user_ids"`
	Notification json.RawMessage `json:"notification" binding:"required"`
}

// PublishResponse reports a completed publish.
type PublishResponse struct {
	OK        bool   `json:"ok"`
	Delivered int    `json:"delivered"`
	PublishID string `json:"publish_id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
