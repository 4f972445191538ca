package pubsub

import "sync/atomic"

// Metrics counts message traffic through the hub. Sent counts every
// successful delivery to a subscriber or beam target; received counts every
// well-formed inbound frame handled by the gateway.
type Metrics struct {
	sent     atomic.Int64
	received atomic.Int64
}

// MessageSent records one successful delivery.
func (m *Metrics) MessageSent() { m.sent.Add(1) }

// MessageReceived records one handled inbound frame.
func (m *Metrics) MessageReceived() { m.received.Add(1) }

// Stats is the snapshot served by the control plane's metrics endpoint.
type Stats struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	Connections      int   `json:"connections"`
	ChannelsActive   int   `json:"channels_active"`
}
