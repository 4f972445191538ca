// Package pubsub holds the process-scoped realtime state: the connection
// registry, named channels with public/private/presence visibility, the beam
// directory for targeted push, and the delivery counters. All state is owned
// by a Hub instance injected into the gateway and the control plane; the
// package performs no network I/O of its own beyond calling each
// connection's Sender.
package pubsub

import (
	"encoding/json"
	"sync"
)

// Sender delivers one encoded frame to a connected client. Implementations
// must not block: a connection that cannot accept the frame returns an error
// and is torn down through the disconnect path. Close releases the
// underlying transport and is safe to call more than once.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Identity is the authenticated user attached to a connection for presence
// channels and beam user targeting. UserInfo is an opaque blob the core
// never interprets.
type Identity struct {
	UserID   string
	UserInfo json.RawMessage
}

// Conn represents one live client connection. It is created and owned by the
// gateway; channels and the beam directory only hold references to it.
type Conn struct {
	id     string
	sender Sender

	mu       sync.Mutex
	identity Identity
	channels map[string]struct{}
	closed   bool
}

// NewConn wraps a transport sender in a registry connection with the given
// socket id and an empty channel set.
func NewConn(id string, sender Sender) *Conn {
	return &Conn{
		id:       id,
		sender:   sender,
		channels: make(map[string]struct{}),
	}
}

// ID returns the connection's socket id.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the identity attached by the last successful
// authorization, or the zero value for anonymous connections.
func (c *Conn) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Send forwards an encoded frame to the transport.
func (c *Conn) Send(payload []byte) error {
	return c.sender.Send(payload)
}

// Close tears down the underlying transport.
func (c *Conn) Close() error {
	return c.sender.Close()
}

func (c *Conn) setIdentity(id Identity) {
	c.mu.Lock()
	c.identity = id
	c.mu.Unlock()
}

// addChannel records a subscription on the connection. It reports false once
// the connection has been deregistered; the caller must then undo its side of
// the join, because the cascade has already run and will not come back for it.
func (c *Conn) addChannel(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channels[name] = struct{}{}
	return true
}

func (c *Conn) removeChannel(name string) {
	c.mu.Lock()
	delete(c.channels, name)
	c.mu.Unlock()
}

// takeChannels atomically empties and returns the connection's channel set,
// marking the connection closed. Exactly one caller observes the full set,
// which makes the deregistration cascade run once even when the fan-out
// failure path and the read-pump exit race each other; the closed mark stops
// a concurrent subscribe from re-inserting the connection after the cascade
// has passed it by.
func (c *Conn) takeChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	c.channels = make(map[string]struct{})
	c.closed = true
	return names
}
