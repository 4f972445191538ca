package pubsub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Authorizer verifies a channel auth token for a subscribing connection and
// returns the identity it carries. Implementations return *AuthError for
// failures that should be echoed to the client.
type Authorizer interface {
	Authorize(token, socketID, channel string) (Identity, error)
}

// Hub owns all realtime state for one process: the connection registry, the
// channel map, the beam directory and the traffic counters. It is
// constructed explicitly and injected into the gateway and the control
// plane so tests can run isolated instances.
//
// Locking: the hub mutex guards only the registry and channel maps; each
// channel and the beam directory carry their own locks. No lock is ever
// held across a Sender call.
type Hub struct {
	log     zerolog.Logger
	auth    Authorizer
	metrics Metrics

	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]*Channel
	beams    *BeamDirectory
}

// NewHub creates an empty hub using auth for private/presence subscriptions.
func NewHub(auth Authorizer, log zerolog.Logger) *Hub {
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		auth:     auth,
		conns:    make(map[string]*Conn),
		channels: make(map[string]*Channel),
		beams:    newBeamDirectory(),
	}
}

// Metrics exposes the hub's traffic counters to the gateway.
func (h *Hub) Metrics() *Metrics {
	return &h.metrics
}

// Register adds a connection to the registry with an empty channel set.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	total := len(h.conns)
	h.mu.Unlock()

	h.log.Debug().Str("socket_id", c.ID()).Int("connections", total).Msg("connection registered")
}

// Identify attaches an authenticated identity to a connection. A second
// identification overwrites the first.
func (h *Hub) Identify(c *Conn, ident Identity) {
	c.setIdentity(ident)
}

// Deregister removes a connection and cascades the removal into every
// channel and beam registry it belonged to. Idempotent: the cascade runs at
// most once even when the fan-out failure path races the read-pump exit.
func (h *Hub) Deregister(c *Conn) {
	h.mu.Lock()
	_, registered := h.conns[c.ID()]
	delete(h.conns, c.ID())
	total := len(h.conns)
	h.mu.Unlock()

	for _, name := range c.takeChannels() {
		if ch := h.channel(name, false); ch != nil {
			h.removeFromChannel(c, ch)
		}
	}
	h.beams.removeConn(c)

	if registered {
		h.log.Debug().Str("socket_id", c.ID()).Int("connections", total).Msg("connection deregistered")
	}
}

// Subscribe adds the connection to the named channel, verifying the auth
// token for private and presence channels. On success it returns the data
// blob for the subscription_succeeded frame; presence channels broadcast
// member_added to the other subscribers when a new distinct user joins.
func (h *Hub) Subscribe(c *Conn, channel, token string) (json.RawMessage, error) {
	kind := KindOf(channel)

	var ident Identity
	if kind != KindPublic {
		authorized, err := h.auth.Authorize(token, c.ID(), channel)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return nil, authErr
			}
			return nil, &AuthError{Reason: "auth token rejected"}
		}
		if kind == KindPresence && authorized.UserID == "" {
			return nil, &AuthError{Reason: "presence channels require a user_id"}
		}
		ident = authorized
		if ident.UserID != "" {
			c.setIdentity(ident)
		}
	}

	ch := h.channel(channel, true)
	data, joined, newMember := ch.add(c, ident)
	if joined && !c.addChannel(channel) {
		// The deregistration cascade ran between the channel insert and the
		// membership record and will not see this channel. Undo the insert
		// without a member_removed broadcast: the join was never announced.
		ch.remove(c)
		return nil, ErrConnClosed
	}
	if newMember {
		h.deliver(ch.snapshot(c), newMemberFrame(EventMemberAdded, channel, Identity{
			UserID:   ident.UserID,
			UserInfo: normalizeInfo(ident.UserInfo),
		}))
	}
	return data, nil
}

// Unsubscribe removes the connection from the named channel. Unsubscribing
// from a channel never joined is a no-op.
func (h *Hub) Unsubscribe(c *Conn, channel string) {
	ch := h.channel(channel, false)
	if ch == nil {
		return
	}
	h.removeFromChannel(c, ch)
	c.removeChannel(channel)
}

// Publish fans a server-originated event out to every current subscriber of
// the channel except exclude, creating the channel if it does not exist
// yet. It returns the number of deliveries.
func (h *Hub) Publish(channel, event string, data json.RawMessage, exclude *Conn) int {
	ch := h.channel(channel, true)
	return h.deliver(ch.snapshot(exclude), newEnvelope(channel, event, data))
}

// ClientPublish fans a client-originated event out to the channel's other
// subscribers. It fails with ErrPermissionDenied unless the channel is
// private or presence and the connection holds an active subscription.
func (h *Hub) ClientPublish(c *Conn, channel, event string, data json.RawMessage) error {
	ch := h.channel(channel, false)
	if ch == nil || ch.Kind() == KindPublic || !ch.subscribed(c) {
		return ErrPermissionDenied
	}
	h.deliver(ch.snapshot(c), newEnvelope(channel, event, data))
	return nil
}

// RegisterInterest subscribes the connection to beam notifications for a tag.
func (h *Hub) RegisterInterest(tag string, c *Conn) {
	h.beams.RegisterInterest(tag, c)
}

// RegisterUser binds the connection to a user id for beam targeting.
func (h *Hub) RegisterUser(userID string, c *Conn) {
	h.beams.RegisterUser(userID, c)
}

// PublishBeam delivers a beam notification once to every connection matching
// any of the interest tags or user ids, de-duplicated across both registries.
// Returns the number of deliveries.
func (h *Hub) PublishBeam(tags, userIDs []string, notification json.RawMessage) int {
	return h.deliver(h.beams.connsFor(tags, userIDs), newBeamFrame(notification))
}

// PublishToInterests delivers a beam notification once to every connection
// registered for any of the tags. Returns the number of deliveries.
func (h *Hub) PublishToInterests(tags []string, notification json.RawMessage) int {
	return h.PublishBeam(tags, nil, notification)
}

// PublishToUsers delivers a beam notification once to every connection of
// the given users. Returns the number of deliveries.
func (h *Hub) PublishToUsers(userIDs []string, notification json.RawMessage) int {
	return h.PublishBeam(nil, userIDs, notification)
}

// Stats snapshots the metrics served by the control plane.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	conns := len(h.conns)
	active := 0
	for _, ch := range h.channels {
		if !ch.empty() {
			active++
		}
	}
	h.mu.RUnlock()

	return Stats{
		MessagesSent:     h.metrics.sent.Load(),
		MessagesReceived: h.metrics.received.Load(),
		Connections:      conns,
		ChannelsActive:   active,
	}
}

// Close tears down every live connection. Used during graceful shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Deregister(c)
		_ = c.Close()
	}
	h.log.Info().Int("connections", len(conns)).Msg("hub closed")
}

// --- internal ---------------------------------------------------------------

// channel returns the named channel, creating it when create is set.
func (h *Hub) channel(name string, create bool) *Channel {
	h.mu.RLock()
	ch := h.channels[name]
	h.mu.RUnlock()
	if ch != nil || !create {
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch = h.channels[name]; ch == nil {
		ch = newChannel(name)
		h.channels[name] = ch
	}
	return ch
}

// removeFromChannel drops the connection from one channel and broadcasts
// member_removed when its user's last presence subscription went away.
func (h *Hub) removeFromChannel(c *Conn, ch *Channel) {
	left, memberGone, ident := ch.remove(c)
	if !left {
		return
	}
	if memberGone {
		h.deliver(ch.snapshot(c), newMemberFrame(EventMemberRemoved, ch.Name(), ident))
	}
}

// deliver sends one payload to each connection in the snapshot. A failing
// send deregisters that connection and closes its transport; it never
// blocks or aborts delivery to the rest.
func (h *Hub) deliver(conns []*Conn, payload []byte) int {
	var failed []*Conn
	delivered := 0
	for _, c := range conns {
		if err := c.Send(payload); err != nil {
			failed = append(failed, c)
			continue
		}
		delivered++
		h.metrics.MessageSent()
	}

	for _, c := range failed {
		h.log.Debug().Str("socket_id", c.ID()).Msg("dropping connection after failed send")
		h.Deregister(c)
		_ = c.Close()
	}
	return delivered
}
