package gateway

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/pubsub"
)

const (
	// sendBufSize is the per-connection outgoing frame buffer. A subscriber
	// that falls this far behind is disconnected rather than back-pressured.
	sendBufSize = 256

	writeTimeout = 10 * time.Second
)

var errSendBufferFull = errors.New("send buffer full")

// client is one WebSocket connection: the transport half of a pubsub.Conn.
// It implements pubsub.Sender, so hub fan-out lands in the send buffer and
// the write pump moves it onto the wire.
type client struct {
	g    *Gateway
	ws   *websocket.Conn
	conn *pubsub.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rateLimiter
	log       zerolog.Logger
}

// Send queues one frame for delivery. It never blocks: a full buffer or a
// closed connection returns an error, which the hub treats as a transport
// failure and tears the connection down.
func (c *client) Send(payload []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return net.ErrClosed
	default:
		return errSendBufferFull
	}
}

// Close releases the transport. Safe to call from any goroutine, any number
// of times.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
	return nil
}

// readPump reads frames until the connection dies, dispatching each decoded
// command. Exit cascades deregistration from every channel and beam
// registry.
func (c *client) readPump() {
	defer func() {
		c.g.hub.Deregister(c.conn)
		_ = c.Close()
	}()

	c.ws.SetReadLimit(c.g.cfg.MaxMessageSize)
	c.resetReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.resetReadDeadline()
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logDisconnect(err)
			return
		}
		c.resetReadDeadline()

		if !c.limiter.allow() {
			c.log.Debug().Msg("rate limit exceeded, dropping frame")
			continue
		}
		c.handleFrame(raw)
	}
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with periodic pings. Runs in its own goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.g.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleFrame decodes and dispatches one inbound frame. Malformed input and
// unknown events get an error reply; the connection stays open.
func (c *client) handleFrame(raw []byte) {
	cmd, err := decodeCommand(raw)
	if err != nil {
		c.reply(errorFrame("malformed frame"))
		return
	}

	switch cmd := cmd.(type) {
	case subscribeCmd:
		c.g.hub.Metrics().MessageReceived()
		data, err := c.g.hub.Subscribe(c.conn, cmd.Channel, cmd.Auth)
		if err != nil {
			var authErr *pubsub.AuthError
			if errors.As(err, &authErr) {
				c.reply(subscriptionErrorFrame(cmd.Channel, authErr.Reason))
			} else {
				c.reply(subscriptionErrorFrame(cmd.Channel, "subscription failed"))
			}
			return
		}
		c.reply(succeededFrame(cmd.Channel, data))

	case unsubscribeCmd:
		c.g.hub.Metrics().MessageReceived()
		c.g.hub.Unsubscribe(c.conn, cmd.Channel)

	case clientEventCmd:
		c.g.hub.Metrics().MessageReceived()
		if err := c.g.hub.ClientPublish(c.conn, cmd.Channel, cmd.Event, cmd.Data); err != nil {
			// Permission failures drop the message silently.
			c.log.Debug().Str("channel", cmd.Channel).Str("event", cmd.Event).
				Msg("client event rejected")
		}

	case pingCmd:
		c.g.hub.Metrics().MessageReceived()
		c.reply(pongFrame())

	case registerInterestCmd:
		c.g.hub.Metrics().MessageReceived()
		c.g.hub.RegisterInterest(cmd.Interest, c.conn)

	case registerUserCmd:
		c.g.hub.Metrics().MessageReceived()
		c.g.hub.RegisterUser(cmd.UserID, c.conn)

	case unknownCmd:
		c.reply(errorFrame(fmt.Sprintf("unknown event %q", cmd.Event)))
	}
}

// reply queues a gateway-originated frame. A failed reply means the
// connection is beyond saving, so it goes through the disconnect path.
func (c *client) reply(payload []byte) {
	if err := c.Send(payload); err != nil {
		c.g.hub.Deregister(c.conn)
		_ = c.Close()
	}
}

func (c *client) resetReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.g.cfg.ActivityTimeout))
}

func (c *client) logDisconnect(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Warn().Err(err).Msg("connection closed unexpectedly")
		return
	}
	c.log.Debug().Msg("connection closed")
}
