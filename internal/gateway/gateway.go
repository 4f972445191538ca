// Package gateway is the WebSocket-facing edge of the server. It upgrades
// connections, decodes the wire protocol into typed commands, and dispatches
// them to the hub. Protocol-level failures reply with an error frame and
// keep the connection open; only transport failure or an explicit close ends
// a connection.
package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/pubsub"
)

// Config carries the gateway's tuning knobs, taken from the server config.
type Config struct {
	MaxMessageSize  int64
	ActivityTimeout time.Duration
	RateBurst       int
	RateRefill      time.Duration
	AllowedOrigins  []string
}

// Gateway accepts WebSocket connections and runs one read pump per
// connection against the shared hub.
type Gateway struct {
	hub      *pubsub.Hub
	cfg      Config
	log      zerolog.Logger
	origins  *originChecker
	upgrader websocket.Upgrader
}

// New creates a Gateway serving the given hub.
func New(hub *pubsub.Hub, cfg Config, log zerolog.Logger) *Gateway {
	g := &Gateway{
		hub: hub,
		cfg: cfg,
		log: log.With().Str("component", "gateway").Logger(),
	}
	g.origins = newOriginChecker(cfg.AllowedOrigins, g.log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.check,
	}
	return g
}

// ServeWS upgrades the request and serves the connection until it closes.
// On connect the client receives connection_established with its socket id
// and the advertised activity timeout.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "websocket endpoint only accepts GET", http.StatusMethodNotAllowed)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	socketID := uuid.NewString()
	c := &client{
		g:       g,
		ws:      ws,
		send:    make(chan []byte, sendBufSize),
		done:    make(chan struct{}),
		limiter: newRateLimiter(g.cfg.RateBurst, g.cfg.RateRefill),
		log:     g.log.With().Str("socket_id", socketID).Logger(),
	}
	c.conn = pubsub.NewConn(socketID, c)

	g.hub.Register(c.conn)
	go c.writePump()
	c.reply(establishedFrame(socketID, int(g.cfg.ActivityTimeout/time.Second)))

	c.readPump() // blocks until the connection closes
}

func (g *Gateway) pingPeriod() time.Duration {
	return g.cfg.ActivityTimeout * 9 / 10
}
