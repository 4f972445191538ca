// Package server assembles the HTTP surface — the WebSocket endpoint and
// the control-plane API — and owns the HTTP server lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/controlplane"
	"github.com/Soulfra/pulsegrid/internal/gateway"
)

// NewRouter builds the gin engine with the WebSocket endpoint at /ws and the
// control-plane routes at the root.
func NewRouter(gw *gateway.Gateway, cp *controlplane.Handler, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(log.With().Str("component", "http").Logger()), gin.Recovery())

	r.GET("/ws", func(c *gin.Context) {
		gw.ServeWS(c.Writer, c.Request)
	})
	cp.Register(r)

	return r
}

// requestLogger logs each completed request. WebSocket requests are skipped:
// they complete only when the connection dies, and the gateway logs their
// lifecycle itself.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// NewHTTPServer wraps the handler in an http.Server with production
// timeouts. The read/write timeouts apply only up to the WebSocket upgrade;
// hijacked connections manage their own deadlines.
func NewHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Shutdown stops the HTTP server gracefully, waiting up to timeout for
// in-flight requests.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
