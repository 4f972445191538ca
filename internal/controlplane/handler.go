// Package controlplane is the HTTP surface backend services use to
// originate channel events and beam notifications without holding a
// WebSocket connection. It performs no authorization against channel
// visibility: the control plane is an implicitly-trusted internal interface
// and must only be reachable from the backend network.
package controlplane

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Soulfra/pulsegrid/internal/pubsub"
)

// channelNamePattern matches the characters allowed in a channel name,
// including the "private-"/"presence-" prefixes.
var channelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-=@,.;]+$`)

const maxChannelNameLen = 200

// Handler serves the control-plane endpoints against an injected hub.
type Handler struct {
	hub      *pubsub.Hub
	log      zerolog.Logger
	validate *validator.Validate
}

// New creates a Handler and registers the channelname validation rule on the
// shared binding engine.
func New(hub *pubsub.Hub, log zerolog.Logger) *Handler {
	h := &Handler{
		hub: hub,
		log: log.With().Str("component", "controlplane").Logger(),
	}
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("channelname", validChannelName)
		h.validate = v
	} else {
		h.validate = validator.New()
		_ = h.validate.RegisterValidation("channelname", validChannelName)
	}
	return h
}

func validChannelName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	return len(name) <= maxChannelNameLen && channelNamePattern.MatchString(name)
}

// Register mounts the control-plane routes.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/channels/:channel/events", h.publishEvent)
	r.POST("/beams/publish", h.publishBeam)
	r.GET("/metrics", h.metrics)
	r.GET("/healthz", h.health)
}

// publishEvent fans a server-originated event out to every current
// subscriber of the channel. No exclusion: control-plane events always reach
// every subscriber, including on private and presence channels.
func (h *Handler) publishEvent(c *gin.Context) {
	channel := c.Param("channel")
	if err := h.validate.Var(channel, "required,channelname"); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid channel name"})
		return
	}

	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	delivered := h.hub.Publish(channel, req.Event, req.Data, nil)
	h.log.Debug().Str("channel", channel).Str("event", req.Event).
		Int("delivered", delivered).Msg("control-plane publish")
	c.JSON(http.StatusOK, PublishResponse{OK: true, Delivered: delivered})
}

// publishBeam delivers a notification to every connection registered for the
// given interest tags and user ids. Best-effort, no acknowledgment.
func (h *Handler) publishBeam(c *gin.Context) {
	var req PublishBeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(req.Interests) == 0 && len(req.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "interests or user_ids required"})
		return
	}

	delivered := h.hub.PublishBeam(req.Interests, req.UserIDs, req.Notification)

	publishID := uuid.NewString()
	h.log.Debug().Str("publish_id", publishID).Int("delivered", delivered).
		Msg("beam publish")
	c.JSON(http.StatusOK, PublishResponse{OK: true, Delivered: delivered, PublishID: publishID})
}

func (h *Handler) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "pulsegrid",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
