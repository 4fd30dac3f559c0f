package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/qc-validator-api/pkg/realtime"
	appErrors "github.com/noah-isme/qc-validator-api/pkg/errors"
	"github.com/noah-isme/qc-validator-api/pkg/response"
)

const defaultKeepAlive = 25 * time.Second

type eventSource interface {
	Subscribe(userID string) *realtime.Subscription
	Unsubscribe(sub *realtime.Subscription)
}

type streamGauge interface {
	StreamClientConnected(delta int)
}

// EventsHandler streams projected views to connected clients over SSE.
type EventsHandler struct {
	hub       eventSource
	gauge     streamGauge
	keepAlive time.Duration
}

// NewEventsHandler constructs EventsHandler. A non-positive keepAlive uses the default.
func NewEventsHandler(hub eventSource, gauge streamGauge, keepAlive time.Duration) *EventsHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &EventsHandler{hub: hub, gauge: gauge, keepAlive: keepAlive}
}

// Stream godoc
// @Summary Live event stream
// @Description Server-sent events carrying the caller's projection of each changed entity
// @Tags Events
// @Produce text/event-stream
// @Param access_token query string false "Access token for clients that cannot send headers"
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	actor := actorFromContext(c)
	if actor.Anonymous() {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sub := h.hub.Subscribe(actor.ID)
	defer h.hub.Unsubscribe(sub)
	if h.gauge != nil {
		h.gauge.StreamClientConnected(1)
		defer h.gauge.StreamClientConnected(-1)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Render(-1, sse.Event{Event: "ready", Data: gin.H{"user_id": actor.ID}})
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			c.Render(-1, sse.Event{Id: event.ID, Event: event.Type, Data: event.Data})
			c.Writer.Flush()
		case <-ticker.C:
			c.Render(-1, sse.Event{Event: "ping", Data: time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		}
	}
}
