package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"github.com/suPer8Hu/llm-playground/internal/httpapi/middleware"
)

// Events streams store snapshots, partials and notices as SSE. The first
// event is always the current message snapshot.
func (h *Handler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	msgs, err := h.Store.GetAllMessages(ctx)
	if err != nil {
		failErr(c, err)
		return
	}

	client := events.NewClient(c.GetString(middleware.RequestIDKey))
	if !h.Broker.Register(client) {
		common.Fail(c, http.StatusServiceUnavailable, 50300, "shutting down")
		return
	}
	defer h.Broker.Unregister(client)

	sse, ok := startSSE(c)
	if !ok {
		return
	}
	sse.writeJSON("", events.Event{Type: events.TypeMessages, Data: msgs})
	if p, running := h.Gen.Current(); running {
		sse.writeJSON("", events.Event{Type: events.TypePartial, Data: p})
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-client.Send:
			if !ok {
				// dropped as a slow client or the broker shut down
				return
			}
			sse.writeRaw("", b)

		case <-ticker.C:
			sse.writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}
