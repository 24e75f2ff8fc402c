package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/generation"
)

type generateReq struct {
	// RegenerateFrom drops this message and everything after it first.
	RegenerateFrom string `json:"regenerate_from"`
}

type generateResult struct {
	msg     *chat.Message
	stopped bool
	err     error
}

// Generate streams an assistant reply over SSE and commits it to the store
// when it has content, including after a stop or a client disconnect.
func (h *Handler) Generate(c *gin.Context) {
	var req generateReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
	}
	if h.Gen.State() == generation.Running {
		failErr(c, generation.ErrBusy)
		return
	}

	ctx := c.Request.Context()
	s, err := h.Settings.Load(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	if id := strings.TrimSpace(req.RegenerateFrom); id != "" {
		if err := h.Store.DeleteMessagesFrom(ctx, id); err != nil {
			failErr(c, err)
			return
		}
	}
	history, err := h.Store.GetAllMessages(ctx)
	if err != nil {
		failErr(c, err)
		return
	}
	if len(history) == 0 {
		failErr(c, generation.ErrEmptyHistory)
		return
	}

	// each partial carries the full content so dropping one loses nothing
	partials := make(chan generation.Partial, 32)
	unsubscribe := h.Gen.Subscribe(func(p generation.Partial) {
		select {
		case partials <- p:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan generateResult, 1)
	go func() {
		res, err := h.Gen.Generate(ctx, history, s)
		if err != nil {
			done <- generateResult{err: err}
			return
		}
		out := generateResult{stopped: res.Stopped}
		if res.Content != "" {
			msg, err := h.Store.AddMessage(context.WithoutCancel(ctx), res.Message())
			if err != nil {
				log.Printf("[http] commit generated message failed id=%s err=%v", res.ID, err)
				done <- generateResult{err: err}
				return
			}
			out.msg = &msg
		}
		done <- out
	}()

	sse, ok := startSSE(c)
	if !ok {
		h.Gen.Stop()
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var sent string
	for {
		select {
		case p := <-partials:
			delta := strings.TrimPrefix(p.Content, sent)
			sent = p.Content
			sse.writeJSON("chunk", gin.H{
				"type":    "chunk",
				"id":      p.ID,
				"delta":   delta,
				"content": p.Content,
			})

		case <-ticker.C:
			sse.writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case r := <-done:
			if r.err != nil {
				sse.writeJSON("error", gin.H{
					"type":    "error",
					"message": r.err.Error(),
				})
				return
			}
			sse.writeJSON("done", gin.H{
				"type":    "done",
				"message": r.msg,
				"stopped": r.stopped,
			})
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) StopGeneration(c *gin.Context) {
	h.Gen.Stop()
	common.OK(c, gin.H{"state": h.Gen.State().String(), "outcome": h.Gen.LastOutcome().String()})
}
