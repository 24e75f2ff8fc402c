package handlers

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/common"
)

func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.Store.GetAllMessages(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) ViewMessages(c *gin.Context) {
	entries, err := h.List.View(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"entries": entries, "generating": h.Gen.State().String()})
}

type addMessageReq struct {
	ID      string      `json:"id"`
	Role    chat.Role   `json:"role" binding:"required"`
	Content string      `json:"content"`
	Files   []chat.File `json:"files"`
}

func (h *Handler) AddMessage(c *gin.Context) {
	var req addMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if msg, ok := h.checkFiles(req.Files); !ok {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41300, msg)
		return
	}

	m, err := h.Store.AddMessage(c.Request.Context(), chat.Message{
		ID:      req.ID,
		Role:    req.Role,
		Content: req.Content,
		Files:   req.Files,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"message": m})
}

type editMessageReq struct {
	Role     *chat.Role         `json:"role"`
	Content  *string            `json:"content"`
	Files    *[]chat.File       `json:"files"`
	Logprobs *[]ai.TokenLogprob `json:"logprobs"`
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req editMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Files != nil {
		if msg, ok := h.checkFiles(*req.Files); !ok {
			common.Fail(c, http.StatusRequestEntityTooLarge, 41300, msg)
			return
		}
	}

	id := c.Param("id")
	err := h.Store.EditMessage(c.Request.Context(), id, chat.Update{
		Role:     req.Role,
		Content:  req.Content,
		Files:    req.Files,
		Logprobs: req.Logprobs,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	m, found := h.Store.Get(id)
	common.OK(c, gin.H{"message": m, "found": found})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.Store.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, nil)
}

type reorderReq struct {
	ActiveID string `json:"active_id" binding:"required"`
	OverID   string `json:"over_id" binding:"required"`
}

func (h *Handler) ReorderMessages(c *gin.Context) {
	var req reorderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.List.Reorder(c.Request.Context(), req.ActiveID, req.OverID); err != nil {
		failErr(c, err)
		return
	}
	msgs, _ := h.Store.GetAllMessages(c.Request.Context())
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) TruncateMessages(c *gin.Context) {
	if err := h.Store.DeleteMessagesFrom(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	msgs, _ := h.Store.GetAllMessages(c.Request.Context())
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) ClearMessages(c *gin.Context) {
	if err := h.Store.Clear(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, nil)
}

func (h *Handler) checkFiles(files []chat.File) (string, bool) {
	for _, f := range files {
		if f.Size < 0 || uint64(f.Size) > h.maxAttachment {
			return fmt.Sprintf("file %q is %s, limit is %s", f.Name, humanize.Bytes(uint64(max(f.Size, 0))), humanize.Bytes(h.maxAttachment)), false
		}
	}
	return "", true
}
