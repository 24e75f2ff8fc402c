package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/settings"
)

func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.Settings.Load(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"settings": s.Masked()})
}

// PutSettings replaces the settings. A masked api key ("****1234") as
// returned by GetSettings keeps the stored key.
func (h *Handler) PutSettings(c *gin.Context) {
	var req settings.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	if strings.HasPrefix(req.APIKey, "****") {
		cur, err := h.Settings.Load(ctx)
		if err != nil {
			failErr(c, err)
			return
		}
		req.APIKey = cur.APIKey
	}
	if err := req.Validate(); err != nil {
		failErr(c, err)
		return
	}
	if err := h.Settings.Save(ctx, req); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"settings": req.Masked()})
}
