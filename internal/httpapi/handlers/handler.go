package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/common"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"github.com/suPer8Hu/llm-playground/internal/generation"
	"github.com/suPer8Hu/llm-playground/internal/messagelist"
	"github.com/suPer8Hu/llm-playground/internal/settings"
)

const defaultMaxAttachment = 20 << 20

type Handler struct {
	Store    *chat.Store
	Gen      *generation.Controller
	List     *messagelist.List
	Settings settings.Repository
	Broker   *events.Broker

	maxAttachment uint64
}

// NewHandler wires the playground core into HTTP handlers. maxAttachment is a
// human readable size such as "20 MB"; invalid values fall back to 20 MiB.
func NewHandler(store *chat.Store, gen *generation.Controller, repo settings.Repository, broker *events.Broker, maxAttachment string) *Handler {
	limit, err := humanize.ParseBytes(maxAttachment)
	if err != nil || limit == 0 {
		if maxAttachment != "" {
			log.Printf("[http] invalid attachment limit %q, using %s", maxAttachment, humanize.IBytes(defaultMaxAttachment))
		}
		limit = defaultMaxAttachment
	}
	return &Handler{
		Store:         store,
		Gen:           gen,
		List:          messagelist.New(store, gen),
		Settings:      repo,
		Broker:        broker,
		maxAttachment: limit,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// failErr maps core errors to the response envelope.
func failErr(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, chat.ErrInvalidRole), errors.Is(err, chat.ErrEmptyContent):
		common.Fail(c, http.StatusBadRequest, 10010, err.Error())
	case errors.As(err, &verrs):
		common.Fail(c, http.StatusBadRequest, 10011, verrs.Error())
	case errors.Is(err, generation.ErrEmptyHistory), errors.Is(err, generation.ErrMissingAPIKey), errors.Is(err, ai.ErrUnknownProvider):
		common.Fail(c, http.StatusBadRequest, 10012, err.Error())
	case errors.Is(err, chat.ErrDuplicateID):
		common.Fail(c, http.StatusConflict, 40900, err.Error())
	case errors.Is(err, chat.ErrReorderInProgress):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, messagelist.ErrLockedWhileGenerating), errors.Is(err, messagelist.ErrGeneratingMessage):
		common.Fail(c, http.StatusConflict, 40902, err.Error())
	case errors.Is(err, generation.ErrBusy):
		common.Fail(c, http.StatusConflict, 40903, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40400, "message not found")
	default:
		log.Printf("[http] request failed path=%s err=%v", c.FullPath(), err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
