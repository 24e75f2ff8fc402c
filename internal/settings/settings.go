package settings

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/suPer8Hu/llm-playground/internal/ai"
)

// Settings is the flat sampling configuration handed to the generation controller.
type Settings struct {
	Provider         string  `json:"provider" validate:"required"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature" validate:"gte=0,lte=2"`
	TopP             float64 `json:"top_p" validate:"gte=0,lte=1"`
	FrequencyPenalty float64 `json:"frequency_penalty" validate:"gte=-2,lte=2"`
	PresencePenalty  float64 `json:"presence_penalty" validate:"gte=-2,lte=2"`
	MaxTokens        int     `json:"max_tokens" validate:"gte=1,lte=128000"`
	Logprobs         bool    `json:"logprobs"`
	TopLogprobs      int     `json:"top_logprobs" validate:"gte=0,lte=20"`
	APIKey           string  `json:"api_key,omitempty"`
}

// Repository loads and saves the single settings record.
type Repository interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

func Defaults() Settings {
	return Settings{
		Provider:    "openrouter",
		Model:       "openrouter/auto",
		Temperature: 0.7,
		TopP:        1,
		MaxTokens:   2048,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func (s Settings) Validate() error {
	validateOnce.Do(func() { validate = validator.New() })
	return validate.Struct(s)
}

// Params converts the settings into provider sampling parameters.
func (s Settings) Params() ai.Params {
	p := ai.Params{
		Model:            strings.TrimSpace(s.Model),
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		MaxTokens:        s.MaxTokens,
		Logprobs:         s.Logprobs,
	}
	if s.Logprobs {
		p.TopLogprobs = s.TopLogprobs
	}
	return p
}

// Masked returns a copy safe to show: the API key is reduced to its last four characters.
func (s Settings) Masked() Settings {
	if s.APIKey == "" {
		return s
	}
	key := s.APIKey
	if len(key) > 4 {
		key = key[len(key)-4:]
	} else {
		key = ""
	}
	s.APIKey = "****" + key
	return s
}
