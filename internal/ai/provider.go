package ai

import (
	"context"
	"strings"
)

// Attachment is a file referenced by a user turn.
type Attachment struct {
	URL  string
	Kind string // image | file
	Name string
}

type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// Params are the sampling knobs forwarded to the provider.
type Params struct {
	Model            string
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	MaxTokens        int
	Logprobs         bool
	TopLogprobs      int
}

type Request struct {
	Messages []Message
	Params   Params
	// APIKey overrides the provider's configured key when set.
	APIKey string
}

type TopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

type TokenLogprob struct {
	Token       string       `json:"token"`
	Logprob     float64      `json:"logprob"`
	TopLogprobs []TopLogprob `json:"top_logprobs,omitempty"`
}

type DeltaType string

const (
	DeltaText     DeltaType = "text-delta"
	DeltaLogprobs DeltaType = "logprobs"
)

// Delta is one streamed event: either a text fragment or a batch of token logprobs.
type Delta struct {
	Type     DeltaType
	Text     string
	Logprobs []TokenLogprob
}

type Provider interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// KeyedProvider is implemented by providers that can report whether a
// request must carry its own API key.
type KeyedProvider interface {
	RequiresAPIKey() bool
}

// attachmentNote lists non-image attachments so text-only models still see them.
func attachmentNote(m Message) string {
	var names []string
	for _, a := range m.Attachments {
		if a.Kind == "image" {
			continue
		}
		name := a.Name
		if name == "" {
			name = a.URL
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	return "\n\n[attached files: " + strings.Join(names, ", ") + "]"
}
