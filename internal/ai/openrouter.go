package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterMsg struct {
	Role string `json:"role"`
	// Content is a string, or a list of parts for multimodal user turns.
	Content any `json:"content"`
}

type openRouterPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *openRouterImage `json:"image_url,omitempty"`
}

type openRouterImage struct {
	URL string `json:"url"`
}

type openRouterChatReq struct {
	Model            string          `json:"model"`
	Messages         []openRouterMsg `json:"messages"`
	Stream           bool            `json:"stream"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
	PresencePenalty  float64         `json:"presence_penalty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Logprobs         bool            `json:"logprobs,omitempty"`
	TopLogprobs      int             `json:"top_logprobs,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type openRouterStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Logprobs *struct {
			Content []TokenLogprob `json:"content"`
		} `json:"logprobs,omitempty"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// RequiresAPIKey reports whether requests must carry their own key.
func (p *OpenRouterProvider) RequiresAPIKey() bool {
	return strings.TrimSpace(p.APIKey) == ""
}

func (p *OpenRouterProvider) Chat(ctx context.Context, req Request) (string, error) {
	if p.Client == nil {
		return "", errors.New("openrouter: http client is nil")
	}
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", parseErrorBody("openrouter", resp.StatusCode, body)
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", decoded.Error.toProviderError("openrouter", 0)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant deltas via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, req Request) (<-chan Delta, <-chan error) {
	deltas := make(chan Delta, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		if p.Client == nil {
			errs <- errors.New("openrouter: http client is nil")
			return
		}
		httpReq, err := p.newRequest(ctx, req, true)
		if err != nil {
			errs <- err
			return
		}

		// no global timeout while streaming; ctx controls it
		client := &http.Client{Transport: p.Client.Transport}
		resp, err := client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			errs <- parseErrorBody("openrouter", resp.StatusCode, body)
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openRouterStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- err
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- decoded.Error.toProviderError("openrouter", 0)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			choice := decoded.Choices[0]
			if text := choice.Delta.Content; text != "" {
				if !sendDelta(ctx, deltas, Delta{Type: DeltaText, Text: text}) {
					return
				}
			}
			if choice.Logprobs != nil && len(choice.Logprobs.Content) > 0 {
				if !sendDelta(ctx, deltas, Delta{Type: DeltaLogprobs, Logprobs: choice.Logprobs.Content}) {
					return
				}
			}
		}

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			errs <- err
			return
		}
	}()

	return deltas, errs
}

func (p *OpenRouterProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(p.APIKey)
	}
	if apiKey == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(req.Params.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	reqBody := openRouterChatReq{
		Model:            model,
		Stream:           stream,
		Messages:         toOpenRouterMsgs(req.Messages),
		Temperature:      req.Params.Temperature,
		TopP:             req.Params.TopP,
		FrequencyPenalty: req.Params.FrequencyPenalty,
		PresencePenalty:  req.Params.PresencePenalty,
		MaxTokens:        req.Params.MaxTokens,
		Logprobs:         req.Params.Logprobs,
	}
	if req.Params.Logprobs {
		reqBody.TopLogprobs = req.Params.TopLogprobs
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		httpReq.Header.Set("X-Title", p.AppName)
	}
	return httpReq, nil
}

func toOpenRouterMsgs(messages []Message) []openRouterMsg {
	out := make([]openRouterMsg, 0, len(messages))
	for _, m := range messages {
		text := m.Content + attachmentNote(m)

		var parts []openRouterPart
		for _, a := range m.Attachments {
			if a.Kind == "image" && a.URL != "" {
				parts = append(parts, openRouterPart{Type: "image_url", ImageURL: &openRouterImage{URL: a.URL}})
			}
		}
		if len(parts) == 0 {
			out = append(out, openRouterMsg{Role: m.Role, Content: text})
			continue
		}
		parts = append([]openRouterPart{{Type: "text", Text: text}}, parts...)
		out = append(out, openRouterMsg{Role: m.Role, Content: parts})
	}
	return out
}
