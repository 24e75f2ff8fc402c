package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collect(t *testing.T, deltas <-chan Delta, errs <-chan error) ([]Delta, error) {
	t.Helper()
	var out []Delta
	for d := range deltas {
		out = append(out, d)
	}
	var err error
	for e := range errs {
		if e != nil && err == nil {
			err = e
		}
	}
	return out, err
}

func TestOpenRouterStreamChat_TextAndLogprobs(t *testing.T) {
	var got openRouterChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer req-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"},"logprobs":{"content":[{"token":"lo","logprob":-0.5,"top_logprobs":[{"token":"lo","logprob":-0.5}]}]}}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "", "default-model", "", "")
	deltas, errs := p.StreamChat(context.Background(), Request{
		APIKey:   "req-key",
		Messages: []Message{{Role: "user", Content: "hi"}},
		Params:   Params{Model: "openai/gpt-4o-mini", Temperature: 0.7, TopP: 1, MaxTokens: 64, Logprobs: true, TopLogprobs: 2},
	})
	out, err := collect(t, deltas, errs)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text strings.Builder
	var lps []TokenLogprob
	for _, d := range out {
		switch d.Type {
		case DeltaText:
			text.WriteString(d.Text)
		case DeltaLogprobs:
			lps = append(lps, d.Logprobs...)
		}
	}
	if text.String() != "Hello" {
		t.Fatalf("unexpected text %q", text.String())
	}
	if len(lps) != 1 || lps[0].Token != "lo" || lps[0].Logprob != -0.5 {
		t.Fatalf("unexpected logprobs %#v", lps)
	}

	if got.Model != "openai/gpt-4o-mini" || !got.Stream || got.MaxTokens != 64 || got.TopLogprobs != 2 {
		t.Fatalf("unexpected request body %#v", got)
	}
}

func TestOpenRouterStreamChat_InStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"par"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"error":{"message":"rate limited","code":429,"localized":{"zh":"请求过多"}}}`+"\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "cfg-key", "m", "", "")
	deltas, errs := p.StreamChat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	out, err := collect(t, deltas, errs)
	if len(out) != 1 {
		t.Fatalf("expected one delta before error, got %d", len(out))
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T %v", err, err)
	}
	if pe.Code != "429" || pe.Message != "rate limited" || pe.Localized["zh"] != "请求过多" {
		t.Fatalf("unexpected provider error %#v", pe)
	}
}

func TestOpenRouterStreamChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"No auth credentials found","code":401}}`)
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL, "bad", "m", "", "")
	deltas, errs := p.StreamChat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	_, err := collect(t, deltas, errs)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 ProviderError, got %v", err)
	}
}

func TestOpenRouterChat_RequiresKey(t *testing.T) {
	p := NewOpenRouterProvider("http://127.0.0.1:0", "", "m", "", "")
	if !p.RequiresAPIKey() {
		t.Fatalf("expected provider without key to require one")
	}
	if _, err := p.Chat(context.Background(), Request{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestToOpenRouterMsgs_ImagesBecomeParts(t *testing.T) {
	msgs := toOpenRouterMsgs([]Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "what is this?", Attachments: []Attachment{
			{URL: "https://example.com/cat.png", Kind: "image", Name: "cat.png"},
			{URL: "https://example.com/notes.pdf", Kind: "file", Name: "notes.pdf"},
		}},
	})
	if s, ok := msgs[0].Content.(string); !ok || s != "be brief" {
		t.Fatalf("expected plain string content, got %#v", msgs[0].Content)
	}
	parts, ok := msgs[1].Content.([]openRouterPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %#v", msgs[1].Content)
	}
	if parts[0].Type != "text" || !strings.Contains(parts[0].Text, "notes.pdf") {
		t.Fatalf("unexpected text part %#v", parts[0])
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "https://example.com/cat.png" {
		t.Fatalf("unexpected image part %#v", parts[1])
	}
}
