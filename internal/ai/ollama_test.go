package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaStreamChat(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" there"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3:latest")
	deltas, errs := p.StreamChat(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
		Params:   Params{Temperature: 0.2, TopP: 0.9, MaxTokens: 32},
	})
	out, err := collect(t, deltas, errs)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(out) != 2 || out[0].Text+out[1].Text != "Hi there" {
		t.Fatalf("unexpected deltas %#v", out)
	}
	if got.Model != "llama3:latest" || got.Options.NumPredict != 32 || got.Options.TopP != 0.9 {
		t.Fatalf("unexpected request %#v", got)
	}
}

func TestOllamaStreamChat_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nope")
	deltas, errs := p.StreamChat(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	_, err := collect(t, deltas, errs)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "model 'nope' not found" || pe.Status != http.StatusNotFound {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOllamaStreamChat_StopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 64; i++ {
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"x"},"done":false}`)
		}
		fl.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOllamaProvider(srv.URL, "m")
	deltas, errs := p.StreamChat(ctx, Request{Messages: []Message{{Role: "user", Content: "x"}}})
	<-deltas
	cancel()

	// the producer must exit even though nobody drains the buffer
	for range deltas {
	}
	for range errs {
	}
}
