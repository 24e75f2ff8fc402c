package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"github.com/suPer8Hu/llm-playground/internal/auth"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"github.com/suPer8Hu/llm-playground/internal/generation"
	"github.com/suPer8Hu/llm-playground/internal/httpapi/handlers"
	"github.com/suPer8Hu/llm-playground/internal/settings"
)

type replyProvider struct{ reply string }

func (p replyProvider) Chat(context.Context, ai.Request) (string, error) { return p.reply, nil }

type memSettings struct {
	mu sync.Mutex
	s  settings.Settings
}

func (m *memSettings) Load(context.Context) (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *memSettings) Save(_ context.Context, s settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router   *gin.Engine
	store    *chat.Store
	settings *memSettings
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tbl, err := chat.OpenPebbleTable("messages", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = tbl.Close() })

	store := chat.NewStore(tbl)
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) {
		return replyProvider{reply: "hello there"}, nil
	})
	broker := events.NewBroker()
	go broker.Run()
	t.Cleanup(broker.Shutdown)

	gen := generation.NewController(reg, generation.WithNotifier(broker))
	s := settings.Defaults()
	s.Provider = "fake"
	repo := &memSettings{s: s}

	if cfg.GenerateRPS == 0 {
		cfg.GenerateRPS, cfg.GenerateBurst = 100, 100
	}
	h := handlers.NewHandler(store, gen, repo, broker, "1 KB")
	return &testServer{router: NewRouter(h, cfg), store: store, settings: repo}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, w.Body.String())
		}
	}
	return w, env
}

func TestPing(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w, env := ts.do(t, http.MethodGet, "/ping", nil)
	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("unexpected ping response: %d %+v", w.Code, env)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestMessages_CRUD(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	w, _ := ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "s1", "role": "system", "content": "be brief"})
	if w.Code != http.StatusOK {
		t.Fatalf("add s1: %d %s", w.Code, w.Body.String())
	}
	w, _ = ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("add u1: %d %s", w.Code, w.Body.String())
	}

	w, _ = ts.do(t, http.MethodPatch, "/v1/messages/u1", gin.H{"content": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", w.Code, w.Body.String())
	}
	if m, ok := ts.store.Get("u1"); !ok || m.Content != "hello" {
		t.Fatalf("edit not applied: %+v", m)
	}

	_, env := ts.do(t, http.MethodGet, "/v1/messages", nil)
	var list struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 2 || list.Messages[0].ID != "s1" || list.Messages[1].ID != "u1" {
		t.Fatalf("unexpected list: %+v", list.Messages)
	}

	w, _ = ts.do(t, http.MethodDelete, "/v1/messages/s1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if _, ok := ts.store.Get("s1"); ok {
		t.Fatalf("s1 should be gone")
	}

	w, _ = ts.do(t, http.MethodDelete, "/v1/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d", w.Code)
	}
	msgs, _ := ts.store.GetAllMessages(context.Background())
	if len(msgs) != 0 {
		t.Fatalf("expected empty store, got %d", len(msgs))
	}
}

func TestMessages_Errors(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	w, env := ts.do(t, http.MethodPost, "/v1/messages", gin.H{"role": "robot", "content": "x"})
	if w.Code != http.StatusBadRequest || env.Code != 10010 {
		t.Fatalf("invalid role: %d %+v", w.Code, env)
	}

	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "x"})
	w, env = ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "y"})
	if w.Code != http.StatusConflict || env.Code != 40900 {
		t.Fatalf("duplicate id: %d %+v", w.Code, env)
	}

	w, env = ts.do(t, http.MethodPost, "/v1/messages", gin.H{
		"role":    "user",
		"content": "see file",
		"files":   []gin.H{{"url": "u", "kind": "file", "name": "big.bin", "size": 4096}},
	})
	if w.Code != http.StatusRequestEntityTooLarge || !strings.Contains(env.Message, "big.bin") {
		t.Fatalf("oversized file: %d %+v", w.Code, env)
	}

	w, _ = ts.do(t, http.MethodGet, "/v1/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMessages_ReorderAndTruncate(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	for _, id := range []string{"a", "b", "c"} {
		ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": id, "role": "user", "content": id})
	}

	w, _ := ts.do(t, http.MethodPost, "/v1/messages/reorder", gin.H{"active_id": "a", "over_id": "c"})
	if w.Code != http.StatusOK {
		t.Fatalf("reorder: %d %s", w.Code, w.Body.String())
	}
	msgs, _ := ts.store.GetAllMessages(context.Background())
	if got := msgs[0].ID + msgs[1].ID + msgs[2].ID; got != "bca" {
		t.Fatalf("expected bca, got %s", got)
	}

	w, _ = ts.do(t, http.MethodPost, "/v1/messages/c/truncate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("truncate: %d", w.Code)
	}
	msgs, _ = ts.store.GetAllMessages(context.Background())
	if len(msgs) != 1 || msgs[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", msgs)
	}
}

func TestGenerate_StreamsAndCommits(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "hi"})

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: done") {
		t.Fatalf("expected done event, got %q", body)
	}
	msgs, _ := ts.store.GetAllMessages(context.Background())
	if len(msgs) != 2 || msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "hello there" {
		t.Fatalf("reply not committed: %+v", msgs)
	}
}

func TestGenerate_RegenerateFrom(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "hi"})
	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "a1", "role": "assistant", "content": "old"})

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"regenerate_from":"a1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	msgs, _ := ts.store.GetAllMessages(context.Background())
	if len(msgs) != 2 || msgs[1].ID == "a1" || msgs[1].Content != "hello there" {
		t.Fatalf("expected regenerated reply, got %+v", msgs)
	}
}

func TestGenerate_EmptyHistory(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w, env := ts.do(t, http.MethodPost, "/v1/generate", nil)
	if w.Code != http.StatusBadRequest || env.Code != 10012 {
		t.Fatalf("expected 400/10012, got %d %+v", w.Code, env)
	}
}

func TestStopGeneration_Idle(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	w, _ := ts.do(t, http.MethodPost, "/v1/generate/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop while idle: %d", w.Code)
	}
}

func TestSettings_MaskedKeyIsKept(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.settings.s.APIKey = "sk-secret-1234"

	_, env := ts.do(t, http.MethodGet, "/v1/settings", nil)
	var got struct {
		Settings settings.Settings `json:"settings"`
	}
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if got.Settings.APIKey != "****1234" {
		t.Fatalf("expected masked key, got %q", got.Settings.APIKey)
	}

	got.Settings.Temperature = 1.2
	w, _ := ts.do(t, http.MethodPut, "/v1/settings", got.Settings)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings: %d %s", w.Code, w.Body.String())
	}
	saved, _ := ts.settings.Load(context.Background())
	if saved.APIKey != "sk-secret-1234" || saved.Temperature != 1.2 {
		t.Fatalf("unexpected saved settings: %+v", saved)
	}

	got.Settings.Temperature = 5
	w, env = ts.do(t, http.MethodPut, "/v1/settings", got.Settings)
	if w.Code != http.StatusBadRequest || env.Code != 10011 {
		t.Fatalf("expected validation failure, got %d %+v", w.Code, env)
	}
}

func TestAuthRequired(t *testing.T) {
	secret := "test-secret"
	ts := newTestServer(t, config.Config{JWTSecret: secret})

	w, _ := ts.do(t, http.MethodGet, "/v1/messages", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	tok, err := auth.SignJWT("cli", secret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"role": "user", "content": "x"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "playground_store_operations_total") {
		t.Fatalf("metrics missing store counters: %d", w.Code)
	}
}

func TestEvents_SendsInitialSnapshot(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.do(t, http.MethodPost, "/v1/messages", gin.H{"id": "u1", "role": "user", "content": "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req) // returns once ctx expires

	body := w.Body.String()
	if !strings.HasPrefix(body, "data: ") || !strings.Contains(body, `"type":"messages"`) || !strings.Contains(body, `"u1"`) {
		t.Fatalf("expected snapshot event first, got %q", body)
	}
}
