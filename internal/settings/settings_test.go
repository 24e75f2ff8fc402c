package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"defaults ok", func(*Settings) {}, ""},
		{"temperature too high", func(s *Settings) { s.Temperature = 2.5 }, "Temperature"},
		{"top p negative", func(s *Settings) { s.TopP = -0.1 }, "TopP"},
		{"penalty out of range", func(s *Settings) { s.PresencePenalty = -3 }, "PresencePenalty"},
		{"max tokens zero", func(s *Settings) { s.MaxTokens = 0 }, "MaxTokens"},
		{"top logprobs", func(s *Settings) { s.TopLogprobs = 21 }, "TopLogprobs"},
		{"provider required", func(s *Settings) { s.Provider = "" }, "Provider"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.mutate(&s)
			err := s.Validate()
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected validation errors, got %v", err)
			}
			if verrs[0].Field() != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, verrs[0].Field())
			}
		})
	}
}

func TestParams_TopLogprobsOnlyWithLogprobs(t *testing.T) {
	s := Defaults()
	s.TopLogprobs = 5
	if p := s.Params(); p.TopLogprobs != 0 {
		t.Fatalf("top logprobs sent without logprobs: %d", p.TopLogprobs)
	}
	s.Logprobs = true
	if p := s.Params(); p.TopLogprobs != 5 || !p.Logprobs {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestMasked(t *testing.T) {
	s := Defaults()
	s.APIKey = "sk-or-abcdef"
	if got := s.Masked().APIKey; got != "****cdef" {
		t.Fatalf("unexpected mask %q", got)
	}
	if s.APIKey != "sk-or-abcdef" {
		t.Fatalf("mask mutated the original")
	}
}

func TestSealer_RoundTrip(t *testing.T) {
	sealer, err := NewSealer("secret")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := sealer.Seal("sk-123")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "sk-123") {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	again, _ := sealer.Seal("sk-123")
	if again == sealed {
		t.Fatalf("expected a fresh nonce per seal")
	}
	plain, err := sealer.Open(sealed)
	if err != nil || plain != "sk-123" {
		t.Fatalf("open: %q %v", plain, err)
	}

	other, _ := NewSealer("different")
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected failure with the wrong secret")
	}
	var none *Sealer
	if _, err := none.Open(sealed); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if v, _ := none.Open("plain"); v != "plain" {
		t.Fatalf("plain values should pass through, got %q", v)
	}
}

func TestGormStore_LoadSave(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	sealer, _ := NewSealer("secret")
	store := NewGormStore(db, sealer)

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("expected defaults, got %+v", got)
	}

	in := Defaults()
	in.Provider = "ollama"
	in.Model = "llama3:latest"
	in.APIKey = "sk-local"
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in.MaxTokens = 512
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save again: %v", err)
	}

	var rec Record
	if err := db.First(&rec).Error; err != nil {
		t.Fatalf("read row: %v", err)
	}
	if strings.Contains(rec.Value, "sk-local") {
		t.Fatalf("api key stored in plain text")
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}

	bad := in
	bad.TopP = 2
	if err := store.Save(ctx, bad); err == nil {
		t.Fatalf("expected validation error")
	}
}
