package ai

import (
	"testing"

	"golang.org/x/text/language"
)

func TestParseErrorBody(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantMsg  string
		wantCode string
	}{
		{"object", `{"error":{"message":"bad key","code":"invalid_api_key"}}`, "bad key", "invalid_api_key"},
		{"numeric code", `{"error":{"message":"slow down","code":429}}`, "slow down", "429"},
		{"type as code", `{"error":{"message":"oops","type":"server_error"}}`, "oops", "server_error"},
		{"string", `{"error":"model not found"}`, "model not found", ""},
		{"plain", `upstream exploded`, "upstream exploded", ""},
		{"empty", ``, "status 502", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pe := parseErrorBody("openrouter", 502, []byte(tc.body))
			if pe.Message != tc.wantMsg || pe.Code != tc.wantCode {
				t.Fatalf("got message=%q code=%q", pe.Message, pe.Code)
			}
		})
	}
}

func TestProviderError_LocalizedMessage(t *testing.T) {
	pe := &ProviderError{
		Provider: "openrouter",
		Message:  "Insufficient credits",
		Localized: map[string]string{
			"en":      "Insufficient credits",
			"zh-Hans": "余额不足",
			"ja":      "クレジット不足",
		},
	}
	if got := pe.LocalizedMessage(language.SimplifiedChinese); got != "余额不足" {
		t.Fatalf("expected chinese variant, got %q", got)
	}
	if got := pe.LocalizedMessage(language.Japanese); got != "クレジット不足" {
		t.Fatalf("expected japanese variant, got %q", got)
	}
	if got := pe.LocalizedMessage(); got != "Insufficient credits" {
		t.Fatalf("expected fallback, got %q", got)
	}

	bare := &ProviderError{Provider: "ollama", Message: "boom"}
	if got := bare.LocalizedMessage(language.German); got != "boom" {
		t.Fatalf("expected message without variants, got %q", got)
	}
}
