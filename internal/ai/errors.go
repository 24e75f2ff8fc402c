package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// ProviderError is a structured error reported by a model provider, either as
// an HTTP error body or as an in-stream error object.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	// Localized holds message variants keyed by BCP 47 language tag.
	Localized map[string]string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// LocalizedMessage picks the variant that best matches the preferred tags,
// falling back to Message.
func (e *ProviderError) LocalizedMessage(preferred ...language.Tag) string {
	if len(e.Localized) == 0 || len(preferred) == 0 {
		return e.Message
	}

	keys := make([]string, 0, len(e.Localized))
	for k := range e.Localized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var supported []language.Tag
	var texts []string
	for _, k := range keys {
		tag, err := language.Parse(k)
		if err != nil {
			continue
		}
		supported = append(supported, tag)
		texts = append(texts, e.Localized[k])
	}
	if len(supported) == 0 {
		return e.Message
	}

	_, idx, conf := language.NewMatcher(supported).Match(preferred...)
	if conf == language.No {
		return e.Message
	}
	return texts[idx]
}

type apiError struct {
	Message   string            `json:"message"`
	Code      json.RawMessage   `json:"code,omitempty"`
	Type      string            `json:"type,omitempty"`
	Localized map[string]string `json:"localized,omitempty"`
}

func (a *apiError) toProviderError(provider string, status int) *ProviderError {
	code := strings.Trim(string(a.Code), `"`)
	if code == "" {
		code = a.Type
	}
	msg := strings.TrimSpace(a.Message)
	if msg == "" {
		msg = "unknown provider error"
	}
	return &ProviderError{
		Provider:  provider,
		Status:    status,
		Code:      code,
		Message:   msg,
		Localized: a.Localized,
	}
}

// parseErrorBody turns a non-2xx response body into a ProviderError. Both
// {"error":{"message":...}} and {"error":"..."} shapes are accepted.
func parseErrorBody(provider string, status int, body []byte) *ProviderError {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		raw := bytes.TrimSpace(envelope.Error)
		if len(raw) > 0 && raw[0] == '"' {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return &ProviderError{Provider: provider, Status: status, Message: s}
			}
		}
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			return ae.toProviderError(provider, status)
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &ProviderError{Provider: provider, Status: status, Message: msg}
}
