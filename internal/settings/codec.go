package settings

import (
	"encoding/json"
	"fmt"
)

// Encode validates s, seals its API key and returns the JSON record.
func Encode(s Settings, sealer *Sealer) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	key, err := sealer.Seal(s.APIKey)
	if err != nil {
		return nil, err
	}
	s.APIKey = key
	return json.Marshal(s)
}

// Decode parses a stored record, filling missing fields from Defaults.
func Decode(b []byte, sealer *Sealer) (Settings, error) {
	s := Defaults()
	if err := json.Unmarshal(b, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	key, err := sealer.Open(s.APIKey)
	if err != nil {
		return Settings{}, err
	}
	s.APIKey = key
	return s, nil
}
