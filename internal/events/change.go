package events

import (
	"time"

	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/common"
)

const KindSnapshot = "snapshot"

// ChangeEvent is the durable record of one store notification, published
// to the message queue and archived by cmd/archiver.
type ChangeEvent struct {
	EventID  string         `json:"event_id"`
	Kind     string         `json:"kind"`
	Messages []chat.Message `json:"messages"`
	At       time.Time      `json:"at"`
}

// NewSnapshot wraps a store snapshot in a ChangeEvent with a fresh ULID.
func NewSnapshot(msgs []chat.Message) (ChangeEvent, error) {
	id, err := common.NewULID()
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{EventID: id, Kind: KindSnapshot, Messages: msgs, At: time.Now().UTC()}, nil
}
