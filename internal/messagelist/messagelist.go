package messagelist

import (
	"context"
	"errors"

	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/generation"
)

var (
	ErrLockedWhileGenerating = errors.New("messagelist: reorder is locked while generating")
	ErrGeneratingMessage     = errors.New("messagelist: the generating message cannot be moved")
)

// Entry is one row of the rendered conversation.
type Entry struct {
	chat.Message
	Generating bool `json:"generating"`
}

// Merge overlays the in-flight message on the committed list. A generating
// message whose id is already committed replaces that entry in place;
// otherwise it is appended.
func Merge(committed []chat.Message, generating *generation.Partial) []Entry {
	out := make([]Entry, 0, len(committed)+1)
	replaced := false
	for _, m := range committed {
		if generating != nil && m.ID == generating.ID {
			out = append(out, Entry{Message: fromPartial(*generating, m.Timestamp), Generating: true})
			replaced = true
			continue
		}
		out = append(out, Entry{Message: m})
	}
	if generating != nil && !replaced {
		out = append(out, Entry{Message: fromPartial(*generating, 0), Generating: true})
	}
	return out
}

func fromPartial(p generation.Partial, ts int64) chat.Message {
	return chat.Message{ID: p.ID, Role: p.Role, Content: p.Content, Logprobs: p.Logprobs, Timestamp: ts}
}

type Store interface {
	GetAllMessages(ctx context.Context) ([]chat.Message, error)
	ReorderMessages(ctx context.Context, activeID, overID string) error
}

type Generation interface {
	State() generation.State
	Current() (generation.Partial, bool)
}

// List is the view-model over the store and the generation controller.
type List struct {
	store Store
	gen   Generation
}

func New(store Store, gen Generation) *List {
	return &List{store: store, gen: gen}
}

// View returns the committed messages with the live partial merged in.
func (l *List) View(ctx context.Context) ([]Entry, error) {
	msgs, err := l.store.GetAllMessages(ctx)
	if err != nil {
		return nil, err
	}
	if p, ok := l.gen.Current(); ok {
		return Merge(msgs, &p), nil
	}
	return Merge(msgs, nil), nil
}

// Reorder forwards a drag of activeID onto overID to the store unless a
// generation is running.
func (l *List) Reorder(ctx context.Context, activeID, overID string) error {
	if p, ok := l.gen.Current(); ok && (p.ID == activeID || p.ID == overID) {
		return ErrGeneratingMessage
	}
	if l.gen.State() == generation.Running {
		return ErrLockedWhileGenerating
	}
	return l.store.ReorderMessages(ctx, activeID, overID)
}
