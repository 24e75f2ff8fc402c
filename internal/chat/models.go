package chat

import (
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"gorm.io/datatypes"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type FileKind string

const (
	FileImage FileKind = "image"
	FileOther FileKind = "file"
)

// File is an attachment reference; the upload itself lives elsewhere.
type File struct {
	URL  string   `json:"url"`
	Kind FileKind `json:"kind"`
	Name string   `json:"name"`
	Size int64    `json:"size"`
}

type Message struct {
	ID        string                               `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Role      Role                                 `gorm:"type:varchar(16);not null" json:"role"`
	Content   string                               `gorm:"type:text;not null" json:"content"`
	Files     datatypes.JSONSlice[File]            `json:"files,omitempty"`
	Logprobs  datatypes.JSONSlice[ai.TokenLogprob] `json:"logprobs,omitempty"`
	Timestamp int64                                `gorm:"index;not null" json:"timestamp"`
}

func (Message) TableName() string { return "playground_messages" }

// Clone returns a deep copy so callers cannot alias the store's slices.
func (m Message) Clone() Message {
	out := m
	if m.Files != nil {
		out.Files = append(datatypes.JSONSlice[File](nil), m.Files...)
	}
	if m.Logprobs != nil {
		lps := make(datatypes.JSONSlice[ai.TokenLogprob], len(m.Logprobs))
		for i, lp := range m.Logprobs {
			lps[i] = lp
			if lp.TopLogprobs != nil {
				lps[i].TopLogprobs = append([]ai.TopLogprob(nil), lp.TopLogprobs...)
			}
		}
		out.Logprobs = lps
	}
	return out
}

// ToProvider converts stored messages into the provider's wire-neutral shape.
func ToProvider(msgs []Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		pm := ai.Message{Role: string(m.Role), Content: m.Content}
		for _, f := range m.Files {
			pm.Attachments = append(pm.Attachments, ai.Attachment{URL: f.URL, Kind: string(f.Kind), Name: f.Name})
		}
		out = append(out, pm)
	}
	return out
}

// Update is a partial edit; nil fields are left untouched.
type Update struct {
	Role     *Role
	Content  *string
	Files    *[]File
	Logprobs *[]ai.TokenLogprob
}

// ContentUpdate replaces only the content.
func ContentUpdate(content string) Update {
	return Update{Content: &content}
}

func (u Update) apply(m Message) Message {
	if u.Role != nil {
		m.Role = *u.Role
	}
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Files != nil {
		m.Files = append(datatypes.JSONSlice[File](nil), (*u.Files)...)
	}
	if u.Logprobs != nil {
		m.Logprobs = append(datatypes.JSONSlice[ai.TokenLogprob](nil), (*u.Logprobs)...)
	}
	return m
}
