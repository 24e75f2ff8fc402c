package generation

import "log"

type Level string

const (
	LevelError Level = "error"
	LevelInfo  Level = "info"
)

// Notice is a user-facing side-channel message, already localized.
type Notice struct {
	Level   Level  `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type logNotifier struct{}

func (logNotifier) Notify(n Notice) {
	log.Printf("[generation] notice level=%s code=%s msg=%q detail=%q", n.Level, n.Code, n.Message, n.Detail)
}
