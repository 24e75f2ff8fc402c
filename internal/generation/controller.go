package generation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/llm-playground/internal/ai"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/settings"
	"golang.org/x/text/language"
)

var (
	ErrBusy          = errors.New("generation: already running")
	ErrEmptyHistory  = errors.New("generation: history is empty")
	ErrMissingAPIKey = errors.New("generation: provider requires an api key")
)

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Outcome records how the most recent generation ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	Completed
	Stopped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "none"
}

// Partial is the in-flight assistant message as seen so far.
type Partial struct {
	ID       string            `json:"id"`
	Role     chat.Role         `json:"role"`
	Content  string            `json:"content"`
	Logprobs []ai.TokenLogprob `json:"logprobs,omitempty"`
}

func (p Partial) clone() Partial {
	if p.Logprobs != nil {
		p.Logprobs = append([]ai.TokenLogprob(nil), p.Logprobs...)
	}
	return p
}

// Result is the finished (or stopped) assistant message.
type Result struct {
	ID       string
	Role     chat.Role
	Content  string
	Logprobs []ai.TokenLogprob
	// Stopped is set when Stop ended the stream early; Content holds what arrived before.
	Stopped bool
}

// Message converts the result into a message ready for the store.
func (r *Result) Message() chat.Message {
	return chat.Message{ID: r.ID, Role: r.Role, Content: r.Content, Logprobs: r.Logprobs}
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithLanguage sets the preferred languages for notices, most preferred first.
func WithLanguage(tags ...language.Tag) Option {
	return func(c *Controller) {
		if len(tags) > 0 {
			c.loc = newLocalizer(tags)
		}
	}
}

// Controller drives at most one streamed generation at a time.
// It never writes to the message store; callers commit the Result.
type Controller struct {
	registry *ai.Registry
	notifier Notifier
	loc      localizer

	mu            sync.Mutex
	state         State
	outcome       Outcome
	stop          chan struct{}
	stopRequested bool
	current       Partial

	subsMu sync.Mutex
	subs   []*subscriber
}

type subscriber struct {
	fn func(Partial)
}

func NewController(registry *ai.Registry, opts ...Option) *Controller {
	c := &Controller{
		registry: registry,
		notifier: logNotifier{},
		loc:      newLocalizer([]language.Tag{language.English}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LastOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Current returns the in-flight partial message, if a generation is running.
func (c *Controller) Current() (Partial, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return Partial{}, false
	}
	return c.current.clone(), true
}

// Subscribe registers fn for every partial update. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(Partial)) func() {
	sub := &subscriber{fn: fn}
	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			for i, s := range c.subs {
				if s == sub {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Stop asks the running generation to end. It is a no-op when idle and
// safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running || c.stopRequested {
		return
	}
	c.stopRequested = true
	close(c.stop)
}

// Generate streams a reply to history using s. On Stop (or ctx cancellation)
// it returns the content received so far with Result.Stopped set. Failures
// are reported to the notifier and returned; the controller is Idle again
// when Generate returns.
func (c *Controller) Generate(ctx context.Context, history []chat.Message, s settings.Settings) (*Result, error) {
	provider, err := c.begin(ctx, history, s)
	if err != nil {
		c.notifier.Notify(c.loc.notice(err))
		return nil, err
	}

	c.mu.Lock()
	id, stop := c.current.ID, c.stop
	c.mu.Unlock()

	start := time.Now()
	log.Printf("[generation] start id=%s provider=%s model=%s messages=%d", id, s.Provider, s.Model, len(history))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := ai.Request{Messages: chat.ToProvider(history), Params: s.Params(), APIKey: s.APIKey}
	deltas, errs := openStream(streamCtx, provider, req)

	var content strings.Builder
	var logprobs []ai.TokenLogprob
	result := func(stopped bool) *Result {
		return &Result{ID: id, Role: chat.RoleAssistant, Content: content.String(), Logprobs: logprobs, Stopped: stopped}
	}

	for {
		select {
		case <-stop:
			cancel()
			c.finish(Stopped, start)
			return result(true), nil

		case <-ctx.Done():
			c.finish(Stopped, start)
			return result(true), nil

		case d, ok := <-deltas:
			if !ok {
				deltas = nil
				if errs == nil {
					c.finish(Completed, start)
					return result(false), nil
				}
				continue
			}
			// a stop that raced with this delta wins
			select {
			case <-stop:
				cancel()
				c.finish(Stopped, start)
				return result(true), nil
			default:
			}

			generationDeltas.Inc()
			switch d.Type {
			case ai.DeltaLogprobs:
				logprobs = append(logprobs, d.Logprobs...)
			default:
				content.WriteString(d.Text)
			}
			c.publish(Partial{ID: id, Role: chat.RoleAssistant, Content: content.String(), Logprobs: logprobs})

		case err, ok := <-errs:
			if !ok {
				errs = nil
				if deltas == nil {
					c.finish(Completed, start)
					return result(false), nil
				}
				continue
			}
			if err == nil {
				continue
			}
			c.finish(Failed, start)
			log.Printf("[generation] failed id=%s err=%v", id, err)
			c.notifier.Notify(c.loc.notice(err))
			return nil, err
		}
	}
}

// begin validates the request and moves the controller to Running.
func (c *Controller) begin(ctx context.Context, history []chat.Message, s settings.Settings) (ai.Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		return nil, ErrBusy
	}
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	provider, err := c.registry.Get(ctx, s.Provider, s.Model)
	if err != nil {
		return nil, err
	}
	if kp, ok := provider.(ai.KeyedProvider); ok && kp.RequiresAPIKey() && strings.TrimSpace(s.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	c.state = Running
	c.stop = make(chan struct{})
	c.stopRequested = false
	c.current = Partial{ID: uuid.NewString(), Role: chat.RoleAssistant}
	return provider, nil
}

func (c *Controller) finish(o Outcome, start time.Time) {
	c.mu.Lock()
	id := c.current.ID
	c.state = Idle
	c.outcome = o
	c.current = Partial{}
	c.mu.Unlock()

	generationsTotal.WithLabelValues(o.String()).Inc()
	generationSeconds.Observe(time.Since(start).Seconds())
	log.Printf("[generation] done id=%s outcome=%s took=%s", id, o, time.Since(start).Round(time.Millisecond))
}

func (c *Controller) publish(p Partial) {
	c.mu.Lock()
	c.current = p.clone()
	c.mu.Unlock()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, s := range c.subs {
		s.fn(p.clone())
	}
}

// openStream uses the provider's streaming API when it has one and otherwise
// wraps a single Chat call as a one-delta stream.
func openStream(ctx context.Context, p ai.Provider, req ai.Request) (<-chan ai.Delta, <-chan error) {
	if sp, ok := p.(ai.StreamProvider); ok {
		return sp.StreamChat(ctx, req)
	}

	deltas := make(chan ai.Delta, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(errs)
		reply, err := p.Chat(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		deltas <- ai.Delta{Type: ai.DeltaText, Text: reply}
	}()
	return deltas, errs
}
