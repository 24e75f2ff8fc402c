package events

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/generation"
)

const (
	TypeMessages = "messages"
	TypePartial  = "partial"
	TypeNotice   = "notice"
)

// Event is what subscribers receive, already JSON encoded in Client.Send.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Client struct {
	ID   string
	Send chan []byte
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 64)}
}

// Broker fans events out to connected clients. A client whose buffer is full
// is dropped and its Send channel closed.
type Broker struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	done       chan struct{}
	closeOnce  sync.Once
}

func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

func (b *Broker) Run() {
	for {
		select {
		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = true
			n := len(b.clients)
			b.mu.Unlock()
			log.Printf("[events] client connected id=%s total=%d", c.ID, n)

		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.Send)
			}
			n := len(b.clients)
			b.mu.Unlock()
			log.Printf("[events] client disconnected id=%s total=%d", c.ID, n)

		case msg := <-b.broadcast:
			b.mu.Lock()
			for c := range b.clients {
				select {
				case c.Send <- msg:
				default:
					log.Printf("[events] dropping slow client id=%s", c.ID)
					close(c.Send)
					delete(b.clients, c)
				}
			}
			b.mu.Unlock()

		case <-b.done:
			b.mu.Lock()
			for c := range b.clients {
				close(c.Send)
				delete(b.clients, c)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Broker) Shutdown() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Register adds c; it returns false once the broker has shut down.
func (b *Broker) Register(c *Client) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.register <- c:
		return true
	case <-b.done:
		return false
	}
}

func (b *Broker) Unregister(c *Client) {
	select {
	case b.unregister <- c:
	case <-b.done:
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish encodes ev and queues it without blocking; events are dropped
// when the broadcast buffer is full.
func (b *Broker) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[events] marshal failed type=%s err=%v", ev.Type, err)
		return
	}
	select {
	case b.broadcast <- data:
	case <-b.done:
	default:
		log.Printf("[events] broadcast buffer full, dropping type=%s", ev.Type)
	}
}

// PublishMessages has the chat.Listener signature so it can subscribe to the store.
func (b *Broker) PublishMessages(msgs []chat.Message) {
	b.Publish(Event{Type: TypeMessages, Data: msgs})
}

func (b *Broker) PublishPartial(p generation.Partial) {
	b.Publish(Event{Type: TypePartial, Data: p})
}

// Notify implements generation.Notifier.
func (b *Broker) Notify(n generation.Notice) {
	log.Printf("[events] notice code=%s msg=%q", n.Code, n.Message)
	b.Publish(Event{Type: TypeNotice, Data: n})
}

var _ generation.Notifier = (*Broker)(nil)
