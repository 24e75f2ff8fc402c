package rabbitmq

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/events"
)

// publishChannel is the part of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher forwards store snapshots to the change-event queue. Store
// listeners only enqueue; a background loop does the network I/O.
type Publisher struct {
	conn  *amqp.Connection
	ch    publishChannel
	queue string

	pending chan events.ChangeEvent
	wg      sync.WaitGroup
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := Dial(url, queue)
	if err != nil {
		return nil, err
	}
	p := newPublisher(ch, queue)
	p.conn = conn
	return p, nil
}

func newPublisher(ch publishChannel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue, pending: make(chan events.ChangeEvent, 64)}
}

// Start runs the publish loop until ctx is done, then drains what is queued.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case ev := <-p.pending:
				p.publishLogged(ctx, ev)
			case <-ctx.Done():
				for {
					select {
					case ev := <-p.pending:
						p.publishLogged(context.Background(), ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (p *Publisher) publishLogged(ctx context.Context, ev events.ChangeEvent) {
	if err := p.Publish(ctx, ev); err != nil {
		log.Printf("[rabbitmq] publish failed event=%s err=%v", ev.EventID, err)
	}
}

// OnMessages has the chat.Listener signature. It never blocks: when the
// queue is full the snapshot is dropped, since the next one supersedes it.
func (p *Publisher) OnMessages(msgs []chat.Message) {
	ev, err := events.NewSnapshot(msgs)
	if err != nil {
		log.Printf("[rabbitmq] event id failed err=%v", err)
		return
	}
	select {
	case p.pending <- ev:
	default:
		log.Printf("[rabbitmq] publish queue full, dropping event=%s", ev.EventID)
	}
}

func (p *Publisher) Publish(ctx context.Context, ev events.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.EventID,
			Type:         ev.Kind,
			Body:         body,
			Timestamp:    ev.At,
		},
	)
}

// Close waits for the publish loop (after its ctx is cancelled) and closes the connection.
func (p *Publisher) Close() error {
	p.wg.Wait()
	if c, ok := p.ch.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
