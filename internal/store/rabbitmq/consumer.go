package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/llm-playground/internal/events"
)

const retryHeader = "x-retries"

// Handler processes one change event. Returning an error schedules a retry.
type Handler func(ctx context.Context, ev events.ChangeEvent) error

// Consumer runs a bounded worker pool over a delivery channel.
type Consumer struct {
	ch          publishChannel
	queue       string
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
}

func NewConsumer(ch publishChannel, queue string, concurrency int) *Consumer {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Consumer{
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		maxRetries:  3,
		retryDelay:  5 * time.Second,
	}
}

// Serve dispatches deliveries to the pool until ctx is done or deliveries closes.
func (c *Consumer) Serve(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) {
	jobs := make(chan amqp.Delivery, c.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[archiver] consumer shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Printf("[archiver] delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h Handler) {
	var ev events.ChangeEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.EventID == "" {
		if err == nil {
			err = errors.New("missing event_id")
		}
		log.Printf("[archiver] worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := h(ctx, ev); err != nil {
		retries := retryCount(d.Headers)
		log.Printf("[archiver] worker=%d event=%s failed attempt=%d cost=%s err=%v",
			workerID, ev.EventID, retries+1, time.Since(start), err)
		if retries >= c.maxRetries || c.ch == nil {
			_ = d.Nack(false, false)
			return
		}
		if perr := c.retry(ctx, d, retries+1); perr != nil {
			log.Printf("[archiver] worker=%d retry publish failed event=%s err=%v", workerID, ev.EventID, perr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("[archiver] worker=%d ack failed event=%s err=%v", workerID, ev.EventID, err)
	}
}

// retry republishes d to the retry queue; its TTL dead-letters it back to the main queue.
func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(cctx, "", retryQueue(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Body:         d.Body,
		Timestamp:    d.Timestamp,
		Expiration:   strconv.FormatInt(c.retryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{retryHeader: int32(attempt)},
	})
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
