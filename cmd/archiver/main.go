package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/suPer8Hu/llm-playground/internal/archive"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/db"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"github.com/suPer8Hu/llm-playground/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	if cfg.RabbitURL == "" {
		log.Fatalf("RABBIT_URL is required")
	}

	gdb, err := db.Connect(cfg.ArchiveDSN)
	if err != nil {
		log.Fatalf("archive db: %v", err)
	}
	if err := archive.Migrate(gdb); err != nil {
		log.Fatalf("archive migrate: %v", err)
	}
	repo := archive.NewRepo(gdb)

	conn, ch, err := rabbitmq.Dial(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()
	defer ch.Close()

	//  strict concurrency control
	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("[archiver] started queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	consumer := rabbitmq.NewConsumer(ch, cfg.RabbitQueue, concurrency)
	consumer.Serve(ctx, msgs, func(ctx context.Context, ev events.ChangeEvent) error {
		created, err := repo.SaveSnapshot(ctx, ev)
		if err != nil {
			return err
		}
		if created {
			log.Printf("[archiver] archived event=%s messages=%d", ev.EventID, len(ev.Messages))
		}
		return nil
	})
}
