package commands

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/events"
	"github.com/suPer8Hu/llm-playground/internal/generation"
	"github.com/suPer8Hu/llm-playground/internal/httpapi"
	"github.com/suPer8Hu/llm-playground/internal/httpapi/handlers"
	"github.com/suPer8Hu/llm-playground/internal/store/rabbitmq"
)

func addServe(topLevel *cobra.Command, cfg *config.Config) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		Example: `
playground serve
playground serve --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "listen address")
	topLevel.AddCommand(cmd)
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	broker := events.NewBroker()
	go broker.Run()
	defer broker.Shutdown()

	gen := generation.NewController(a.registry,
		generation.WithNotifier(broker),
		generation.WithLanguage(generation.ParseLanguages(cfg.Lang)...),
	)
	defer gen.Subscribe(broker.PublishPartial)()
	defer a.store.Subscribe(broker.PublishMessages)()

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		pubCtx, cancelPub := context.WithCancel(context.Background())
		pub.Start(pubCtx)
		unsubscribe := a.store.Subscribe(pub.OnMessages)
		defer func() {
			unsubscribe()
			cancelPub()
			if err := pub.Close(); err != nil {
				log.Printf("[serve] close publisher err=%v", err)
			}
		}()
		log.Printf("[serve] publishing change events queue=%s", cfg.RabbitQueue)
	}

	h := handlers.NewHandler(a.store, gen, a.settings, broker, cfg.MaxAttachment)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[serve] listening addr=%s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("[serve] shutting down")
	gen.Stop()
	broker.Shutdown() // ends open event streams

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
