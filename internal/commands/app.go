package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/suPer8Hu/llm-playground/internal/ai"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/db"
	"github.com/suPer8Hu/llm-playground/internal/settings"
	"github.com/suPer8Hu/llm-playground/internal/store/redisstore"
	"gorm.io/gorm"
)

// app holds the pieces every command shares.
type app struct {
	cfg      config.Config
	store    *chat.Store
	settings settings.Repository
	registry *ai.Registry

	closers []io.Closer
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	policy := chat.ParsePersistPolicy(cfg.PersistPolicy)

	var gdb *gorm.DB
	sqlDB := func() (*gorm.DB, error) {
		if gdb != nil {
			return gdb, nil
		}
		g, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		raw, err := g.DB()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, raw)
		gdb = g
		return gdb, nil
	}

	var table chat.Table
	switch cfg.StorageBackend {
	case "pebble":
		pt, err := chat.OpenPebbleTable(cfg.PebblePath, nil)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pt)
		table = pt
	case "sql", "":
		g, err := sqlDB()
		if err != nil {
			return err
		}
		if err := chat.Migrate(g); err != nil {
			return fmt.Errorf("migrate messages: %w", err)
		}
		table = chat.NewRepo(g)
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	sealer, err := settings.NewSealer(cfg.SettingsSecret)
	if err != nil {
		return err
	}
	switch cfg.SettingsBackend {
	case "redis":
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		a.closers = append(a.closers, rs)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		a.settings = rs.Settings(cfg.RedisKey, sealer)
	case "sql", "":
		g, err := sqlDB()
		if err != nil {
			return err
		}
		if err := settings.Migrate(g); err != nil {
			return fmt.Errorf("migrate settings: %w", err)
		}
		a.settings = settings.NewGormStore(g, sealer)
	default:
		return fmt.Errorf("unknown settings backend %q", cfg.SettingsBackend)
	}

	a.store = chat.NewStore(table, chat.WithPolicy(policy))
	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	a.registry = newRegistry(cfg)

	log.Printf("[app] ready storage=%s policy=%s settings=%s providers=%v",
		cfg.StorageBackend, a.store.Policy(), cfg.SettingsBackend, a.registry.Names())
	return nil
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, model, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		if model == "" {
			model = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})
	return reg
}

// Close releases storage handles in reverse open order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
