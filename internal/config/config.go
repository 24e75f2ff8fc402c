package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr  string
	JWTSecret string
	Lang      string

	// storage
	StorageBackend string // sql | pebble
	DBDSN          string
	PebblePath     string
	PersistPolicy  string // optimistic | durable

	// settings persistence
	SettingsBackend string // sql | redis
	SettingsSecret  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKey        string

	// AI provider
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// generation endpoint limits
	GenerateRPS   float64
	GenerateBurst int
	MaxAttachment string // human readable, e.g. "20 MB"

	// rabbitMQ change events
	RabbitURL   string
	RabbitQueue string
	ArchiveDSN  string
}

// fileConfig mirrors Config for the optional YAML file; empty fields are ignored.
type fileConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret"`
	Lang      string `yaml:"lang"`
	Storage   struct {
		Backend       string `yaml:"backend"`
		DSN           string `yaml:"dsn"`
		PebblePath    string `yaml:"pebble_path"`
		PersistPolicy string `yaml:"persist_policy"`
	} `yaml:"storage"`
	Settings struct {
		Backend string `yaml:"backend"`
		Secret  string `yaml:"secret"`
	} `yaml:"settings"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`
	AI struct {
		Ollama struct {
			BaseURL string `yaml:"base_url"`
			Model   string `yaml:"model"`
		} `yaml:"ollama"`
		OpenRouter struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
			Model   string `yaml:"model"`
			SiteURL string `yaml:"site_url"`
			AppName string `yaml:"app_name"`
		} `yaml:"openrouter"`
	} `yaml:"ai"`
	Generate struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"generate"`
	Rabbit struct {
		URL        string `yaml:"url"`
		Queue      string `yaml:"queue"`
		ArchiveDSN string `yaml:"archive_dsn"`
	} `yaml:"rabbit"`
	MaxAttachment string `yaml:"max_attachment"`
}

func defaults() Config {
	return Config{
		HTTPAddr:          ":8080",
		Lang:              "en",
		StorageBackend:    "sql",
		DBDSN:             "file:playground.db?_pragma=busy_timeout(5000)",
		PebblePath:        "data/messages",
		PersistPolicy:     "optimistic",
		SettingsBackend:   "sql",
		RedisAddr:         "127.0.0.1:6379",
		RedisKey:          "playground:settings",
		OllamaBaseURL:     "http://localhost:11434",
		OllamaModel:       "llama3:latest",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		OpenRouterModel:   "openrouter/auto",
		GenerateRPS:       1,
		GenerateBurst:     3,
		MaxAttachment:     "20 MB",
		RabbitQueue:       "playground_events",
		ArchiveDSN:        "file:archive.db?_pragma=busy_timeout(5000)",
	}
}

// Load builds the configuration from defaults, then PLAYGROUND_CONFIG (YAML),
// then environment variables. A .env file in the working directory is loaded first.
func Load() Config {
	_ = godotenv.Load(".env")

	cfg := defaults()
	if path := os.Getenv("PLAYGROUND_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			log.Printf("[config] ignoring config file path=%s err=%v", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.JWTSecret, fc.JWTSecret)
	setString(&cfg.Lang, fc.Lang)

	setString(&cfg.StorageBackend, fc.Storage.Backend)
	setString(&cfg.DBDSN, fc.Storage.DSN)
	setString(&cfg.PebblePath, fc.Storage.PebblePath)
	setString(&cfg.PersistPolicy, fc.Storage.PersistPolicy)

	setString(&cfg.SettingsBackend, fc.Settings.Backend)
	setString(&cfg.SettingsSecret, fc.Settings.Secret)
	setString(&cfg.RedisAddr, fc.Redis.Addr)
	setString(&cfg.RedisPassword, fc.Redis.Password)
	setString(&cfg.RedisKey, fc.Redis.Key)
	if fc.Redis.DB > 0 {
		cfg.RedisDB = fc.Redis.DB
	}

	setString(&cfg.OllamaBaseURL, fc.AI.Ollama.BaseURL)
	setString(&cfg.OllamaModel, fc.AI.Ollama.Model)
	setString(&cfg.OpenRouterBaseURL, fc.AI.OpenRouter.BaseURL)
	setString(&cfg.OpenRouterAPIKey, fc.AI.OpenRouter.APIKey)
	setString(&cfg.OpenRouterModel, fc.AI.OpenRouter.Model)
	setString(&cfg.OpenRouterSiteURL, fc.AI.OpenRouter.SiteURL)
	setString(&cfg.OpenRouterAppName, fc.AI.OpenRouter.AppName)

	if fc.Generate.RPS > 0 {
		cfg.GenerateRPS = fc.Generate.RPS
	}
	if fc.Generate.Burst > 0 {
		cfg.GenerateBurst = fc.Generate.Burst
	}

	setString(&cfg.MaxAttachment, fc.MaxAttachment)

	setString(&cfg.RabbitURL, fc.Rabbit.URL)
	setString(&cfg.RabbitQueue, fc.Rabbit.Queue)
	setString(&cfg.ArchiveDSN, fc.Rabbit.ArchiveDSN)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&cfg.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&cfg.Lang, os.Getenv("PLAYGROUND_LANG"))

	setString(&cfg.StorageBackend, strings.ToLower(os.Getenv("STORAGE_BACKEND")))
	setString(&cfg.DBDSN, os.Getenv("DB_DSN"))
	setString(&cfg.PebblePath, os.Getenv("PEBBLE_PATH"))
	setString(&cfg.PersistPolicy, strings.ToLower(os.Getenv("PERSIST_POLICY")))

	setString(&cfg.SettingsBackend, strings.ToLower(os.Getenv("SETTINGS_BACKEND")))
	setString(&cfg.SettingsSecret, os.Getenv("SETTINGS_SECRET"))
	setString(&cfg.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&cfg.RedisPassword, os.Getenv("REDIS_PASSWORD"))
	setString(&cfg.RedisKey, os.Getenv("REDIS_SETTINGS_KEY"))
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}

	setString(&cfg.OllamaBaseURL, os.Getenv("OLLAMA_BASE_URL"))
	setString(&cfg.OllamaModel, os.Getenv("OLLAMA_MODEL"))
	setString(&cfg.OpenRouterBaseURL, os.Getenv("OPENROUTER_BASE_URL"))
	setString(&cfg.OpenRouterAPIKey, os.Getenv("OPENROUTER_API_KEY"))
	setString(&cfg.OpenRouterModel, os.Getenv("OPENROUTER_MODEL"))
	setString(&cfg.OpenRouterSiteURL, os.Getenv("OPENROUTER_SITE_URL"))
	setString(&cfg.OpenRouterAppName, os.Getenv("OPENROUTER_APP_NAME"))

	if v := os.Getenv("GENERATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.GenerateRPS = f
		}
	}
	if v := os.Getenv("GENERATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GenerateBurst = n
		}
	}

	setString(&cfg.MaxAttachment, os.Getenv("MAX_ATTACHMENT_SIZE"))

	setString(&cfg.RabbitURL, os.Getenv("RABBIT_URL"))
	setString(&cfg.RabbitQueue, os.Getenv("RABBIT_QUEUE"))
	setString(&cfg.ArchiveDSN, os.Getenv("ARCHIVE_DSN"))
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
