package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level" env:"FIREWATCH_LOG_LEVEL"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Fetch      FetchConfig      `json:"fetch" yaml:"fetch"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Upload     UploadConfig     `json:"upload" yaml:"upload"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
	Replay     ReplayConfig     `json:"replay" yaml:"replay"`
	Collector  CollectorConfig  `json:"collector" yaml:"collector"`
	API        APIConfig        `json:"api" yaml:"api"`
	Heartbeat  HeartbeatConfig  `json:"heartbeat" yaml:"heartbeat"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"FIREWATCH_STORAGE_DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"FIREWATCH_STORAGE_DSN"`
}

type FetchConfig struct {
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Attempts int           `json:"attempts" yaml:"attempts"`
	Backoff  time.Duration `json:"backoff" yaml:"backoff"`
}

type ClassifierConfig struct {
	Endpoint string        `json:"endpoint" yaml:"endpoint" env:"FIREWATCH_CLASSIFIER_ENDPOINT"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

type DetectionConfig struct {
	MinScore      float64       `json:"min_score" yaml:"min_score"`
	Margin        float64       `json:"margin" yaml:"margin"`
	LookbackStart time.Duration `json:"lookback_start" yaml:"lookback_start"`
	LookbackEnd   time.Duration `json:"lookback_end" yaml:"lookback_end"`
	DayBand       time.Duration `json:"day_band" yaml:"day_band"`
}

type SchedulerConfig struct {
	MinusMinutes  int           `json:"minus_minutes" yaml:"minus_minutes" env:"FIREWATCH_MINUS_MINUTES"`
	DrainItemCost time.Duration `json:"drain_item_cost" yaml:"drain_item_cost"`
}

type AlertsConfig struct {
	Cooldown   time.Duration `json:"cooldown" yaml:"cooldown"`
	StoreLimit int           `json:"store_limit" yaml:"store_limit"`
}

type UploadConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint" env:"FIREWATCH_MINIO_ENDPOINT"`
	AccessKey string `json:"access_key" yaml:"access_key" env:"FIREWATCH_MINIO_ACCESS_KEY"`
	SecretKey string `json:"secret_key" yaml:"secret_key" env:"FIREWATCH_MINIO_SECRET_KEY"`
	Secure    bool   `json:"secure" yaml:"secure"`
	Bucket    string `json:"bucket" yaml:"bucket"`
}

type NotifyConfig struct {
	Email EmailConfig      `json:"email" yaml:"email"`
	Kafka KafkaAlertConfig `json:"kafka" yaml:"kafka"`
}

type EmailConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Host     string   `json:"host" yaml:"host" env:"FIREWATCH_SMTP_HOST"`
	Port     int      `json:"port" yaml:"port" env:"FIREWATCH_SMTP_PORT"`
	From     string   `json:"from" yaml:"from" env:"FIREWATCH_SMTP_FROM"`
	Password string   `json:"password" yaml:"password" env:"FIREWATCH_SMTP_PASSWORD"`
	To       []string `json:"to" yaml:"to" env:"FIREWATCH_ALERT_RECIPIENTS" envSeparator:","`
}

type KafkaAlertConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" env:"FIREWATCH_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `json:"topic" yaml:"topic" env:"FIREWATCH_KAFKA_TOPIC"`
}

type ReplayConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type CollectorConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type HeartbeatConfig struct {
	File       string `json:"file" yaml:"file"`
	LogTimings bool   `json:"log_timings" yaml:"log_timings"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:firewatch.db?_pragma=busy_timeout(5000)"},
		Fetch: FetchConfig{
			Timeout:  20 * time.Second,
			Attempts: 4,
			Backoff:  2 * time.Second,
		},
		Classifier: ClassifierConfig{Endpoint: "http://localhost:8000", Timeout: 60 * time.Second},
		Detection: DetectionConfig{
			MinScore:      0.5,
			Margin:        0.1,
			LookbackStart: time.Duration(3.5 * 24 * float64(time.Hour)),
			LookbackEnd:   12 * time.Hour,
			DayBand:       1 * time.Hour,
		},
		Scheduler: SchedulerConfig{MinusMinutes: 0, DrainItemCost: 3 * time.Second},
		Alerts:    AlertsConfig{Cooldown: 12 * time.Hour, StoreLimit: 1000},
		Upload:    UploadConfig{Enabled: false, Bucket: "detections"},
		Notify: NotifyConfig{
			Email: EmailConfig{Enabled: false, Port: 587},
			Kafka: KafkaAlertConfig{Enabled: false, Topic: "firewatch-alerts"},
		},
		API: APIConfig{Enabled: true, Addr: ":8081"},
	}
}

// Load reads the config file (YAML or JSON), overlays defaults and then the
// FIREWATCH_* environment, and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config without a file: defaults plus environment overlay.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Fetch.Attempts <= 0 {
		cfg.Fetch.Attempts = 4
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = 20 * time.Second
	}
	if cfg.Fetch.Backoff <= 0 {
		cfg.Fetch.Backoff = 2 * time.Second
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
	if cfg.Detection.MinScore <= 0 {
		cfg.Detection.MinScore = 0.5
	}
	if cfg.Detection.Margin <= 0 {
		cfg.Detection.Margin = 0.1
	}
	if cfg.Detection.LookbackStart <= 0 {
		cfg.Detection.LookbackStart = time.Duration(3.5 * 24 * float64(time.Hour))
	}
	if cfg.Detection.LookbackEnd <= 0 {
		cfg.Detection.LookbackEnd = 12 * time.Hour
	}
	if cfg.Detection.DayBand <= 0 {
		cfg.Detection.DayBand = 1 * time.Hour
	}
	if cfg.Scheduler.DrainItemCost <= 0 {
		cfg.Scheduler.DrainItemCost = 3 * time.Second
	}
	if cfg.Alerts.Cooldown <= 0 {
		cfg.Alerts.Cooldown = 12 * time.Hour
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Notify.Email.Port <= 0 {
		cfg.Notify.Email.Port = 587
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", cfg.Storage.Driver)
	}
	if cfg.Classifier.Endpoint == "" {
		return errors.New("classifier.endpoint is required")
	}
	if cfg.Scheduler.MinusMinutes < 0 {
		return errors.New("scheduler.minus_minutes must be >= 0")
	}
	if cfg.Detection.LookbackStart <= cfg.Detection.LookbackEnd {
		return errors.New("detection.lookback_start must exceed detection.lookback_end")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Upload.Enabled {
		if cfg.Upload.Endpoint == "" || cfg.Upload.Bucket == "" {
			return errors.New("upload requires endpoint and bucket")
		}
	}
	if cfg.Notify.Email.Enabled {
		if cfg.Notify.Email.Host == "" || cfg.Notify.Email.From == "" || len(cfg.Notify.Email.To) == 0 {
			return errors.New("notify.email requires host, from, to")
		}
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers, topic")
		}
	}
	if cfg.Collector.Enabled && cfg.Collector.Dir == "" {
		return errors.New("collector.dir required when collector.enabled is true")
	}
	return nil
}
