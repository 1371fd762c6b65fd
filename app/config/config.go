package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config.yaml"

type Config struct {
	Log        Log        `yaml:"log"`
	DB         DB         `yaml:"db"`
	Fanvue     Fanvue     `yaml:"fanvue"`
	Generation Generation `yaml:"generation"`
	Monitor    Monitor    `yaml:"monitor"`
	Fleet      Fleet      `yaml:"fleet"`
	State      State      `yaml:"state"`
	Status     Status     `yaml:"status"`
}

type Log struct {
	// Minimum level: debug, info, warn or error
	Level string `yaml:"level" example:"info" validate:"omitempty,oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type DB struct {
	// Postgres username
	User string `yaml:"user" example:"postgres" validate:"required"`
	// Postgres password
	Pass string `yaml:"pass" validate:"required"`
	// Postgres host
	Host string `yaml:"host"  example:"localhost:5432" validate:"required"`
	// Postgres database name
	Database string `yaml:"database" example:"postgres" validate:"required"`
	// Maximum pool size shared by all monitors
	MaxConns int32 `yaml:"max_conns" example:"10" validate:"gte=1"`
}

func (d DB) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s", d.User, d.Pass, d.Host, d.Database)
}

type Fanvue struct {
	// Fanvue API base url
	BaseURL string `yaml:"base_url" example:"https://api.fanvue.com" validate:"required,url"`
	// Value of the X-Fanvue-API-Version header
	APIVersion string `yaml:"api_version" example:"2025-06-26" validate:"required"`
	// HTTP timeout for a single request
	Timeout time.Duration `yaml:"timeout" example:"30s" validate:"gt=0"`
	// How many times a rate limited subscribers page is retried
	SubscriberPageRetries int `yaml:"subscriber_page_retries" example:"5" validate:"gte=1"`
	// How many attempts a rate limited messages request gets
	MessageAttempts int `yaml:"message_attempts" example:"3" validate:"gte=1"`
}

type Generation struct {
	// Model used when the account has none configured
	DefaultModel string `yaml:"default_model" example:"google/gemini-2.0-flash-001" validate:"required"`
	// Account model value that routes to the chat completion backend
	ChatModelSentinel string `yaml:"chat_model_sentinel" example:"stheno-nsfw" validate:"required"`
	// Reply sent when generation fails, {handle} is replaced with the subscriber handle
	FallbackReply string `yaml:"fallback_reply" validate:"required"`
	// Chat completion backend
	Chat ModelConfig `yaml:"chat"`
	// Job queue backend
	Queue QueueConfig `yaml:"queue"`
}

type ModelConfig struct {
	// OpenAI compatible base url
	BaseURL string `yaml:"base_url" example:"https://example.proxy.runpod.net/v1"`
	// OpenAI compatible token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX"`
	// Model served by the endpoint
	Model string `yaml:"model" example:"Sao10K/L3-8B-Stheno-v3.2"`
	// Completion token limit
	MaxTokens int `yaml:"max_tokens" example:"150" validate:"gte=1"`
	// Sampling temperature
	Temperature float32 `yaml:"temperature" example:"0.8" validate:"gte=0"`
	// HTTP timeout for a completion
	Timeout time.Duration `yaml:"timeout" example:"30s" validate:"gt=0"`
}

type QueueConfig struct {
	// Queue base url
	BaseURL string `yaml:"base_url" example:"https://queue.fal.run" validate:"required,url"`
	// Application path on the queue
	Endpoint string `yaml:"endpoint" example:"fal-ai/any-llm" validate:"required"`
	// Queue API key
	Token string `yaml:"token" example:"00000000-0000-0000-0000-000000000000:secret"`
	// Interval between status polls
	PollInterval time.Duration `yaml:"poll_interval" example:"2s" validate:"gt=0"`
	// Total time a job may take
	PollTimeout time.Duration `yaml:"poll_timeout" example:"60s" validate:"gt=0"`
	// HTTP timeout for a single queue request
	RequestTimeout time.Duration `yaml:"request_timeout" example:"30s" validate:"gt=0"`
}

type Monitor struct {
	// Sleep between polling cycles
	PollInterval time.Duration `yaml:"poll_interval" example:"45s" validate:"gt=0"`
	// Delay after each dispatched reply, 0 disables it
	ReplyDelay *time.Duration `yaml:"reply_delay" example:"1s" validate:"omitempty,gte=0"`
	// Messages fetched to detect unanswered messages
	DetectLimit int `yaml:"detect_limit" example:"20" validate:"gte=1"`
	// Messages fetched to build the reply context
	ContextLimit int `yaml:"context_limit" example:"50" validate:"gte=1"`
	// Turns rendered into the prompt context
	ContextTurns int `yaml:"context_turns" example:"20" validate:"gte=1"`
	// Consecutive failed cycles before the monitor stops
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" example:"5" validate:"gte=1"`
	// Cooldown after a rate limit signal
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" example:"60s" validate:"gte=0"`
	// Send attempts on rate limit
	SendAttempts int `yaml:"send_attempts" example:"3" validate:"gte=1"`
}

type Fleet struct {
	// Interval between account reconciliations
	ReconcileInterval time.Duration `yaml:"reconcile_interval" example:"5m" validate:"gt=0"`
	// How long shutdown waits for monitors to flush
	DrainTimeout time.Duration `yaml:"drain_timeout" example:"30s" validate:"gt=0"`
	// Restart monitors that stopped on consecutive failures at the next reconciliation
	RestartStopped *bool `yaml:"restart_stopped" example:"true"`
}

type State struct {
	// Storage backend: file or redis
	Backend string `yaml:"backend" example:"file" validate:"oneof=file redis"`
	// Directory of the file backend
	Dir string `yaml:"dir" example:"data/state"`
	// Seen message ids retained per subscriber
	MaxSeenIDs int `yaml:"max_seen_ids" example:"1000" validate:"gte=1"`
	// Redis backend
	Redis Redis `yaml:"redis"`
}

type Redis struct {
	// Redis address
	Addr string `yaml:"addr" example:"localhost:6379"`
	// Redis password
	Password string `yaml:"password"`
	// Redis database number
	DB int `yaml:"db" example:"0"`
	// Key prefix
	Prefix string `yaml:"prefix" example:"fanreply:state"`
}

type Status struct {
	// Listen address of the status server, empty disables it
	Listen string `yaml:"listen" example:":8080"`
}

// Load reads the config from $CONFIG_PATH or config.yaml in the working directory.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}

	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var result Config

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	if result.State.Backend == "redis" && result.State.Redis.Addr == "" {
		return nil, oops.Errorf("state.redis.addr is required for the redis backend")
	}

	return &result, nil
}

func applyDefaults(result *Config) {
	if result.Log.Level == "" {
		result.Log.Level = "info"
	}

	if result.DB.User == "" {
		result.DB.User = "postgres"
	}
	if result.DB.Pass == "" {
		result.DB.Pass = "postgres"
	}
	if result.DB.Host == "" {
		result.DB.Host = "localhost:5432"
	}
	if result.DB.Database == "" {
		result.DB.Database = "postgres"
	}
	if result.DB.MaxConns == 0 {
		result.DB.MaxConns = 10
	}

	if result.Fanvue.BaseURL == "" {
		result.Fanvue.BaseURL = "https://api.fanvue.com"
	}
	if result.Fanvue.APIVersion == "" {
		result.Fanvue.APIVersion = "2025-06-26"
	}
	if result.Fanvue.Timeout == 0 {
		result.Fanvue.Timeout = 30 * time.Second
	}
	if result.Fanvue.SubscriberPageRetries == 0 {
		result.Fanvue.SubscriberPageRetries = 5
	}
	if result.Fanvue.MessageAttempts == 0 {
		result.Fanvue.MessageAttempts = 3
	}

	gen := &result.Generation
	if gen.DefaultModel == "" {
		gen.DefaultModel = "google/gemini-2.0-flash-001"
	}
	if gen.ChatModelSentinel == "" {
		gen.ChatModelSentinel = "stheno-nsfw"
	}
	if gen.FallbackReply == "" {
		gen.FallbackReply = "Thank you for your message, {handle}! I appreciate you reaching out. How are you doing today? 💕"
	}
	if gen.Chat.MaxTokens == 0 {
		gen.Chat.MaxTokens = 150
	}
	if gen.Chat.Temperature == 0 {
		gen.Chat.Temperature = 0.8
	}
	if gen.Chat.Timeout == 0 {
		gen.Chat.Timeout = 30 * time.Second
	}
	if gen.Queue.BaseURL == "" {
		gen.Queue.BaseURL = "https://queue.fal.run"
	}
	if gen.Queue.Endpoint == "" {
		gen.Queue.Endpoint = "fal-ai/any-llm"
	}
	if gen.Queue.PollInterval == 0 {
		gen.Queue.PollInterval = 2 * time.Second
	}
	if gen.Queue.PollTimeout == 0 {
		gen.Queue.PollTimeout = 60 * time.Second
	}
	if gen.Queue.RequestTimeout == 0 {
		gen.Queue.RequestTimeout = 30 * time.Second
	}

	mon := &result.Monitor
	if mon.PollInterval == 0 {
		mon.PollInterval = 45 * time.Second
	}
	if mon.ReplyDelay == nil {
		delay := time.Second
		mon.ReplyDelay = &delay
	}
	if mon.DetectLimit == 0 {
		mon.DetectLimit = 20
	}
	if mon.ContextLimit == 0 {
		mon.ContextLimit = 50
	}
	if mon.ContextTurns == 0 {
		mon.ContextTurns = 20
	}
	if mon.MaxConsecutiveFailures == 0 {
		mon.MaxConsecutiveFailures = 5
	}
	if mon.RateLimitCooldown == 0 {
		mon.RateLimitCooldown = 60 * time.Second
	}
	if mon.SendAttempts == 0 {
		mon.SendAttempts = 3
	}

	if result.Fleet.ReconcileInterval == 0 {
		result.Fleet.ReconcileInterval = 5 * time.Minute
	}
	if result.Fleet.DrainTimeout == 0 {
		result.Fleet.DrainTimeout = 30 * time.Second
	}
	if result.Fleet.RestartStopped == nil {
		restart := true
		result.Fleet.RestartStopped = &restart
	}

	if result.State.Backend == "" {
		result.State.Backend = "file"
	}
	if result.State.Dir == "" {
		result.State.Dir = "data/state"
	}
	if result.State.MaxSeenIDs == 0 {
		result.State.MaxSeenIDs = 1000
	}
	if result.State.Redis.Prefix == "" {
		result.State.Redis.Prefix = "fanreply:state"
	}
}
