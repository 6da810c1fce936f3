// Package config provides the configuration schema, loader, hot-reload
// watcher and LLM provider registry for feedbackd.
package config

import (
	"time"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects where feedback records are persisted.
type StoreBackend string

const (
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
	StoreMemory   StoreBackend = "memory"
)

// IsValid reports whether b is a recognised backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreFile, StorePostgres, StoreMemory:
		return true
	}
	return false
}

// CompletionStrategy selects the detector that decides when a conversation
// is finished.
type CompletionStrategy string

const (
	// CompletionPhraseTopic requires the closing phrase and all five topics.
	CompletionPhraseTopic CompletionStrategy = "phrase_topic"

	// CompletionStage fires once the user message count passes every stage.
	CompletionStage CompletionStrategy = "stage"

	// CompletionBoth requires both strategies to agree.
	CompletionBoth CompletionStrategy = "both"
)

// IsValid reports whether s is a recognised strategy.
func (s CompletionStrategy) IsValid() bool {
	switch s {
	case CompletionPhraseTopic, CompletionStage, CompletionBoth:
		return true
	}
	return false
}

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Store         StoreConfig         `yaml:"store"`
	Notify        NotifyConfig        `yaml:"notify"`
	Interview     InterviewConfig     `yaml:"interview"`
	Observability ObservabilityConfig `yaml:"observability"`
	IDs           IDsConfig           `yaml:"ids"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty disables CORS
	// headers.
	CORSOrigin string `yaml:"cors_origin"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the LLM backends.
type ProvidersConfig struct {
	// LLM generates assistant replies and empathy prefaces.
	LLM ProviderEntry `yaml:"llm"`

	// Extraction turns a finished transcript into structured feedback. When
	// its name is empty the LLM entry is reused.
	Extraction ProviderEntry `yaml:"extraction"`

	// Fallbacks are tried in order when the reply provider fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is looked up in the [Registry] by Name.
type ProviderEntry struct {
	// Name selects the registered implementation, e.g. "openai" or "anthropic".
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model, e.g. "gpt-4o".
	Model string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// StoreConfig selects and configures the feedback store.
type StoreConfig struct {
	// Backend defaults to "file".
	Backend StoreBackend `yaml:"backend"`

	// Path is the JSONL file of the file backend. Default "feedback.jsonl".
	Path string `yaml:"path"`

	// PostgresDSN is required by the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// NotifyConfig configures the Redis stream that receives every persisted
// record. An empty RedisURL disables publishing.
type NotifyConfig struct {
	RedisURL string `yaml:"redis_url"`

	// Stream defaults to "feedback:saved".
	Stream string `yaml:"stream"`
}

// InterviewConfig shapes the assistant and the completion rules.
type InterviewConfig struct {
	AssistantName string `yaml:"assistant_name"`
	Organization  string `yaml:"organization"`
	CourseLink    string `yaml:"course_link"`
	FAQ           string `yaml:"faq"`

	// Keyterms are corrected in user speech before merging.
	Keyterms []string `yaml:"keyterms"`

	// TerminalDelay is the pause between a successful save and the session
	// reporting completion. Default 2s.
	TerminalDelay time.Duration `yaml:"terminal_delay"`

	// Completion defaults to "phrase_topic".
	Completion CompletionStrategy `yaml:"completion"`

	// Events lists the events served when the store has no events table
	// and no Luma calendar is configured.
	Events []types.Event `yaml:"events"`

	// Luma, when its APIKey is set, serves the event list from a Luma
	// calendar instead of the store or Events.
	Luma LumaConfig `yaml:"luma"`
}

// LumaConfig points the event list at a Luma calendar.
type LumaConfig struct {
	APIKey string `yaml:"api_key"`

	// BaseURL defaults to https://api.lu.ma.
	BaseURL string `yaml:"base_url"`

	// CacheTTL defaults to 5m.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ObservabilityConfig configures metrics and error reporting.
type ObservabilityConfig struct {
	// ServiceName is the OTel resource service name. Default "feedbackd".
	ServiceName string `yaml:"service_name"`

	// SentryDSN enables error reporting when set.
	SentryDSN string `yaml:"sentry_dsn"`

	Environment string `yaml:"environment"`
}

// IDsConfig configures the snowflake id generator of the file store.
type IDsConfig struct {
	// Node must be unique per running instance, 0..1023.
	Node int64 `yaml:"node"`
}
