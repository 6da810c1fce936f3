package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidLLMNames lists the built-in LLM provider names. Unknown names only
// produce a warning so third-party factories can be registered.
var ValidLLMNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultStorePath     = "feedback.jsonl"
	DefaultServiceName   = "feedbackd"
	DefaultTerminalDelay = 2 * time.Second
)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references from the environment, decodes
// the YAML in r, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFile
	}
	if cfg.Store.Backend == StoreFile && cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Providers.Extraction.Name == "" {
		cfg.Providers.Extraction = cfg.Providers.LLM
	}
	if cfg.Interview.TerminalDelay == 0 {
		cfg.Interview.TerminalDelay = DefaultTerminalDelay
	}
	if cfg.Interview.Completion == "" {
		cfg.Interview.Completion = CompletionPhraseTopic
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg is coherent and returns every problem joined.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	warnUnknownLLM("providers.llm", cfg.Providers.LLM.Name)
	warnUnknownLLM("providers.extraction", cfg.Providers.Extraction.Name)
	seen := map[string]int{}
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := fb.Name + "/" + fb.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of providers.fallbacks[%d]", prefix, key, prev))
		}
		seen[key] = i
		warnUnknownLLM(prefix, fb.Name)
	}

	if !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: file, postgres, memory", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}
	if cfg.Store.Backend == StoreMemory {
		slog.Warn("store.backend is memory; feedback is lost on restart")
	}

	if cfg.Notify.Stream != "" && cfg.Notify.RedisURL == "" {
		slog.Warn("notify.stream is set but notify.redis_url is empty; publishing is disabled")
	}

	if !cfg.Interview.Completion.IsValid() {
		errs = append(errs, fmt.Errorf("interview.completion %q is invalid; valid values: phrase_topic, stage, both", cfg.Interview.Completion))
	}
	if cfg.Interview.TerminalDelay < 0 {
		errs = append(errs, fmt.Errorf("interview.terminal_delay %v must not be negative", cfg.Interview.TerminalDelay))
	}
	if cfg.Interview.Luma.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("interview.luma.cache_ttl %v must not be negative", cfg.Interview.Luma.CacheTTL))
	}
	eventIDs := map[string]int{}
	for i, ev := range cfg.Interview.Events {
		prefix := fmt.Sprintf("interview.events[%d]", i)
		if ev.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := eventIDs[ev.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of interview.events[%d]", prefix, ev.ID, prev))
		} else {
			eventIDs[ev.ID] = i
		}
		if ev.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if ev.Date.IsZero() {
			errs = append(errs, fmt.Errorf("%s.date is required", prefix))
		}
	}

	if cfg.IDs.Node < 0 || cfg.IDs.Node > 1023 {
		errs = append(errs, fmt.Errorf("ids.node %d is out of range [0, 1023]", cfg.IDs.Node))
	}

	return errors.Join(errs...)
}

func warnUnknownLLM(field, name string) {
	if name == "" || slices.Contains(ValidLLMNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidLLMNames,
	)
}
