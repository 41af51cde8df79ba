// Package config loads service configuration from autofi.yaml, AUTOFI_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "AUTOFI"
	redactedSecret = "****"
)

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Captions   CaptionsConfig   `mapstructure:"captions" yaml:"captions"`
	YouTube    YouTubeConfig    `mapstructure:"youtube" yaml:"youtube"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	TLSCert         string        `mapstructure:"tls_cert" yaml:"tls_cert"`
	TLSKey          string        `mapstructure:"tls_key" yaml:"tls_key"`
	TLSClientCA     string        `mapstructure:"tls_client_ca" yaml:"tls_client_ca"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	APIKeyHashes    []string      `mapstructure:"api_key_hashes" yaml:"api_key_hashes"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	DSN  string `mapstructure:"dsn" yaml:"dsn"`
	Path string `mapstructure:"path" yaml:"path"`
	Name string `mapstructure:"name" yaml:"name"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  bool   `mapstructure:"file" yaml:"file"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool   `mapstructure:"insecure" yaml:"insecure"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type PipelineConfig struct {
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	MetadataTimeout   time.Duration `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
	KeywordsTimeout   time.Duration `mapstructure:"keywords_timeout" yaml:"keywords_timeout"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" yaml:"generation_timeout"`
	ScoringTimeout    time.Duration `mapstructure:"scoring_timeout" yaml:"scoring_timeout"`
}

type TranscriptConfig struct {
	CaptionTimeout    time.Duration `mapstructure:"caption_timeout" yaml:"caption_timeout"`
	GenerativeTimeout time.Duration `mapstructure:"generative_timeout" yaml:"generative_timeout"`
	BatchPollInterval time.Duration `mapstructure:"batch_poll_interval" yaml:"batch_poll_interval"`
	BatchTimeout      time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	LanguageCode      string        `mapstructure:"language_code" yaml:"language_code"`
}

type LLMConfig struct {
	// Providers are tried in order
	Providers     []string      `mapstructure:"providers" yaml:"providers"`
	Attempts      int           `mapstructure:"attempts" yaml:"attempts"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key" yaml:"gemini_api_key"`
	GeminiModel   string        `mapstructure:"gemini_model" yaml:"gemini_model"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel   string        `mapstructure:"openai_model" yaml:"openai_model"`
}

type StorageConfig struct {
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	Region        string        `mapstructure:"region" yaml:"region"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	UsePathStyle  bool          `mapstructure:"use_path_style" yaml:"use_path_style"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry" yaml:"presign_expiry"`
}

type CaptionsConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

type YouTubeConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for AUTOFI_* variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("server.tls_client_ca", "")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.api_key_hashes", []string{})
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "autofi.db")
	v.SetDefault("database.name", "autofi")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.file", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.metadata_timeout", 15*time.Second)
	v.SetDefault("pipeline.keywords_timeout", 2*time.Minute)
	v.SetDefault("pipeline.generation_timeout", 3*time.Minute)
	v.SetDefault("pipeline.scoring_timeout", 2*time.Minute)

	v.SetDefault("transcript.caption_timeout", 30*time.Second)
	v.SetDefault("transcript.generative_timeout", 10*time.Minute)
	v.SetDefault("transcript.batch_poll_interval", 5*time.Second)
	v.SetDefault("transcript.batch_timeout", 10*time.Minute)
	v.SetDefault("transcript.language_code", "")

	v.SetDefault("llm.providers", []string{"gemini"})
	v.SetDefault("llm.attempts", 2)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.gemini_model", "gemini-1.5-flash")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai_model", "gpt-4o-mini")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.use_path_style", false)
	v.SetDefault("storage.presign_expiry", 15*time.Minute)

	v.SetDefault("captions.base_url", "")
	v.SetDefault("captions.api_key", "")

	v.SetDefault("youtube.api_key", "")
}

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration into v. An empty file searches autofi.yaml in
// the working directory, ~/.autofi and /etc/autofi; a missing file is not
// an error unless it was named explicitly.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("autofi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".autofi"))
		}
		v.AddConfigPath("/etc/autofi")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, errors.New("pipeline.concurrency must be at least 1"))
	}
	switch c.Database.Type {
	case "memory", "sqlite", "postgres", "postgresql", "mongo", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not supported", c.Database.Type))
	}
	for _, p := range c.LLM.Providers {
		switch p {
		case "gemini", "openai":
		default:
			errs = append(errs, fmt.Errorf("llm.providers: unknown provider %q", p))
		}
	}
	if c.LLM.Attempts < 1 {
		errs = append(errs, errors.New("llm.attempts must be at least 1"))
	}
	if c.Transcript.BatchPollInterval <= 0 || c.Transcript.BatchTimeout < c.Transcript.BatchPollInterval {
		errs = append(errs, errors.New("transcript.batch_timeout must be at least one batch_poll_interval"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: secrets are masked and passwords
// are stripped from connection strings
func (c *Config) Redacted() *Config {
	r := *c
	r.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	r.LLM.Providers = append([]string(nil), c.LLM.Providers...)
	r.Server.APIKeyHashes = make([]string, len(c.Server.APIKeyHashes))
	for i := range c.Server.APIKeyHashes {
		r.Server.APIKeyHashes[i] = redactedSecret
	}

	r.Database.DSN = redactDSN(c.Database.DSN)
	r.LLM.GeminiAPIKey = redact(c.LLM.GeminiAPIKey)
	r.LLM.OpenAIAPIKey = redact(c.LLM.OpenAIAPIKey)
	r.Captions.APIKey = redact(c.Captions.APIKey)
	r.YouTube.APIKey = redact(c.YouTube.APIKey)
	return &r
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if strings.Contains(dsn, "password=") {
			return redactedSecret
		}
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return u.String()
	}
	// url.UserPassword would percent-encode the mask
	user := url.User(u.User.Username()).String()
	u.User = nil
	prefix := u.Scheme + "://"
	return prefix + user + ":" + redactedSecret + "@" + strings.TrimPrefix(u.String(), prefix)
}
