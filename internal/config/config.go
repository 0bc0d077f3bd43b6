// Package config handles loading and validating the audipro configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the audipro client and server.
type Config struct {
	Client      ClientConfig      `mapstructure:"client" yaml:"client"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Transports  TransportsConfig  `mapstructure:"transports" yaml:"transports"`
	Interpreter InterpreterConfig `mapstructure:"interpreter" yaml:"interpreter"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"` // base URL of the chat server
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Mode     string        `mapstructure:"mode" yaml:"mode"` // "text" or "audio"
	Capture  CaptureConfig `mapstructure:"capture" yaml:"capture"`
}

// CaptureConfig selects the audio input device.
type CaptureConfig struct {
	Backend     string   `mapstructure:"backend" yaml:"backend"` // "command" or "file"
	Command     []string `mapstructure:"command" yaml:"command"` // recorder argv, writes audio to stdout
	File        string   `mapstructure:"file" yaml:"file"`
	ChunkSize   int      `mapstructure:"chunk_size" yaml:"chunk_size"`
	ContentType string   `mapstructure:"content_type" yaml:"content_type"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port" yaml:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
	GRPC GRPCConfig `mapstructure:"grpc" yaml:"grpc"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// InterpreterConfig selects and configures the reply backend.
type InterpreterConfig struct {
	Backend      string       `mapstructure:"backend" yaml:"backend"` // "echo", "openai" or "local"
	SystemPrompt string       `mapstructure:"system_prompt" yaml:"system_prompt"`
	OpenAI       OpenAIConfig `mapstructure:"openai" yaml:"openai"`
	Local        LocalConfig  `mapstructure:"local" yaml:"local"`
}

// OpenAIConfig holds settings for any OpenAI-compatible API (OpenAI, Groq, ...).
type OpenAIConfig struct {
	APIKey             string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	CompletionModel    string        `mapstructure:"completion_model" yaml:"completion_model"`
	TranscriptionModel string        `mapstructure:"transcription_model" yaml:"transcription_model"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LocalConfig holds self-hosted model settings.
type LocalConfig struct {
	WhisperEndpoint string        `mapstructure:"whisper_endpoint" yaml:"whisper_endpoint"`
	WhisperType     string        `mapstructure:"whisper_type" yaml:"whisper_type"` // "openai" (default) or "asr" (ahmetoner/whisper-asr-webservice)
	LLMEndpoint     string        `mapstructure:"llm_endpoint" yaml:"llm_endpoint"`
	LLMModel        string        `mapstructure:"llm_model" yaml:"llm_model"` // Ollama model name (e.g., "llama3.2:1b")
	VADFilter       bool          `mapstructure:"vad_filter" yaml:"vad_filter"`
	Language        string        `mapstructure:"language" yaml:"language"` // ISO-639-1 default language (e.g., "en", "fr")
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json, text
}

// DefaultSystemPrompt is the persona used when none is configured.
const DefaultSystemPrompt = "You are AudiPro, a friendly and knowledgeable audio assistant. " +
	"Answer questions about sound, recording and listening gear clearly and briefly."

// dotenvFiles are loaded into the environment before the config is read.
// Missing files are ignored.
var dotenvFiles = []string{".env"}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./audipro.yaml, ./configs/audipro.yaml, /etc/audipro/audipro.yaml.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper(configFile)

	// Read config file (optional: env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment variables")
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return decode(v)
}

// Watch reloads the config file whenever it changes on disk and passes each
// successfully decoded result to fn. It returns an error when there is no
// config file to watch.
func Watch(configFile string, fn func(*Config)) error {
	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watching config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		slog.Info("config reloaded", "path", e.Name, "op", e.Op.String())
		fn(cfg)
	})
	v.WatchConfig()

	slog.Debug("watching config file", "path", v.ConfigFileUsed())
	return nil
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()

	// Defaults
	v.SetDefault("client.endpoint", "http://localhost:5000")
	v.SetDefault("client.timeout", 60*time.Second)
	v.SetDefault("client.mode", "text")
	v.SetDefault("client.capture.backend", "command")
	v.SetDefault("client.capture.command", []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav"})
	v.SetDefault("client.capture.chunk_size", 4096)
	v.SetDefault("client.capture.content_type", "audio/wav")
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 5000)
	v.SetDefault("transports.http.allowed_origins", []string{"*"})
	v.SetDefault("transports.http.max_upload_bytes", 25<<20)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("interpreter.backend", "echo")
	v.SetDefault("interpreter.system_prompt", DefaultSystemPrompt)
	v.SetDefault("interpreter.openai.api_key", "${GROQ_API_KEY}")
	v.SetDefault("interpreter.openai.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("interpreter.openai.completion_model", "llama-3.1-8b-instant")
	v.SetDefault("interpreter.openai.transcription_model", "whisper-large-v3")
	v.SetDefault("interpreter.openai.timeout", 30*time.Second)
	v.SetDefault("interpreter.local.whisper_endpoint", "http://localhost:8000/v1/audio/transcriptions")
	v.SetDefault("interpreter.local.whisper_type", "openai")
	v.SetDefault("interpreter.local.llm_endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("interpreter.local.llm_model", "llama3")
	v.SetDefault("interpreter.local.vad_filter", false)
	v.SetDefault("interpreter.local.language", "")
	v.SetDefault("interpreter.local.max_retries", 3)
	v.SetDefault("interpreter.local.retry_interval", 500*time.Millisecond)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("audipro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/audipro")
	}

	// Environment variables: AUDIPRO_CLIENT_ENDPOINT, AUDIPRO_INTERPRETER_BACKEND, etc.
	v.SetEnvPrefix("AUDIPRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${GROQ_API_KEY}")
	cfg.Interpreter.OpenAI.APIKey = resolveEnvRef(cfg.Interpreter.OpenAI.APIKey)

	return &cfg, nil
}

func loadDotEnv() error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
// An unset variable resolves to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

// Validate reports the first setting either binary cannot start with.
func (c *Config) Validate() error {
	if err := c.ValidateClient(); err != nil {
		return err
	}
	return c.ValidateServer()
}

// ValidateClient checks the settings used by the terminal client.
func (c *Config) ValidateClient() error {
	if c.Client.Endpoint == "" {
		return errors.New("client.endpoint: must not be empty")
	}
	switch c.Client.Mode {
	case "text", "audio":
	default:
		return fmt.Errorf("client.mode: unknown mode %q", c.Client.Mode)
	}
	switch c.Client.Capture.Backend {
	case "command":
		if len(c.Client.Capture.Command) == 0 {
			return errors.New("client.capture.command: must not be empty")
		}
	case "file":
	default:
		return fmt.Errorf("client.capture.backend: unknown backend %q", c.Client.Capture.Backend)
	}
	return nil
}

// ValidateServer checks the settings used by the chat server.
func (c *Config) ValidateServer() error {
	switch c.Interpreter.Backend {
	case "echo", "openai", "local":
	default:
		return fmt.Errorf("interpreter.backend: unknown backend %q", c.Interpreter.Backend)
	}
	if c.Interpreter.Backend == "openai" && c.Interpreter.OpenAI.APIKey == "" {
		return errors.New("interpreter.openai.api_key: must be set (e.g. GROQ_API_KEY)")
	}
	if !c.Transports.HTTP.Enabled && !c.Transports.GRPC.Enabled {
		return errors.New("transports: enable at least one of http or grpc")
	}
	return nil
}

const redacted = "<redacted>"

// Dump writes cfg as YAML with secrets redacted.
func Dump(w io.Writer, cfg *Config) error {
	out := *cfg
	if out.Interpreter.OpenAI.APIKey != "" {
		out.Interpreter.OpenAI.APIKey = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig, w io.Writer) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}
