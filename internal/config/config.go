// Package config loads runtime configuration for the ALPAR server and client.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent backends.
const (
	BackendAssistants = "assistants"
	BackendLocal      = "local"
	BackendNone       = "none"
)

// LLM providers for the local backend.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// DefaultInstructions is the persona used by the local backend when no
// instructions are configured.
const DefaultInstructions = `Eres ALPAR, un asistente virtual. Responde en el idioma del usuario usando Markdown.
Cuando muestres razonamiento, usa "Reasoning:" seguido de "Final Answer:".
Para sugerir una gráfica usa <chart type="line" title="..." description="..."></chart>.`

// Config holds all configuration values.
type Config struct {
	// HTTP server
	Port string `yaml:"port"`

	// External agent
	AgentBackend    string `yaml:"agent_backend"`
	AgentID         string `yaml:"agent_id"`
	AgentEndpoint   string `yaml:"agent_endpoint"`
	AgentAPIKey     string `yaml:"agent_api_key"`
	AgentAzure      bool   `yaml:"agent_azure"`
	AgentAPIVersion string `yaml:"agent_api_version"`

	// Local backend model
	LLMProvider       string `yaml:"llm_provider"`
	LLMModel          string `yaml:"llm_model"`
	OllamaHost        string `yaml:"ollama_host"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	AWSRegion         string `yaml:"aws_region"`
	AgentInstructions string `yaml:"agent_instructions"`

	// Turn orchestration
	PollInterval time.Duration `yaml:"poll_interval"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	MaxPolls     int           `yaml:"max_polls"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	// Terminal client
	ServerURL     string        `yaml:"server_url"`
	ClientTimeout time.Duration `yaml:"client_timeout"`

	// backendSet records an explicit agent_backend from env or file.
	backendSet bool
}

// Load reads configuration from environment variables, then applies the YAML
// file named by ALPAR_CONFIG if set.
func Load() (Config, error) {
	cfg := FromEnv()
	if path := os.Getenv("ALPAR_CONFIG"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults only.
func FromEnv() Config {
	backend := strings.ToLower(getEnv("ALPAR_AGENT_BACKEND", ""))

	cfg := Config{
		Port: getEnv("ALPAR_PORT", getEnv("PORT", "5000")),

		AgentBackend:    backend,
		AgentID:         getEnv("ALPAR_AGENT_ID", ""),
		AgentEndpoint:   getEnv("ALPAR_AGENT_ENDPOINT", ""),
		AgentAPIKey:     getEnv("ALPAR_AGENT_API_KEY", ""),
		AgentAzure:      getEnv("ALPAR_AGENT_AZURE", "false") == "true",
		AgentAPIVersion: getEnv("ALPAR_AGENT_API_VERSION", "2024-05-01-preview"),

		LLMProvider:       strings.ToLower(getEnv("ALPAR_LLM_PROVIDER", ProviderOllama)),
		LLMModel:          getEnv("ALPAR_LLM_MODEL", "llama3.2"),
		OllamaHost:        getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		AgentInstructions: getEnv("ALPAR_AGENT_INSTRUCTIONS", DefaultInstructions),

		PollInterval: getDuration("ALPAR_POLL_INTERVAL", time.Second),
		RunTimeout:   getDuration("ALPAR_RUN_TIMEOUT", 60*time.Second),
		MaxPolls:     getInt("ALPAR_MAX_POLLS", 60),

		LogFile:  getEnv("ALPAR_LOG_FILE", "/tmp/alpar.log"),
		LogLevel: ParseLogLevel(getEnv("ALPAR_LOG_LEVEL", "INFO")),

		ServerURL:     getEnv("ALPAR_SERVER_URL", "http://localhost:5000"),
		ClientTimeout: getDuration("ALPAR_CLIENT_TIMEOUT", 2*time.Minute),

		backendSet: backend != "",
	}
	cfg.defaultBackend()
	return cfg
}

// defaultBackend picks assistants when an API key is present and no backend
// was named explicitly, none otherwise.
func (c *Config) defaultBackend() {
	if c.backendSet {
		return
	}
	if c.AgentBackend == "" || c.AgentBackend == BackendNone {
		c.AgentBackend = BackendNone
		if c.AgentAPIKey != "" {
			c.AgentBackend = BackendAssistants
		}
	}
}

// fileConfig mirrors Config with pointer fields so that only keys present in
// the file override the environment.
type fileConfig struct {
	Port              *string `yaml:"port"`
	AgentBackend      *string `yaml:"agent_backend"`
	AgentID           *string `yaml:"agent_id"`
	AgentEndpoint     *string `yaml:"agent_endpoint"`
	AgentAPIKey       *string `yaml:"agent_api_key"`
	AgentAzure        *bool   `yaml:"agent_azure"`
	AgentAPIVersion   *string `yaml:"agent_api_version"`
	LLMProvider       *string `yaml:"llm_provider"`
	LLMModel          *string `yaml:"llm_model"`
	OllamaHost        *string `yaml:"ollama_host"`
	OpenAIAPIKey      *string `yaml:"openai_api_key"`
	AnthropicAPIKey   *string `yaml:"anthropic_api_key"`
	AWSRegion         *string `yaml:"aws_region"`
	AgentInstructions *string `yaml:"agent_instructions"`
	PollInterval      *string `yaml:"poll_interval"`
	RunTimeout        *string `yaml:"run_timeout"`
	MaxPolls          *int    `yaml:"max_polls"`
	LogFile           *string `yaml:"log_file"`
	LogLevel          *string `yaml:"log_level"`
	ServerURL         *string `yaml:"server_url"`
	ClientTimeout     *string `yaml:"client_timeout"`
}

// ApplyFile overlays the YAML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return c.ApplyYAML(data)
}

// ApplyYAML overlays YAML document data onto c.
func (c *Config) ApplyYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	setString(&c.Port, fc.Port)
	if fc.AgentBackend != nil && *fc.AgentBackend != "" {
		c.AgentBackend = *fc.AgentBackend
		c.backendSet = true
	}
	setString(&c.AgentID, fc.AgentID)
	setString(&c.AgentEndpoint, fc.AgentEndpoint)
	setString(&c.AgentAPIKey, fc.AgentAPIKey)
	if fc.AgentAzure != nil {
		c.AgentAzure = *fc.AgentAzure
	}
	setString(&c.AgentAPIVersion, fc.AgentAPIVersion)
	setString(&c.LLMProvider, fc.LLMProvider)
	setString(&c.LLMModel, fc.LLMModel)
	setString(&c.OllamaHost, fc.OllamaHost)
	setString(&c.OpenAIAPIKey, fc.OpenAIAPIKey)
	setString(&c.AnthropicAPIKey, fc.AnthropicAPIKey)
	setString(&c.AWSRegion, fc.AWSRegion)
	setString(&c.AgentInstructions, fc.AgentInstructions)
	setString(&c.LogFile, fc.LogFile)
	setString(&c.ServerURL, fc.ServerURL)
	if fc.MaxPolls != nil {
		c.MaxPolls = *fc.MaxPolls
	}
	if fc.LogLevel != nil {
		c.LogLevel = ParseLogLevel(*fc.LogLevel)
	}

	for _, d := range []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"poll_interval", fc.PollInterval, &c.PollInterval},
		{"run_timeout", fc.RunTimeout, &c.RunTimeout},
		{"client_timeout", fc.ClientTimeout, &c.ClientTimeout},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parsing config: %s: %w", d.key, err)
		}
		*d.dst = v
	}

	c.AgentBackend = strings.ToLower(c.AgentBackend)
	c.LLMProvider = strings.ToLower(c.LLMProvider)
	c.defaultBackend()
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
