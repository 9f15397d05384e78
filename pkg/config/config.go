// Package config holds the gateway configuration. Every setting can come
// from the environment (BASTION_ prefix), a YAML file, or code; environment
// wins over file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// StorageBackend selects the evidence store implementation.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StorageRedis    StorageBackend = "redis"
	StoragePostgres StorageBackend = "postgres"
)

// LLMProvider selects the backend for the optional deep evaluator.
type LLMProvider string

const (
	ProviderNone       LLMProvider = "none"
	ProviderOllama     LLMProvider = "ollama"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderGroq       LLMProvider = "groq"
)

// Config holds global settings for the Bastion gateway.
type Config struct {
	// === Core ===
	ListenAddr   string `yaml:"listen_addr" validate:"required"`
	EvaluatorID  string `yaml:"evaluator_id" validate:"required"`
	AuditLogPath string `yaml:"audit_log_path"`

	// === Storage ===
	Storage     StorageBackend `yaml:"storage" validate:"oneof=memory redis postgres"`
	RedisAddr   string         `yaml:"redis_addr" validate:"required_if=Storage redis"`
	PostgresURL string         `yaml:"postgres_url" validate:"required_if=Storage postgres"`

	// === Trust Engine ===
	TrustDecayRate     float64       `yaml:"trust_decay_rate" validate:"gt=0,lte=1"`
	TrustRecencyBias   float64       `yaml:"trust_recency_bias" validate:"gt=0,lte=1"`
	VerifiedMultiplier float64       `yaml:"verified_multiplier" validate:"gte=1"`
	MinimumEvidence    int           `yaml:"minimum_evidence" validate:"gte=1"`
	ProfileCacheTTL    time.Duration `yaml:"profile_cache_ttl"`
	DecisionCacheTTL   time.Duration `yaml:"decision_cache_ttl"`

	// === Deep Evaluator (optional) ===
	LLMProvider LLMProvider `yaml:"llm_provider" validate:"oneof=none ollama openrouter groq"`
	LLMAPIKey   string      `yaml:"llm_api_key"`
	LLMModel    string      `yaml:"llm_model"`
	LLMBaseURL  string      `yaml:"llm_base_url"`

	// === Optional Layers ===
	EnableONNX      bool   `yaml:"enable_onnx"`
	EnableSemantics bool   `yaml:"enable_semantics"`
	OllamaURL       string `yaml:"ollama_url"`
}

// NewDefaultConfig creates a Config from the environment with sensible
// defaults.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr:   GetEnv("BASTION_LISTEN_ADDR", ":8080"),
		EvaluatorID:  GetEnv("BASTION_EVALUATOR_ID", "bastion-core"),
		AuditLogPath: GetEnv("BASTION_AUDIT_LOG", "audit_events.jsonl"),

		Storage:     StorageBackend(GetEnv("BASTION_STORAGE", "memory")),
		RedisAddr:   GetEnv("BASTION_REDIS_ADDR", ""),
		PostgresURL: GetEnv("BASTION_POSTGRES_URL", ""),

		TrustDecayRate:     GetEnvFloat("BASTION_TRUST_DECAY_RATE", 0.5),
		TrustRecencyBias:   GetEnvFloat("BASTION_TRUST_RECENCY_BIAS", 0.7),
		VerifiedMultiplier: GetEnvFloat("BASTION_VERIFIED_MULTIPLIER", 1.5),
		MinimumEvidence:    GetEnvInt("BASTION_MINIMUM_EVIDENCE", 3),
		ProfileCacheTTL:    time.Duration(GetEnvInt("BASTION_PROFILE_CACHE_TTL_SECONDS", 300)) * time.Second,
		DecisionCacheTTL:   time.Duration(GetEnvInt("BASTION_DECISION_CACHE_TTL_SECONDS", 300)) * time.Second,

		LLMProvider: detectLLMProvider(),
		LLMAPIKey:   GetEnv("BASTION_LLM_API_KEY", GetEnv("GROQ_API_KEY", os.Getenv("OPENROUTER_API_KEY"))),
		LLMModel:    GetEnv("BASTION_LLM_MODEL", ""),
		LLMBaseURL:  GetEnv("BASTION_LLM_BASE_URL", ""),

		EnableONNX:      GetEnvBool("BASTION_ENABLE_ONNX", false),
		EnableSemantics: GetEnvBool("BASTION_ENABLE_SEMANTICS", false),
		OllamaURL:       GetEnv("BASTION_OLLAMA_URL", "http://localhost:11434"),
	}
}

// LoadFile overlays a YAML config file onto the defaults. Environment
// variables still win: they were already baked into the receiver by
// NewDefaultConfig, so only keys present in the file AND absent from the
// environment change.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.overlay(&fileCfg)
	return cfg, nil
}

// overlay copies non-zero file values into the config, skipping any key the
// environment set explicitly.
func (c *Config) overlay(file *Config) {
	setString := func(dst *string, v, envKey string) {
		if v != "" && os.Getenv(envKey) == "" {
			*dst = v
		}
	}
	setString(&c.ListenAddr, file.ListenAddr, "BASTION_LISTEN_ADDR")
	setString(&c.EvaluatorID, file.EvaluatorID, "BASTION_EVALUATOR_ID")
	setString(&c.AuditLogPath, file.AuditLogPath, "BASTION_AUDIT_LOG")
	setString((*string)(&c.Storage), string(file.Storage), "BASTION_STORAGE")
	setString(&c.RedisAddr, file.RedisAddr, "BASTION_REDIS_ADDR")
	setString(&c.PostgresURL, file.PostgresURL, "BASTION_POSTGRES_URL")
	setString((*string)(&c.LLMProvider), string(file.LLMProvider), "BASTION_LLM_PROVIDER")
	setString(&c.LLMAPIKey, file.LLMAPIKey, "BASTION_LLM_API_KEY")
	setString(&c.LLMModel, file.LLMModel, "BASTION_LLM_MODEL")
	setString(&c.LLMBaseURL, file.LLMBaseURL, "BASTION_LLM_BASE_URL")
	setString(&c.OllamaURL, file.OllamaURL, "BASTION_OLLAMA_URL")

	if file.TrustDecayRate != 0 && os.Getenv("BASTION_TRUST_DECAY_RATE") == "" {
		c.TrustDecayRate = file.TrustDecayRate
	}
	if file.TrustRecencyBias != 0 && os.Getenv("BASTION_TRUST_RECENCY_BIAS") == "" {
		c.TrustRecencyBias = file.TrustRecencyBias
	}
	if file.VerifiedMultiplier != 0 && os.Getenv("BASTION_VERIFIED_MULTIPLIER") == "" {
		c.VerifiedMultiplier = file.VerifiedMultiplier
	}
	if file.MinimumEvidence != 0 && os.Getenv("BASTION_MINIMUM_EVIDENCE") == "" {
		c.MinimumEvidence = file.MinimumEvidence
	}
	if file.ProfileCacheTTL != 0 && os.Getenv("BASTION_PROFILE_CACHE_TTL_SECONDS") == "" {
		c.ProfileCacheTTL = file.ProfileCacheTTL
	}
	if file.DecisionCacheTTL != 0 && os.Getenv("BASTION_DECISION_CACHE_TTL_SECONDS") == "" {
		c.DecisionCacheTTL = file.DecisionCacheTTL
	}
	if file.EnableONNX && os.Getenv("BASTION_ENABLE_ONNX") == "" {
		c.EnableONNX = true
	}
	if file.EnableSemantics && os.Getenv("BASTION_ENABLE_SEMANTICS") == "" {
		c.EnableSemantics = true
	}
}

// NewHighSecurityConfig tightens thresholds at the cost of false positives.
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.MinimumEvidence = 5
	cfg.ProfileCacheTTL = time.Minute
	cfg.DecisionCacheTTL = time.Minute
	return cfg
}

// NewLocalConfig is for air-gapped operation: no outbound API calls.
func NewLocalConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.LLMProvider = ProviderOllama
	cfg.LLMBaseURL = "http://localhost:11434/v1"
	cfg.LLMAPIKey = ""
	return cfg
}

func detectLLMProvider() LLMProvider {
	if p := os.Getenv("BASTION_LLM_PROVIDER"); p != "" {
		return LLMProvider(p)
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return ProviderGroq
	}
	if os.Getenv("OPENROUTER_API_KEY") != "" || os.Getenv("BASTION_LLM_API_KEY") != "" {
		return ProviderOpenRouter
	}
	return ProviderNone
}

// Validate runs the struct validation rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			fields := make([]string, len(errs))
			for i, fe := range errs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MustValidate exits fatally if the configuration is invalid. Call at
// startup before serving.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
