// Package config loads the minimal configuration Memori's façade (C8)
// needs. Config *loading* is, per spec §1, an external collaborator
// specified only at its interface: the fields below and the environment
// variables in spec §6.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ProcessingMode selects how Memori ingests a recorded conversation
// (spec §4.7 Mode selection).
type ProcessingMode string

const (
	ModeAutomatic ProcessingMode = "automatic"
	ModeConscious ProcessingMode = "conscious"
	ModeManual    ProcessingMode = "manual"
	ModeNone      ProcessingMode = "none"
)

// MinImportance gates search results (spec §4.5 minImportance).
type MinImportance string

const (
	ImportanceAll      MinImportance = "all"
	ImportanceLow      MinImportance = "low"
	ImportanceMedium   MinImportance = "medium"
	ImportanceHigh     MinImportance = "high"
	ImportanceCritical MinImportance = "critical"
)

// Config is the minimal user-facing configuration consumed by the Unified
// Façade (C8). Provider/model/baseURL/namespace/mode are all optional;
// C8 fills in sensible defaults (spec §4.8).
type Config struct {
	DatabaseURL string
	VectorDSN   string // optional embeddings side-channel (spec §1 Non-goals)
	RedisAddr   string // optional Redis address; not read by Load or the façade, so the request cache stays in-process

	APIKey   string
	Provider string // "openai" | "anthropic" | "ollama-local"; auto-detected if empty
	Model    string
	BaseURL  string

	Namespace string
	Mode      ProcessingMode

	EnableChatMemory      bool
	EnableEmbeddingMemory bool
	MinImportance         MinImportance

	BackgroundUpdateIntervalMS int

	LogPath  string
	LogLevel string
}

// Load reads the spec §6 environment-variable fallbacks, optionally from a
// .env file, into a fresh Config; fields whose variables are unset keep
// their defaults.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Mode:          ModeAutomatic,
		MinImportance: ImportanceAll,
	}

	cfg.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"))
	cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.Model = os.Getenv("OPENAI_MODEL")

	cfg.EnableChatMemory = envBool("MEMORI_ENABLE_CHAT_MEMORY", true)
	cfg.EnableEmbeddingMemory = envBool("MEMORI_ENABLE_EMBEDDING_MEMORY", false)

	switch strings.ToLower(strings.TrimSpace(os.Getenv("MEMORI_PROCESSING_MODE"))) {
	case "auto":
		cfg.Mode = ModeAutomatic
	case "conscious":
		cfg.Mode = ModeConscious
	case "none":
		cfg.Mode = ModeNone
	}

	switch MinImportance(strings.ToLower(strings.TrimSpace(os.Getenv("MEMORI_MIN_IMPORTANCE")))) {
	case ImportanceLow, ImportanceMedium, ImportanceHigh, ImportanceCritical, ImportanceAll:
		cfg.MinImportance = MinImportance(strings.ToLower(os.Getenv("MEMORI_MIN_IMPORTANCE")))
	}

	cfg.LogPath = os.Getenv("MEMORI_LOG_PATH")
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")

	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
