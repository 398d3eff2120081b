package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Embedding EmbeddingConfig `json:"embedding"`
	Database  DatabaseConfig  `json:"database"`
	MCP       MCPConfig       `json:"mcp"`
	Alerts    AlertsConfig    `json:"alerts"`
	Tools     ToolsConfig     `json:"tools"`
	Dedup     DedupConfig     `json:"dedup"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	History   HistoryConfig   `json:"history"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// AnalysisConfig points at the semantic analysis provider. An empty
// endpoint leaves the system on heuristic fallbacks.
type AnalysisConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	CacheSize int64  `json:"cache_size"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api", "local", or "hash"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `json:"servers"`
}

type MCPServerConfig struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `json:"slack"`
	Discord DiscordAlertConfig `json:"discord"`
}

type SlackAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordAlertConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// ToolsConfig sets defaults applied to tools registered without explicit
// limits, remote tools included.
type ToolsConfig struct {
	DefaultRateCalls  int `json:"default_rate_calls"`
	DefaultRateWindow int `json:"default_rate_window_ms"`
	DefaultTimeout    int `json:"default_timeout_ms"`
	DefaultMaxRetries int `json:"default_max_retries"`
	DefaultBackoff    int `json:"default_backoff_ms"`
}

type DedupConfig struct {
	MergeCandidate float64 `json:"merge_candidate_threshold"`
	Merge          float64 `json:"merge_threshold"`
	Update         float64 `json:"update_threshold"`
	MaxCandidates  int     `json:"max_candidates"`
}

type LifecycleConfig struct {
	FirstCheckHours     int     `json:"first_check_hours"`
	RecheckDelta        float64 `json:"recheck_importance_delta"`
	ArchiveImportance   float64 `json:"archive_importance"`
	ArchiveAgeDays      int     `json:"archive_age_days"`
	ConsolidateScore    float64 `json:"consolidate_importance"`
	ConsolidateEvents   int     `json:"consolidate_evolutions"`
	PromoteAccesses     int     `json:"promote_accesses"`
	AccessWindowDays    int     `json:"access_window_days"`
	TickIntervalSeconds int     `json:"tick_interval_seconds"`
}

type HistoryConfig struct {
	Capacity int `json:"capacity"`
	MaxUsers int `json:"max_users"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// TickInterval returns the lifecycle scheduler interval with its default.
func (c *LifecycleConfig) TickInterval() time.Duration {
	if c.TickIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.TickIntervalSeconds) * time.Second
}
