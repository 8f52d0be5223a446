package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Glassboard console engine.
type Config struct {
	Port      int
	Version   string
	Backend   BackendConfig
	Authoring AuthoringConfig
	Render    RenderConfig
	Notify    NotifyConfig
	Telemetry TelemetryConfig
}

// BackendConfig points at the data backend that serves widget data
// sources and the definitions catalog.
type BackendConfig struct {
	// BaseURL is the data backend root, e.g. "http://localhost:9000".
	BaseURL string
	// RuntimeNamespace is the primary namespace relative endpoints are
	// rewritten under.
	RuntimeNamespace string
	// LegacyNamespace is the older namespace still served by some
	// backends; used for alias rewrites and 404 fallback.
	LegacyNamespace string
	// CatalogPath lists registered definitions.
	CatalogPath string
	// ExecutePath invokes a definition by id (last-resort fallback).
	// The %s placeholder receives the definition id.
	ExecutePath string
	// CatalogRefresh is the background catalog refresh interval.
	CatalogRefresh time.Duration
}

// AuthoringConfig tunes the draft ingestion side.
type AuthoringConfig struct {
	// SessionTTL is how long an untouched authoring session survives
	// before the janitor archives and purges it.
	SessionTTL time.Duration
	// JanitorInterval is how often the retention sweep runs.
	JanitorInterval time.Duration
}

// RenderConfig tunes the render dispatcher.
type RenderConfig struct {
	// GridRowCap is the display cap: grid rows beyond it are truncated.
	GridRowCap int
}

// NotifyConfig configures lifecycle webhooks. Empty URL disables them.
type NotifyConfig struct {
	WebhookURL string
	Secret     string
	// Events filters which event types are sent; empty means all.
	Events []string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("GLASSBOARD_PORT", 8080),
		Version: envStr("GLASSBOARD_VERSION", "0.4.0"),
		Backend: BackendConfig{
			BaseURL:          envStr("GLASSBOARD_BACKEND_URL", "http://localhost:9000"),
			RuntimeNamespace: envStr("GLASSBOARD_RUNTIME_NAMESPACE", "/api/runtime"),
			LegacyNamespace:  envStr("GLASSBOARD_LEGACY_NAMESPACE", "/api/services"),
			CatalogPath:      envStr("GLASSBOARD_CATALOG_PATH", "/api/definitions"),
			ExecutePath:      envStr("GLASSBOARD_EXECUTE_PATH", "/api/definitions/%s/execute"),
			CatalogRefresh:   envDur("GLASSBOARD_CATALOG_REFRESH_INTERVAL", 5*time.Minute),
		},
		Authoring: AuthoringConfig{
			SessionTTL:      envDur("GLASSBOARD_SESSION_TTL", 24*time.Hour),
			JanitorInterval: envDur("GLASSBOARD_JANITOR_INTERVAL", time.Hour),
		},
		Render: RenderConfig{
			GridRowCap: envInt("GLASSBOARD_GRID_ROW_CAP", 50),
		},
		Notify: NotifyConfig{
			WebhookURL: envStr("GLASSBOARD_WEBHOOK_URL", ""),
			Secret:     envStr("GLASSBOARD_WEBHOOK_SECRET", ""),
			Events:     envList("GLASSBOARD_WEBHOOK_EVENTS"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "glassboard-console-engine"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
