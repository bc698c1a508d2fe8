package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DevBackendBase is the loopback default used only when DEV_MODE is set.
const DevBackendBase = "http://127.0.0.1:8000"

type Config struct {
	Port          string
	AllowedOrigin string
	// Backend base URL resolved from the env chain; empty means unconfigured
	// and the gateway refuses to start unless DevMode is on.
	BackendBase   string
	BackendAlt    string
	BackendAPIKey string
	DevMode       bool
	// PDF serving
	DocumentRoot string
	AllowedDirs  []string
	// Client-side stall timeout for a streamed answer
	StreamTimeout time.Duration
	// Development upstream (cmd/rag-upstream)
	OpenAIAPIKey string
	Model        string
	PromptFile   string
	UpstreamPort string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:          getEnvDefault("PORT", "8080"),
		AllowedOrigin: getEnvDefault("ALLOWED_ORIGIN", "*"),
		BackendAlt:    os.Getenv("BACKEND_ALT_URL"),
		BackendAPIKey: getEnvFirst("BACKEND_API_KEY", "NEXT_PUBLIC_BACKEND_API_KEY"),
		DevMode:       getEnvBoolDefault("DEV_MODE", false),
		DocumentRoot:  getEnvDefault("DOCUMENT_ROOT", "."),
		AllowedDirs:   getEnvListDefault("DOCUMENT_DIRS", []string{"data/documents", "www"}),
		StreamTimeout: getEnvDurationDefault("STREAM_TIMEOUT", 60*time.Second),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		Model:         getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		PromptFile:    getEnvDefault("PROMPT_FILE", "prompts/answerer.yaml"),
		UpstreamPort:  getEnvDefault("UPSTREAM_PORT", "8000"),
	}
	cfg.BackendBase = resolveBackendBase(cfg.DevMode)
	if cfg.BackendBase == "" {
		log.Println("warning: no backend base URL configured; set API_URL or enable DEV_MODE")
	}
	return cfg
}

// resolveBackendBase walks the env chain in priority order. Root-relative
// values are skipped because they cannot address a host; a trailing slash is
// stripped. An unconfigured base defaults to loopback only in dev mode.
func resolveBackendBase(devMode bool) string {
	for _, key := range []string{"API_URL", "NEXT_PUBLIC_BACKEND_URL", "NEXT_PUBLIC_API_BASE"} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" || strings.HasPrefix(v, "/") {
			continue
		}
		return strings.TrimRight(v, "/")
	}
	if devMode {
		return DevBackendBase
	}
	return ""
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFirst(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
		log.Printf("warning: ignoring invalid %s value %q", key, v)
	}
	return def
}
