package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/auraspark/companion/backend/internal/platform"
	"github.com/auraspark/companion/backend/internal/service/detection"
	"github.com/auraspark/companion/backend/internal/service/session"
)

// Config aggregates the settings for the whole gateway.
type Config struct {
	Server   ServerConfig
	Platform PlatformConfig
	Engine   EngineConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	plat, err := loadPlatformConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Platform: plat, Engine: engine}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// PlatformConfig describes the companion platform API connection.
type PlatformConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ClientConfig converts to the platform client's own config type.
func (c PlatformConfig) ClientConfig() platform.Config {
	return platform.Config{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
	}
}

func loadPlatformConfig() (PlatformConfig, error) {
	baseURL := strings.TrimSpace(os.Getenv("PLATFORM_BASE_URL"))
	if baseURL == "" {
		return PlatformConfig{}, fmt.Errorf("PLATFORM_BASE_URL is required")
	}

	timeout, err := parseOptionalIntEnv("PLATFORM_TIMEOUT")
	if err != nil {
		return PlatformConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return PlatformConfig{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(os.Getenv("PLATFORM_API_KEY")),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// EngineConfig describes conversation engine defaults.
type EngineConfig struct {
	SuggestDefault  bool
	DetectionRounds int
	FastVideo       bool
	UseAvatar       bool
}

// SessionOptions converts to the session service's option set.
func (c EngineConfig) SessionOptions() session.Options {
	return session.Options{
		SuggestDefault:  c.SuggestDefault,
		DetectionRounds: c.DetectionRounds,
		FastVideo:       c.FastVideo,
		UseAvatar:       c.UseAvatar,
	}
}

func loadEngineConfig() (EngineConfig, error) {
	suggestDefault, err := parseBoolEnv("ENGINE_SUGGEST_DEFAULT", false)
	if err != nil {
		return EngineConfig{}, err
	}

	fastVideo, err := parseBoolEnv("ENGINE_FAST_VIDEO", true)
	if err != nil {
		return EngineConfig{}, err
	}

	useAvatar, err := parseBoolEnv("ENGINE_USE_AVATAR", true)
	if err != nil {
		return EngineConfig{}, err
	}

	rounds := detection.DefaultMaxRounds
	if override, err := parseOptionalIntEnv("ENGINE_DETECTION_ROUNDS"); err != nil {
		return EngineConfig{}, err
	} else if override != nil {
		if *override < 1 {
			rounds = 1
		} else {
			rounds = *override
		}
	}

	return EngineConfig{
		SuggestDefault:  suggestDefault,
		DetectionRounds: rounds,
		FastVideo:       fastVideo,
		UseAvatar:       useAvatar,
	}, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
