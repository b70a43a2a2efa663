package ssetransport

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds the settings that can be supplied through the environment.
type Config struct {
	// BaseURL of the MCP server. ENV: MCP_SSE_BASE_URL
	BaseURL string `env:"MCP_SSE_BASE_URL"`
	// SSEPath appended to BaseURL for the event stream. ENV: MCP_SSE_PATH
	SSEPath string `env:"MCP_SSE_PATH,default=/sse"`
	// ConnectTimeout of the default HTTP client. ENV: MCP_SSE_CONNECT_TIMEOUT
	ConnectTimeout time.Duration `env:"MCP_SSE_CONNECT_TIMEOUT,default=10s"`
	// EndpointTimeout bounds how long Send waits for the endpoint event.
	// ENV: MCP_SSE_ENDPOINT_TIMEOUT
	EndpointTimeout time.Duration `env:"MCP_SSE_ENDPOINT_TIMEOUT,default=10s"`
	// JournalRedisAddr enables a Redis journal when set. ENV: MCP_SSE_JOURNAL_REDIS_ADDR
	JournalRedisAddr string `env:"MCP_SSE_JOURNAL_REDIS_ADDR"`
	// JournalKeyPrefix for journal keys. ENV: MCP_SSE_JOURNAL_KEY_PREFIX
	JournalKeyPrefix string `env:"MCP_SSE_JOURNAL_KEY_PREFIX,default=mcp:journal:"`
}

// ConfigFromEnv reads Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode config from environment: %w", err)
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("MCP_SSE_BASE_URL is required")
	}
	return cfg, nil
}

// NewFromConfig builds a Transport from cfg. Options are applied after the
// values taken from cfg and take precedence over them.
func NewFromConfig(cfg Config, opts ...Option) (*Transport, error) {
	var base []Option
	if cfg.SSEPath != "" {
		base = append(base, WithSSEPath(cfg.SSEPath))
	}
	if cfg.ConnectTimeout > 0 {
		base = append(base, WithConnectTimeout(cfg.ConnectTimeout))
	}
	if cfg.EndpointTimeout > 0 {
		base = append(base, WithEndpointTimeout(cfg.EndpointTimeout))
	}
	return New(cfg.BaseURL, append(base, opts...)...)
}
