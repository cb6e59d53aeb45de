package serverconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort      = 3333
	DefaultPath      = "/mcp"
	DefaultHeartbeat = 20 * time.Second
)

type Config struct {
	Host         string
	Port         int
	Path         string
	JSONResponse bool
	HistoryLimit int
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Streams      StreamConfig
	DNSRebinding DNSRebindingConfig
	Metrics      MetricsConfig
	Log          LogConfig
}

type AuthConfig struct {
	Token       string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

func (a AuthConfig) Enabled() bool {
	return a.Token != "" || a.JWTSecret != ""
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type StreamConfig struct {
	MaxGlobal    int
	MaxPerClient int
	Heartbeat    time.Duration
}

type DNSRebindingConfig struct {
	Enabled        bool
	AllowedHosts   []string
	AllowedOrigins []string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LogConfig struct {
	Level  string
	Format string
}

func Default() Config {
	return Config{
		Port:         DefaultPort,
		Path:         DefaultPath,
		HistoryLimit: 256,
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     30,
			Burst:   60,
		},
		Streams: StreamConfig{
			MaxGlobal:    128,
			MaxPerClient: 8,
			Heartbeat:    DefaultHeartbeat,
		},
		DNSRebinding: DNSRebindingConfig{Enabled: true},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Addr is the TCP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.Metrics.Enabled && c.Metrics.Path == c.Path {
		return errors.New("metrics path must differ from the mcp path")
	}
	return nil
}

// FileConfig is the YAML shape. Pointer fields distinguish "unset" from the
// zero value.
type FileConfig struct {
	Server struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		Path         string `yaml:"path"`
		JSONResponse *bool  `yaml:"jsonResponse"`
		HistoryLimit int    `yaml:"historyLimit"`
	} `yaml:"server"`
	Auth struct {
		Token       string `yaml:"token"`
		JWTSecret   string `yaml:"jwtSecret"`
		JWTIssuer   string `yaml:"jwtIssuer"`
		JWTAudience string `yaml:"jwtAudience"`
	} `yaml:"auth"`
	RateLimit struct {
		Enabled *bool   `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`
	} `yaml:"rateLimit"`
	Streams struct {
		MaxGlobal    int           `yaml:"maxGlobal"`
		MaxPerClient int           `yaml:"maxPerClient"`
		Heartbeat    time.Duration `yaml:"heartbeat"`
	} `yaml:"streams"`
	DNSRebinding struct {
		Enabled        *bool    `yaml:"enabled"`
		AllowedHosts   []string `yaml:"allowedHosts"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"dnsRebinding"`
	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load resolves defaults, then the YAML file, then environment overrides.
// An explicit path must exist; without one configs/config.yaml is optional.
func Load(configPath string) (Config, error) {
	cfg := Default()

	var data []byte
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		data = raw
	} else if raw, err := os.ReadFile("configs/config.yaml"); err == nil {
		data = raw
	}

	if len(data) > 0 {
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		Merge(&cfg, parsed)
	}
	ApplyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

func Merge(dst *Config, src FileConfig) {
	if src.Server.Host != "" {
		dst.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Port = src.Server.Port
	}
	if src.Server.Path != "" {
		dst.Path = src.Server.Path
	}
	if src.Server.JSONResponse != nil {
		dst.JSONResponse = *src.Server.JSONResponse
	}
	if src.Server.HistoryLimit != 0 {
		dst.HistoryLimit = src.Server.HistoryLimit
	}
	if src.Auth.Token != "" {
		dst.Auth.Token = src.Auth.Token
	}
	if src.Auth.JWTSecret != "" {
		dst.Auth.JWTSecret = src.Auth.JWTSecret
	}
	if src.Auth.JWTIssuer != "" {
		dst.Auth.JWTIssuer = src.Auth.JWTIssuer
	}
	if src.Auth.JWTAudience != "" {
		dst.Auth.JWTAudience = src.Auth.JWTAudience
	}
	if src.RateLimit.Enabled != nil {
		dst.RateLimit.Enabled = *src.RateLimit.Enabled
	}
	if src.RateLimit.RPS > 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst > 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.Streams.MaxGlobal > 0 {
		dst.Streams.MaxGlobal = src.Streams.MaxGlobal
	}
	if src.Streams.MaxPerClient > 0 {
		dst.Streams.MaxPerClient = src.Streams.MaxPerClient
	}
	if src.Streams.Heartbeat > 0 {
		dst.Streams.Heartbeat = src.Streams.Heartbeat
	}
	if src.DNSRebinding.Enabled != nil {
		dst.DNSRebinding.Enabled = *src.DNSRebinding.Enabled
	}
	if src.DNSRebinding.AllowedHosts != nil {
		dst.DNSRebinding.AllowedHosts = src.DNSRebinding.AllowedHosts
	}
	if src.DNSRebinding.AllowedOrigins != nil {
		dst.DNSRebinding.AllowedOrigins = src.DNSRebinding.AllowedOrigins
	}
	if src.Metrics.Enabled != nil {
		dst.Metrics.Enabled = *src.Metrics.Enabled
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

func ApplyEnvOverrides(cfg *Config) {
	// PORT is honoured for parity with common PaaS conventions; MCP_PORT wins.
	for _, name := range []string{"PORT", "MCP_PORT"} {
		if v, ok := intEnv(name); ok && v > 0 {
			cfg.Port = v
		}
	}
	if host := strings.TrimSpace(os.Getenv("MCP_HOST")); host != "" {
		cfg.Host = host
	}
	if token := strings.TrimSpace(os.Getenv("MCP_AUTH_TOKEN")); token != "" {
		cfg.Auth.Token = token
	}
	if secret := strings.TrimSpace(os.Getenv("MCP_JWT_SECRET")); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if v, ok := ParseBoolEnv("MCP_JSON_RESPONSE"); ok {
		cfg.JSONResponse = v
	}
	if v, ok := ParseBoolEnv("MCP_RATE_LIMIT_ENABLED"); ok {
		cfg.RateLimit.Enabled = v
	}
	if raw := strings.TrimSpace(os.Getenv("MCP_RATE_LIMIT_RPS")); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed > 0 {
			cfg.RateLimit.RPS = parsed
		}
	}
	if v, ok := intEnv("MCP_RATE_LIMIT_BURST"); ok && v > 0 {
		cfg.RateLimit.Burst = v
	}
	if v, ok := ParseBoolEnv("MCP_METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
}

func ParseBoolEnv(name string) (bool, bool) {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func intEnv(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
