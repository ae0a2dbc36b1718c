// Package config loads the gateway settings file and applies environment
// overrides for deployment-specific values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gamecloud/gateway/internal/routing"
	"github.com/rs/zerolog"
)

// Config is the full settings tree for the gateway.
type Config struct {
	Logging        Logging        `json:"Logging"`
	AllowedHosts   string         `json:"AllowedHosts"`
	LoggerSettings LoggerSettings `json:"LoggerSettings"`
	RabbitMQ       RabbitMQ       `json:"RabbitMQ"`
	AppSettings    AppSettings    `json:"AppSettings"`
	GatewayRouting routing.Config `json:"GatewayRouting"`

	// Not part of the settings file; resolved from the environment.
	Environment string    `json:"-"`
	Listen      Listen    `json:"-"`
	Telemetry   Telemetry `json:"-"`
	Version     string    `json:"-"`
}

type Logging struct {
	LogLevel map[string]string `json:"LogLevel"`
}

// Level maps the configured default log level onto a zerolog level.
func (l Logging) Level() zerolog.Level {
	switch l.LogLevel["Default"] {
	case "Trace":
		return zerolog.TraceLevel
	case "Debug":
		return zerolog.DebugLevel
	case "Warning":
		return zerolog.WarnLevel
	case "Error":
		return zerolog.ErrorLevel
	case "Critical":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

type LoggerSettings struct {
	FilePath string `json:"FilePath"`
	SeqPath  string `json:"SeqPath"`
	SeqKey   string `json:"SeqKey"`
}

type RabbitMQ struct {
	Hostname string `json:"Hostname"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Timeout  int    `json:"Timeout"` // seconds
}

// DialTimeout returns the configured connect timeout, defaulting to 30 s.
func (r RabbitMQ) DialTimeout() time.Duration {
	if r.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.Timeout) * time.Second
}

type AppSettings struct {
	Keycloak       Keycloak `json:"Keycloak"`
	AllowedOrigins []string `json:"AllowedOrigins"`
}

type Keycloak struct {
	Authority            string `json:"Authority"`
	Audience             string `json:"Audience"`
	RequireHttpsMetadata bool   `json:"RequireHttpsMetadata"`
}

type Listen struct {
	HTTPAddr  string
	HTTPSAddr string
	TLSCert   string
	TLSKey    string
}

type Telemetry struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads the settings file (path from GATEWAY_CONFIG, default
// appsettings.json) and layers environment overrides on top.
func Load() (*Config, error) {
	path := envStr("GATEWAY_CONFIG", "appsettings.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv resolves the environment-only settings and lets env vars
// override broker credentials, so secrets can stay out of the file.
func applyEnv(cfg *Config) {
	cfg.Environment = envStr("GATEWAY_ENVIRONMENT", "Production")
	cfg.Version = envStr("GATEWAY_VERSION", "1.0.0")

	cfg.RabbitMQ.Hostname = envStr("RABBITMQ_HOSTNAME", cfg.RabbitMQ.Hostname)
	cfg.RabbitMQ.Username = envStr("RABBITMQ_USERNAME", cfg.RabbitMQ.Username)
	cfg.RabbitMQ.Password = envStr("RABBITMQ_PASSWORD", cfg.RabbitMQ.Password)

	cfg.Listen = Listen{
		HTTPAddr:  envStr("GATEWAY_HTTP_ADDR", ":8080"),
		HTTPSAddr: envStr("GATEWAY_HTTPS_ADDR", ":8081"),
		TLSCert:   envStr("GATEWAY_TLS_CERT", ""),
		TLSKey:    envStr("GATEWAY_TLS_KEY", ""),
	}

	cfg.Telemetry = Telemetry{
		Enabled:      envBool("OTEL_ENABLED", false),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "gc-gateway-api"),
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
