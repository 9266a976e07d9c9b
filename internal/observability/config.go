package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/deliveryscore/internal/config"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds observability settings for the scoring service.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	// SQLLogLevel and SlowQueryThreshold drive the gorm logger. Lock waits on
	// the scoring path show up as slow queries.
	SQLLogLevel        gormlogger.LogLevel
	SlowQueryThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig reads observability settings from the process environment.
func LoadConfig(cfg config.Config) Config {
	return loadConfig(cfg, os.Getenv)
}

func loadConfig(cfg config.Config, lookup func(string) string) Config {
	env := func(key, def string) string {
		if value := strings.TrimSpace(lookup(key)); value != "" {
			return value
		}
		return def
	}

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "deliveryscore"
	}
	protocol := env("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))

	return Config{
		ServiceName:          serviceName,
		Environment:          env("DEPLOYMENT_ENV", strings.TrimSpace(cfg.Environment)),
		Version:              env("SERVICE_VERSION", strings.TrimSpace(cfg.AppVersion)),
		LogLevel:             strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env("LOG_FORMAT", "json")),
		SQLLogLevel:          parseSQLLogLevel(env("DATABASE_LOG_LEVEL", "warn")),
		SlowQueryThreshold:   parseMillis(env("DATABASE_SLOW_QUERY_MS", ""), 200*time.Millisecond),
		OtelEnabled:          parseBool(env("OTEL_ENABLED", ""), true),
		OtelExporterEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", strings.TrimSpace(cfg.OTLPEndpoint)),
		OtelExporterProtocol: strings.ToLower(protocol),
		OtelSamplingRatio:    parseRatio(env("OTEL_SAMPLING_RATIO", ""), 0.1),
	}
}

func (c Config) Debug() bool {
	if strings.ToLower(strings.TrimSpace(c.LogLevel)) == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func parseSQLLogLevel(value string) gormlogger.LogLevel {
	switch strings.ToLower(value) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func parseMillis(value string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func parseBool(value string, def bool) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// parseRatio clamps the trace sampling ratio into [0, 1].
func parseRatio(value string, def float64) float64 {
	ratio, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}
