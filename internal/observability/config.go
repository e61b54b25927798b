package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/creatorpay/internal/config"
)

const (
	defaultServiceName = "creatorpay"
	defaultSlowQuery   = 200 * time.Millisecond
)

// Config is the resolved observability settings shared by the logger, the
// tracer and meter providers, and the HTTP and database instrumentation.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	SlowQuery time.Duration
	LogSQL    bool

	// RedactHeaders holds canonical header names masked in request logs.
	RedactHeaders []string
}

func LoadConfig(cfg config.Config) Config {
	o := cfg.Observability

	slow := time.Duration(o.SlowQueryMillis) * time.Millisecond
	if slow <= 0 {
		slow = defaultSlowQuery
	}

	return Config{
		ServiceName:          fallback(cfg.AppName, defaultServiceName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(fallback(o.LogLevel, "info")),
		LogFormat:            strings.ToLower(fallback(o.LogFormat, "json")),
		OtelEnabled:          o.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(fallback(o.OtelProtocol, "grpc")),
		OtelSamplingRatio:    clampRatio(o.OtelSamplingRatio),
		SlowQuery:            slow,
		LogSQL:               o.LogSQL,
		RedactHeaders:        canonicalHeaders(o.RedactHeaders),
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func fallback(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

func canonicalHeaders(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		name = http.CanonicalHeaderKey(name)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
