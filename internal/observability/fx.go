package observability

import (
	"github.com/smallbiznis/creatorpay/internal/observability/logger"
	"github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/smallbiznis/creatorpay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module wires logging, tracing and metrics from one resolved Config. The
// request middlewares and the database logger read their settings from the
// same Config so redaction and thresholds stay consistent.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(
		Config.loggerConfig,
		Config.gormLoggerConfig,
		Config.tracingConfig,
		Config.metricsConfig,
	),
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		metrics.NewWebhookMetrics,
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(metrics.SchedulerWithConfig),
)

func (c Config) loggerConfig() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		Debug:               c.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) gormLoggerConfig() logger.GormLoggerConfig {
	return logger.GormLoggerConfig{
		SlowThreshold: c.SlowQuery,
		Verbose:       c.LogSQL,
	}
}

// MiddlewareConfig is the request logging setup for the HTTP engine.
func (c Config) MiddlewareConfig(classify func(error) (string, string)) logger.MiddlewareConfig {
	return logger.MiddlewareConfig{
		Debug:           c.Debug(),
		ErrorClassifier: classify,
		RedactHeaders:   c.RedactHeaders,
	}
}

func (c Config) tracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}

func (c Config) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.OtelEnabled,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		ServiceName:      c.ServiceName,
		Environment:      c.Environment,
	}
}
