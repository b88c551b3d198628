package config

// ObservabilityConfig holds observability configuration. The OTLP
// endpoint itself is not a field here: the exporters read it straight
// from the standard OTEL_EXPORTER_OTLP_ENDPOINT env var, per
// internal/observability.
type ObservabilityConfig struct {
	OTelEnabled     bool   `env:"QUEUE_OTEL_ENABLED" default:"true"`
	OTelServiceName string `env:"QUEUE_OTEL_SERVICE_NAME" default:"duraqueue-worker"`
}
