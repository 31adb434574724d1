package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wayleave/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Login outcomes reported by RecordLoginAttempt.
const (
	LoginSuccess             = "success"
	LoginProvisioned         = "provisioned"
	LoginInvalidCredentials  = "invalid_credentials"
	LoginPendingConfirmation = "pending_confirmation"
	LoginRateLimited         = "rate_limited"
	LoginValidationError     = "validation_error"
	LoginBackendError        = "backend_error"
	LoginNotConfigured       = "not_configured"
)

type Telemetry interface {
	RecordLoginAttempt(ctx context.Context, outcome string)
	RecordRecordMutation(ctx context.Context, operation string, success bool)
	Tracer(name string) oteltrace.Tracer
	IsEnabled() bool
	Shutdown(ctx context.Context) error
}

type OpenTelemetry struct {
	tracerProvider *trace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	meterProvider  *sdkmetric.MeterProvider
	config         config.TelemetryConfig

	// Metrics instruments
	loginAttempts   metric.Int64Counter
	recordMutations metric.Int64Counter
}

// Disabled returns a Telemetry whose recorders are no-ops.
func Disabled() Telemetry {
	return &OpenTelemetry{}
}

// NewOpenTelemetry creates a telemetry instance with OTLP gRPC exporters for
// traces, logs and metrics.
func NewOpenTelemetry(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		slog.Info("Telemetry disabled or no exporter endpoint provided")
		return &OpenTelemetry{config: cfg}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	logExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlploggrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(10*time.Second))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tel := &OpenTelemetry{
		tracerProvider: tp,
		loggerProvider: lp,
		meterProvider:  mp,
		config:         cfg,
	}

	if err := tel.initMetrics(mp.Meter(cfg.ServiceName)); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	slog.Info("Telemetry initialized successfully",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
	)

	return tel, nil
}

// NewWithMeterProvider wires the metric instruments to mp without any
// exporters. Tests read the instruments through a manual reader.
func NewWithMeterProvider(mp metric.MeterProvider) (Telemetry, error) {
	tel := &OpenTelemetry{config: config.TelemetryConfig{Enabled: true}}
	if err := tel.initMetrics(mp.Meter("wayleave")); err != nil {
		return nil, err
	}
	return tel, nil
}

func (t *OpenTelemetry) initMetrics(meter metric.Meter) error {
	var err error

	t.loginAttempts, err = meter.Int64Counter(
		"wayleave_login_attempts_total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	t.recordMutations, err = meter.Int64Counter(
		"wayleave_record_mutations_total",
		metric.WithDescription("Total number of record create, update and delete calls"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create record mutations counter: %w", err)
	}

	return nil
}

func (t *OpenTelemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (t *OpenTelemetry) Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

func (t *OpenTelemetry) IsEnabled() bool {
	return t.config.Enabled && (t.tracerProvider != nil || t.loginAttempts != nil)
}

func (t *OpenTelemetry) RecordLoginAttempt(ctx context.Context, outcome string) {
	if t.loginAttempts == nil {
		return
	}
	t.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (t *OpenTelemetry) RecordRecordMutation(ctx context.Context, operation string, success bool) {
	if t.recordMutations == nil {
		return
	}
	t.recordMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	))
}
