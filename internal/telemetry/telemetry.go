// Package telemetry provides OpenTelemetry tracing and metrics helpers for
// the engine's three suspension points (prepare, execute, onAsyncUpdate),
// each span recording its error before closing. The engine does not call
// these helpers itself; the CLI's run command opens spans around prepare
// and execute only. Structured logging uses log/slog rather than a
// third-party logging library.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/spacetasks/tasked-step/internal/errs"
)

const instrumentationName = "github.com/spacetasks/tasked-step/engine"

// Telemetry holds the tracer, meter, and instrument set the engine's
// suspension points record against.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	dispatched metric.Int64Counter
	finalized  metric.Int64Counter
	bytes      metric.Int64Histogram
	rows       metric.Int64Histogram
	files      metric.Int64Histogram
}

// Option configures Init.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	otlpMetricsEndpoint string
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithOTLPMetricsEndpoint points the metric exporter at a real OTLP
// collector instead of stdout; empty keeps the stdout exporter.
func WithOTLPMetricsEndpoint(endpoint string) Option {
	return func(c *config) { c.otlpMetricsEndpoint = endpoint }
}

// Init builds the SDK tracer/meter providers, registers them as the
// process-global OTel providers so later otel.Tracer(name) calls resolve
// against them, and returns a Telemetry handle plus a shutdown func.
func Init(ctx context.Context, opts ...Option) (*Telemetry, func(context.Context) error, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create trace exporter", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tracerProvider)

	var metricReader sdkmetric.Reader
	if cfg.otlpMetricsEndpoint != "" {
		metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.otlpMetricsEndpoint))
		if err != nil {
			return nil, nil, errs.Wrap(errs.Validation, "create otlp metric exporter", err)
		}
		metricReader = sdkmetric.NewPeriodicReader(metricExporter)
	} else {
		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, errs.Wrap(errs.Validation, "create stdout metric exporter", err)
		}
		metricReader = sdkmetric.NewPeriodicReader(metricExporter)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader))
	otel.SetMeterProvider(meterProvider)

	tracer := tracerProvider.Tracer(instrumentationName)
	meter := meterProvider.Meter(instrumentationName)

	dispatched, err := meter.Int64Counter("tasked_step.tasks_dispatched")
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create dispatched counter", err)
	}
	finalized, err := meter.Int64Counter("tasked_step.tasks_finalized")
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create finalized counter", err)
	}
	bytesHist, err := meter.Int64Histogram("tasked_step.bytes_uploaded")
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create bytes histogram", err)
	}
	rowsHist, err := meter.Int64Histogram("tasked_step.rows_uploaded")
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create rows histogram", err)
	}
	filesHist, err := meter.Int64Histogram("tasked_step.files_uploaded")
	if err != nil {
		return nil, nil, errs.Wrap(errs.Validation, "create files histogram", err)
	}

	t := &Telemetry{
		tracer:     tracer,
		meter:      meter,
		logger:     cfg.logger,
		dispatched: dispatched,
		finalized:  finalized,
		bytes:      bytesHist,
		rows:       rowsHist,
		files:      filesHist,
	}

	shutdown := func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}
	return t, shutdown, nil
}

// StartSpan opens a span for one of the engine's suspension points
// (prepare, execute, onAsyncUpdate), tagged with stepID and spaceID. The
// returned end func records the error (if any) and closes the span —
// callers invoke it once the operation returns.
func (t *Telemetry) StartSpan(ctx context.Context, name, stepID, spaceID string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("tasked_step.step_id", stepID),
		attribute.String("tasked_step.space_id", spaceID),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordDispatch increments the dispatched-tasks counter.
func (t *Telemetry) RecordDispatch(ctx context.Context, taskID int64) {
	t.dispatched.Add(ctx, 1, metric.WithAttributes(attribute.Int64("task_id", taskID)))
}

// RecordFinalize increments the finalized-tasks counter and records the
// delta histograms for one completed task.
func (t *Telemetry) RecordFinalize(ctx context.Context, bytesDelta, rowsDelta int64, filesDelta int32) {
	t.finalized.Add(ctx, 1)
	t.bytes.Record(ctx, bytesDelta)
	t.rows.Record(ctx, rowsDelta)
	t.files.Record(ctx, int64(filesDelta))
}

// LogAsyncAnomaly logs an AsyncDeliveryAnomaly: never fatal, always logged
// with the task id for correlation.
func (t *Telemetry) LogAsyncAnomaly(ctx context.Context, err *errs.Error) {
	t.logger.WarnContext(ctx, "async delivery anomaly",
		slog.String("kind", string(err.Kind)),
		slog.Int64("task_id", err.TaskID),
		slog.String("message", err.Message),
	)
}
