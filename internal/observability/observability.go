// Package observability installs the process-wide slog logger.
//
// Logs go either straight to a text or JSON handler on stderr, or through the
// OpenTelemetry log bridge to a stdout or OTLP exporter. Severity filtering in
// the OpenTelemetry path is done by a minsev processor so that records below
// the configured level never reach the exporter.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records emitted through the bridge.
const instrumentationName = "github.com/florianilch/devpilot"

// Exporter selects where log records are sent.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

// Option configures Instrument.
type Option func(*config)

type config struct {
	exporter Exporter
	endpoint string
	writer   io.Writer
}

// WithExporter routes logs through the OpenTelemetry bridge to the given exporter.
// endpoint is an OTLP URL; it is ignored for ExporterStdout and ExporterNone.
func WithExporter(exporter Exporter, endpoint string) Option {
	return func(c *config) {
		c.exporter = exporter
		c.endpoint = endpoint
	}
}

// WithWriter sets the destination for text, JSON and stdout-exporter output (default os.Stderr).
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.writer = w
		}
	}
}

// Instrument sets the default slog logger. The returned ShutdownFunc must be
// called before exit to flush buffered records.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (ShutdownFunc, error) {
	cfg := &config{
		exporter: ExporterNone,
		writer:   os.Stderr,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.exporter == "" || cfg.exporter == ExporterNone {
		handler, err := newHandler(cfg.writer, level, format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	processor, err := newProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)

	global.SetLoggerProvider(provider)
	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	// Exporter failures cannot go through the bridge they break.
	fallback := slog.New(slog.NewTextHandler(cfg.writer, &slog.HandlerOptions{Level: level}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		fallback.Error("opentelemetry error", "error", err)
	}))

	return provider.Shutdown, nil
}

// newHandler builds a plain slog handler for the given format.
func newHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// newProcessor creates the export pipeline. Stdout exports synchronously so
// records show up immediately; OTLP exporters are batched.
func newProcessor(ctx context.Context, cfg *config) (sdklog.Processor, error) {
	switch cfg.exporter {
	case ExporterStdout:
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(cfg.writer))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return sdklog.NewSimpleProcessor(exporter), nil

	case ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if cfg.endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(cfg.endpoint))
		}
		exporter, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/HTTP log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exporter), nil

	case ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if cfg.endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(cfg.endpoint))
		}
		exporter, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/gRPC log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exporter), nil

	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", cfg.exporter)
	}
}

// severity maps a slog level onto the closest OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
