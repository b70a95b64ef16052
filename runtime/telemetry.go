// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "claude-flow"

// Telemetry bundles the tracer and structured logger the rest of the
// runtime instruments its operations with.
type Telemetry struct {
	Tracer   trace.Tracer
	Logger   *slog.Logger
	Shutdown func(ctx context.Context) error

	logFile *os.File
}

// initTelemetry builds a tracer (OTLP/HTTP exporter when cfg.OTLPEndpoint
// is set, a no-op provider otherwise) and a structured logger that
// appends to {workDir}/logs/daemon.log per spec.md §6, tagging every
// record with the active trace/span id when one is present.
func initTelemetry(cfg TelemetrySection, workDir string) (*Telemetry, error) {
	ctx := context.Background()

	tp, tpShutdown, err := buildTracerProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build tracer provider: %w", err)
	}
	otel.SetTracerProvider(tp)

	logPath := filepath.Join(workDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		shutdownErr := tpShutdown(ctx)
		return nil, errors.Join(fmt.Errorf("create log directory: %w", err), shutdownErr)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		shutdownErr := tpShutdown(ctx)
		return nil, errors.Join(fmt.Errorf("open log file: %w", err), shutdownErr)
	}

	handler := newDaemonLogHandler(logFile, cfg.LogJSON)
	logger := slog.New(handler)

	shutdown := func(shutdownCtx context.Context) error {
		return errors.Join(tpShutdown(shutdownCtx), logFile.Close())
	}

	return &Telemetry{
		Tracer:   tp.Tracer(tracerName),
		Logger:   logger,
		Shutdown: shutdown,
		logFile:  logFile,
	}, nil
}

type shutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

func buildTracerProvider(ctx context.Context, cfg TelemetrySection) (trace.TracerProvider, shutdownFunc, error) {
	if cfg.OTLPEndpoint == "" {
		return nooptrace.NewTracerProvider(), noopShutdown, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(orDefault(cfg.ServiceName, "claude-flow"))),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, nil, fmt.Errorf("build otel resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.AlwaysSample())
	if cfg.SampleRatio > 0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return tp, tp.Shutdown, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
