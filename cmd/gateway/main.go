// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the Aleutian content-moderation gateway.
//
// The gateway fronts a fleet of moderation analyzers (policy, PII,
// secrets, jailbreak, toxicity, bias, brand, gibberish, format) behind
// one unified HTTP surface with per-analyzer circuit breakers.
//
// Usage:
//
//	go run ./cmd/gateway
//
// Minimal configuration:
//
//	GATEWAY_API_KEYS=secret1,secret2 \
//	POLICY_URL=http://policy:8001/validate \
//	PII_URL=http://pii:8002/validate \
//	go run ./cmd/gateway
//
// Example requests:
//
//	# Health check with breaker snapshot
//	curl http://localhost:8080/health
//
//	# Moderate text through the routed analyzer set
//	curl -X POST http://localhost:8080/validate \
//	  -H "Content-Type: application/json" \
//	  -H "X-API-Key: secret1" \
//	  -d '{"text": "Email me at jane@example.com", "action_on_fail": "filter"}'
//
//	# Run a single analyzer
//	curl -X POST http://localhost:8080/pii \
//	  -H "Content-Type: application/json" \
//	  -H "X-API-Key: secret1" \
//	  -d '{"text": "my number is 555-0100"}'
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianGate/pkg/logging"
	"github.com/AleutianAI/AleutianGate/services/gateway"
	"github.com/AleutianAI/AleutianGate/services/gateway/advisor"
	"github.com/AleutianAI/AleutianGate/services/gateway/breaker"
	"github.com/AleutianAI/AleutianGate/services/gateway/observability"
	"github.com/AleutianAI/AleutianGate/services/gateway/policy"
)

// initTracer wires the OTLP gRPC trace exporter. When no collector
// endpoint is configured, tracing stays on the default no-op provider.
func initTracer() (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}

	ctx := context.Background()
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gateway-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("GATEWAY_LOG_LEVEL")),
		LogDir:  os.Getenv("GATEWAY_LOG_DIR"),
		Service: "gateway",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	observability.InitMetrics()

	cfg := gateway.LoadConfig()
	configured := cfg.ConfiguredAnalyzers()
	slog.Info("Gateway starting",
		"version", gateway.GatewayVersion,
		"port", cfg.Port,
		"analyzers", configured)

	fallback, err := policy.NewFallback()
	if err != nil {
		log.Fatalf("failed to load the embedded fallback rules: %v", err)
	}

	breakers := breaker.NewRegistry(cfg.Breaker, configured...)
	executor := gateway.NewExecutor(cfg, gateway.NewClient(), breakers, fallback, logger.Slog())
	adv := advisor.New(cfg.AdvisorBaseURL, cfg.AdvisorModel, cfg.AdvisorTimeout, logger.Slog())
	if adv != nil {
		slog.Info("Advisory router enabled", "model", cfg.AdvisorModel)
	}

	handlers := gateway.NewHandlers(cfg, executor, breakers, adv, logger.Slog())

	gin.SetMode(gin.ReleaseMode)
	router := gateway.NewRouter(cfg, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g errgroup.Group
	g.Go(func() error {
		slog.Info("Gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("Metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Drain on SIGINT/SIGTERM: new moderation requests get 503 while
	// in-flight fan-outs finish.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		<-stop
		slog.Info("Shutdown signal received, draining")
		handlers.SetDraining(true)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Gateway shutdown failed", "error", err)
		}
		return metricsSrv.Shutdown(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
	slog.Info("Gateway stopped")
}
