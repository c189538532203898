// Package telemetry exports cache spans to an OTLP collector.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/agentuity/go-dcache/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// GenerateOTLPBearerToken signs token with sharedSecret so the collector can
// verify it without a lookup.
func GenerateOTLPBearerToken(sharedSecret string, token string) (string, error) {
	if token == "" {
		return "", errors.New("token must not be empty")
	}
	hash := sha256.New()
	if _, err := hash.Write([]byte(sharedSecret + "." + token)); err != nil {
		return "", fmt.Errorf("error hashing token: %w", err)
	}
	secret := hash.Sum(nil)
	return token + "." + base64.StdEncoding.EncodeToString(secret), nil
}

type ShutdownFunc func()

// Config describes where spans are sent.
type Config struct {
	// URL is the collector base URL; spans are posted to its /v1/traces path.
	URL         string
	AuthToken   string
	ServiceName string
	// Timeout bounds every export. Zero means 10 seconds.
	Timeout time.Duration
}

// NewTracerProvider returns a provider batching spans to the collector at
// cfg.URL. The returned ShutdownFunc flushes pending spans.
func NewTracerProvider(ctx context.Context, cfg Config, log logger.Logger) (trace.TracerProvider, ShutdownFunc, error) {
	log = logger.OrNop(log)
	otlpURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing otlp url: %w", err)
	}
	if otlpURL.Scheme != "http" && otlpURL.Scheme != "https" {
		return nil, nil, errors.Newf("otlp url %q must be http or https", cfg.URL)
	}
	otlpURL.Path = "/v1/traces"
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(), // OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		log.Debug("partial telemetry resource: %v", err)
	} else if err != nil {
		return nil, nil, fmt.Errorf("error creating resource: %w", err)
	}

	headers := make(map[string]string)
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + cfg.AuthToken
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(otlpURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(timeout),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if otlpURL.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	log.Debug("exporting spans to %s", otlpURL)

	return provider, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("flushing spans: %v", err)
		}
	}, nil
}
