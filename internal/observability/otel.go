package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"google.golang.org/grpc/credentials"

	"github.com/tbourn/notify-router/internal/config"
)

// Resource attribute keys describing how this router instance is wired.
const (
	AttrTransport   = attribute.Key("router.transport")
	AttrWebhookPath = attribute.Key("router.webhook_path")
)

// Replaced in tests.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newRouterResourceFn = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// SetupOTel installs the global tracer provider and propagator for the
// router and returns its shutdown function. With tracing disabled it is a
// no-op. Globals are untouched when setup fails.
func SetupOTel(ctx context.Context, cfg config.Config, version string) (func(context.Context) error, error) {
	oc := cfg.OTEL
	if !oc.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(oc.Endpoint)}
	if oc.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := newRouterResourceFn(ctx, ResourceAttributes(cfg, version)...)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(
			NewRouteSampler(cfg.Routing.WebhookPath, oc.WebhookSampleRatio, oc.SampleRatio),
		)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// ResourceAttributes describes this instance: service identity, deployment
// environment, the delivery transport in use and the ingestion path.
func ResourceAttributes(cfg config.Config, version string) []attribute.KeyValue {
	transport := "log"
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		transport = "telegram"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.OTEL.ServiceName),
		semconv.ServiceVersion(version),
		AttrTransport.String(transport),
		AttrWebhookPath.String(cfg.Routing.WebhookPath),
	}
	if env := strings.TrimSpace(cfg.OTEL.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return attrs
}

// RouteSampler samples root spans of the ingestion webhook at their own
// ratio and everything else at the default ratio. The webhook carries the
// bulk of the traffic, so it is usually sampled more sparsely.
type RouteSampler struct {
	path    string
	webhook sdktrace.Sampler
	other   sdktrace.Sampler
}

// NewRouteSampler returns a RouteSampler for webhookPath.
func NewRouteSampler(webhookPath string, webhookRatio, defaultRatio float64) RouteSampler {
	return RouteSampler{
		path:    webhookPath,
		webhook: sdktrace.TraceIDRatioBased(webhookRatio),
		other:   sdktrace.TraceIDRatioBased(defaultRatio),
	}
}

// ShouldSample implements sdktrace.Sampler.
func (s RouteSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if s.isWebhook(p) {
		return s.webhook.ShouldSample(p)
	}
	return s.other.ShouldSample(p)
}

// Description implements sdktrace.Sampler.
func (s RouteSampler) Description() string {
	return fmt.Sprintf("RouteSampler{%s:%s,default:%s}", s.path, s.webhook.Description(), s.other.Description())
}

// isWebhook matches on the route attribute set by otelgin, falling back to
// the span name ("/webhook" or "POST /webhook").
func (s RouteSampler) isWebhook(p sdktrace.SamplingParameters) bool {
	if s.path == "" {
		return false
	}
	for _, kv := range p.Attributes {
		switch kv.Key {
		case semconv.HTTPRouteKey, semconv.URLPathKey:
			if kv.Value.AsString() == s.path {
				return true
			}
		}
	}
	return p.Name == s.path || strings.HasSuffix(p.Name, " "+s.path)
}
