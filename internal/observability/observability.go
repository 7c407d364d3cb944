package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labhub_requests_total",
			Help: "Total requests by endpoint and method.",
		},
		[]string{"endpoint", "method"},
	)
	IngestedPoints = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "labhub_ingested_points_total",
			Help: "Telemetry points accepted off the broker.",
		},
	)
	LiveClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labhub_live_clients",
			Help: "Currently connected live-data websocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, IngestedPoints, LiveClients)
}

// Setup wires tracing and returns the metrics handler. Traces export
// over OTLP/HTTP when an endpoint is configured and stay in-process
// otherwise.
func Setup(otlpEndpoint string) (shutdown func(), promHandler http.Handler, tracer oteltrace.Tracer) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName("labhub"),
		),
	)
	if err != nil {
		slog.Error("failed to create otel resource", "error", err)
		res = resource.Default()
	}

	var tp *trace.TracerProvider
	if otlpEndpoint != "" {
		exp, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpoint(otlpEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			slog.Error("failed to create otlp exporter", "error", err)
			tp = trace.NewTracerProvider(trace.WithResource(res))
		} else {
			tp = trace.NewTracerProvider(
				trace.WithBatcher(exp),
				trace.WithResource(res),
			)
		}
	} else {
		tp = trace.NewTracerProvider(trace.WithResource(res))
	}
	otel.SetTracerProvider(tp)

	shutdown = func() {
		_ = tp.Shutdown(context.Background())
	}
	promHandler = promhttp.Handler()
	tracer = otel.Tracer("labhub")
	return shutdown, promHandler, tracer
}

// Middleware counts requests per endpoint and wraps each in a span.
func Middleware(tracer oteltrace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			method := r.Method
			RequestCounter.WithLabelValues(endpoint, method).Inc()

			// Websocket upgrades need the raw connection.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			rw := &statusRecorder{ResponseWriter: w, status: 200}
			ctx, span := tracer.Start(r.Context(), method+" "+endpoint)
			span.SetAttributes(
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(endpoint),
			)
			next.ServeHTTP(rw, r.WithContext(ctx))
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			span.End()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
