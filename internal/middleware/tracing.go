package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps handlers in OpenTelemetry spans named "<METHOD> <path>",
// e.g. "GET /leaderboard". The otelhttp handler takes care of W3C trace
// context propagation (traceparent/tracestate), so traces started by an
// upstream caller continue through the ranking API.
//
// Place it after RequestID in the chain so request IDs are settled before
// the span opens.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}
}

// GetTraceID returns the active trace ID for the request, or "" when the
// request carries no valid span.
func GetTraceID(r *http.Request) string {
	if sc, ok := requestSpanContext(r); ok {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the active span ID for the request, or "" when the
// request carries no valid span.
func GetSpanID(r *http.Request) string {
	if sc, ok := requestSpanContext(r); ok {
		return sc.SpanID().String()
	}
	return ""
}

func requestSpanContext(r *http.Request) (trace.SpanContext, bool) {
	sc := trace.SpanContextFromContext(r.Context())
	return sc, sc.IsValid()
}
