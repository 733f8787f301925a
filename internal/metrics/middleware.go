package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/omixlabs/seqdesk/pkg/agent/react"
)

// HTTPMiddleware wraps an HTTP handler with request counting and timing.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		method := r.Method
		endpoint := r.URL.Path

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(startTime).Seconds()
		status := fmt.Sprintf("%d", wrapped.statusCode)

		HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
		HTTPRequestDuration.Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// InstrumentToolClient counts and times every tool call passing through.
func InstrumentToolClient(inner react.ToolClient) react.ToolClient {
	return &instrumentedToolClient{inner: inner}
}

type instrumentedToolClient struct {
	inner react.ToolClient
}

func (c *instrumentedToolClient) ListTools(ctx context.Context) ([]react.Tool, error) {
	return c.inner.ListTools(ctx)
}

func (c *instrumentedToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	start := time.Now()
	observation, isErr, err := c.inner.CallToolText(ctx, name, args)

	ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	status := "success"
	if isErr || err != nil {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(name, status).Inc()

	return observation, isErr, err
}

// ObserveTurn records one finished conversation turn.
func ObserveTurn(outcome string, rounds int) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	if rounds > 0 {
		TurnRounds.Observe(float64(rounds))
	}
}
