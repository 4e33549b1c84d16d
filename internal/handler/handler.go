package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angeloszaimis/syncproxy/internal/backend"
	"github.com/angeloszaimis/syncproxy/internal/metrics"
	"github.com/angeloszaimis/syncproxy/internal/syncgate"
)

// Gate runs the on-demand content sync ahead of forwarding.
type Gate interface {
	MaybeSync(ctx context.Context) syncgate.Outcome
}

type ForwardHandler struct {
	logger           *slog.Logger
	gate             Gate
	target           *backend.Target
	maxBodyBytes     int64
	metricsCollector *metrics.Collector
}

func NewForwardHandler(
	logger *slog.Logger,
	gate Gate,
	target *backend.Target,
	maxBodyBytes int64,
	collector *metrics.Collector,
) *ForwardHandler {
	return &ForwardHandler{
		logger:           logger,
		gate:             gate,
		target:           target,
		maxBodyBytes:     maxBodyBytes,
		metricsCollector: collector,
	}
}

func (h *ForwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	h.logger.Debug("Received request",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("user_agent", r.UserAgent()))

	if h.gate != nil {
		h.gate.MaybeSync(r.Context())
	}

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Request body too large",
				slog.String("path", r.URL.Path),
				slog.Int64("limit", tooLarge.Limit))
			h.fail(w, http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge), start, 0)
			return
		}

		h.logger.Warn("Failed to read request body", slog.Any("err", err))
		h.fail(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), start, 0)
		return
	}

	resp, attempts, err := h.target.Deliver(r.Context(), backend.Request{
		Method: r.Method,
		URL:    h.target.ResolveURL(r.URL),
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Debug("Client went away before the backend answered",
				slog.String("path", r.URL.Path),
				slog.Int("attempts", attempts))
		} else {
			h.logger.Error("Backend unreachable",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("attempts", attempts),
				slog.Any("err", err))
		}
		h.fail(w, http.StatusBadGateway, "Bad Gateway: "+err.Error(), start, attempts)
		return
	}
	defer resp.Body.Close()

	backend.CopyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Status line is already out, the client sees a truncated body
		h.logger.Warn("Failed to copy backend response",
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
	}

	h.record(resp.StatusCode, start, attempts)
}

func (h *ForwardHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	reader := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	return io.ReadAll(reader)
}

func (h *ForwardHandler) fail(w http.ResponseWriter, status int, message string, start time.Time, attempts int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, message)

	h.record(status, start, attempts)
}

func (h *ForwardHandler) record(status int, start time.Time, attempts int) {
	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:       metrics.EventRequestForwarded,
		Duration:   time.Since(start),
		StatusCode: status,
		Attempts:   attempts,
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
