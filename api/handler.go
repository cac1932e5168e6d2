// Package api provides the HTTP API: webhook management, device operations
// and event publishing.
//
// Every route except /metrics requires a user, resolved from a bearer token
// or an access_token query parameter.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/firmware"
	"github.com/xraph/sparkcloud/webhook"
)

// RequestIDHeader carries the request ID in requests and responses.
const RequestIDHeader = "X-Request-ID"

// Handler is the root HTTP handler of the API.
type Handler struct {
	webhooks *webhook.Service
	devices  *device.Manager
	users    UserResolver
	events   event.Publisher
	firmware firmware.Repository
	metrics  http.Handler
	logger   *slog.Logger
	router   *mux.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithPublisher enables POST /v1/devices/events.
func WithPublisher(p event.Publisher) Option {
	return func(h *Handler) { h.events = p }
}

// WithFirmware enables GET /v1/firmware.
func WithFirmware(r firmware.Repository) Option {
	return func(h *Handler) { h.firmware = r }
}

// WithMetricsHandler serves h, typically promhttp, on /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates the API handler.
func NewHandler(webhooks *webhook.Service, devices *device.Manager, users UserResolver, opts ...Option) *Handler {
	h := &Handler{
		webhooks: webhooks,
		devices:  devices,
		users:    users,
		logger:   slog.Default(),
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.router.Use(h.requestID, h.panicRecovery, h.logging)

	if h.metrics != nil {
		h.router.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}

	v1 := h.router.PathPrefix("/v1").Subrouter()
	v1.Use(h.authenticate)

	// Webhooks
	v1.HandleFunc("/webhooks", h.createWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", h.listWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", h.getWebhook).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods(http.MethodDelete)

	// Events
	v1.HandleFunc("/devices/events", h.publishEvent).Methods(http.MethodPost)

	// Devices
	v1.HandleFunc("/devices", h.claimDevice).Methods(http.MethodPost)
	v1.HandleFunc("/devices", h.listDevices).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceID}", h.getDevice).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceID}", h.updateDevice).Methods(http.MethodPut)
	v1.HandleFunc("/devices/{deviceID}", h.unclaimDevice).Methods(http.MethodDelete)
	v1.HandleFunc("/devices/{deviceID}/{varName}", h.getVariable).Methods(http.MethodGet)
	v1.HandleFunc("/devices/{deviceID}/{functionName}", h.callFunction).Methods(http.MethodPost)
	v1.HandleFunc("/provisioning/{deviceID}", h.provisionDevice).Methods(http.MethodPost)

	// Firmware
	v1.HandleFunc("/firmware", h.listFirmware).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	userIDKey
)

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// UserID returns the authenticated user carried by ctx.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.InfoContext(r.Context(), "api request",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered",
					"request_id", RequestID(r.Context()),
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// formOrJSON reads a flat string map from a JSON or urlencoded body.
func formOrJSON(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	if r.Body == nil || r.ContentLength == 0 {
		return out, nil
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k := range r.PostForm {
			out[k] = r.PostForm.Get(k)
		}
		return out, nil
	}

	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out, nil
}
