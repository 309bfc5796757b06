package clipboard

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultMaxBytes caps a single copy request.
const DefaultMaxBytes = 8 << 20

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Clipboard Clipboard

	// Allowed lists client IPs besides loopback.
	Allowed []string

	// MaxBytes caps request bodies. Zero uses DefaultMaxBytes.
	MaxBytes int64

	Logger *slog.Logger
}

// Handler serves the clipboard over HTTP: GET returns it, POST replaces it.
type Handler struct {
	config HandlerConfig

	mu      sync.RWMutex
	allowed map[string]bool
}

// NewHandler creates a clipboard handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{config: cfg}
	h.Allow(cfg.Allowed...)
	return h
}

// Allow replaces the set of non-loopback client IPs.
func (h *Handler) Allow(ips ...string) {
	allowed := make(map[string]bool, len(ips))
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil {
			allowed[parsed.String()] = true
		}
	}
	h.mu.Lock()
	h.allowed = allowed
	h.mu.Unlock()
}

// permitted reports whether remoteAddr may use the clipboard.
func (h *Handler) permitted(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.allowed[ip.String()]
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	defer func() {
		h.config.Logger.Debug("clipboard request",
			"method", r.Method,
			"remote", r.RemoteAddr,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}()

	if !h.permitted(r.RemoteAddr) {
		h.config.Logger.Warn("clipboard request rejected", "remote", r.RemoteAddr)
		http.Error(lw, "forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		text, err := h.config.Clipboard.Read()
		if err != nil {
			h.config.Logger.Warn("clipboard read failed", "error", err)
			http.Error(lw, "clipboard unavailable", http.StatusServiceUnavailable)
			return
		}
		lw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(lw, text)

	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(lw, r.Body, h.config.MaxBytes))
		if err != nil {
			http.Error(lw, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		if err := h.config.Clipboard.Write(string(body)); err != nil {
			h.config.Logger.Warn("clipboard write failed", "error", err)
			http.Error(lw, "clipboard unavailable", http.StatusServiceUnavailable)
			return
		}
		lw.WriteHeader(http.StatusNoContent)

	default:
		lw.Header().Set("Allow", "GET, HEAD, POST, PUT")
		http.Error(lw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}
