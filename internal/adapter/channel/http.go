package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"avatarbot/internal/domain"
	"avatarbot/internal/infra/config"
	"avatarbot/internal/infra/middleware"
)

// maxChatBody bounds a chat request; base64 audio makes this larger than text needs.
const maxChatBody = 16 << 20

// HTTPChannel serves the chat API.
type HTTPChannel struct {
	addr      string
	rateLimit int
	burst     int
	logger    *slog.Logger

	mu        sync.Mutex
	boundAddr string
	ready     chan struct{}
}

type chatRequest struct {
	SessionID string  `json:"session_id"`
	UserID    *string `json:"user_id,omitempty"`
	Type      string  `json:"type,omitempty"`
	Content   string  `json:"content"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

var _ domain.Platform = (*HTTPChannel)(nil)

// NewHTTPChannel creates an HTTP API channel.
func NewHTTPChannel(cfg config.HTTPPlatformConfig, logger *slog.Logger) *HTTPChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPChannel{
		addr:      cfg.Addr,
		rateLimit: cfg.RateLimit,
		burst:     cfg.RateLimitBurst,
		logger:    logger,
		ready:     make(chan struct{}),
	}
}

// Name implements domain.Platform.
func (h *HTTPChannel) Name() string { return "http" }

// BoundAddr blocks until the listener is bound and returns its address.
func (h *HTTPChannel) BoundAddr() string {
	<-h.ready
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boundAddr
}

// Handler returns the routed API with security headers, request logging and,
// when a rate is configured, per-IP rate limiting.
func (h *HTTPChannel) Handler(ctx context.Context, bot domain.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		h.handleChat(w, r, bot)
	})
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)

	var handler http.Handler = mux
	if h.rateLimit > 0 {
		handler = middleware.RateLimit(ctx, h.rateLimit, h.burst)(handler)
	}
	return middleware.SecurityHeaders(middleware.RequestLog(h.logger)(handler))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (h *HTTPChannel) Run(ctx context.Context, bot domain.Handler) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		close(h.ready)
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.boundAddr = ln.Addr().String()
	h.mu.Unlock()
	close(h.ready)

	srv := &http.Server{
		Handler:           h.Handler(ctx, bot),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("http channel started", "addr", h.boundAddr)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	h.logger.Info("http channel stopped")
	return nil
}

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request, bot domain.Handler) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errMsg := "invalid JSON: " + err.Error()
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			errMsg = "request body too large"
		}
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: errMsg})
		return
	}

	if req.SessionID == "" {
		req.SessionID = "http-" + ulid.Make().String()
	}

	input, err := requestInput(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{
			SessionID: req.SessionID,
			Error:     err.Error(),
			Code:      string(domain.ErrorCodeOf(err)),
		})
		return
	}

	reply, err := bot.HandleMessage(r.Context(), req.SessionID, input, req.UserID)
	if err != nil {
		h.logger.Error("chat failed", "session", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{
			SessionID: req.SessionID,
			Error:     err.Error(),
			Code:      string(domain.ErrorCodeOf(err)),
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Content: reply})
}

func requestInput(req chatRequest) (domain.Input, error) {
	kind := domain.ModalityText
	if req.Type != "" {
		m, err := domain.ParseModality(req.Type)
		if err != nil {
			return domain.Input{}, err
		}
		kind = m
	}
	if req.Content == "" {
		return domain.Input{}, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}

	switch kind {
	case domain.ModalityImage:
		return domain.ImageInput(req.Content), nil
	case domain.ModalityVideo:
		return domain.VideoInput(req.Content), nil
	case domain.ModalityAudio:
		audio, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return domain.Input{}, fmt.Errorf("%w: audio content must be base64: %v", domain.ErrInvalidInput, err)
		}
		return domain.AudioInput(audio), nil
	default:
		return domain.TextInput(req.Content), nil
	}
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
