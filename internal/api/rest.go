package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/devghori1264/aerophoenix/lockerd/internal/dispatch"
	"github.com/devghori1264/aerophoenix/lockerd/internal/logging"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

type Handler struct {
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// MachineResponse is the JSON body of every /machine response.
type MachineResponse struct {
	Machine *models.Machine `json:"machine"`
	Error   string          `json:"error,omitempty"`
}

// NewHTTPHandler exposes the dispatcher over HTTP. Every path under /machine
// is handed to the dispatcher unchanged.
func NewHTTPHandler(d *dispatch.Dispatcher, logger *zap.Logger) http.Handler {
	h := &Handler{
		dispatcher: d,
		logger:     logging.OrNop(logger).Named("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/healthz", h.handlePing)
	mux.HandleFunc("/machine/", h.handleMachine)
	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from lockerd"})
}

func (h *Handler) handleMachine(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, reqID)

	token := tokenFrom(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		// the gate answers before any body error, as in Dispatch
		if resp, ok := h.dispatcher.Authorize(r.Context(), token); !ok {
			h.writeError(w, reqID, resp.StatusCode, resp.Error)
			return
		}
		h.writeError(w, reqID, http.StatusBadRequest, "unreadable request body")
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Token:  token,
		Body:   body,
	})
	if resp.StatusCode >= 400 {
		h.logger.Info("request failed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", resp.Error))
	}
	writeJSON(w, resp.StatusCode, MachineResponse{Machine: resp.Machine, Error: resp.Error})
}

// tokenFrom reads a bearer token, falling back to X-Auth-Token.
func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.Header.Get("X-Auth-Token")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, reqID string, status int, msg string) {
	writeJSON(w, status, MachineResponse{Error: msg})
	h.logger.Info("request rejected", zap.String("request_id", reqID), zap.Int("status", status), zap.String("error", msg))
}
