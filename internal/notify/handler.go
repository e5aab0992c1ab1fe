package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// Handler is the notification endpoint. It accepts a Message as JSON and
// relays it synchronously to the webhook.
type Handler struct {
	Webhook Poster
	Logger  *zap.Logger
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
		return
	}
	var msg Message
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil && len(strings.TrimSpace(string(body))) > 0 {
		err = json.Unmarshal(body, &msg)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(msg.Action) == "" || strings.TrimSpace(msg.UserName) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing action or userName"})
		return
	}
	if h.Webhook == nil {
		err = ErrNotConfigured
	} else {
		err = h.Webhook.Post(r.Context(), msg)
	}
	var se *StatusError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConfigured):
		logger.Error("notify endpoint called without webhook url")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Missing webhook configuration"})
		return
	case errors.As(err, &se):
		logger.Error("webhook delivery failed", zap.String("action", msg.Action), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": fmt.Sprintf("Webhook failed: %d", se.StatusCode)})
		return
	default:
		logger.Error("webhook delivery failed", zap.String("action", msg.Action), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
