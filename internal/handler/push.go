package handler

import (
	"encoding/json"
	"net/http"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/middleware"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/push"
)

type PushHandler struct {
	client *push.Client
}

func NewPushHandler(client *push.Client) *PushHandler {
	return &PushHandler{client: client}
}

// Subscribe registers the caller's browser push subscription with the sidecar.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var sub push.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}

	if err := h.client.Subscribe(r.Context(), userID, sub); err != nil {
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}

	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeError(w, http.StatusBadGateway, "push service unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
