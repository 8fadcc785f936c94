package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/chat"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/middleware"
)

type MessageHandler struct {
	svc *chat.Service
}

func NewMessageHandler(svc *chat.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.svc.Send(r.Context(), userID, roomID, req.Content)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	page, err := h.svc.History(r.Context(), userID, roomID, limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// MarkAsRead zeroes the unread counter. Clients call it once when the room
// opens and then keep it fresh on a heartbeat while the room is visible.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	if err := h.svc.MarkRead(r.Context(), userID, roomID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
