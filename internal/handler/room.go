package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/chat"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/middleware"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/model"
)

type RoomHandler struct {
	svc *chat.Service
}

func NewRoomHandler(svc *chat.Service) *RoomHandler {
	return &RoomHandler{svc: svc}
}

type createRoomRequest struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	SubjectRef *string  `json:"subject_ref,omitempty"`
	MemberIDs  []string `json:"member_ids,omitempty"`
}

func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.svc.CreateRoom(r.Context(), userID, req.Name, model.RoomKind(req.Kind), req.SubjectRef, req.MemberIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// ListRooms returns the caller's visible rooms with unread counts, newest
// first. Open rooms show up here even before the first visit.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	rooms, err := h.svc.Rooms(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	if err := h.svc.Join(r.Context(), userID, roomID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RoomHandler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	if err := h.svc.Leave(r.Context(), userID, roomID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RoomHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")
	userID := middleware.GetUserID(r.Context())

	members, err := h.svc.Members(r.Context(), userID, roomID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// ListTopics returns the topics the caller may subscribe to over WebSocket.
func (h *RoomHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	topics, err := h.svc.Topics(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"topics": topics})
}
