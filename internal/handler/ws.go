package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/middleware"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
}

// NewWSHandler creates the WebSocket upgrade handler. allowedOrigins is a
// comma separated list or "*", same shape as CORS.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the connection and subscribes it to the requested
// topics. Every topic must be granted by the capability token; one
// unauthorized topic rejects the whole connection rather than silently
// narrowing the subscription.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	claims := middleware.GetClaims(r.Context())
	if userID == "" || claims == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("topics"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "topics parameter is required")
		return
	}
	topics := strings.Split(raw, ",")
	for i, topic := range topics {
		topics[i] = strings.TrimSpace(topic)
		if !claims.Allows(topics[i]) {
			writeError(w, http.StatusForbidden, "topic not granted: "+topics[i])
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, topics)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
