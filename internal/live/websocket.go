package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/promptpot/promptpot/internal/chain"
	"github.com/promptpot/promptpot/internal/identity"
	"github.com/promptpot/promptpot/internal/session"
)

const writeTimeout = 10 * time.Second

// Game is the part of the game service the live handler drives.
type Game interface {
	View(ctx context.Context, userID string) (session.View, error)
	Send(ctx context.Context, userID, text string, prompt session.ConnectPrompt) (session.Outcome, error)
	Feed() *chain.Feed
}

// WebSocketHandler streams session views and accepts sends.
type WebSocketHandler struct {
	game          Game
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(game Game, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		game:          game,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inbound is a client frame.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// outbound is a server frame.
type outbound struct {
	Type    string           `json:"type"`
	View    *session.View    `json:"view,omitempty"`
	Outcome *session.Outcome `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, stop := h.game.Feed().Watch()
	defer stop()

	if err := h.pushView(ctx, ws, userID); err != nil {
		return
	}

	go func() {
		defer cancel()
		h.inputLoop(ctx, ws, userID, sessionID)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Live session ended", "user_id", userID, "session_id", sessionID)
			return
		case <-changes:
			if err := h.pushView(ctx, ws, userID); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			_ = h.writeJSON(ctx, ws, outbound{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, outbound{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "view":
			if err := h.pushView(ctx, ws, userID); err != nil {
				return
			}
		case "send":
			h.send(ctx, ws, userID, sessionID, msg.Content)
		default:
			_ = h.writeJSON(ctx, ws, outbound{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, userID, sessionID, text string) {
	prompt := func() {
		if err := h.writeJSON(ctx, ws, outbound{Type: "connect_wallet"}); err != nil {
			slog.Debug("Failed to send connect prompt", "error", err)
		}
	}
	outcome, err := h.game.Send(ctx, userID, text, prompt)
	if err != nil && outcome.Kind == "" {
		slog.Error("Live send failed", "user_id", userID, "session_id", sessionID, "error", err)
		_ = h.writeJSON(ctx, ws, outbound{Type: "error", Error: "failed to send message"})
		return
	}
	_ = h.writeJSON(ctx, ws, outbound{Type: "outcome", Outcome: &outcome})
}

func (h *WebSocketHandler) pushView(ctx context.Context, ws *websocket.Conn, userID string) error {
	view, err := h.game.View(ctx, userID)
	if err != nil {
		slog.Error("Failed to derive view for live session", "user_id", userID, "error", err)
		return h.writeJSON(ctx, ws, outbound{Type: "error", Error: "failed to load session"})
	}
	if err := h.writeJSON(ctx, ws, outbound{Type: "view", View: &view}); err != nil {
		slog.Debug("Failed to push view", "user_id", userID, "error", err)
		return err
	}
	return nil
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
