package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/coder/websocket"
)

const socketWriteTimeout = 10 * time.Second

// socketMessage is what the browser sends on /ws/chat.
type socketMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// socketEvent is what the server sends back.
type socketEvent struct {
	Type  string            `json:"type"`
	Turn  *render.ChatBlock `json:"turn,omitempty"`
	Code  string            `json:"code,omitempty"`
	Error string            `json:"error,omitempty"`
	Hint  string            `json:"hint,omitempty"`
}

// ChatSocket upgrades to a WebSocket carrying chat messages for the current
// session. Closing the socket cancels any generation still in flight.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	slog.Info("Chat socket request", "user", sess.Username, "session_id", sess.ID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, CodeUnauthorized, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user", sess.Username)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user", sess.Username)
		}
	}()

	h.conns.Register(sess.Username, sess.ID, ws)
	defer h.conns.Unregister(sess.Username, sess.ID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	h.readLoop(ctx, ws, sess, &wg)
	cancel()
	wg.Wait()
	slog.Info("Chat socket ended", "user", sess.Username, "session_id", sess.ID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	if r.Host != "" && (origin == "https://"+r.Host || origin == "http://"+r.Host) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *session.Session, wg *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed by client", "user", sess.Username)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user", sess.Username)
			}
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeEvent(ws, socketEvent{Type: "error", Code: CodeValidation, Error: "messages must be JSON"})
			continue
		}

		switch msg.Type {
		case "message":
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				h.socketChat(ctx, ws, sess, text)
			}(msg.Content)
		case "ping":
			h.writeEvent(ws, socketEvent{Type: "pong"})
		default:
			h.writeEvent(ws, socketEvent{Type: "error", Code: CodeValidation, Error: "unknown message type " + msg.Type})
		}
	}
}

func (h *Handler) socketChat(ctx context.Context, ws *websocket.Conn, sess *session.Session, text string) {
	if h.limiter != nil && !h.limiter.Allow("user:"+sess.Username) {
		h.writeProblem(ws, Classify(ErrRateLimited))
		return
	}
	if sess.Busy() {
		h.writeProblem(ws, Classify(session.ErrBusy))
		return
	}

	h.writeEvent(ws, socketEvent{Type: "busy"})
	turn, err := h.assistant.Chat(ctx, sess, text)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		h.writeProblem(ws, Classify(err))
		return
	}

	block := render.RenderChat([]domain.Turn{turn})[0]
	h.writeEvent(ws, socketEvent{Type: "turn", Turn: &block})
}

func (h *Handler) writeProblem(ws *websocket.Conn, p Problem) {
	h.writeEvent(ws, socketEvent{Type: "error", Code: p.Code, Error: p.Message, Hint: p.Hint})
}

func (h *Handler) writeEvent(ws *websocket.Conn, ev socketEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode socket event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write socket event", "type", ev.Type, "error", err)
	}
}
