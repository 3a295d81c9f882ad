package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client frame types.
const (
	frameSend  = "send"
	frameStop  = "stop"
	frameClear = "clear"
)

// Server frame types.
const (
	frameDelta = "delta"
	frameDone  = "done"
	frameError = "error"
)

type clientFrame struct {
	Type        string            `json:"type"`
	Text        string            `json:"text"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

// serverFrame is one event of a reply. Errors are authored by the
// assistant so the UI can render them in place of the reply.
type serverFrame struct {
	Type string      `json:"type"`
	Role domain.Role `json:"role"`
	Text string      `json:"text"`
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) write(f serverFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}

	ctx, cancelAll := context.WithCancel(r.Context())
	defer cancelAll()

	var wg sync.WaitGroup
	stopSend := context.CancelFunc(func() {})

	// Reader loop: receives client frames. Each send streams in its own
	// goroutine so a stop frame can abort it.
	for {
		var msg clientFrame
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "conversationID", conversationID, "error", err)
			}
			break
		}

		switch msg.Type {
		case frameStop:
			stopSend()
		case frameClear:
			s.ctrl.ClearConversation(ctx, conversationID)
		case frameSend, "":
			sendCtx, cancel := context.WithCancel(ctx)
			stream, err := s.ctrl.Send(sendCtx, conversationID, chat.Input{Text: msg.Text, Attachments: msg.Attachments})
			if err != nil {
				cancel()
				conn.write(serverFrame{Type: frameError, Role: domain.RoleAssistant, Text: err.Error()})
				continue
			}
			stopSend = cancel

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer cancel()
				s.relay(sendCtx, conn, conversationID, stream)
			}()
		default:
			conn.write(serverFrame{Type: frameError, Role: domain.RoleAssistant, Text: "unknown frame type " + msg.Type})
		}
	}

	cancelAll()
	wg.Wait()
}

// relay forwards a reply stream to the client. ctx is the context the
// stream was requested with; cancelling it aborts the transport and the
// pending turn is discarded.
func (s *Server) relay(ctx context.Context, conn *wsConn, conversationID string, stream *chat.Stream) {
	for frag, err := range stream.All() {
		if ctx.Err() != nil {
			conn.write(serverFrame{Type: frameError, Role: domain.RoleAssistant, Text: "reply stopped"})
			return
		}
		if err != nil {
			slog.Warn("Chat stream failed", "conversationID", conversationID, "error", err)
			conn.write(serverFrame{Type: frameError, Role: domain.RoleAssistant, Text: err.Error()})
			return
		}
		if err := conn.write(serverFrame{Type: frameDelta, Role: domain.RoleAssistant, Text: frag}); err != nil {
			return
		}
	}
	conn.write(serverFrame{Type: frameDone, Role: domain.RoleAssistant, Text: stream.Text()})
}
