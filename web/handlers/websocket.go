package handlers

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"        //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	"nhooyr.io/websocket/wsjson" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/memochat/internal/chat"
	"github.com/scrypster/memochat/internal/logger"
)

const socketWriteTimeout = 10 * time.Second

// ChatSocket serves streaming chat over a WebSocket at /ws/chat.
//
// Each text frame from the client is a SocketMessage. The server answers
// it with zero or more "chunk" frames followed by exactly one "done" or
// "error" frame, then reads the next message. Messages on one connection
// are handled in order.
type ChatSocket struct {
	pipeline       *chat.Pipeline
	originPatterns []string
	log            *logger.Logger
}

// NewChatSocket creates a ChatSocket. originPatterns lists extra hosts
// allowed to connect cross-origin; same-origin requests are always accepted.
func NewChatSocket(pipeline *chat.Pipeline, originPatterns []string, log *logger.Logger) *ChatSocket {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatSocket{
		pipeline:       pipeline,
		originPatterns: originPatterns,
		log:            log.With("component", "websocket"),
	}
}

// ServeHTTP upgrades the connection and runs the read loop.
func (s *ChatSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	ctx := r.Context()
	for {
		var msg SocketMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && websocket.CloseStatus(err) != websocket.StatusGoingAway {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		if err := s.handle(ctx, conn, msg); err != nil {
			s.log.Debug("websocket write failed", "user_id", msg.UserID, "error", err)
			return
		}
	}
}

// handle relays one chat message. It returns an error only when the
// connection can no longer be written to.
func (s *ChatSocket) handle(ctx context.Context, conn *websocket.Conn, msg SocketMessage) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := s.pipeline.Stream(ctx, chat.Request{Message: msg.Message, UserID: msg.UserID, Stream: true})
	if err != nil {
		return s.write(ctx, conn, SocketEvent{Type: "error", Error: err.Error()})
	}

	for ev := range events {
		var frame SocketEvent
		switch {
		case ev.Err != nil:
			frame = SocketEvent{Type: "error", Error: ev.Err.Error()}
		case ev.Done:
			frame = SocketEvent{Type: "done"}
			if ev.Record != nil {
				frame.ConversationID = ev.Record.ID
			}
		default:
			frame = SocketEvent{Type: "chunk", Content: ev.Chunk}
		}

		if err := s.write(ctx, conn, frame); err != nil {
			// Cancelling releases the backend; drain until the relay closes.
			cancel()
			for range events {
			}
			return err
		}
	}
	return nil
}

func (s *ChatSocket) write(ctx context.Context, conn *websocket.Conn, ev SocketEvent) error {
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
