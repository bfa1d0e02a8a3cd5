package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alpar-labs/alpar/internal/agent"
	"github.com/alpar-labs/alpar/internal/config"
	"github.com/alpar-labs/alpar/internal/turn"
	"github.com/gorilla/websocket"
)

// Frame types sent on /api/chat/ws.
const (
	frameStatus = "status"
	frameReply  = "reply"
	frameError  = "error"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsFrame is one server-to-client message.
type wsFrame struct {
	Type         string              `json:"type"`
	Status       string              `json:"status,omitempty"`
	Response     string              `json:"response,omitempty"`
	ThreadID     string              `json:"threadId,omitempty"`
	Conversation []conversationEntry `json:"conversation,omitempty"`
	Error        string              `json:"error,omitempty"`
	Details      string              `json:"details,omitempty"`
}

// wsConn serializes writes from the turn loop and the pinger.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeFrame(f wsFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleChatWS runs turns over a websocket. Each client frame is one turn;
// turns on a connection are handled one at a time. Closing the connection
// cancels the turn in flight.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	log := config.LoggerFromContext(r.Context(), s.logger)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChatBody)

	c := &wsConn{conn: conn}
	ctx, cancel := context.WithCancel(config.WithRequestID(context.Background(), config.RequestID(r.Context())))
	defer cancel()

	pongWait := 3 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	requests := make(chan chatRequest)
	go func() {
		defer close(requests)
		defer cancel()
		for {
			var req chatRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("websocket read failed", "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for req := range requests {
		if err := s.streamTurn(ctx, c, req); err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// streamTurn runs one turn, forwarding run status changes, and writes the
// terminal frame.
func (s *Server) streamTurn(ctx context.Context, c *wsConn, req chatRequest) error {
	var writeErr error
	res := s.turns.HandleTurnWithStatus(ctx, req.Message, req.ThreadID, func(status agent.RunStatus) {
		if writeErr == nil {
			writeErr = c.writeFrame(wsFrame{Type: frameStatus, Status: string(status)})
		}
	})
	if writeErr != nil {
		return writeErr
	}
	return c.writeFrame(resultFrame(res))
}

func resultFrame(res turn.Result) wsFrame {
	_, body := resultBody(res)
	switch b := body.(type) {
	case chatResponse:
		return wsFrame{
			Type:         frameReply,
			Response:     b.Response,
			ThreadID:     b.ThreadID,
			Conversation: b.Conversation,
		}
	case errorResponse:
		return wsFrame{Type: frameError, Error: b.Error, Details: b.Details}
	default:
		return wsFrame{Type: frameError, Error: res.Outcome.String()}
	}
}
