// ABOUTME: Websocket endpoint that streams hub frames to authenticated members
// ABOUTME: Clients subscribe to room topics they belong to and always get their own notifications

package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/coven-chat/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096

	sendBufferSize = 256
)

// Client command and server frame types.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"

	FrameMessage    = "message"
	FrameSubscribed = "subscribed"
	FrameError      = "error"
)

// MembershipChecker answers whether a member may watch a room.
type MembershipChecker interface {
	IsMember(ctx context.Context, roomID, memberID string) (bool, error)
}

// Command is sent by clients.
type Command struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

// ServerFrame is sent to clients.
type ServerFrame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	hub      *Hub
	verifier auth.TokenVerifier
	members  MembershipChecker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a websocket handler. With no allowed origins the
// upgrader only accepts same-origin requests; "*" accepts any origin.
func NewHandler(hub *Hub, verifier auth.TokenVerifier, members MembershipChecker, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		hub:      hub,
		verifier: verifier,
		members:  members,
		logger:   logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		}
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, errMsg := auth.RequestToken(r)
	if errMsg != "" {
		http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
		return
	}
	id, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("upgrade failed", "member_id", id.MemberID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &session{
		handler:  h,
		ws:       ws,
		memberID: id.MemberID,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, sendBufferSize),
		subs:     make(map[string]context.CancelFunc),
		logger:   h.logger.With("member_id", id.MemberID),
	}
	c.logger.Info("client connected")

	c.subscribe(NotifyDestination(id.MemberID))
	go c.writePump()
	c.readPump()
	c.logger.Info("client disconnected")
}

type session struct {
	handler  *Handler
	ws       *websocket.Conn
	memberID string
	ctx      context.Context
	cancel   context.CancelFunc
	send     chan []byte
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func (c *session) readPump() {
	defer func() {
		c.cancel()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMsgSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(ServerFrame{Type: FrameError, Error: "malformed command"})
			continue
		}
		switch cmd.Type {
		case CommandSubscribe:
			c.subscribe(cmd.Destination)
		case CommandUnsubscribe:
			c.unsubscribe(cmd.Destination)
		default:
			c.enqueue(ServerFrame{Type: FrameError, Destination: cmd.Destination, Error: "unknown command"})
		}
	}
}

func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// authorize reports whether the session's member may watch dest.
func (c *session) authorize(dest string) (bool, string) {
	prefix, id, ok := ParseDestination(dest)
	if !ok {
		return false, "unknown destination"
	}
	switch prefix {
	case NotifyPrefix:
		if id != c.memberID {
			return false, "forbidden"
		}
		return true, ""
	default:
		member, err := c.handler.members.IsMember(c.ctx, id, c.memberID)
		if err != nil {
			c.logger.Warn("membership check failed", "room_id", id, "error", err)
			return false, "membership check failed"
		}
		if !member {
			return false, "forbidden"
		}
		return true, ""
	}
}

func (c *session) subscribe(dest string) {
	if ok, reason := c.authorize(dest); !ok {
		c.enqueue(ServerFrame{Type: FrameError, Destination: dest, Error: reason})
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[dest]; exists {
		c.mu.Unlock()
		c.enqueue(ServerFrame{Type: FrameSubscribed, Destination: dest})
		return
	}
	subCtx, cancel := context.WithCancel(c.ctx)
	c.subs[dest] = cancel
	c.mu.Unlock()

	// Every destination feeds the one send queue, so frames keep the order
	// the hub sent them in.
	c.handler.hub.Attach(subCtx, dest, c.forward)
	c.enqueue(ServerFrame{Type: FrameSubscribed, Destination: dest})
}

func (c *session) forward(f Frame) {
	c.enqueue(ServerFrame{Type: FrameMessage, Destination: f.Destination, Payload: f.Payload})
}

func (c *session) unsubscribe(dest string) {
	c.mu.Lock()
	cancel, ok := c.subs[dest]
	delete(c.subs, dest)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// enqueue drops the frame when the client is not keeping up.
func (c *session) enqueue(f ServerFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("marshal frame", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping frame", "destination", f.Destination)
	}
}
