package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campusdesk/servicedesk/internal/cache"
	"github.com/campusdesk/servicedesk/internal/requests"
	"github.com/campusdesk/servicedesk/internal/users"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the bearer token, not by the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

type streamFrame struct {
	Collection string `json:"collection"`
	Items      any    `json:"items"`
}

// frameBuffer keeps only the latest snapshot per collection so a slow client
// never blocks coordinator deliveries.
type frameBuffer struct {
	mu      sync.Mutex
	pending map[string]streamFrame
	order   []string
	notify  chan struct{}
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{
		pending: make(map[string]streamFrame),
		notify:  make(chan struct{}, 1),
	}
}

func (b *frameBuffer) put(frame streamFrame) {
	b.mu.Lock()
	if _, ok := b.pending[frame.Collection]; !ok {
		b.order = append(b.order, frame.Collection)
	}
	b.pending[frame.Collection] = frame
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *frameBuffer) drain() []streamFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := make([]streamFrame, 0, len(b.order))
	for _, collection := range b.order {
		frames = append(frames, b.pending[collection])
	}
	b.pending = make(map[string]streamFrame)
	b.order = nil
	return frames
}

// handleStream upgrades to a WebSocket and pushes every delivered snapshot.
// Non-admin actors only see their own requests and their own account.
func (h *httpHandler) handleStream(c *gin.Context) {
	actor := actorFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	buffer := newFrameBuffer()
	stopRequests := h.snapshots.SubscribeRequests(ctx, func(list []requests.Request) {
		buffer.put(streamFrame{Collection: cache.KeyRequests, Items: visibleRequests(actor, list)})
	})
	defer stopRequests()
	stopUsers := h.snapshots.SubscribeUsers(ctx, func(list []users.User) {
		buffer.put(streamFrame{Collection: cache.KeyUsers, Items: visibleUsers(actor, list)})
	})
	defer stopUsers()

	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
			return
		case <-buffer.notify:
			for _, frame := range buffer.drain() {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(frame); err != nil {
					h.logger.Debug("stream write failed", zap.Error(err))
					return
				}
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClosed discards client frames and cancels once the peer goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func visibleRequests(actor users.User, list []requests.Request) []requests.Request {
	if actor.IsAdmin() {
		return list
	}
	visible := make([]requests.Request, 0)
	for _, request := range list {
		if request.Requester.ID == actor.ID {
			visible = append(visible, request)
		}
	}
	return visible
}

func visibleUsers(actor users.User, list []users.User) []users.User {
	if actor.IsAdmin() {
		return publicUsers(list)
	}
	visible := make([]users.User, 0, 1)
	for _, user := range list {
		if user.ID == actor.ID {
			visible = append(visible, publicUser(user))
		}
	}
	return visible
}
