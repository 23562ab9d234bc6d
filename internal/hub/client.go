package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/event"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// workerPoolSize is the number of inbound lanes; each lane handles its
// connections' events serially.
const workerPoolSize = 16

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings with this period
	maxMessageSize     = 64 * 1024              // max inbound frame size
	sendBufSize        = 256                    // per-connection outbound buffer
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound events
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound queue
)

// Client is one authenticated WebSocket connection. A user may hold several
// clients at once (tabs, devices); each is registered individually in the
// presence registry and may join any number of rooms.
type Client struct {
	ID     string
	userID string
	role   string

	conn    *websocket.Conn
	manager *Hub
	egress  chan event.WsEvent

	rooms   map[string]struct{} // conversation ids currently joined
	roomsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(userID, role string, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:      uuid.New().String(),
		userID:  userID,
		role:    role,
		conn:    conn,
		manager: h,
		egress:  make(chan event.WsEvent, sendBufSize),
		rooms:   make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// UserID returns the authenticated user id bound at upgrade time.
func (c *Client) UserID() string { return c.userID }

func (c *Client) trackRoom(conversationID string) {
	c.roomsMu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.roomsMu.Unlock()
}

func (c *Client) untrackRoom(conversationID string) {
	c.roomsMu.Lock()
	delete(c.rooms, conversationID)
	c.roomsMu.Unlock()
}

func (c *Client) joinedRooms() []string {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) readMessages() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.manager.logger.Warn("failed to unregister client: timeout", zap.String("client_id", c.ID))
		}
		c.close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	lane := c.manager.inbound[getLane(c.ID)]

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent
			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.manager.logger.Debug("client disconnected", zap.String("client_id", c.ID))
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.manager.logger.Debug("client timed out", zap.String("client_id", c.ID))
					return
				}

				c.manager.logger.Debug("read error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}

			// Non-blocking handoff so a slow handler never stalls the reader.
			select {
			case lane <- inboundMessage{client: c, event: ev}:
			case <-time.After(inboundSendTimeout):
				c.manager.logger.Warn("inbound queue full, dropping client", zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) writeMessages() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.manager.logger.Debug("write error",
					zap.String("client_id", c.ID),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// send enqueues an event for delivery, disconnecting the client when its
// egress buffer stays full past the timeout. Fire and forget: delivery is
// never acknowledged.
func (c *Client) send(ev event.WsEvent) {
	select {
	case c.egress <- ev:
	case <-time.After(sendTimeout):
		c.manager.logger.Warn("egress full, disconnecting client", zap.String("client_id", c.ID))
		select {
		case c.manager.unregister <- c:
		case <-time.After(unregisterTimeout):
		}
	case <-c.ctx.Done():
	}
}

// sendError emits a scoped error event to this connection only.
func (c *Client) sendError(code, message string) {
	c.send(event.NewEvent(event.EventError, event.ErrorPayload{Code: code, Message: message}))
}

// close cancels the client context. The egress channel is left open so
// in-flight broadcasts cannot panic; pending events are simply dropped
// once both pumps exit.
func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
	})
}
