package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/auth"
	"github.com/Sarevi/farmafollow-sub000/internal/event"
	"github.com/Sarevi/farmafollow-sub000/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

// ConversationStore is the slice of the conversation repository the relay
// needs: membership checks and last-message upkeep.
type ConversationStore interface {
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID string, lm model.LastMessage) error
}

// MessageStore is the slice of the message repository the relay needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, userID string) (int64, error)
}

// UserStore resolves sender profiles for broadcast enrichment.
type UserStore interface {
	GetByUserID(ctx context.Context, userID string) (*model.User, error)
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client // conversationID -> clientID -> client
}

// Hub is the relay service: it owns room membership, fans events out to
// rooms, and keeps the presence registry in sync with connections.
type Hub struct {
	shards [shardCount]*roomBucket

	registry  *Registry
	clients   map[string]*Client // all connected clients by client id
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	// inbound lanes: one queue per worker. A connection always lands on the
	// same lane, so its events are handled strictly in arrival order while
	// different connections still spread across the pool.
	inbound [workerPoolSize]chan inboundMessage

	chat   *ChatHandler
	tokens *auth.TokenManager
	logger *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(registry *Registry, conversations ConversationStore, messages MessageStore, users UserStore, tokens *auth.TokenManager, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:   registry,
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		tokens:     tokens,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	h.chat = &ChatHandler{
		hub:           h,
		conversations: conversations,
		messages:      messages,
		users:         users,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.inbound[i] = make(chan inboundMessage, 256) // buffer for burst handling
		h.wg.Add(1)
		go func(lane chan inboundMessage) {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-lane:
					if !ok {
						return
					}
					h.chat.HandleEvent(in.event, in.client)
				}
			}
		}(h.inbound[i])
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	h.clientsMu.Unlock()

	h.registry.Register(c.userID, c.ID)
	h.logger.Info("client connected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.userID),
	)
	h.broadcastPresence()
}

func (h *Hub) removeClient(c *Client) {
	h.clientsMu.Lock()
	_, known := h.clients[c.ID]
	delete(h.clients, c.ID)
	h.clientsMu.Unlock()

	if !known {
		return
	}

	// Implicit leave of every joined room. No per-room departure event is
	// emitted; peers only learn about explicit leaves.
	for _, conversationID := range c.joinedRooms() {
		h.leaveRoom(c, conversationID)
	}

	h.registry.Unregister(c.userID, c.ID)
	c.close()

	h.logger.Info("client disconnected",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.userID),
	)
	h.broadcastPresence()
}

func getShard(conversationID string) uint32 {
	if conversationID == "" {
		return 0
	}
	h := sha1.Sum([]byte(conversationID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

// getLane pins a connection to one inbound worker so its events run to
// completion in the order they arrived.
func getLane(clientID string) uint32 {
	h := sha1.Sum([]byte(clientID))
	return binary.BigEndian.Uint32(h[:4]) % uint32(workerPoolSize)
}

func (h *Hub) joinRoom(c *Client, conversationID string) {
	b := h.shards[getShard(conversationID)]
	b.Lock()
	defer b.Unlock()

	room, ok := b.rooms[conversationID]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[conversationID] = room
	}
	room[c.ID] = c
	c.trackRoom(conversationID)
}

func (h *Hub) leaveRoom(c *Client, conversationID string) {
	b := h.shards[getShard(conversationID)]
	b.Lock()
	defer b.Unlock()

	if room, ok := b.rooms[conversationID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(b.rooms, conversationID)
		}
	}
	c.untrackRoom(conversationID)
}

// inRoom reports whether the connection is currently joined to the room.
func (h *Hub) inRoom(clientID, conversationID string) bool {
	b := h.shards[getShard(conversationID)]
	b.RLock()
	defer b.RUnlock()

	room, ok := b.rooms[conversationID]
	if !ok {
		return false
	}
	_, joined := room[clientID]
	return joined
}

// broadcastToRoom delivers ev to every connection in the room. Pass the
// sender's client id as exclude to skip it (typing, read receipts); pass ""
// to include everyone (new messages, so the sender's own tabs converge on
// one event ordering).
func (h *Hub) broadcastToRoom(conversationID string, ev event.WsEvent, exclude string) {
	b := h.shards[getShard(conversationID)]

	b.RLock()
	room, ok := b.rooms[conversationID]
	if !ok || len(room) == 0 {
		b.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(room))
	for _, c := range room {
		if c.ID == exclude {
			continue
		}
		clients = append(clients, c)
	}
	b.RUnlock()

	// deliver without holding the bucket lock
	for _, c := range clients {
		c.send(ev)
	}
}

// broadcastPresence pushes the current online-user set to every connection.
func (h *Hub) broadcastPresence() {
	ev := event.NewEvent(event.EventUsersOnline, event.UsersOnlinePayload{UserIDs: h.registry.Online()})

	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		c.send(ev)
	}
}

// Registry exposes the presence registry for REST-side presence queries.
func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.RLock()
	for _, c := range h.clients {
		c.close()
	}
	h.clientsMu.RUnlock()

	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the bearer token supplied as a query parameter and
// upgrades the connection. A bad token aborts the attempt before any event
// handling.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(claims.UserID, claims.Role, conn, h)

	select {
	case h.register <- client:
		go client.readMessages()
		go client.writeMessages()
	case <-time.After(registerTimeout):
		h.logger.Warn("failed to register client: timeout", zap.String("client_id", client.ID))
		conn.Close()
	case <-h.ctx.Done():
		conn.Close()
	}
}
