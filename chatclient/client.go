// Package chatclient is a Go client for the FarmaFollow chat relay. It
// keeps the state a chat UI renders from: the open conversation's
// transcript, per-room previews, presence, and typing indicators.
package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/Sarevi/farmafollow-sub000/internal/event"
	"github.com/Sarevi/farmafollow-sub000/internal/model"

	"github.com/gorilla/websocket"
)

// RoomPreview is the list-view summary of a conversation.
type RoomPreview struct {
	ConversationID string
	LastMessage    model.MessageWithSender
	Unseen         int
}

// Handlers are optional callbacks fired as relay events arrive. OnError
// runs on the read loop goroutine; OnChange usually does too, but also
// fires from a timer goroutine when a typing indicator expires. Close
// cancels those timers.
type Handlers struct {
	// OnChange fires whenever renderable state changed: new message in
	// the open room, preview update, presence, or typing indicators.
	OnChange func()
	// OnError receives scoped error events from the relay.
	OnError func(code, message string)
}

// Client is one relay connection. Methods are safe for concurrent use.
type Client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers Handlers

	mu          sync.Mutex
	openRoom    string
	transcripts map[string][]model.MessageWithSender
	previews    map[string]RoomPreview
	online      []string

	debouncers map[string]*typingDebouncer // per conversation
	indicators *typingIndicators

	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects to the relay, presenting the bearer token as the `token`
// query parameter, and starts the read loop.
func Dial(ctx context.Context, rawURL, token string, handlers Handlers) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay handshake rejected: %s", resp.Status)
		}
		return nil, fmt.Errorf("relay dial failed: %w", err)
	}

	c := &Client{
		conn:        conn,
		handlers:    handlers,
		transcripts: make(map[string][]model.MessageWithSender),
		previews:    make(map[string]RoomPreview),
		debouncers:  make(map[string]*typingDebouncer),
		done:        make(chan struct{}),
	}
	c.indicators = newTypingIndicators(typingExpiry, c.notifyChange)

	go c.readLoop()
	return c, nil
}

// Close tears down the connection. Pending typing debounce and indicator
// expiry timers are cancelled without emitting.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	for _, d := range c.debouncers {
		d.Stop()
	}
	c.mu.Unlock()

	c.indicators.Stop()
	return c.conn.Close()
}

// Done is closed once the read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writeEvent(ev event.WsEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ev)
}

// Join opens a conversation: joins its room and makes it the open room.
// The reference UI keeps at most one room open at a time, leaving the
// previous one.
func (c *Client) Join(conversationID string) error {
	c.mu.Lock()
	previous := c.openRoom
	c.openRoom = conversationID
	c.mu.Unlock()

	if previous != "" && previous != conversationID {
		if err := c.writeEvent(event.NewEvent(event.EventLeaveChat, event.JoinPayload{ConversationID: previous})); err != nil {
			return err
		}
	}
	return c.writeEvent(event.NewEvent(event.EventJoinChat, event.JoinPayload{ConversationID: conversationID}))
}

// Leave closes the open room.
func (c *Client) Leave(conversationID string) error {
	c.mu.Lock()
	if c.openRoom == conversationID {
		c.openRoom = ""
	}
	c.mu.Unlock()
	return c.writeEvent(event.NewEvent(event.EventLeaveChat, event.JoinPayload{ConversationID: conversationID}))
}

// Send sends a text message. The local transcript is NOT updated here:
// the UI renders the message when the relay broadcasts it back, so all of
// the sender's devices see one consistent ordering.
func (c *Client) Send(conversationID, content string) error {
	return c.SendTyped(conversationID, content, model.MessageTypeText)
}

// SendTyped sends a message with an explicit type.
func (c *Client) SendTyped(conversationID, content, messageType string) error {
	return c.writeEvent(event.NewEvent(event.EventSendMessage, event.SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		Type:           messageType,
	}))
}

// Keystroke reports user input in a conversation's compose box, driving
// the outgoing typing debounce.
func (c *Client) Keystroke(conversationID string) {
	c.mu.Lock()
	d, ok := c.debouncers[conversationID]
	if !ok {
		d = newTypingDebouncer(typingDebounce, func(isTyping bool) {
			_ = c.writeEvent(event.NewEvent(event.EventTyping, event.TypingPayload{
				ConversationID: conversationID,
				IsTyping:       isTyping,
			}))
		})
		c.debouncers[conversationID] = d
	}
	c.mu.Unlock()

	d.Keystroke()
}

// MarkRead acknowledges messages in a conversation.
func (c *Client) MarkRead(conversationID string, messageIDs []string) error {
	return c.writeEvent(event.NewEvent(event.EventMarkRead, event.MarkReadPayload{
		ConversationID: conversationID,
		MessageIDs:     messageIDs,
	}))
}

// Transcript returns a copy of the cached transcript for a room.
func (c *Client) Transcript(conversationID string) []model.MessageWithSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	transcript := c.transcripts[conversationID]
	out := make([]model.MessageWithSender, len(transcript))
	copy(out, transcript)
	return out
}

// Previews returns the current room-list previews.
func (c *Client) Previews() map[string]RoomPreview {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]RoomPreview, len(c.previews))
	for k, v := range c.previews {
		out[k] = v
	}
	return out
}

// Online returns the last received online-user set.
func (c *Client) Online() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.online))
	copy(out, c.online)
	return out
}

// TypingUsers returns remote users currently typing in the room.
func (c *Client) TypingUsers(conversationID string) []string {
	return c.indicators.Users(conversationID)
}

func (c *Client) notifyChange() {
	if c.handlers.OnChange != nil {
		c.handlers.OnChange()
	}
}

func (c *Client) readLoop() {
	defer c.doneOnce.Do(func() { close(c.done) })

	for {
		var ev event.WsEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev event.WsEvent) {
	switch ev.Event {
	case event.EventNewMessage:
		var msg model.MessageWithSender
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return
		}
		c.handleNewMessage(msg)

	case event.EventUserTyping:
		var payload event.UserTypingPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		c.indicators.Set(payload.ConversationID, payload.UserID, payload.IsTyping)

	case event.EventMessagesRead:
		var payload event.MessagesReadPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		c.handleMessagesRead(payload)

	case event.EventUsersOnline:
		var payload event.UsersOnlinePayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		c.mu.Lock()
		c.online = payload.UserIDs
		c.mu.Unlock()
		c.notifyChange()

	case event.EventError:
		var payload event.ErrorPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(payload.Code, payload.Message)
		}
	}
}

// handleNewMessage appends to the open room's transcript and acknowledges
// the message; for any other room only the preview is updated, without
// fetching the transcript.
func (c *Client) handleNewMessage(msg model.MessageWithSender) {
	conversationID := msg.ConversationID.Hex()

	c.mu.Lock()
	open := c.openRoom == conversationID
	if open {
		c.transcripts[conversationID] = append(c.transcripts[conversationID], msg)
	}

	preview := c.previews[conversationID]
	preview.ConversationID = conversationID
	preview.LastMessage = msg
	if !open {
		preview.Unseen++
	}
	c.previews[conversationID] = preview
	c.mu.Unlock()

	if open {
		_ = c.MarkRead(conversationID, []string{msg.ID.Hex()})
	}
	c.notifyChange()
}

func (c *Client) handleMessagesRead(payload event.MessagesReadPayload) {
	read := make(map[string]struct{}, len(payload.MessageIDs))
	for _, id := range payload.MessageIDs {
		read[id] = struct{}{}
	}

	c.mu.Lock()
	transcript := c.transcripts[payload.ConversationID]
	for i := range transcript {
		if _, ok := read[transcript[i].ID.Hex()]; !ok {
			continue
		}
		already := false
		for _, u := range transcript[i].ReadBy {
			if u == payload.UserID {
				already = true
				break
			}
		}
		if !already {
			transcript[i].ReadBy = append(transcript[i].ReadBy, payload.UserID)
		}
	}
	c.mu.Unlock()
	c.notifyChange()
}
