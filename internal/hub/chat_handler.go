package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/event"
	"github.com/Sarevi/farmafollow-sub000/internal/model"
	"github.com/Sarevi/farmafollow-sub000/internal/repo"

	"go.uber.org/zap"
)

// ChatHandler processes chat events for the hub. Every failure is converted
// to a scoped error event on the calling connection; nothing here may crash
// the relay or broadcast partial state.
type ChatHandler struct {
	hub           *Hub
	conversations ConversationStore
	messages      MessageStore
	users         UserStore
}

// HandleEvent dispatches one inbound client event.
func (ch *ChatHandler) HandleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventJoinChat:
		ch.handleJoin(ev, c)
	case event.EventLeaveChat:
		ch.handleLeave(ev, c)
	case event.EventSendMessage:
		ch.handleSendMessage(ev, c)
	case event.EventTyping:
		ch.handleTyping(ev, c)
	case event.EventMarkRead:
		ch.handleMarkRead(ev, c)
	default:
		ch.hub.logger.Debug("unknown event type", zap.String("event", ev.Event))
		c.sendError("unknown_event", "Unknown event type: "+ev.Event)
	}
}

// requireMembership resolves the conversation and checks the caller is a
// participant. On any failure it emits a scoped error and returns nil.
func (ch *ChatHandler) requireMembership(c *Client, conversationID string) *model.Conversation {
	if conversationID == "" {
		c.sendError("invalid_conversation_id", "conversationId is required")
		return nil
	}

	ctx, cancel := context.WithTimeout(ch.hub.ctx, 10*time.Second)
	defer cancel()

	conversation, err := ch.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidConversationID) {
			c.sendError("invalid_conversation_id", "Malformed conversation id")
			return nil
		}
		ch.hub.logger.Error("conversation lookup failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		c.sendError("persistence_failure", "Could not load conversation")
		return nil
	}
	if conversation == nil {
		c.sendError("not_found", "Conversation not found")
		return nil
	}
	if !conversation.HasParticipant(c.userID) {
		c.sendError("not_participant", "You are not a participant of this conversation")
		return nil
	}
	return conversation
}

func (ch *ChatHandler) handleJoin(ev event.WsEvent, c *Client) {
	var payload event.JoinPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		c.sendError("invalid_payload", "Failed to parse join request")
		return
	}

	if ch.requireMembership(c, payload.ConversationID) == nil {
		return
	}

	ch.hub.joinRoom(c, payload.ConversationID)
	ch.hub.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("conversation_id", payload.ConversationID),
	)
}

// handleLeave needs no authorization check: leaving is always safe.
func (ch *ChatHandler) handleLeave(ev event.WsEvent, c *Client) {
	var payload event.JoinPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		c.sendError("invalid_payload", "Failed to parse leave request")
		return
	}
	if payload.ConversationID == "" {
		return
	}
	ch.hub.leaveRoom(c, payload.ConversationID)
}

func (ch *ChatHandler) handleSendMessage(ev event.WsEvent, c *Client) {
	var payload event.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		c.sendError("invalid_payload", "Failed to parse message")
		return
	}

	if !model.ValidContent(payload.Content) {
		c.sendError("invalid_content", "Message content must be 1-5000 characters")
		return
	}
	messageType := payload.Type
	if messageType == "" {
		messageType = model.MessageTypeText
	}
	if !model.ValidMessageType(messageType) {
		c.sendError("invalid_type", "Unsupported message type: "+messageType)
		return
	}

	conversation := ch.requireMembership(c, payload.ConversationID)
	if conversation == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ch.hub.ctx, 10*time.Second)
	defer cancel()

	msg := &model.Message{
		ConversationID: conversation.ID,
		SenderID:       c.userID,
		Content:        payload.Content,
		Type:           messageType,
		ReadBy:         []string{c.userID}, // sender has read their own message
		DeletedFor:     []string{},
		CreatedAt:      time.Now(),
	}

	messageID, err := ch.messages.InsertMessage(ctx, msg)
	if err != nil {
		c.sendError("persistence_failure", "Failed to send message")
		return
	}

	if err := ch.conversations.SetLastMessage(ctx, payload.ConversationID, model.LastMessage{
		MessageID: messageID,
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}); err != nil {
		ch.hub.logger.Warn("failed to refresh last message",
			zap.String("conversation_id", payload.ConversationID),
			zap.Error(err),
		)
	}

	// The sender's own connections receive the broadcast too: the client UI
	// updates from the event, not an optimistic local write, so every device
	// sees the same ordering per room.
	out := ch.withSenderProfile(ctx, msg)
	ch.hub.broadcastToRoom(payload.ConversationID, event.NewEvent(event.EventNewMessage, out), "")
}

func (ch *ChatHandler) handleTyping(ev event.WsEvent, c *Client) {
	var payload event.TypingPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		c.sendError("invalid_payload", "Failed to parse typing event")
		return
	}

	if ch.requireMembership(c, payload.ConversationID) == nil {
		return
	}

	// Transient UI hint: never persisted, never echoed to the sender.
	out := event.NewEvent(event.EventUserTyping, event.UserTypingPayload{
		UserID:         c.userID,
		ConversationID: payload.ConversationID,
		IsTyping:       payload.IsTyping,
	})
	ch.hub.broadcastToRoom(payload.ConversationID, out, c.ID)
}

func (ch *ChatHandler) handleMarkRead(ev event.WsEvent, c *Client) {
	var payload event.MarkReadPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		c.sendError("invalid_payload", "Failed to parse read receipt")
		return
	}
	if len(payload.MessageIDs) == 0 {
		return
	}

	if ch.requireMembership(c, payload.ConversationID) == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ch.hub.ctx, 10*time.Second)
	defer cancel()

	if _, err := ch.messages.MarkRead(ctx, payload.ConversationID, payload.MessageIDs, c.userID); err != nil {
		c.sendError("persistence_failure", "Failed to record read receipt")
		return
	}

	out := event.NewEvent(event.EventMessagesRead, event.MessagesReadPayload{
		UserID:         c.userID,
		ConversationID: payload.ConversationID,
		MessageIDs:     payload.MessageIDs,
	})
	ch.hub.broadcastToRoom(payload.ConversationID, out, c.ID)
}

// withSenderProfile decorates the message with the sender's profile fields.
// Profile lookup failure degrades to the bare message rather than failing
// the send.
func (ch *ChatHandler) withSenderProfile(ctx context.Context, msg *model.Message) model.MessageWithSender {
	out := model.MessageWithSender{Message: *msg}

	user, err := ch.users.GetByUserID(ctx, msg.SenderID)
	if err != nil || user == nil {
		if err != nil {
			ch.hub.logger.Warn("sender profile lookup failed",
				zap.String("user_id", msg.SenderID),
				zap.Error(err),
			)
		}
		return out
	}

	out.SenderName = user.Name
	out.SenderAvatar = user.Avatar
	return out
}
