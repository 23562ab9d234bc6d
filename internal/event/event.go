package event

import "encoding/json"

// Client -> server events
const (
	EventJoinChat    = "join-chat"
	EventLeaveChat   = "leave-chat"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventMarkRead    = "mark-read"
)

// Server -> client events
const (
	EventNewMessage   = "new-message"
	EventUserTyping   = "user-typing"
	EventMessagesRead = "messages-read"
	EventUsersOnline  = "users-online"
	EventError        = "error"
)

// WsEvent is the wire envelope for every frame in both directions.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an envelope. Marshal errors are ignored;
// all payload types here are plain structs that cannot fail to encode.
func NewEvent(name string, payload interface{}) WsEvent {
	raw, _ := json.Marshal(payload)
	return WsEvent{Event: name, Payload: raw}
}

// JoinPayload is shared by join-chat and leave-chat.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// UserTypingPayload is the server-side fan-out of a typing hint. It is
// never persisted and never echoed back to the sender.
type UserTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	UserID         string   `json:"userId"`
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type UsersOnlinePayload struct {
	UserIDs []string `json:"userIds"`
}

// ErrorPayload is scoped to the calling connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
