package model

import (
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// MaxContentLength bounds message content, counted in code points.
const MaxContentLength = 5000

// Message represents a chat message in MongoDB. ReadBy and DeletedFor are
// sets maintained via $addToSet; the sender is in ReadBy from creation.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	Content        string             `json:"content" bson:"content"`
	Type           string             `json:"type" bson:"type"`
	ReadBy         []string           `json:"readBy" bson:"read_by"`
	DeletedFor     []string           `json:"-" bson:"deleted_for"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
}

// MessageWithSender is the broadcast/history shape with sender profile
// fields populated.
type MessageWithSender struct {
	Message
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
}

// ValidMessageType reports whether t is one of the supported message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}

// ValidContent reports whether content is non-empty and within the length
// bound. Length is counted in code points, not bytes.
func ValidContent(content string) bool {
	return content != "" && utf8.RuneCountInString(content) <= MaxContentLength
}
