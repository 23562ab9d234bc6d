package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a chat conversation in MongoDB. Direct
// conversations carry a DirectKey (sorted participant pair) backed by a
// unique partial index so concurrent first-contact attempts resolve to a
// single document.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ParticipantIDs []string           `json:"participantIds" bson:"participant_ids"`
	IsGroup        bool               `json:"isGroup" bson:"is_group"`
	GroupName      string             `json:"groupName,omitempty" bson:"group_name,omitempty"`
	GroupAdmin     string             `json:"groupAdmin,omitempty" bson:"group_admin,omitempty"`
	DirectKey      string             `json:"-" bson:"direct_key,omitempty"`
	LastMessage    *LastMessage       `json:"lastMessage" bson:"last_message"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updated_at"`
}

// LastMessage is the denormalized preview used by the conversation list
// view so it renders without a join against the messages collection.
type LastMessage struct {
	MessageID string    `json:"messageId" bson:"message_id"`
	Content   string    `json:"content" bson:"content"`
	SenderID  string    `json:"senderId" bson:"sender_id"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DirectKeyFor returns the canonical key for a direct conversation between
// two users, independent of who initiated it.
func DirectKeyFor(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// ConversationSummary decorates a conversation with per-caller state for
// the list view.
type ConversationSummary struct {
	Conversation
	UnreadCount int64 `json:"unreadCount"`
}
