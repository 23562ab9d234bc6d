package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/model"
	"github.com/Sarevi/farmafollow-sub000/internal/repo"

	"go.uber.org/zap"
)

const defaultHistoryPageSize = 50

type ChatService interface {
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error)
	CreateDirect(ctx context.Context, callerID, otherID string) (*model.Conversation, bool, error)
	CreateGroup(ctx context.Context, callerID, name string, participantIDs []string) (*model.Conversation, error)
	History(ctx context.Context, userID, conversationID string, before time.Time, limit int64) ([]model.Message, error)
	MarkAllRead(ctx context.Context, userID, conversationID string) (int64, error)
	AddParticipants(ctx context.Context, callerID, conversationID string, userIDs []string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, callerID, conversationID string) error
}

type chatService struct {
	conversations repo.ConversationRepository
	messages      repo.MessageRepository
	users         repo.UserRepository
	logger        *zap.Logger
}

func NewChatService(conversations repo.ConversationRepository, messages repo.MessageRepository, users repo.UserRepository, logger *zap.Logger) ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		users:         users,
		logger:        logger,
	}
}

// requireParticipant loads the conversation and checks membership.
func (s *chatService) requireParticipant(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidConversationID) {
			return nil, fmt.Errorf("%w: malformed conversation id", ErrValidation)
		}
		return nil, err
	}
	if conversation == nil {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if !conversation.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return conversation, nil
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		unread, err := s.messages.CountUnread(ctx, c.ID.Hex(), userID)
		if err != nil {
			s.logger.Warn("unread count failed",
				zap.String("conversation_id", c.ID.Hex()),
				zap.Error(err),
			)
		}
		summaries = append(summaries, model.ConversationSummary{
			Conversation: c,
			UnreadCount:  unread,
		})
	}
	return summaries, nil
}

func (s *chatService) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	return s.requireParticipant(ctx, userID, conversationID)
}

func (s *chatService) CreateDirect(ctx context.Context, callerID, otherID string) (*model.Conversation, bool, error) {
	if otherID == "" {
		return nil, false, fmt.Errorf("%w: otherUserId is required", ErrValidation)
	}
	if otherID == callerID {
		return nil, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	other, err := s.users.GetByUserID(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if other == nil {
		return nil, false, fmt.Errorf("%w: user %s", ErrNotFound, otherID)
	}

	return s.conversations.FindOrCreateDirect(ctx, callerID, otherID)
}

func (s *chatService) CreateGroup(ctx context.Context, callerID, name string, participantIDs []string) (*model.Conversation, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrValidation)
	}

	// The caller is always a member and becomes the admin.
	members := map[string]struct{}{callerID: {}}
	all := []string{callerID}
	for _, id := range participantIDs {
		if _, seen := members[id]; seen || id == "" {
			continue
		}
		members[id] = struct{}{}
		all = append(all, id)
	}
	if len(all) < 2 {
		return nil, fmt.Errorf("%w: a group needs at least two participants", ErrValidation)
	}

	return s.conversations.CreateGroup(ctx, name, callerID, all)
}

func (s *chatService) History(ctx context.Context, userID, conversationID string, before time.Time, limit int64) ([]model.Message, error) {
	if _, err := s.requireParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultHistoryPageSize
	}
	return s.messages.HistoryBefore(ctx, conversationID, userID, before, limit)
}

func (s *chatService) MarkAllRead(ctx context.Context, userID, conversationID string) (int64, error) {
	if _, err := s.requireParticipant(ctx, userID, conversationID); err != nil {
		return 0, err
	}
	return s.messages.MarkAllRead(ctx, conversationID, userID)
}

func (s *chatService) AddParticipants(ctx context.Context, callerID, conversationID string, userIDs []string) (*model.Conversation, error) {
	conversation, err := s.requireParticipant(ctx, callerID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsGroup {
		return nil, fmt.Errorf("%w: participants can only be added to groups", ErrValidation)
	}
	if conversation.GroupAdmin != callerID {
		return nil, fmt.Errorf("%w: only the group admin can add participants", ErrForbidden)
	}
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: userIds is required", ErrValidation)
	}

	for _, id := range userIDs {
		user, err := s.users.GetByUserID(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}

	if err := s.conversations.AddParticipants(ctx, conversationID, userIDs); err != nil {
		return nil, err
	}
	return s.conversations.GetByID(ctx, conversationID)
}

// DeleteConversation removes a group (admin only, cascading its messages)
// or soft-hides a direct conversation's messages for the caller. Direct
// conversations are never hard-deleted.
func (s *chatService) DeleteConversation(ctx context.Context, callerID, conversationID string) error {
	conversation, err := s.requireParticipant(ctx, callerID, conversationID)
	if err != nil {
		return err
	}

	if conversation.IsGroup {
		if conversation.GroupAdmin != callerID {
			return fmt.Errorf("%w: only the group admin can delete the group", ErrForbidden)
		}
		if err := s.messages.DeleteByConversation(ctx, conversationID); err != nil {
			return err
		}
		return s.conversations.Delete(ctx, conversationID)
	}

	return s.messages.HideForUser(ctx, conversationID, callerID)
}
