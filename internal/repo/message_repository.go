package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/db"
	"github.com/Sarevi/farmafollow-sub000/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (string, error)
	HistoryBefore(ctx context.Context, conversationID, forUser string, before time.Time, limit int64) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, userID string) (int64, error)
	MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int64, error)
	HideForUser(ctx context.Context, conversationID, userID string) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// InsertMessage persists a message and returns its ID. Transient Mongo
// errors are retried with exponential backoff; context errors are not.
func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return "", ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return "", err
			}
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			insertedID := ""
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				insertedID = oid.Hex()
				msg.ID = oid
			}

			m.logger.Info("message inserted",
				zap.String("inserted_id", insertedID),
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int("attempt", attempt+1),
			)
			return insertedID, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return "", fmt.Errorf("insert message failed: %w", lastErr)
}

// HistoryBefore returns the newest page of messages strictly before the
// cursor, in chronological order, skipping messages hidden for the caller.
func (m *messageRepository) HistoryBefore(ctx context.Context, conversationID, forUser string, before time.Time, limit int64) ([]model.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Ne("deleted_for", forUser).
		Build()

	messages, err := m.mongoRepo.FindWindow(ctx, filter, db.WindowParams{
		Before: before,
		Limit:  limit,
		SortBy: "created_at",
	})
	if err != nil {
		return nil, m.handleReadError(err, conversationID)
	}

	// FindWindow returns newest first; history is served oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	m.logger.Debug("history page served",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(messages)),
	)
	return messages, nil
}

// MarkRead adds userID to read_by of the given messages. $addToSet keeps
// set semantics, so repeated calls are idempotent. Returns the number of
// documents actually modified.
func (m *messageRepository) MarkRead(ctx context.Context, conversationID string, messageIDs []string, userID string) (int64, error) {
	if conversationID == "" {
		return 0, ErrInvalidConversationID
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectIDs("_id", messageIDs).
		ObjectID("conversation_id", conversationID).
		Build()

	result, err := m.mongoRepo.AddToSet(ctx, filter, "read_by", userID)
	if err != nil {
		m.logger.Error("failed to mark messages read",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("mark read failed: %w", err)
	}
	return result.ModifiedCount, nil
}

// MarkAllRead marks every message in the conversation read for userID.
func (m *messageRepository) MarkAllRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if conversationID == "" {
		return 0, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Ne("read_by", userID).
		Build()

	result, err := m.mongoRepo.AddToSet(ctx, filter, "read_by", userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read failed: %w", err)
	}
	return result.ModifiedCount, nil
}

func (m *messageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Ne("read_by", userID).
		Ne("deleted_for", userID).
		Build()

	return m.mongoRepo.Count(ctx, filter)
}

// HideForUser tombstones every message in the conversation for one user.
// Other participants keep seeing the messages.
func (m *messageRepository) HideForUser(ctx context.Context, conversationID, userID string) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("conversation_id", conversationID).Build()
	_, err := m.mongoRepo.AddToSet(ctx, filter, "deleted_for", userID)
	if err != nil {
		return fmt.Errorf("hide messages failed: %w", err)
	}
	return nil
}

// DeleteByConversation hard-deletes all messages of a conversation. Only
// whole-conversation removal goes through here.
func (m *messageRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("conversation_id", conversationID).Build()
	result, err := m.mongoRepo.DeleteMany(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}

	m.logger.Info("conversation messages deleted",
		zap.String("conversation_id", conversationID),
		zap.Int64("count", result.DeletedCount),
	)
	return nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("conversation_id", conversationID))
		return ErrOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("conversation_id", conversationID))
	return fmt.Errorf("fetch messages failed: %w", err)
}
