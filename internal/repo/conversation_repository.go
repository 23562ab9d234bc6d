package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/db"
	"github.com/Sarevi/farmafollow-sub000/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type ConversationRepository interface {
	EnsureIndexes(ctx context.Context) error
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	FindOrCreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, bool, error)
	CreateGroup(ctx context.Context, name, admin string, participantIDs []string) (*model.Conversation, error)
	AddParticipants(ctx context.Context, conversationID string, userIDs []string) error
	SetLastMessage(ctx context.Context, conversationID string, lm model.LastMessage) error
	Delete(ctx context.Context, conversationID string) error
}

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

func NewConversationRepository(repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// EnsureIndexes installs the unique partial index on direct_key. The index
// is what makes direct find-or-create safe under concurrent first-contact
// attempts: the loser of the race gets a duplicate-key error and reads the
// winner's document.
func (r *conversationRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	return r.mongoRepo.EnsureIndexes(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_group": false}),
		},
		{
			Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	})
}

// GetByID fetches a conversation by ID. Returns (nil, nil) when absent.
func (r *conversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if _, err := primitive.ObjectIDFromHex(conversationID); err != nil {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conversation, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return conversation, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("participant_ids", userID).Build()
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	conversations, err := r.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		r.logger.Error("failed to list conversations", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	return conversations, nil
}

// FindOrCreateDirect returns the direct conversation between the two users,
// creating it on first contact. The bool result reports whether a new
// document was created.
func (r *conversationRepository) FindOrCreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	key := model.DirectKeyFor(userA, userB)
	now := time.Now()

	conversation := model.Conversation{
		ParticipantIDs: []string{userA, userB},
		IsGroup:        false,
		DirectKey:      key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, err := r.mongoRepo.Create(ctx, conversation)
	if err == nil {
		if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
			conversation.ID = oid
		}
		r.logger.Info("direct conversation created",
			zap.String("direct_key", key),
			zap.String("conversation_id", conversation.ID.Hex()),
		)
		return &conversation, true, nil
	}

	if mongo.IsDuplicateKeyError(err) {
		existing, findErr := r.mongoRepo.FindOne(ctx, bson.M{"direct_key": key})
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to fetch existing direct conversation: %w", findErr)
		}
		return existing, false, nil
	}

	r.logger.Error("failed to create direct conversation", zap.String("direct_key", key), zap.Error(err))
	return nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
}

func (r *conversationRepository) CreateGroup(ctx context.Context, name, admin string, participantIDs []string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now()
	conversation := model.Conversation{
		ParticipantIDs: participantIDs,
		IsGroup:        true,
		GroupName:      name,
		GroupAdmin:     admin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result, err := r.mongoRepo.Create(ctx, conversation)
	if err != nil {
		r.logger.Error("failed to create group", zap.String("group_name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conversation.ID = oid
	}
	return &conversation, nil
}

func (r *conversationRepository) AddParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("_id", conversationID).Build()
	_, err := r.mongoRepo.AddToSet(ctx, filter, "participant_ids", bson.M{"$each": userIDs})
	if err != nil {
		r.logger.Error("failed to add participants",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to add participants: %w", err)
	}

	_, err = r.mongoRepo.UpdateByID(ctx, conversationID, bson.M{"updated_at": time.Now()})
	return err
}

// SetLastMessage refreshes the denormalized preview and bumps updated_at so
// the conversation floats to the top of list views.
func (r *conversationRepository) SetLastMessage(ctx context.Context, conversationID string, lm model.LastMessage) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, conversationID, bson.M{
		"last_message": lm,
		"updated_at":   time.Now(),
	})
	if err != nil {
		r.logger.Error("failed to set last message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to set last message: %w", err)
	}
	return nil
}

func (r *conversationRepository) Delete(ctx context.Context, conversationID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("_id", conversationID).Build()
	_, err := r.mongoRepo.Delete(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}
