package configuration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/auth"
	"github.com/Sarevi/farmafollow-sub000/internal/db"
	"github.com/Sarevi/farmafollow-sub000/internal/handler"
	"github.com/Sarevi/farmafollow-sub000/internal/hub"
	"github.com/Sarevi/farmafollow-sub000/internal/model"
	"github.com/Sarevi/farmafollow-sub000/internal/repo"
	"github.com/Sarevi/farmafollow-sub000/internal/service"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	UserHandler handler.UserHandler
	ChatHandler handler.ChatHandler
	Hub         *hub.Hub
	Tokens      *auth.TokenManager
	Config      Config
	Logger      *zap.Logger

	// private - for cleanup
	mongoDatabase *mongo.Database
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required (config auth.jwt_secret or JWT_SECRET)")
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	messageStore := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)
	conversationStore := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	userStore := db.NewRepository[model.User](con, config.ChatDatabase.UsersCollection)

	messageRepo := repo.NewMessageRepository(messageStore, logger)
	conversationRepo := repo.NewConversationRepository(conversationStore, logger)
	userRepo := repo.NewUserRepository(userStore)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := conversationRepo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	tokens := auth.NewTokenManager(config.Auth.JWTSecret, config.Auth.TokenTTLDuration())

	chatService := service.NewChatService(conversationRepo, messageRepo, userRepo, logger)
	userService := service.NewUserService(userRepo, tokens)

	chatHandler := handler.NewChatHandler(chatService)
	userHandler := handler.NewUserHandler(userService)

	relay := hub.NewHub(hub.NewRegistry(), conversationRepo, messageRepo, userRepo, tokens, logger)

	return &Container{
		UserHandler:   userHandler,
		ChatHandler:   chatHandler,
		Hub:           relay,
		Tokens:        tokens,
		Config:        *config,
		Logger:        logger,
		mongoDatabase: con,
	}, nil
}

// Close gracefully shuts down all connections.
func (c *Container) Close() error {
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoDatabase != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoDatabase.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
