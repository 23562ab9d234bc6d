package approuters

import (
	"github.com/Sarevi/farmafollow-sub000/internal/configuration"
	"github.com/Sarevi/farmafollow-sub000/internal/middleware"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chats := router.Group("/api/conversations")
	chats.Use(middleware.AuthMiddleware(container.Tokens))
	{
		chats.GET("", container.ChatHandler.ListConversations)
		chats.POST("/direct", container.ChatHandler.CreateDirect)
		chats.POST("/group", container.ChatHandler.CreateGroup)
		chats.GET("/:conversationId", container.ChatHandler.GetConversation)
		chats.GET("/:conversationId/messages", container.ChatHandler.GetMessages)
		chats.POST("/:conversationId/read", container.ChatHandler.MarkAllRead)
		chats.POST("/:conversationId/participants", container.ChatHandler.AddParticipants)
		chats.DELETE("/:conversationId", container.ChatHandler.DeleteConversation)
	}
}
