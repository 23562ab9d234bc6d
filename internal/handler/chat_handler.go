package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Sarevi/farmafollow-sub000/internal/middleware"
	"github.com/Sarevi/farmafollow-sub000/internal/service"

	"github.com/gin-gonic/gin"
)

type ChatHandler interface {
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	CreateDirect(c *gin.Context)
	CreateGroup(c *gin.Context)
	GetMessages(c *gin.Context)
	MarkAllRead(c *gin.Context)
	AddParticipants(c *gin.Context)
	DeleteConversation(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(service service.ChatService) ChatHandler {
	return &chatHandler{
		service: service,
	}
}

func (h *chatHandler) ListConversations(c *gin.Context) {
	userID := middleware.MustUserID(c)

	conversations, err := h.service.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (h *chatHandler) GetConversation(c *gin.Context) {
	userID := middleware.MustUserID(c)

	conversation, err := h.service.GetConversation(c.Request.Context(), userID, c.Param("conversationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conversation})
}

type createDirectRequest struct {
	OtherUserID string `json:"otherUserId" binding:"required"`
}

func (h *chatHandler) CreateDirect(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req createDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otherUserId is required"})
		return
	}

	conversation, created, err := h.service.CreateDirect(c.Request.Context(), userID, req.OtherUserID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conversation})
}

type createGroupRequest struct {
	Name           string   `json:"name" binding:"required"`
	ParticipantIDs []string `json:"participantIds" binding:"required"`
}

func (h *chatHandler) CreateGroup(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and participantIds are required"})
		return
	}

	conversation, err := h.service.CreateGroup(c.Request.Context(), userID, req.Name, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conversation})
}

// GetMessages serves paginated history: the newest window strictly before
// the `before` cursor (RFC3339, defaults to now), returned chronologically.
func (h *chatHandler) GetMessages(c *gin.Context) {
	userID := middleware.MustUserID(c)
	conversationID := c.Param("conversationId")

	before := time.Now()
	if v := c.Query("before"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
			return
		}
		before = parsed
	}

	limit := int64(0)
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	messages, err := h.service.History(c.Request.Context(), userID, conversationID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *chatHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.MustUserID(c)

	updated, err := h.service.MarkAllRead(c.Request.Context(), userID, c.Param("conversationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

type addParticipantsRequest struct {
	UserIDs []string `json:"userIds" binding:"required"`
}

func (h *chatHandler) AddParticipants(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req addParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userIds is required"})
		return
	}

	conversation, err := h.service.AddParticipants(c.Request.Context(), userID, c.Param("conversationId"), req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conversation})
}

func (h *chatHandler) DeleteConversation(c *gin.Context) {
	userID := middleware.MustUserID(c)

	if err := h.service.DeleteConversation(c.Request.Context(), userID, c.Param("conversationId")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
