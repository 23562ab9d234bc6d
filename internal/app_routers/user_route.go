package approuters

import (
	"github.com/Sarevi/farmafollow-sub000/internal/configuration"
	"github.com/Sarevi/farmafollow-sub000/internal/middleware"

	"github.com/gin-gonic/gin"
)

func UserRouters(router *gin.Engine, container *configuration.Container) {
	auth := router.Group("/api/auth")
	{
		auth.POST("/register", container.UserHandler.Register)
		auth.POST("/login", container.UserHandler.Login)
	}

	users := router.Group("/api/users")
	users.Use(middleware.AuthMiddleware(container.Tokens))
	{
		users.GET("", container.UserHandler.ListUsers)
	}
}
