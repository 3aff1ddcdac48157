package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/khoahotran/profile-service/pkg/logger"
)

func NewRouter(profileHandler *ProfileHandler, log logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), ErrorMiddleware(log))

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Profile service is running")
	})
	router.GET("/health", profileHandler.Health)

	users := router.Group("/users")
	{
		users.POST("", profileHandler.CreateProfile)
		users.PUT("/experience/:email", profileHandler.ReplaceExperience)
		users.PUT("/:email", profileHandler.MergeUpdate)
		users.DELETE("/:id", profileHandler.RemoveExperience)
		users.GET("/modal/:email", profileHandler.GetProfile)
		users.GET("/:email", profileHandler.GetProfile)
	}

	return router
}
