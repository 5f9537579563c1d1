package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ylv-consulting/landops/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, signingSecret string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "landops-api",
		})
	})

	webhookHandler := handler.NewWebhookHandler(deps)

	// Inbound document-generation events. Signature check runs before any
	// payload parsing.
	webhooks := r.Group("/webhook")
	webhooks.Use(VerifySignature(deps.Logger, signingSecret, deps.Auditor))
	{
		webhooks.POST("/:kind", webhookHandler.HandleWebhook)
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/jobs/:job_id", webhookHandler.GetJob)
	}

	return r
}
