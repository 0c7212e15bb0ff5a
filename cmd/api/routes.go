package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/utils"
)

// registerRoutes wires HTTP routes to handlers. Keep this file free of
// business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhook telephony.WebhookHandler,
	authMW gin.HandlerFunc, db *sql.DB, rdb *redis.Client) {

	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 5*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Platform webhooks are public; authenticity comes from the HMAC
	// signature, not a bearer token.
	r.POST("/webhooks/voice/call-completed", webhook.HandleCallCompleted)

	r.POST("/v1/auth/login", h.Login)

	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireUser())
	{
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			campaigns.POST("", h.CreateCampaign)
			campaigns.GET("", h.ListCampaigns)
			campaigns.GET("/:campaign_id", h.GetCampaign)
			campaigns.PATCH("/:campaign_id", h.UpdateCampaign)
			campaigns.DELETE("/:campaign_id", h.DeleteCampaign)
			campaigns.POST("/:campaign_id/transition", h.TransitionCampaign)
			campaigns.GET("/:campaign_id/metrics", h.CampaignMetrics)
		}

		credits := v1.Group("/credits")
		{
			credits.GET("/balance", h.GetBalance)
			credits.POST("/purchase", h.PurchaseCredits)
		}

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.POST("/credits/adjust", h.AdminAdjustCredits)
		}
	}
}
