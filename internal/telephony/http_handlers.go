package telephony

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/attempt"
	"dialer-platform/pkg/logger"
)

// WebhookHandler converts the platform's completion webhook into
// internal types and delegates settlement to the Concluder.
//
// No business logic here.
type WebhookHandler struct {
	Secret    string
	Concluder Concluder
}

func (h WebhookHandler) HandleCallCompleted(c *gin.Context) {
	log := logger.From(c.Request.Context())

	if h.Concluder == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "concluder not configured"})
		return
	}

	ev, err := ParseCallCompleted(h.Secret, c.Request.Body, c.GetHeader("X-Webhook-Signature"))
	if errors.Is(err, ErrBadSignature) {
		log.Warn("webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
		return
	}
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	err = h.Concluder.ConcludeCall(c.Request.Context(), ev)
	switch {
	case errors.Is(err, attempt.ErrAlreadyConcluded):
		// Platforms redeliver webhooks; a duplicate is not a failure.
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
	case errors.Is(err, attempt.ErrNotFound):
		log.Warn("webhook for unknown call", "external_call_id", ev.ExternalCallID)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
	case err != nil:
		log.Error("call settlement failed", "external_call_id", ev.ExternalCallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
