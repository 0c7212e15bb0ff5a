package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/attempt"
	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/callwindow"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/credit"
	"dialer-platform/internal/funnel"
	"dialer-platform/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Campaigns *campaign.Service
	Credits   *credit.Service
	Metrics   *funnel.Service
	Audit     *audit.Service
}

// statusFor maps internal error kinds onto HTTP codes so the execution
// loop and UI can branch on them deterministically.
func statusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, credit.ErrNotFound),
		errors.Is(err, attempt.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrIllegalTransition),
		errors.Is(err, campaign.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrMissingPrerequisite),
		errors.Is(err, callwindow.ErrNoEligibleWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, campaign.ErrCreditAdmissionDenied):
		return http.StatusPaymentRequired
	case errors.Is(err, campaign.ErrInvalidArgument),
		errors.Is(err, credit.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.From(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func identity(c *gin.Context) (userID, role string, ok bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", "", false
	}
	role, _ = auth.Role(c.Request.Context())
	return userID, role, true
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: credential validation lives at the identity provider; this
// endpoint only mints tokens for already-verified principals.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaigns ---

func (h Handlers) CreateCampaign(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req campaign.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	created, err := h.Campaigns.Create(c.Request.Context(), userID, req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	list, err := h.Campaigns.List(c.Request.Context(), userID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	got, err := h.Campaigns.Get(c.Request.Context(), userID, c.Param("campaign_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, got)
}

func (h Handlers) UpdateCampaign(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req campaign.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := h.Campaigns.Update(c.Request.Context(), userID, c.Param("campaign_id"), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h Handlers) DeleteCampaign(c *gin.Context) {
	userID, role, ok := identity(c)
	if !ok {
		return
	}
	id := c.Param("campaign_id")
	if err := h.Campaigns.Delete(c.Request.Context(), userID, id); err != nil {
		abortWith(c, err)
		return
	}
	h.logAudit(c, h.Audit.LogCampaignDeleted(c.Request.Context(), userID, userID, role, c.ClientIP(), id))
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type transitionRequest struct {
	Status campaign.Status       `json:"status"`
	Reason campaign.PausedReason `json:"reason,omitempty"`
}

// TransitionCampaign is the user-facing entry to the same transition
// contract the execution loop uses.
func (h Handlers) TransitionCampaign(c *gin.Context) {
	userID, role, ok := identity(c)
	if !ok {
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	id := c.Param("campaign_id")
	before, err := h.Campaigns.Get(c.Request.Context(), userID, id)
	if err != nil {
		abortWith(c, err)
		return
	}
	after, err := h.Campaigns.RequestTransition(c.Request.Context(), userID, id, req.Status, req.Reason)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.logAudit(c, h.Audit.LogTransition(c.Request.Context(), userID, userID, role, c.ClientIP(),
		id, string(before.Status), string(after.Status), string(after.PausedReason)))
	c.JSON(http.StatusOK, after)
}

func (h Handlers) CampaignMetrics(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	got, err := h.Campaigns.Get(c.Request.Context(), userID, c.Param("campaign_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	m, err := h.Metrics.ComputeMetrics(c.Request.Context(), got.ID, got.ContactCount)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- Credits ---

func (h Handlers) GetBalance(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	acct, err := h.Credits.GetAccount(c.Request.Context(), userID)
	if errors.Is(err, credit.ErrNotFound) {
		// A user who never topped up simply has an empty account.
		c.JSON(http.StatusOK, credit.Account{UserID: userID})
		return
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (h Handlers) PurchaseCredits(c *gin.Context) {
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req credit.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	tx, acct, err := h.Credits.Purchase(c.Request.Context(), userID, req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "account": acct})
}

type adminAdjustRequest struct {
	UserID         string `json:"user_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminAdjustCredits performs a manual balance correction on any
// user's account. RBAC: owner or super_admin.
func (h Handlers) AdminAdjustCredits(c *gin.Context) {
	adminID, adminRole, ok := identity(c)
	if !ok {
		return
	}
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	tx, acct, err := h.Credits.Adjust(c.Request.Context(), req.UserID, credit.AdjustRequest{
		AmountMinor:    req.AmountMinor,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	h.logAudit(c, h.Audit.LogCreditAdjustment(c.Request.Context(), req.UserID, adminID, adminRole, c.ClientIP(), req.AmountMinor, req.Reason))
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "account": acct})
}

// logAudit reports audit failures without failing the request.
func (h Handlers) logAudit(c *gin.Context, err error) {
	if err != nil {
		logger.From(c.Request.Context()).Warn("audit append failed", "error", err)
	}
}
