package telephony

import "context"

// Provider is the provider-agnostic boundary to the external voice-AI
// calling platform. Business logic never talks to a provider SDK
// directly; it only asks for a call to be placed and later hears back
// through the completion webhook.
//
// PlaceCall is fire-and-forget from the controller's point of view: it
// returns the provider's call id and the conversation runs remotely.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

type PlaceCallRequest struct {
	UserID     string `json:"user_id"`
	CampaignID string `json:"campaign_id"`

	// AttemptID is echoed back by the platform so webhook events can be
	// correlated even if the external call id is lost.
	AttemptID string `json:"attempt_id"`

	// AgentID selects the voice agent configuration on the platform.
	AgentID string `json:"agent_id"`

	PhoneNumber string `json:"phone_number"`
	ContactName string `json:"contact_name,omitempty"`
}

type PlaceCallResult struct {
	// ExternalCallID is the platform's identifier for the initiated
	// call. Downstream, its presence is what counts as "a call was
	// made".
	ExternalCallID string `json:"external_call_id"`
}
