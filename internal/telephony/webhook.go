package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"dialer-platform/internal/attempt"
)

// CallCompletedEvent is the platform's end-of-call webhook payload.
type CallCompletedEvent struct {
	ExternalCallID string `json:"external_call_id"`

	// AttemptID is the id we sent in PlaceCall, echoed back.
	AttemptID string `json:"attempt_id,omitempty"`

	// Status is the platform's outcome: completed, no_answer, failed
	// or busy. Busy is folded into failed internally.
	Status string `json:"status"`

	DurationSeconds int                  `json:"duration_seconds"`
	EndedAt         time.Time            `json:"ended_at"`
	Appointment     *attempt.Appointment `json:"appointment,omitempty"`
}

var ErrUnknownCallStatus = errors.New("telephony: unknown call status")

// AttemptStatus maps the platform's outcome vocabulary onto ours.
func (e CallCompletedEvent) AttemptStatus() (attempt.Status, error) {
	switch e.Status {
	case "completed":
		return attempt.StatusCompleted, nil
	case "no_answer", "no-answer":
		return attempt.StatusNoAnswer, nil
	case "failed", "busy":
		return attempt.StatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCallStatus, e.Status)
}

// Concluder settles a finished call: the attempt row, the usage
// deduction and the dial slot. Implemented by the execution loop.
type Concluder interface {
	ConcludeCall(ctx context.Context, ev CallCompletedEvent) error
}

var ErrBadSignature = errors.New("telephony: webhook signature mismatch")

// VerifySignature checks the hex HMAC-SHA256 the platform sends in
// X-Webhook-Signature against the shared secret.
func VerifySignature(secret string, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// ParseCallCompleted verifies and decodes a webhook body.
func ParseCallCompleted(secret string, r io.Reader, signature string) (CallCompletedEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return CallCompletedEvent{}, err
	}
	if err := VerifySignature(secret, body, signature); err != nil {
		return CallCompletedEvent{}, err
	}
	var ev CallCompletedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return CallCompletedEvent{}, fmt.Errorf("telephony: decode webhook: %w", err)
	}
	if ev.ExternalCallID == "" {
		return CallCompletedEvent{}, errors.New("telephony: webhook missing external_call_id")
	}
	if _, err := ev.AttemptStatus(); err != nil {
		return CallCompletedEvent{}, err
	}
	return ev, nil
}
