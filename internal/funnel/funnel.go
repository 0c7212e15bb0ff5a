// Package funnel reduces a campaign's raw call attempts into the
// counters and rates shown on dashboards. The aggregation is read-only
// and recomputed from current rows on every call, so it can never drift
// from storage.
package funnel

import (
	"context"
	"time"

	"dialer-platform/internal/attempt"
)

// ActiveCallFreshness bounds how long an in-progress attempt still
// counts as a live call. An external platform that never delivers its
// completion webhook would otherwise leave the call "active" forever;
// rows older than this are shown as not currently active while they
// wait for reconciliation.
const ActiveCallFreshness = 5 * time.Minute

type Metrics struct {
	CampaignID     string `json:"campaign_id"`
	TotalContacts  int    `json:"total_contacts"`
	ContactsCalled int    `json:"contacts_called"`
	ActiveCalls    int    `json:"active_calls"`
	Pickups        int    `json:"pickups"`
	NoAnswers      int    `json:"no_answers"`
	FailedCalls    int    `json:"failed_calls"`
	Appointments   int    `json:"appointments"`

	// SuccessRate is pickups over contacts called, as a rounded
	// integer percentage. Zero when nothing has been called yet.
	SuccessRate int `json:"success_rate"`
}

// AttemptSource is the slice of the attempt store the aggregator reads.
type AttemptSource interface {
	ListByCampaign(ctx context.Context, campaignID string) ([]attempt.Attempt, error)
}

type Service struct {
	attempts AttemptSource
	clock    func() time.Time
}

func NewService(attempts AttemptSource) *Service {
	return &Service{attempts: attempts, clock: time.Now}
}

// ComputeMetrics scans the campaign's attempts. totalContacts is the
// size of the assigned contact group, which can exceed the attempt
// count since a contact may have zero attempts.
//
// Only attempts with an external call id count as "called": the row is
// created before the platform answers, and its existence alone does not
// mean a call happened.
func (s *Service) ComputeMetrics(ctx context.Context, campaignID string, totalContacts int) (Metrics, error) {
	attempts, err := s.attempts.ListByCampaign(ctx, campaignID)
	if err != nil {
		return Metrics{}, err
	}

	now := s.clock()
	m := Metrics{CampaignID: campaignID, TotalContacts: totalContacts}
	for _, a := range attempts {
		if a.ExternalCallID == "" {
			continue
		}
		m.ContactsCalled++

		switch a.Status {
		case attempt.StatusInProgress:
			if now.Sub(a.CreatedAt) <= ActiveCallFreshness {
				m.ActiveCalls++
			}
		case attempt.StatusCompleted:
			m.Pickups++
		case attempt.StatusNoAnswer:
			m.NoAnswers++
		case attempt.StatusFailed:
			m.FailedCalls++
		}
		if a.Appointment != nil && a.Appointment.Booked {
			m.Appointments++
		}
	}

	if m.ContactsCalled > 0 {
		m.SuccessRate = int((int64(m.Pickups)*100 + int64(m.ContactsCalled)/2) / int64(m.ContactsCalled))
	}
	return m, nil
}
