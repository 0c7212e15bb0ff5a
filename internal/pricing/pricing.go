// Package pricing turns call durations and campaign sizes into credit
// amounts. All amounts are integer minor units; there is no floating
// point anywhere in the money path.
package pricing

import "errors"

// Rate is the outbound calling price applied to a user's campaigns.
type Rate struct {
	Currency string `json:"currency"`

	// RatePerMinuteMinor is the price per started minute.
	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`

	// BillingIncrementSeconds rounds billable time up (60 for
	// per-minute billing, 1 for per-second).
	BillingIncrementSeconds int `json:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge per connected call.
	MinimumBillableSeconds int `json:"minimum_billable_seconds"`

	// EstimatedMinutesPerContact sizes the reservation taken before a
	// campaign starts dialing. Actual spend is settled per call.
	EstimatedMinutesPerContact int `json:"estimated_minutes_per_contact"`
}

// DefaultRate is used when no rate is configured for the deployment.
var DefaultRate = Rate{
	Currency:                   "USD",
	RatePerMinuteMinor:         15,
	BillingIncrementSeconds:    60,
	MinimumBillableSeconds:     0,
	EstimatedMinutesPerContact: 2,
}

var ErrInvalidRate = errors.New("pricing: invalid rate")

type Service struct {
	rate Rate
}

func NewService(rate Rate) (*Service, error) {
	if rate.RatePerMinuteMinor < 0 || rate.EstimatedMinutesPerContact < 0 {
		return nil, ErrInvalidRate
	}
	if rate.BillingIncrementSeconds <= 0 {
		rate.BillingIncrementSeconds = 60
	}
	if rate.MinimumBillableSeconds < 0 {
		rate.MinimumBillableSeconds = 0
	}
	return &Service{rate: rate}, nil
}

func (s *Service) Rate() Rate {
	return s.rate
}

// CallCostMinor prices one concluded call from its connected duration.
// Zero duration calls (no answer, failed before connect) cost nothing.
func (s *Service) CallCostMinor(durationSeconds int) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	sec := billableSeconds(durationSeconds, s.rate.MinimumBillableSeconds, s.rate.BillingIncrementSeconds)
	return s.rate.RatePerMinuteMinor * int64(billableMinutes(sec))
}

// CampaignEstimateMinor sizes the credit hold taken when a campaign is
// admitted to dialing.
func (s *Service) CampaignEstimateMinor(contactCount int) int64 {
	if contactCount <= 0 {
		return 0
	}
	return int64(contactCount) * int64(s.rate.EstimatedMinutesPerContact) * s.rate.RatePerMinuteMinor
}

func billableSeconds(actualSec, minSec, incrementSec int) int {
	sec := actualSec
	if sec < minSec {
		sec = minSec
	}
	q := sec / incrementSec
	if sec%incrementSec != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutes(sec int) int {
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
