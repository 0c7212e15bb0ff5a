package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider records placed calls and hands out sequential external
// call ids. Used in tests and local development without a platform key.
type MockProvider struct {
	mu     sync.Mutex
	seq    int
	Placed []PlaceCallRequest

	// Err, when set, fails every PlaceCall.
	Err error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) HealthCheck(context.Context) error { return nil }

func (p *MockProvider) PlaceCall(_ context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return PlaceCallResult{}, p.Err
	}
	p.seq++
	p.Placed = append(p.Placed, req)
	return PlaceCallResult{ExternalCallID: fmt.Sprintf("mock-call-%d", p.seq)}, nil
}
