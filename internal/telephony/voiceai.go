package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VoiceAIProvider talks to the hosted voice-AI calling platform over
// its REST API. It is an adapter only: no business decisions are made
// here.
type VoiceAIProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewVoiceAIProvider(baseURL, apiKey string) *VoiceAIProvider {
	return &VoiceAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *VoiceAIProvider) Name() string { return "voiceai" }

func (p *VoiceAIProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("voiceai health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("voiceai health check: status %d", resp.StatusCode)
	}
	return nil
}

func (p *VoiceAIProvider) PlaceCall(ctx context.Context, in PlaceCallRequest) (PlaceCallResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return PlaceCallResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return PlaceCallResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("voiceai place call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PlaceCallResult{}, fmt.Errorf("voiceai place call: status %d: %s", resp.StatusCode, msg)
	}

	var out PlaceCallResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PlaceCallResult{}, fmt.Errorf("voiceai place call: decode: %w", err)
	}
	if out.ExternalCallID == "" {
		return PlaceCallResult{}, fmt.Errorf("voiceai place call: empty external call id")
	}
	return out, nil
}
