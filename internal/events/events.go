// Package events fans campaign status changes out over redis pub/sub
// so observers (dashboards, other API replicas) can react to
// transitions made by the execution loop without polling the table.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/campaign"
	"dialer-platform/pkg/logger"
)

// StatusChannel is the pub/sub channel carrying campaign.StatusChange
// documents as JSON.
const StatusChannel = "campaigns:status"

type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// PublishStatusChange satisfies campaign.StatusPublisher.
func (b *Bus) PublishStatusChange(ctx context.Context, ev campaign.StatusChange) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal status change: %w", err)
	}
	if err := b.rdb.Publish(ctx, StatusChannel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish status change: %w", err)
	}
	return nil
}

// SubscribeStatusChanges delivers decoded status changes until ctx is
// cancelled. Messages that fail to decode are logged and skipped, so
// one malformed publisher cannot wedge every subscriber.
func (b *Bus) SubscribeStatusChanges(ctx context.Context) (<-chan campaign.StatusChange, error) {
	sub := b.rdb.Subscribe(ctx, StatusChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan campaign.StatusChange)
	go func() {
		defer close(out)
		defer sub.Close()
		log := logger.From(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev campaign.StatusChange
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn("dropping malformed status change", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
