package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/hivescan/hivescan/internal/core/domain"
)

const scanEventChannel = "scan:events"

// Adapter publishes and subscribes to scan stage-transition events over
// Redis pub/sub. Implements ports.EventPublisher.
type Adapter struct {
	client *redis.Client
}

func NewAdapter(url string) (*Adapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: redis.NewClient(opts)}, nil
}

func (a *Adapter) PublishScanEvent(ctx context.Context, event domain.ScanEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return a.client.Publish(ctx, scanEventChannel, data).Err()
}

func (a *Adapter) Subscribe(ctx context.Context) (<-chan domain.ScanEvent, error) {
	pubsub := a.client.Subscribe(ctx, scanEventChannel)
	ch := make(chan domain.ScanEvent)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		for msg := range pubsub.Channel() {
			var event domain.ScanEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}
