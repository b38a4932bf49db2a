package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quizlive-service/internal/domain"
)

// DefaultRelayChannel is the pub/sub channel room events travel on.
const DefaultRelayChannel = "quizlive:rooms"

// Envelope is one room event on the wire between instances.
type Envelope struct {
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay is the pub/sub adapter that makes room broadcast work across
// processes: the session owner publishes every room event, peers subscribe
// and forward envelopes to their locally connected clients.
type Relay struct {
	client  *redis.Client
	channel string
}

func NewRelay(client *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{client: client, channel: channel}
}

// Publish sends one room event to the relay channel.
func (r *Relay) Publish(ctx context.Context, sessionID string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data, err := json.Marshal(Envelope{
		SessionID: sessionID,
		Type:      ev.EventType(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe returns a channel of envelopes from peer instances. The caller
// must invoke the returned stop function to release the subscription.
func (r *Relay) Subscribe(ctx context.Context) (<-chan Envelope, func(), error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe relay: %w", err)
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				continue
			}
			select {
			case out <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
