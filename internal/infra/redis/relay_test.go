package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizlive-service/internal/domain"
)

func TestRelayRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	relay := NewRelay(client, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envelopes, stop, err := relay.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	ev := domain.StateChange{State: domain.StateLocked, CurrentQuestionIndex: 2}
	if err := relay.Publish(ctx, "s1", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case envelope := <-envelopes:
		if envelope.SessionID != "s1" || envelope.Type != "SESSION_STATE_CHANGE" {
			t.Fatalf("unexpected envelope %+v", envelope)
		}
		var decoded domain.StateChange
		if err := json.Unmarshal(envelope.Payload, &decoded); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if decoded.State != domain.StateLocked || decoded.CurrentQuestionIndex != 2 {
			t.Fatalf("unexpected payload %+v", decoded)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected relayed envelope")
	}
}
