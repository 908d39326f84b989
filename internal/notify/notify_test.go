package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestPublishStampsAndEncodes(t *testing.T) {
	fr := &fakeRedis{}
	p := newPublisher(fr, "roster_events")
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	err := p.Publish(context.Background(), Change{
		Type: MemberAdded, EventID: "ev1", ActorID: "host", TargetID: "u2", Role: model.RoleGoalkeepers,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if fr.channel != "roster_events" {
		t.Errorf("channel = %q", fr.channel)
	}

	var got Change
	if err := json.Unmarshal(fr.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.ID == "" {
		t.Error("change id was not assigned")
	}
	if !got.At.Equal(at) {
		t.Errorf("at = %v, want %v", got.At, at)
	}
	if got.Type != MemberAdded || got.TargetID != "u2" || got.Role != model.RoleGoalkeepers {
		t.Errorf("change = %+v", got)
	}
}

func TestPublishWrapsClientError(t *testing.T) {
	boom := errors.New("connection refused")
	p := newPublisher(&fakeRedis{err: boom}, "c")
	if err := p.Publish(context.Background(), Change{Type: EventCreated}); !errors.Is(err, boom) {
		t.Fatalf("Publish() error = %v, want wrapping %v", err, boom)
	}
}
