// Package notify publishes committed roster changes to a Redis channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
)

// Change types.
const (
	EventCreated       = "event.created"
	SubscriptionAdded  = "subscription.created"
	SubscriptionLeft   = "subscription.left"
	SubscriptionKicked = "subscription.kicked"
	MemberAdded        = "member.created"
	MemberLeft         = "member.left"
	MemberKicked       = "member.kicked"
)

// Change describes one committed transition.
type Change struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	EventID  string     `json:"eventId"`
	ActorID  string     `json:"actorId"`
	TargetID string     `json:"targetId,omitempty"`
	Role     model.Role `json:"role,omitempty"`
	At       time.Time  `json:"at"`
}

// Nop discards every change.
type Nop struct{}

// Publish implements the service notifier.
func (Nop) Publish(context.Context, Change) error { return nil }

// publisher is the subset of *redis.Client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher sends changes as JSON messages on a Redis channel.
type Publisher struct {
	client  publisher
	channel string
	now     func() time.Time
}

// NewPublisher returns a Publisher on channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	return newPublisher(client, channel)
}

func newPublisher(client publisher, channel string) *Publisher {
	return &Publisher{client: client, channel: channel, now: time.Now}
}

// Connect parses url, pings the server and returns the client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Publish stamps c with an id and time and sends it.
func (p *Publisher) Publish(ctx context.Context, c Change) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.At.IsZero() {
		c.At = p.now().UTC()
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
