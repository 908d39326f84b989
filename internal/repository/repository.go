// Package repository defines the storage contract of the roster service: a
// transactional session whose writes are conditional atomic updates, plus
// plain reads outside any transaction.
//
// A conditional update carries its preconditions in a filter that the store
// evaluates together with the change, under the enclosing transaction. When
// the filter does not match, nothing is written and ErrNoMatch is returned.
// Callers never read, check in Go, then write.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoMatch is returned by a conditional update whose filter did not match.
var ErrNoMatch = errors.New("no document matched the update filter")

// ErrDuplicate is returned when a unique field is already taken.
var ErrDuplicate = errors.New("duplicate key")

// Membership names a user in one of an event's role sets.
type Membership struct {
	Role   model.Role
	UserID string
}

// EventFilter lists the preconditions of an event update. Zero-valued fields
// are not checked; every set field must hold.
type EventFilter struct {
	ID string

	// Host must equal the event host.
	Host string
	// NotHost must differ from the event host.
	NotHost string
	// Subscriber must have a pending subscription (any role).
	Subscriber string
	// Outsider must be absent from the subscriptions and both role sets.
	Outsider string
	// Member must be present in the given role set.
	Member *Membership
	// SubscriptionsBelow requires fewer pending subscriptions than this.
	SubscriptionsBelow int
	// RoomFor requires the role count to be below the role capacity.
	RoomFor model.Role
}

// EventChange is applied only when the filter matches. AddMember and
// RemoveMember move the role count and curMemberCnt by one together with the
// set, so the counters cannot drift from the sets.
type EventChange struct {
	AddSubscription *model.Subscription
	PullSubscriber  string
	AddMember       *Membership
	RemoveMember    *Membership
}

// Validate rejects changes that touch the same field twice.
func (c EventChange) Validate() error {
	if c.AddSubscription != nil && c.PullSubscriber != "" {
		return errors.New("event change pushes and pulls subscriptions at once")
	}
	if c.AddMember != nil && c.RemoveMember != nil {
		return errors.New("event change adds and removes a member at once")
	}
	if c.AddSubscription == nil && c.PullSubscriber == "" && c.AddMember == nil && c.RemoveMember == nil {
		return errors.New("empty event change")
	}
	return nil
}

// Matched carries the pre-update state of the fields the filter matched.
type Matched struct {
	// Subscription is the entry matched by EventFilter.Subscriber.
	Subscription *model.Subscription
}

// UserFilter lists the preconditions of a user update.
type UserFilter struct {
	ID                 string
	OwnedBelow         int
	MembershipsBelow   int
	SubscriptionsBelow int
}

// UserChange pushes or pulls an event id on the user's lists.
type UserChange struct {
	PushOwned        string
	PushMembership   string
	PullMembership   string
	PushSubscription string
	PullSubscription string
}

// Validate rejects changes that touch the same field twice.
func (c UserChange) Validate() error {
	if c.PushMembership != "" && c.PullMembership != "" {
		return errors.New("user change pushes and pulls a membership at once")
	}
	if c.PushSubscription != "" && c.PullSubscription != "" {
		return errors.New("user change pushes and pulls a subscription at once")
	}
	if c == (UserChange{}) {
		return errors.New("empty user change")
	}
	return nil
}

// Session is a transaction on the store.
type Session interface {
	txn.Session

	// InsertEvent stores a new event and assigns its ID.
	InsertEvent(ctx context.Context, e *model.Event) error
	// UpdateEvent applies change if filter matches, returning the matched
	// pre-update fields, or ErrNoMatch.
	UpdateEvent(ctx context.Context, filter EventFilter, change EventChange) (Matched, error)
	// UpdateUser applies change if filter matches, or returns ErrNoMatch.
	UpdateUser(ctx context.Context, filter UserFilter, change UserChange) error
}

// Store opens sessions and serves reads outside transactions.
type Store interface {
	txn.Factory[Session]

	// Classify sorts store errors for the transaction runner.
	Classify(err error) txn.Class

	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents returns up to limit events, newest first.
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	// InsertUser stores a new user and assigns its ID. A taken email yields
	// ErrDuplicate.
	InsertUser(ctx context.Context, u *model.User) error
	Close(ctx context.Context) error
}
