// Package model defines the core domain types for the pickup-game roster service.
package model

import (
	"fmt"
	"slices"
	"time"
)

// Role is one of the two roster slots an event offers.
type Role string

const (
	RoleFieldPlayers Role = "fieldPlayers"
	RoleGoalkeepers  Role = "goalkeepers"
)

// GoalkeepersMax is the fixed goalkeeper capacity of every event.
const GoalkeepersMax = 2

// Bounds for the per-event field player capacity.
const (
	FieldPlayersCountMin = 4
	FieldPlayersCountMax = 10
)

// ParseRole accepts only the two known role names.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleFieldPlayers, RoleGoalkeepers:
		return Role(s), true
	}
	return "", false
}

// Valid reports whether r names a known role.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

// GeoPoint is a WGS84 location.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Subscription is a pending bid by a user for a role on an event.
type Subscription struct {
	Role        Role      `json:"role"`
	Participant string    `json:"participant"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Event is a time-boxed game with a two-role roster.
//
// Counts are denormalised: they are kept in step with the sets by the store,
// never recomputed from them.
type Event struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	DateEventBegan       time.Time      `json:"dateEventBegan"`
	Location             GeoPoint       `json:"location"`
	FieldPlayersCountMax int            `json:"fieldPlayersCountMax"`
	FieldPlayers         []string       `json:"fieldPlayers"`
	FieldPlayersCnt      int            `json:"fieldPlayersCnt"`
	Goalkeepers          []string       `json:"goalkeepers"`
	GoalkeepersCnt       int            `json:"goalkeepersCnt"`
	CurMemberCnt         int            `json:"curMemberCnt"`
	UserSubscriptions    []Subscription `json:"userSubscriptions"`
	Host                 string         `json:"host"`
	MinAge               int            `json:"minAge"`
	Price                int            `json:"price"`
	Description          string         `json:"description,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// Capacity returns the maximum number of members the role may hold.
func (e *Event) Capacity(role Role) int {
	if role == RoleGoalkeepers {
		return GoalkeepersMax
	}
	return e.FieldPlayersCountMax
}

// Members returns the member set for role.
func (e *Event) Members(role Role) []string {
	if role == RoleGoalkeepers {
		return e.Goalkeepers
	}
	return e.FieldPlayers
}

// Count returns the denormalised member count for role.
func (e *Event) Count(role Role) int {
	if role == RoleGoalkeepers {
		return e.GoalkeepersCnt
	}
	return e.FieldPlayersCnt
}

// RoleOf returns the role userID occupies, if any.
func (e *Event) RoleOf(userID string) (Role, bool) {
	switch {
	case slices.Contains(e.FieldPlayers, userID):
		return RoleFieldPlayers, true
	case slices.Contains(e.Goalkeepers, userID):
		return RoleGoalkeepers, true
	}
	return "", false
}

// SubscriptionOf returns the pending subscription of userID, if any.
func (e *Event) SubscriptionOf(userID string) (Subscription, bool) {
	for _, s := range e.UserSubscriptions {
		if s.Participant == userID {
			return s, true
		}
	}
	return Subscription{}, false
}

// CheckRoster verifies the roster and counter invariants. maxSubscriptions of
// zero skips the pending-subscription bound.
func (e *Event) CheckRoster(maxSubscriptions int) error {
	if e.FieldPlayersCnt != len(e.FieldPlayers) {
		return fmt.Errorf("fieldPlayersCnt %d != |fieldPlayers| %d", e.FieldPlayersCnt, len(e.FieldPlayers))
	}
	if e.GoalkeepersCnt != len(e.Goalkeepers) {
		return fmt.Errorf("goalkeepersCnt %d != |goalkeepers| %d", e.GoalkeepersCnt, len(e.Goalkeepers))
	}
	if e.CurMemberCnt != e.FieldPlayersCnt+e.GoalkeepersCnt {
		return fmt.Errorf("curMemberCnt %d != %d + %d", e.CurMemberCnt, e.FieldPlayersCnt, e.GoalkeepersCnt)
	}
	if e.GoalkeepersCnt > GoalkeepersMax {
		return fmt.Errorf("goalkeepersCnt %d exceeds %d", e.GoalkeepersCnt, GoalkeepersMax)
	}
	if e.FieldPlayersCnt > e.FieldPlayersCountMax {
		return fmt.Errorf("fieldPlayersCnt %d exceeds %d", e.FieldPlayersCnt, e.FieldPlayersCountMax)
	}
	if _, ok := e.RoleOf(e.Host); !ok {
		return fmt.Errorf("host %s is not a member", e.Host)
	}
	if maxSubscriptions > 0 && len(e.UserSubscriptions) > maxSubscriptions {
		return fmt.Errorf("%d pending subscriptions exceed %d", len(e.UserSubscriptions), maxSubscriptions)
	}

	seen := make(map[string]string)
	mark := func(id, where string) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("participant %s is in both %s and %s", id, prev, where)
		}
		seen[id] = where
		return nil
	}
	for _, id := range e.FieldPlayers {
		if err := mark(id, "fieldPlayers"); err != nil {
			return err
		}
	}
	for _, id := range e.Goalkeepers {
		if err := mark(id, "goalkeepers"); err != nil {
			return err
		}
	}
	for _, s := range e.UserSubscriptions {
		if err := mark(s.Participant, "userSubscriptions"); err != nil {
			return err
		}
	}
	return nil
}

// User is a participant profile. Its event lists change only as a side effect
// of a roster transition.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"firstName"`
	SecondName         string    `json:"secondName"`
	OwnEvents          []string  `json:"ownEvents"`
	Events             []string  `json:"events"`
	EventSubscriptions []string  `json:"eventSubscriptions"`
	CreatedAt          time.Time `json:"createdAt"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title                string      `json:"title"`
	DateEventBegan       time.Time   `json:"dateEventBegan"`
	Location             *[2]float64 `json:"location"`
	FieldPlayersCountMax int         `json:"fieldPlayersCountMax"`
	MinAge               int         `json:"minAge"`
	Price                int         `json:"price"`
	Description          string      `json:"description"`
	Role                 Role        `json:"role"`
}

// CreateEventResponse carries the id of a created event.
type CreateEventResponse struct {
	EventID string `json:"eventId"`
}

// CreateUserRequest is the payload for creating a user profile.
type CreateUserRequest struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	SecondName string `json:"secondName"`
}

// SubscriptionRequest is the payload for subscribing to an event.
type SubscriptionRequest struct {
	Role Role `json:"role"`
}

// MemberRequest is the payload of the member and kick endpoints.
type MemberRequest struct {
	UID  string `json:"uid"`
	Role Role   `json:"role"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
