// Package service implements the roster state machine: every transition is a
// pair of conditional updates on an event and a user, run as one transaction
// by the retry runner.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/config"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/notify"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// Rule failures of the transitions.
var (
	ErrOwnedQuota = model.NewRuleError(http.StatusConflict, model.LevelInfo,
		"Count of created events is exceeded")
	ErrRoleFull = model.NewRuleError(http.StatusBadRequest, model.LevelInfo,
		"Goalkeepers or field players count is exceeded")
	ErrRoleMismatch = model.NewRuleError(http.StatusBadRequest, model.LevelWarn,
		"Passed role does not match database role")
	ErrMembershipQuota = model.NewRuleError(http.StatusConflict, model.LevelInfo,
		"Events per user exceeded")
	ErrSelfKick = model.NewRuleError(http.StatusBadRequest, model.LevelWarn,
		"Host can't kick himself")
	ErrPlayerNotFound = model.NewRuleError(http.StatusBadRequest, model.LevelInfo,
		"Player not found")
	ErrSubscriptionRejected = model.NewRuleError(http.StatusBadRequest, model.LevelInfo,
		"User subscriptions count per event is exceeded or user is already among participants")
	ErrUserQuota = model.NewRuleError(http.StatusBadRequest, model.LevelInfo,
		"User has exceeded membership or subscriptions count")
	ErrNotHost = model.NewRuleError(http.StatusBadRequest, model.LevelWarn,
		"Only host can kick")
)

// IsRejection reports whether err is an ordinary business rule failure.
func IsRejection(err error) bool {
	_, ok := model.AsRuleError(err)
	return ok
}

// Notifier receives committed roster changes.
type Notifier interface {
	Publish(ctx context.Context, c notify.Change) error
}

// EventService runs the roster transitions.
type EventService struct {
	store    repository.Store
	runner   *txn.Runner[repository.Session]
	limits   config.Limits
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(
	store repository.Store,
	runner *txn.Runner[repository.Session],
	limits config.Limits,
	notifier Notifier,
	log *zap.Logger,
) *EventService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &EventService{
		store:    store,
		runner:   runner,
		limits:   limits,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// onNoMatch turns a failed conditional update into rule.
func onNoMatch(err error, rule *model.BusinessRuleError) error {
	if errors.Is(err, repository.ErrNoMatch) {
		return rule
	}
	return err
}

// ignoreNoMatch treats a failed conditional update as a no-op.
func ignoreNoMatch(err error) error {
	if errors.Is(err, repository.ErrNoMatch) {
		return nil
	}
	return err
}

func invalid(msg string) error {
	return model.NewRuleError(http.StatusBadRequest, model.LevelDebug, msg)
}

func requireRole(role model.Role) error {
	if !role.Valid() {
		return invalid("role must be fieldPlayers or goalkeepers")
	}
	return nil
}

// publish is best effort; the transition has already committed.
func (s *EventService) publish(ctx context.Context, c notify.Change) {
	if err := s.notifier.Publish(context.WithoutCancel(ctx), c); err != nil {
		s.log.Warn("publish roster change", zap.String("type", c.Type), zap.Error(err))
	}
}

// draftEvent validates req and builds the event with actorID as its only member.
func (s *EventService) draftEvent(actorID string, req model.CreateEventRequest) (model.Event, error) {
	title := strings.TrimSpace(req.Title)
	switch n := utf8.RuneCountInString(title); {
	case n == 0:
		return model.Event{}, invalid("title is required")
	case n > 50:
		return model.Event{}, invalid("title cannot exceed 50 characters")
	}
	if req.DateEventBegan.IsZero() {
		return model.Event{}, invalid("dateEventBegan is required")
	}
	if req.FieldPlayersCountMax < model.FieldPlayersCountMin || req.FieldPlayersCountMax > model.FieldPlayersCountMax {
		return model.Event{}, invalid(fmt.Sprintf("fieldPlayersCountMax must be between %d and %d",
			model.FieldPlayersCountMin, model.FieldPlayersCountMax))
	}
	if req.MinAge < 0 || req.MinAge > 100 {
		return model.Event{}, invalid("minAge must be between 0 and 100")
	}
	if req.Price < 0 || req.Price > 100_000 {
		return model.Event{}, invalid("price must be between 0 and 100000")
	}
	if utf8.RuneCountInString(req.Description) > 1000 {
		return model.Event{}, invalid("description cannot exceed 1000 characters")
	}
	if req.Location == nil {
		return model.Event{}, invalid("location is required")
	}
	lng, lat := req.Location[0], req.Location[1]
	if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return model.Event{}, invalid("location must be [longitude, latitude]")
	}
	role := req.Role
	if role == "" {
		role = model.RoleFieldPlayers
	}
	if err := requireRole(role); err != nil {
		return model.Event{}, err
	}

	e := model.Event{
		Title:                title,
		DateEventBegan:       req.DateEventBegan.UTC(),
		Location:             model.GeoPoint{Longitude: lng, Latitude: lat},
		FieldPlayersCountMax: req.FieldPlayersCountMax,
		FieldPlayers:         []string{},
		Goalkeepers:          []string{},
		UserSubscriptions:    []model.Subscription{},
		CurMemberCnt:         1,
		Host:                 actorID,
		MinAge:               req.MinAge,
		Price:                req.Price,
		Description:          req.Description,
		CreatedAt:            s.now().UTC(),
	}
	if role == model.RoleGoalkeepers {
		e.Goalkeepers = []string{actorID}
		e.GoalkeepersCnt = 1
	} else {
		e.FieldPlayers = []string{actorID}
		e.FieldPlayersCnt = 1
	}
	return e, nil
}

// CreateEvent inserts a new event hosted by actorID and records it in the
// host's owned events. It returns the new event id.
func (s *EventService) CreateEvent(ctx context.Context, actorID string, req model.CreateEventRequest) (string, error) {
	draft, err := s.draftEvent(actorID, req)
	if err != nil {
		return "", err
	}

	var eventID string
	err = s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		e := draft
		if err := sess.InsertEvent(ctx, &e); err != nil {
			return err
		}
		eventID = e.ID

		err := sess.UpdateUser(ctx,
			repository.UserFilter{ID: actorID, OwnedBelow: s.limits.MaxCreatedEventsPerUser},
			repository.UserChange{PushOwned: e.ID},
		)
		return onNoMatch(err, ErrOwnedQuota)
	})
	if err != nil {
		return "", err
	}

	s.publish(ctx, notify.Change{Type: notify.EventCreated, EventID: eventID, ActorID: actorID})
	return eventID, nil
}

// CreateSubscription records actorID's bid for role on the event.
func (s *EventService) CreateSubscription(ctx context.Context, actorID, eventID string, role model.Role) error {
	if err := requireRole(role); err != nil {
		return err
	}
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		err := sess.UpdateUser(ctx,
			repository.UserFilter{
				ID:                 actorID,
				SubscriptionsBelow: s.limits.MaxSubscriptionsPerUser,
				MembershipsBelow:   s.limits.MaxEventsPerUser,
			},
			repository.UserChange{PushSubscription: eventID},
		)
		if err != nil {
			return onNoMatch(err, ErrUserQuota)
		}

		_, err = sess.UpdateEvent(ctx,
			repository.EventFilter{
				ID:                 eventID,
				Outsider:           actorID,
				SubscriptionsBelow: s.limits.MaxSubscriptionsPerEvent,
			},
			repository.EventChange{AddSubscription: &model.Subscription{
				Role:        role,
				Participant: actorID,
				CreatedAt:   s.now().UTC(),
			}},
		)
		return onNoMatch(err, ErrSubscriptionRejected)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.SubscriptionAdded, EventID: eventID, ActorID: actorID, Role: role})
	return nil
}

// LeaveSubscription withdraws actorID's bid. Withdrawing a bid that does not
// exist succeeds without changes.
func (s *EventService) LeaveSubscription(ctx context.Context, actorID, eventID string) error {
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		_, err := sess.UpdateEvent(ctx,
			repository.EventFilter{ID: eventID, Subscriber: actorID},
			repository.EventChange{PullSubscriber: actorID},
		)
		if err := ignoreNoMatch(err); err != nil {
			return err
		}
		err = sess.UpdateUser(ctx,
			repository.UserFilter{ID: actorID},
			repository.UserChange{PullSubscription: eventID},
		)
		return ignoreNoMatch(err)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.SubscriptionLeft, EventID: eventID, ActorID: actorID})
	return nil
}

// KickSubscriber lets the host drop targetID's bid.
func (s *EventService) KickSubscriber(ctx context.Context, actorID, eventID, targetID string) error {
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		_, err := sess.UpdateEvent(ctx,
			repository.EventFilter{ID: eventID, Host: actorID},
			repository.EventChange{PullSubscriber: targetID},
		)
		if err != nil {
			return onNoMatch(err, ErrNotHost)
		}
		err = sess.UpdateUser(ctx,
			repository.UserFilter{ID: targetID},
			repository.UserChange{PullSubscription: eventID},
		)
		return ignoreNoMatch(err)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.SubscriptionKicked, EventID: eventID, ActorID: actorID, TargetID: targetID})
	return nil
}

// CreateMember lets the host promote targetID's bid for role to a roster
// slot. The requested role must equal the role the bid was made for.
func (s *EventService) CreateMember(ctx context.Context, actorID, eventID, targetID string, role model.Role) error {
	if err := requireRole(role); err != nil {
		return err
	}
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		matched, err := sess.UpdateEvent(ctx,
			repository.EventFilter{
				ID:         eventID,
				Host:       actorID,
				Subscriber: targetID,
				RoomFor:    role,
			},
			repository.EventChange{
				PullSubscriber: targetID,
				AddMember:      &repository.Membership{Role: role, UserID: targetID},
			},
		)
		if err != nil {
			return onNoMatch(err, ErrRoleFull)
		}
		if matched.Subscription == nil || matched.Subscription.Role != role {
			return ErrRoleMismatch
		}

		err = sess.UpdateUser(ctx,
			repository.UserFilter{ID: targetID, MembershipsBelow: s.limits.MaxEventsPerUser},
			repository.UserChange{PullSubscription: eventID, PushMembership: eventID},
		)
		return onNoMatch(err, ErrMembershipQuota)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.MemberAdded, EventID: eventID, ActorID: actorID, TargetID: targetID, Role: role})
	return nil
}

// LeaveMember removes actorID from the role set. The host cannot leave.
func (s *EventService) LeaveMember(ctx context.Context, actorID, eventID string, role model.Role) error {
	if err := requireRole(role); err != nil {
		return err
	}
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		member := repository.Membership{Role: role, UserID: actorID}
		_, err := sess.UpdateEvent(ctx,
			repository.EventFilter{ID: eventID, NotHost: actorID, Member: &member},
			repository.EventChange{RemoveMember: &member},
		)
		if err != nil {
			return onNoMatch(err, ErrRoleMismatch)
		}
		err = sess.UpdateUser(ctx,
			repository.UserFilter{ID: actorID},
			repository.UserChange{PullMembership: eventID},
		)
		return ignoreNoMatch(err)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.MemberLeft, EventID: eventID, ActorID: actorID, Role: role})
	return nil
}

// KickMember lets the host remove targetID from the role set.
func (s *EventService) KickMember(ctx context.Context, actorID, eventID, targetID string, role model.Role) error {
	if err := requireRole(role); err != nil {
		return err
	}
	err := s.runner.Run(ctx, func(ctx context.Context, sess repository.Session) error {
		if targetID == actorID {
			return ErrSelfKick
		}
		member := repository.Membership{Role: role, UserID: targetID}
		_, err := sess.UpdateEvent(ctx,
			repository.EventFilter{ID: eventID, Host: actorID, Member: &member},
			repository.EventChange{RemoveMember: &member},
		)
		if err != nil {
			return onNoMatch(err, ErrPlayerNotFound)
		}
		err = sess.UpdateUser(ctx,
			repository.UserFilter{ID: targetID},
			repository.UserChange{PullMembership: eventID},
		)
		return ignoreNoMatch(err)
	})
	if err != nil {
		return err
	}

	s.publish(ctx, notify.Change{Type: notify.MemberKicked, EventID: eventID, ActorID: actorID, TargetID: targetID, Role: role})
	return nil
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, repository.ErrNotFound
	}
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListEvents returns the newest page of events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.store.ListEvents(ctx, s.limits.EventsPerPage)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
