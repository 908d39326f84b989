package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/config"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/notify"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository/memory"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

type recorder struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recorder) Publish(_ context.Context, c notify.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Type)
	}
	return out
}

type fixture struct {
	t      *testing.T
	store  *memory.Store
	limits config.Limits
	events *EventService
	users  *UserService
	notes  *recorder
	seq    int
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	store := memory.NewStore()
	runner := txn.NewRunner[repository.Session](store, store.Classify,
		txn.Limits{WholeRetries: cfg.Transaction.WholeRetries, CommitRetries: cfg.Transaction.CommitRetries},
		txn.WithExpected(IsRejection),
	)
	notes := &recorder{}
	return &fixture{
		t:      t,
		store:  store,
		limits: cfg.Limits,
		events: NewEventService(store, runner, cfg.Limits, notes, zap.NewNop()),
		users:  NewUserService(store),
		notes:  notes,
	}
}

func (f *fixture) user() string {
	f.t.Helper()
	f.seq++
	u, err := f.users.CreateUser(context.Background(), model.CreateUserRequest{
		Email:      fmt.Sprintf("player%d@example.com", f.seq),
		FirstName:  "Player",
		SecondName: fmt.Sprint(f.seq),
	})
	if err != nil {
		f.t.Fatalf("CreateUser() error = %v", err)
	}
	return u.ID
}

func eventRequest(role model.Role) model.CreateEventRequest {
	return model.CreateEventRequest{
		Title:                "Sunday five-a-side",
		DateEventBegan:       time.Date(2026, 11, 1, 18, 0, 0, 0, time.UTC),
		Location:             &[2]float64{30.52, 50.45},
		FieldPlayersCountMax: 8,
		Price:                100,
		Role:                 role,
	}
}

func (f *fixture) event(host string, role model.Role) string {
	f.t.Helper()
	id, err := f.events.CreateEvent(context.Background(), host, eventRequest(role))
	if err != nil {
		f.t.Fatalf("CreateEvent() error = %v", err)
	}
	return id
}

func (f *fixture) getEvent(id string) *model.Event {
	f.t.Helper()
	e, err := f.events.GetEvent(context.Background(), id)
	if err != nil {
		f.t.Fatalf("GetEvent(%s) error = %v", id, err)
	}
	if err := e.CheckRoster(f.limits.MaxSubscriptionsPerEvent); err != nil {
		f.t.Fatalf("roster invariant broken: %v", err)
	}
	return e
}

func (f *fixture) getUser(id string) *model.User {
	f.t.Helper()
	u, err := f.users.GetUser(context.Background(), id)
	if err != nil {
		f.t.Fatalf("GetUser(%s) error = %v", id, err)
	}
	for _, ev := range u.Events {
		if slices.Contains(u.EventSubscriptions, ev) {
			f.t.Fatalf("user %s both member and subscriber of %s", id, ev)
		}
	}
	if len(u.Events) > f.limits.MaxEventsPerUser ||
		len(u.EventSubscriptions) > f.limits.MaxSubscriptionsPerUser ||
		len(u.OwnEvents) > f.limits.MaxCreatedEventsPerUser {
		f.t.Fatalf("user %s exceeds a quota: %+v", id, u)
	}
	return u
}

func wantRule(t *testing.T, err error, want *model.BusinessRuleError) {
	t.Helper()
	if err == nil {
		t.Fatalf("error = nil, want %q", want.Message)
	}
	got, ok := model.AsRuleError(err)
	if !ok {
		t.Fatalf("error = %v, want business rule %q", err, want.Message)
	}
	if got != want {
		t.Fatalf("error = %q (%d), want %q (%d)", got.Message, got.Status, want.Message, want.Status)
	}
}

func TestCreateEventAndPromoteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player := f.user(), f.user()

	eventID := f.event(host, model.RoleFieldPlayers)
	e := f.getEvent(eventID)
	if e.FieldPlayersCnt != 1 || e.CurMemberCnt != 1 || e.GoalkeepersCnt != 0 {
		t.Fatalf("counts after create = %d/%d/%d", e.FieldPlayersCnt, e.GoalkeepersCnt, e.CurMemberCnt)
	}
	if e.Host != host || !slices.Contains(e.FieldPlayers, host) {
		t.Fatalf("host not seated: %+v", e)
	}
	if got := f.getUser(host).OwnEvents; !slices.Equal(got, []string{eventID}) {
		t.Fatalf("host ownEvents = %v", got)
	}

	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleGoalkeepers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	e = f.getEvent(eventID)
	if sub, ok := e.SubscriptionOf(player); !ok || sub.Role != model.RoleGoalkeepers {
		t.Fatalf("subscription = %+v, %v", sub, ok)
	}
	if got := f.getUser(player).EventSubscriptions; !slices.Equal(got, []string{eventID}) {
		t.Fatalf("player eventSubscriptions = %v", got)
	}

	if err := f.events.CreateMember(ctx, host, eventID, player, model.RoleGoalkeepers); err != nil {
		t.Fatalf("CreateMember() error = %v", err)
	}
	e = f.getEvent(eventID)
	if e.GoalkeepersCnt != 1 || e.CurMemberCnt != 2 || len(e.UserSubscriptions) != 0 {
		t.Fatalf("after promote: goalkeepersCnt=%d curMemberCnt=%d subs=%v",
			e.GoalkeepersCnt, e.CurMemberCnt, e.UserSubscriptions)
	}
	u := f.getUser(player)
	if !slices.Equal(u.Events, []string{eventID}) || len(u.EventSubscriptions) != 0 {
		t.Fatalf("player lists after promote: events=%v subs=%v", u.Events, u.EventSubscriptions)
	}

	want := []string{notify.EventCreated, notify.SubscriptionAdded, notify.MemberAdded}
	if got := f.notes.types(); !slices.Equal(got, want) {
		t.Errorf("published = %v, want %v", got, want)
	}
}

func TestCreateEventHostAsGoalkeeper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, p1, p2 := f.user(), f.user(), f.user()
	eventID := f.event(host, model.RoleGoalkeepers)

	for _, p := range []string{p1, p2} {
		if err := f.events.CreateSubscription(ctx, p, eventID, model.RoleGoalkeepers); err != nil {
			t.Fatalf("CreateSubscription() error = %v", err)
		}
	}
	if err := f.events.CreateMember(ctx, host, eventID, p1, model.RoleGoalkeepers); err != nil {
		t.Fatalf("first promote error = %v", err)
	}
	wantRule(t, f.events.CreateMember(ctx, host, eventID, p2, model.RoleGoalkeepers), ErrRoleFull)

	e := f.getEvent(eventID)
	if e.GoalkeepersCnt != model.GoalkeepersMax {
		t.Errorf("goalkeepersCnt = %d", e.GoalkeepersCnt)
	}
	if _, ok := e.SubscriptionOf(p2); !ok {
		t.Error("rejected promote dropped the subscription")
	}
}

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t)
	host := f.user()

	tests := []struct {
		name   string
		mutate func(*model.CreateEventRequest)
	}{
		{"blank title", func(r *model.CreateEventRequest) { r.Title = "   " }},
		{"long title", func(r *model.CreateEventRequest) { r.Title = string(make([]byte, 51)) + "x" }},
		{"missing date", func(r *model.CreateEventRequest) { r.DateEventBegan = time.Time{} }},
		{"capacity below range", func(r *model.CreateEventRequest) { r.FieldPlayersCountMax = 3 }},
		{"capacity above range", func(r *model.CreateEventRequest) { r.FieldPlayersCountMax = 11 }},
		{"negative age", func(r *model.CreateEventRequest) { r.MinAge = -1 }},
		{"price too high", func(r *model.CreateEventRequest) { r.Price = 100_001 }},
		{"missing location", func(r *model.CreateEventRequest) { r.Location = nil }},
		{"latitude out of range", func(r *model.CreateEventRequest) { r.Location = &[2]float64{0, 91} }},
		{"unknown role", func(r *model.CreateEventRequest) { r.Role = "coach" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := eventRequest(model.RoleFieldPlayers)
			tt.mutate(&req)
			_, err := f.events.CreateEvent(context.Background(), host, req)
			re, ok := model.AsRuleError(err)
			if !ok || re.Status != http.StatusBadRequest {
				t.Fatalf("CreateEvent() error = %v, want 400 rule error", err)
			}
		})
	}
	if got := f.getUser(host).OwnEvents; len(got) != 0 {
		t.Errorf("invalid requests created events: %v", got)
	}
}

func TestCreateEventDefaultsRole(t *testing.T) {
	f := newFixture(t)
	host := f.user()
	e := f.getEvent(f.event(host, ""))
	if !slices.Equal(e.FieldPlayers, []string{host}) {
		t.Errorf("fieldPlayers = %v, want host", e.FieldPlayers)
	}
}

func TestCreateEventOwnedQuotaRollsBack(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Limits.MaxCreatedEventsPerUser = 1 })
	host := f.user()
	f.event(host, model.RoleFieldPlayers)

	_, err := f.events.CreateEvent(context.Background(), host, eventRequest(model.RoleFieldPlayers))
	wantRule(t, err, ErrOwnedQuota)
	if ErrOwnedQuota.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", ErrOwnedQuota.Status)
	}

	events, err := f.events.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events stored = %d, want 1", len(events))
	}
}

func TestCreateSubscriptionRules(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Limits.MaxSubscriptionsPerEvent = 2
		c.Limits.MaxSubscriptionsPerUser = 2
	})
	ctx := context.Background()
	host := f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	p1, p2, p3 := f.user(), f.user(), f.user()

	t.Run("host is already a participant", func(t *testing.T) {
		wantRule(t, f.events.CreateSubscription(ctx, host, eventID, model.RoleFieldPlayers), ErrSubscriptionRejected)
		if got := f.getUser(host).EventSubscriptions; len(got) != 0 {
			t.Errorf("rejected subscribe left user entry: %v", got)
		}
	})

	t.Run("duplicate subscription", func(t *testing.T) {
		if err := f.events.CreateSubscription(ctx, p1, eventID, model.RoleFieldPlayers); err != nil {
			t.Fatalf("CreateSubscription() error = %v", err)
		}
		wantRule(t, f.events.CreateSubscription(ctx, p1, eventID, model.RoleGoalkeepers), ErrSubscriptionRejected)
		if got := f.getUser(p1).EventSubscriptions; !slices.Equal(got, []string{eventID}) {
			t.Errorf("eventSubscriptions = %v", got)
		}
	})

	t.Run("event subscription bound", func(t *testing.T) {
		if err := f.events.CreateSubscription(ctx, p2, eventID, model.RoleFieldPlayers); err != nil {
			t.Fatalf("CreateSubscription() error = %v", err)
		}
		wantRule(t, f.events.CreateSubscription(ctx, p3, eventID, model.RoleFieldPlayers), ErrSubscriptionRejected)
		if e := f.getEvent(eventID); len(e.UserSubscriptions) != 2 {
			t.Errorf("subscriptions = %d, want 2", len(e.UserSubscriptions))
		}
	})

	t.Run("user subscription quota", func(t *testing.T) {
		e2 := f.event(f.user(), model.RoleFieldPlayers)
		e3 := f.event(f.user(), model.RoleFieldPlayers)
		if err := f.events.CreateSubscription(ctx, p1, e2, model.RoleFieldPlayers); err != nil {
			t.Fatalf("CreateSubscription() error = %v", err)
		}
		wantRule(t, f.events.CreateSubscription(ctx, p1, e3, model.RoleFieldPlayers), ErrUserQuota)
		if e := f.getEvent(e3); len(e.UserSubscriptions) != 0 {
			t.Errorf("rejected subscribe changed event: %v", e.UserSubscriptions)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		err := f.events.CreateSubscription(ctx, p3, eventID, "referee")
		if re, ok := model.AsRuleError(err); !ok || re.Status != http.StatusBadRequest {
			t.Fatalf("error = %v, want 400", err)
		}
	})
}

func TestCreateMemberRoleMismatchLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player := f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleFieldPlayers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	before := f.getEvent(eventID)

	wantRule(t, f.events.CreateMember(ctx, host, eventID, player, model.RoleGoalkeepers), ErrRoleMismatch)

	after := f.getEvent(eventID)
	if after.GoalkeepersCnt != before.GoalkeepersCnt || after.CurMemberCnt != before.CurMemberCnt {
		t.Errorf("counts changed: %+v -> %+v", before, after)
	}
	if _, ok := after.SubscriptionOf(player); !ok {
		t.Error("subscription lost after rejected promote")
	}
	u := f.getUser(player)
	if len(u.Events) != 0 || !slices.Equal(u.EventSubscriptions, []string{eventID}) {
		t.Errorf("user changed: events=%v subs=%v", u.Events, u.EventSubscriptions)
	}
}

func TestCreateMemberRequiresHostAndSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player, stranger := f.user(), f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)

	wantRule(t, f.events.CreateMember(ctx, host, eventID, player, model.RoleFieldPlayers), ErrRoleFull)

	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleFieldPlayers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	wantRule(t, f.events.CreateMember(ctx, stranger, eventID, player, model.RoleFieldPlayers), ErrRoleFull)
	if _, ok := f.getEvent(eventID).SubscriptionOf(player); !ok {
		t.Error("non-host promote removed the subscription")
	}
}

func TestCreateMemberMembershipQuotaRollsBackEvent(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Limits.MaxEventsPerUser = 2 })
	ctx := context.Background()
	host, player := f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)

	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleFieldPlayers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		otherHost := f.user()
		other := f.event(otherHost, model.RoleFieldPlayers)
		if err := f.events.CreateSubscription(ctx, player, other, model.RoleFieldPlayers); err != nil {
			t.Fatalf("CreateSubscription(other %d) error = %v", i, err)
		}
		if err := f.events.CreateMember(ctx, otherHost, other, player, model.RoleFieldPlayers); err != nil {
			t.Fatalf("CreateMember(other %d) error = %v", i, err)
		}
	}
	if got := len(f.getUser(player).Events); got != 2 {
		t.Fatalf("memberships = %d, want 2", got)
	}

	err := f.events.CreateMember(ctx, host, eventID, player, model.RoleFieldPlayers)
	wantRule(t, err, ErrMembershipQuota)
	if ErrMembershipQuota.Status != http.StatusConflict {
		t.Errorf("status = %d, want 409", ErrMembershipQuota.Status)
	}

	e := f.getEvent(eventID)
	if _, ok := e.SubscriptionOf(player); !ok {
		t.Error("subscription pull was not rolled back")
	}
	if slices.Contains(e.FieldPlayers, player) || e.CurMemberCnt != 1 {
		t.Errorf("member push was not rolled back: %+v", e)
	}
}

func TestLeaveSubscriptionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player := f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleGoalkeepers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.events.LeaveSubscription(ctx, player, eventID); err != nil {
			t.Fatalf("LeaveSubscription() call %d error = %v", i+1, err)
		}
		e := f.getEvent(eventID)
		if len(e.UserSubscriptions) != 0 {
			t.Fatalf("call %d: subscriptions = %v", i+1, e.UserSubscriptions)
		}
		if got := f.getUser(player).EventSubscriptions; len(got) != 0 {
			t.Fatalf("call %d: user subscriptions = %v", i+1, got)
		}
	}

	if err := f.events.LeaveSubscription(ctx, player, "missing-event"); err != nil {
		t.Errorf("LeaveSubscription(missing event) error = %v", err)
	}
}

func TestKickSubscriber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player, stranger := f.user(), f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleFieldPlayers); err != nil {
		t.Fatalf("CreateSubscription() error = %v", err)
	}

	wantRule(t, f.events.KickSubscriber(ctx, stranger, eventID, player), ErrNotHost)
	if _, ok := f.getEvent(eventID).SubscriptionOf(player); !ok {
		t.Fatal("non-host kick removed the subscription")
	}

	if err := f.events.KickSubscriber(ctx, host, eventID, player); err != nil {
		t.Fatalf("KickSubscriber() error = %v", err)
	}
	if e := f.getEvent(eventID); len(e.UserSubscriptions) != 0 {
		t.Errorf("subscriptions = %v", e.UserSubscriptions)
	}
	if got := f.getUser(player).EventSubscriptions; len(got) != 0 {
		t.Errorf("user subscriptions = %v", got)
	}
}

// seat subscribes player for role and has host promote them.
func (f *fixture) seat(host, eventID, player string, role model.Role) {
	f.t.Helper()
	ctx := context.Background()
	if err := f.events.CreateSubscription(ctx, player, eventID, role); err != nil {
		f.t.Fatalf("CreateSubscription() error = %v", err)
	}
	if err := f.events.CreateMember(ctx, host, eventID, player, role); err != nil {
		f.t.Fatalf("CreateMember() error = %v", err)
	}
}

func TestLeaveMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player := f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	f.seat(host, eventID, player, model.RoleGoalkeepers)

	wantRule(t, f.events.LeaveMember(ctx, host, eventID, model.RoleFieldPlayers), ErrRoleMismatch)
	wantRule(t, f.events.LeaveMember(ctx, player, eventID, model.RoleFieldPlayers), ErrRoleMismatch)

	if err := f.events.LeaveMember(ctx, player, eventID, model.RoleGoalkeepers); err != nil {
		t.Fatalf("LeaveMember() error = %v", err)
	}
	e := f.getEvent(eventID)
	if e.GoalkeepersCnt != 0 || e.CurMemberCnt != 1 || slices.Contains(e.Goalkeepers, player) {
		t.Errorf("after leave: %+v", e)
	}
	if got := f.getUser(player).Events; len(got) != 0 {
		t.Errorf("user events = %v", got)
	}
}

func TestKickMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player, other := f.user(), f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)
	f.seat(host, eventID, player, model.RoleFieldPlayers)
	f.seat(host, eventID, other, model.RoleFieldPlayers)

	wantRule(t, f.events.KickMember(ctx, host, eventID, host, model.RoleFieldPlayers), ErrSelfKick)
	wantRule(t, f.events.KickMember(ctx, other, eventID, player, model.RoleFieldPlayers), ErrPlayerNotFound)
	wantRule(t, f.events.KickMember(ctx, host, eventID, player, model.RoleGoalkeepers), ErrPlayerNotFound)

	if e := f.getEvent(eventID); e.FieldPlayersCnt != 3 {
		t.Fatalf("rejected kicks changed roster: %+v", e)
	}

	if err := f.events.KickMember(ctx, host, eventID, player, model.RoleFieldPlayers); err != nil {
		t.Fatalf("KickMember() error = %v", err)
	}
	e := f.getEvent(eventID)
	if e.FieldPlayersCnt != 2 || e.CurMemberCnt != 2 || slices.Contains(e.FieldPlayers, player) {
		t.Errorf("after kick: %+v", e)
	}
	if got := f.getUser(player).Events; len(got) != 0 {
		t.Errorf("kicked user events = %v", got)
	}
}

func TestConcurrentGoalkeeperPromotions(t *testing.T) {
	for round := 0; round < 10; round++ {
		f := newFixture(t)
		ctx := context.Background()
		host := f.user()
		eventID := f.event(host, model.RoleFieldPlayers)
		players := []string{f.user(), f.user(), f.user()}
		for _, p := range players {
			if err := f.events.CreateSubscription(ctx, p, eventID, model.RoleGoalkeepers); err != nil {
				t.Fatalf("CreateSubscription() error = %v", err)
			}
		}

		errs := make([]error, len(players))
		var wg sync.WaitGroup
		for i, p := range players {
			wg.Add(1)
			go func(i int, p string) {
				defer wg.Done()
				errs[i] = f.events.CreateMember(ctx, host, eventID, p, model.RoleGoalkeepers)
			}(i, p)
		}
		wg.Wait()

		var ok, full int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRoleFull):
				full++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		if ok != 2 || full != 1 {
			t.Fatalf("round %d: %d successes, %d capacity failures", round, ok, full)
		}
		e := f.getEvent(eventID)
		if e.GoalkeepersCnt != 2 || e.CurMemberCnt != 3 || len(e.UserSubscriptions) != 1 {
			t.Fatalf("round %d: final event %+v", round, e)
		}
	}
}

func TestConcurrentSubscriptionsRespectEventBound(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Limits.MaxSubscriptionsPerEvent = 3 })
	ctx := context.Background()
	host := f.user()
	eventID := f.event(host, model.RoleFieldPlayers)

	players := make([]string, 6)
	for i := range players {
		players[i] = f.user()
	}
	errs := make(chan error, len(players))
	var wg sync.WaitGroup
	for _, p := range players {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			errs <- f.events.CreateSubscription(ctx, p, eventID, model.RoleFieldPlayers)
		}(p)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrSubscriptionRejected) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 3 {
		t.Errorf("successful subscriptions = %d, want 3", ok)
	}
	subscribed := 0
	for _, p := range players {
		if len(f.getUser(p).EventSubscriptions) == 1 {
			subscribed++
		}
	}
	if subscribed != 3 {
		t.Errorf("users holding a subscription = %d, want 3", subscribed)
	}
}

func TestTransitionsSurviveStoreFaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host, player := f.user(), f.user()
	eventID := f.event(host, model.RoleFieldPlayers)

	f.store.InjectConflicts(3)
	if err := f.events.CreateSubscription(ctx, player, eventID, model.RoleGoalkeepers); err != nil {
		t.Fatalf("CreateSubscription() after conflicts error = %v", err)
	}

	f.store.InjectUnknownCommits(1)
	if err := f.events.CreateMember(ctx, host, eventID, player, model.RoleGoalkeepers); err != nil {
		t.Fatalf("CreateMember() after unknown commit error = %v", err)
	}
	e := f.getEvent(eventID)
	if e.GoalkeepersCnt != 1 || e.CurMemberCnt != 2 {
		t.Errorf("promotion applied more than once: %+v", e)
	}
}

func TestRetryExhaustionSurfaces(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Transaction.WholeRetries = 2 })
	host := f.user()

	f.store.InjectConflicts(5)
	_, err := f.events.CreateEvent(context.Background(), host, eventRequest(model.RoleFieldPlayers))
	var ex *txn.ExhaustedError
	if !errors.As(err, &ex) || ex.Stage != txn.StageWhole {
		t.Fatalf("CreateEvent() error = %v, want whole-stage exhaustion", err)
	}
	if IsRejection(err) {
		t.Error("exhaustion reported as a business rejection")
	}
	if got := f.getUser(host).OwnEvents; len(got) != 0 {
		t.Errorf("exhausted transaction left ownEvents %v", got)
	}
}

func TestGetEventNotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.events.GetEvent(context.Background(), "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetEvent() error = %v, want ErrNotFound", err)
	}
}

func TestListEventsNewestFirst(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Limits.EventsPerPage = 2 })
	host := f.user()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.events.now = func() time.Time { return at }
		ids = append(ids, f.event(host, model.RoleFieldPlayers))
	}

	events, err := f.events.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 || events[0].ID != ids[2] || events[1].ID != ids[1] {
		got := make([]string, 0, len(events))
		for _, e := range events {
			got = append(got, e.ID)
		}
		t.Errorf("ListEvents() = %v, want [%s %s]", got, ids[2], ids[1])
	}
}
