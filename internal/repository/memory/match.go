package memory

import (
	"slices"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
)

func matchEvent(e *model.Event, f repository.EventFilter) bool {
	if f.Host != "" && e.Host != f.Host {
		return false
	}
	if f.NotHost != "" && e.Host == f.NotHost {
		return false
	}
	if f.Subscriber != "" {
		if _, ok := e.SubscriptionOf(f.Subscriber); !ok {
			return false
		}
	}
	if f.Outsider != "" {
		if _, ok := e.SubscriptionOf(f.Outsider); ok {
			return false
		}
		if _, ok := e.RoleOf(f.Outsider); ok {
			return false
		}
	}
	if f.Member != nil && !slices.Contains(e.Members(f.Member.Role), f.Member.UserID) {
		return false
	}
	if f.SubscriptionsBelow > 0 && len(e.UserSubscriptions) >= f.SubscriptionsBelow {
		return false
	}
	if f.RoomFor != "" && e.Count(f.RoomFor) >= e.Capacity(f.RoomFor) {
		return false
	}
	return true
}

func applyEvent(e *model.Event, c repository.EventChange) {
	if c.AddSubscription != nil {
		e.UserSubscriptions = append(e.UserSubscriptions, *c.AddSubscription)
	}
	if c.PullSubscriber != "" {
		e.UserSubscriptions = slices.DeleteFunc(e.UserSubscriptions, func(s model.Subscription) bool {
			return s.Participant == c.PullSubscriber
		})
	}
	if m := c.AddMember; m != nil {
		moveMember(e, m.Role, func(set []string) []string { return append(set, m.UserID) }, 1)
	}
	if m := c.RemoveMember; m != nil {
		moveMember(e, m.Role, func(set []string) []string {
			return slices.DeleteFunc(set, func(id string) bool { return id == m.UserID })
		}, -1)
	}
}

// moveMember edits a role set and applies delta to its counters.
func moveMember(e *model.Event, role model.Role, edit func([]string) []string, delta int) {
	if role == model.RoleGoalkeepers {
		e.Goalkeepers = edit(e.Goalkeepers)
		e.GoalkeepersCnt += delta
	} else {
		e.FieldPlayers = edit(e.FieldPlayers)
		e.FieldPlayersCnt += delta
	}
	e.CurMemberCnt += delta
}

func matchUser(u *model.User, f repository.UserFilter) bool {
	if f.OwnedBelow > 0 && len(u.OwnEvents) >= f.OwnedBelow {
		return false
	}
	if f.MembershipsBelow > 0 && len(u.Events) >= f.MembershipsBelow {
		return false
	}
	if f.SubscriptionsBelow > 0 && len(u.EventSubscriptions) >= f.SubscriptionsBelow {
		return false
	}
	return true
}

func applyUser(u *model.User, c repository.UserChange) {
	pull := func(list []string, id string) []string {
		return slices.DeleteFunc(list, func(v string) bool { return v == id })
	}
	if c.PushOwned != "" {
		u.OwnEvents = append(u.OwnEvents, c.PushOwned)
	}
	if c.PushMembership != "" {
		u.Events = append(u.Events, c.PushMembership)
	}
	if c.PullMembership != "" {
		u.Events = pull(u.Events, c.PullMembership)
	}
	if c.PushSubscription != "" {
		u.EventSubscriptions = append(u.EventSubscriptions, c.PushSubscription)
	}
	if c.PullSubscription != "" {
		u.EventSubscriptions = pull(u.EventSubscriptions, c.PullSubscription)
	}
}

func cloneEvent(e model.Event) model.Event {
	e.FieldPlayers = slices.Clone(e.FieldPlayers)
	e.Goalkeepers = slices.Clone(e.Goalkeepers)
	e.UserSubscriptions = slices.Clone(e.UserSubscriptions)
	return e
}

func cloneUser(u model.User) model.User {
	u.OwnEvents = slices.Clone(u.OwnEvents)
	u.Events = slices.Clone(u.Events)
	u.EventSubscriptions = slices.Clone(u.EventSubscriptions)
	return u
}
