package mongostore

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
)

func roleFields(role model.Role) (set, count string) {
	if role == model.RoleGoalkeepers {
		return "goalkeepers", "goalkeepersCnt"
	}
	return "fieldPlayers", "fieldPlayersCnt"
}

// cond adds an operator condition on field, merging with earlier ones.
func cond(filter bson.M, field, op string, v any) {
	m, ok := filter[field].(bson.M)
	if !ok {
		m = bson.M{}
		filter[field] = m
	}
	m[op] = v
}

func withExpr(filter bson.M, exprs bson.A) {
	switch len(exprs) {
	case 0:
	case 1:
		filter["$expr"] = exprs[0]
	default:
		filter["$expr"] = bson.M{"$and": exprs}
	}
}

// eventFilterDoc renders an EventFilter as a query document. Every
// precondition is part of the query of the findOneAndUpdate that applies the
// change.
func eventFilterDoc(f repository.EventFilter) (bson.M, error) {
	id, err := oid(f.ID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": id}

	if f.Host != "" {
		h, err := oid(f.Host)
		if err != nil {
			return nil, err
		}
		cond(filter, "host", "$eq", h)
	}
	if f.NotHost != "" {
		h, err := oid(f.NotHost)
		if err != nil {
			return nil, err
		}
		cond(filter, "host", "$ne", h)
	}
	if f.Subscriber != "" {
		s, err := oid(f.Subscriber)
		if err != nil {
			return nil, err
		}
		cond(filter, "userSubscriptions.participant", "$eq", s)
	}
	if f.Outsider != "" {
		o, err := oid(f.Outsider)
		if err != nil {
			return nil, err
		}
		cond(filter, "userSubscriptions.participant", "$ne", o)
		cond(filter, "fieldPlayers", "$ne", o)
		cond(filter, "goalkeepers", "$ne", o)
	}
	if f.Member != nil {
		u, err := oid(f.Member.UserID)
		if err != nil {
			return nil, err
		}
		set, _ := roleFields(f.Member.Role)
		cond(filter, set, "$eq", u)
	}

	var exprs bson.A
	if f.SubscriptionsBelow > 0 {
		exprs = append(exprs, bson.M{"$lt": bson.A{bson.M{"$size": "$userSubscriptions"}, f.SubscriptionsBelow}})
	}
	switch f.RoomFor {
	case model.RoleGoalkeepers:
		exprs = append(exprs, bson.M{"$lt": bson.A{"$goalkeepersCnt", model.GoalkeepersMax}})
	case model.RoleFieldPlayers:
		exprs = append(exprs, bson.M{"$lt": bson.A{"$fieldPlayersCnt", "$fieldPlayersCountMax"}})
	}
	withExpr(filter, exprs)
	return filter, nil
}

// eventUpdateDoc renders an EventChange. Member moves always carry their
// $inc on the role counter and curMemberCnt.
func eventUpdateDoc(c repository.EventChange) (bson.M, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	push, pull, inc := bson.M{}, bson.M{}, bson.M{}

	if s := c.AddSubscription; s != nil {
		p, err := oid(s.Participant)
		if err != nil {
			return nil, err
		}
		push["userSubscriptions"] = subscriptionDoc{Role: string(s.Role), Participant: p, CreatedAt: s.CreatedAt}
	}
	if c.PullSubscriber != "" {
		p, err := oid(c.PullSubscriber)
		if err != nil {
			return nil, err
		}
		pull["userSubscriptions"] = bson.M{"participant": p}
	}
	if m := c.AddMember; m != nil {
		u, err := oid(m.UserID)
		if err != nil {
			return nil, err
		}
		set, count := roleFields(m.Role)
		push[set] = u
		inc[count] = 1
		inc["curMemberCnt"] = 1
	}
	if m := c.RemoveMember; m != nil {
		u, err := oid(m.UserID)
		if err != nil {
			return nil, err
		}
		set, count := roleFields(m.Role)
		pull[set] = u
		inc[count] = -1
		inc["curMemberCnt"] = -1
	}

	update := bson.M{}
	if len(push) > 0 {
		update["$push"] = push
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	return update, nil
}

func userFilterDoc(f repository.UserFilter) (bson.M, error) {
	id, err := oid(f.ID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": id}

	below := func(field string, n int) bson.M {
		return bson.M{"$lt": bson.A{bson.M{"$size": "$" + field}, n}}
	}
	var exprs bson.A
	if f.OwnedBelow > 0 {
		exprs = append(exprs, below("ownEvents", f.OwnedBelow))
	}
	if f.MembershipsBelow > 0 {
		exprs = append(exprs, below("events", f.MembershipsBelow))
	}
	if f.SubscriptionsBelow > 0 {
		exprs = append(exprs, below("eventSubscriptions", f.SubscriptionsBelow))
	}
	withExpr(filter, exprs)
	return filter, nil
}

func userUpdateDoc(c repository.UserChange) (bson.M, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	push, pull := bson.M{}, bson.M{}
	add := func(dst bson.M, field, id string) error {
		if id == "" {
			return nil
		}
		v, err := oid(id)
		if err != nil {
			return err
		}
		dst[field] = v
		return nil
	}
	for _, step := range []struct {
		dst   bson.M
		field string
		id    string
	}{
		{push, "ownEvents", c.PushOwned},
		{push, "events", c.PushMembership},
		{pull, "events", c.PullMembership},
		{push, "eventSubscriptions", c.PushSubscription},
		{pull, "eventSubscriptions", c.PullSubscription},
	} {
		if err := add(step.dst, step.field, step.id); err != nil {
			return nil, err
		}
	}

	update := bson.M{}
	if len(push) > 0 {
		update["$push"] = push
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	return update, nil
}
