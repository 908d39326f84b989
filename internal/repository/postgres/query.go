package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
)

// params collects positional query arguments.
type params struct {
	vals []any
}

func (p *params) add(v any) string {
	p.vals = append(p.vals, v)
	return "$" + strconv.Itoa(len(p.vals))
}

func roleColumns(role model.Role) (set, count string) {
	if role == model.RoleGoalkeepers {
		return "goalkeepers", "goalkeepers_cnt"
	}
	return "field_players", "field_players_cnt"
}

func hasSubscriber(column, param string) string {
	return fmt.Sprintf("%s @> jsonb_build_array(jsonb_build_object('participant', %s::text))", column, param)
}

// eventUpdateSQL renders a conditional event update. The filter becomes the
// WHERE clause of the same statement that applies the change; the pre-update
// row is joined in as "prior" so the matched subscription's role can be
// returned as it was before the pull.
func eventUpdateSQL(f repository.EventFilter, c repository.EventChange) (string, []any, error) {
	if err := c.Validate(); err != nil {
		return "", nil, err
	}

	var p params
	id := p.add(f.ID)
	where := []string{"e.id = prior.id"}

	if f.Host != "" {
		where = append(where, "e.host = "+p.add(f.Host)+"::text")
	}
	if f.NotHost != "" {
		where = append(where, "e.host <> "+p.add(f.NotHost)+"::text")
	}
	var subscriber string
	if f.Subscriber != "" {
		subscriber = p.add(f.Subscriber)
		where = append(where, hasSubscriber("e.user_subscriptions", subscriber))
	}
	if f.Outsider != "" {
		o := p.add(f.Outsider)
		where = append(where,
			"NOT "+hasSubscriber("e.user_subscriptions", o),
			"NOT ("+o+"::text = ANY (e.field_players))",
			"NOT ("+o+"::text = ANY (e.goalkeepers))",
		)
	}
	if f.Member != nil {
		set, _ := roleColumns(f.Member.Role)
		where = append(where, p.add(f.Member.UserID)+"::text = ANY (e."+set+")")
	}
	if f.SubscriptionsBelow > 0 {
		where = append(where, "jsonb_array_length(e.user_subscriptions) < "+p.add(f.SubscriptionsBelow)+"::int")
	}
	switch f.RoomFor {
	case model.RoleGoalkeepers:
		where = append(where, "e.goalkeepers_cnt < "+p.add(model.GoalkeepersMax)+"::int")
	case model.RoleFieldPlayers:
		where = append(where, "e.field_players_cnt < e.field_players_count_max")
	}

	var set []string
	if s := c.AddSubscription; s != nil {
		set = append(set, fmt.Sprintf(
			"user_subscriptions = e.user_subscriptions || jsonb_build_array(jsonb_build_object("+
				"'role', %s::text, 'participant', %s::text, 'createdAt', %s::timestamptz))",
			p.add(string(s.Role)), p.add(s.Participant), p.add(s.CreatedAt)))
	}
	if c.PullSubscriber != "" {
		set = append(set, fmt.Sprintf(
			"user_subscriptions = COALESCE((SELECT jsonb_agg(s) FROM jsonb_array_elements(e.user_subscriptions) AS s "+
				"WHERE s->>'participant' <> %s::text), '[]'::jsonb)",
			p.add(c.PullSubscriber)))
	}
	if m := c.AddMember; m != nil {
		col, cnt := roleColumns(m.Role)
		set = append(set,
			fmt.Sprintf("%s = array_append(e.%s, %s::text)", col, col, p.add(m.UserID)),
			fmt.Sprintf("%s = e.%s + 1", cnt, cnt),
			"cur_member_cnt = e.cur_member_cnt + 1",
		)
	}
	if m := c.RemoveMember; m != nil {
		col, cnt := roleColumns(m.Role)
		set = append(set,
			fmt.Sprintf("%s = array_remove(e.%s, %s::text)", col, col, p.add(m.UserID)),
			fmt.Sprintf("%s = e.%s - 1", cnt, cnt),
			"cur_member_cnt = e.cur_member_cnt - 1",
		)
	}

	returning := "NULL::text"
	if subscriber != "" {
		returning = "(SELECT s->>'role' FROM jsonb_array_elements(prior.user_subscriptions) AS s " +
			"WHERE s->>'participant' = " + subscriber + "::text LIMIT 1)"
	}

	sql := "UPDATE events AS e SET " + strings.Join(set, ", ") +
		" FROM (SELECT id, user_subscriptions FROM events WHERE id = " + id + "::text) AS prior" +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + returning
	return sql, p.vals, nil
}

// userUpdateSQL renders a conditional user update.
func userUpdateSQL(f repository.UserFilter, c repository.UserChange) (string, []any, error) {
	if err := c.Validate(); err != nil {
		return "", nil, err
	}

	var p params
	where := []string{"id = " + p.add(f.ID) + "::text"}
	if f.OwnedBelow > 0 {
		where = append(where, "cardinality(own_events) < "+p.add(f.OwnedBelow)+"::int")
	}
	if f.MembershipsBelow > 0 {
		where = append(where, "cardinality(events) < "+p.add(f.MembershipsBelow)+"::int")
	}
	if f.SubscriptionsBelow > 0 {
		where = append(where, "cardinality(event_subscriptions) < "+p.add(f.SubscriptionsBelow)+"::int")
	}

	var set []string
	push := func(col, id string) {
		set = append(set, fmt.Sprintf("%s = array_append(%s, %s::text)", col, col, p.add(id)))
	}
	pull := func(col, id string) {
		set = append(set, fmt.Sprintf("%s = array_remove(%s, %s::text)", col, col, p.add(id)))
	}
	if c.PushOwned != "" {
		push("own_events", c.PushOwned)
	}
	if c.PushMembership != "" {
		push("events", c.PushMembership)
	}
	if c.PullMembership != "" {
		pull("events", c.PullMembership)
	}
	if c.PushSubscription != "" {
		push("event_subscriptions", c.PushSubscription)
	}
	if c.PullSubscription != "" {
		pull("event_subscriptions", c.PullSubscription)
	}

	sql := "UPDATE users SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING id"
	return sql, p.vals, nil
}
