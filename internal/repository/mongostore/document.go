package mongostore

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
)

var errInvalidID = errors.New("invalid object id")

type geoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type subscriptionDoc struct {
	Role        string             `bson:"role"`
	Participant primitive.ObjectID `bson:"participant"`
	CreatedAt   time.Time          `bson:"createdAt"`
}

type eventDoc struct {
	ID                   primitive.ObjectID   `bson:"_id"`
	Title                string               `bson:"title"`
	DateEventBegan       time.Time            `bson:"dateEventBegan"`
	Location             geoPoint             `bson:"location"`
	UserSubscriptions    []subscriptionDoc    `bson:"userSubscriptions"`
	FieldPlayersCountMax int                  `bson:"fieldPlayersCountMax"`
	FieldPlayers         []primitive.ObjectID `bson:"fieldPlayers"`
	FieldPlayersCnt      int                  `bson:"fieldPlayersCnt"`
	Goalkeepers          []primitive.ObjectID `bson:"goalkeepers"`
	GoalkeepersCnt       int                  `bson:"goalkeepersCnt"`
	CurMemberCnt         int                  `bson:"curMemberCnt"`
	Host                 primitive.ObjectID   `bson:"host"`
	MinAge               int                  `bson:"minAge"`
	Price                int                  `bson:"price"`
	Description          string               `bson:"description,omitempty"`
	CreatedAt            time.Time            `bson:"createdAt"`
}

type userDoc struct {
	ID                 primitive.ObjectID   `bson:"_id"`
	Email              string               `bson:"email"`
	FirstName          string               `bson:"firstName"`
	SecondName         string               `bson:"secondName"`
	OwnEvents          []primitive.ObjectID `bson:"ownEvents"`
	Events             []primitive.ObjectID `bson:"events"`
	EventSubscriptions []primitive.ObjectID `bson:"eventSubscriptions"`
	CreatedAt          time.Time            `bson:"createdAt"`
}

func oid(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, errInvalidID
	}
	return id, nil
}

func oids(ss []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(ss))
	for _, s := range ss {
		id, err := oid(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func hexes(ids []primitive.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}

func toEventDoc(e *model.Event) (eventDoc, error) {
	id, err := oid(e.ID)
	if err != nil {
		return eventDoc{}, err
	}
	host, err := oid(e.Host)
	if err != nil {
		return eventDoc{}, err
	}
	fieldPlayers, err := oids(e.FieldPlayers)
	if err != nil {
		return eventDoc{}, err
	}
	goalkeepers, err := oids(e.Goalkeepers)
	if err != nil {
		return eventDoc{}, err
	}
	subs := make([]subscriptionDoc, 0, len(e.UserSubscriptions))
	for _, s := range e.UserSubscriptions {
		p, err := oid(s.Participant)
		if err != nil {
			return eventDoc{}, err
		}
		subs = append(subs, subscriptionDoc{Role: string(s.Role), Participant: p, CreatedAt: s.CreatedAt})
	}
	return eventDoc{
		ID:             id,
		Title:          e.Title,
		DateEventBegan: e.DateEventBegan,
		Location: geoPoint{
			Type:        "Point",
			Coordinates: []float64{e.Location.Longitude, e.Location.Latitude},
		},
		UserSubscriptions:    subs,
		FieldPlayersCountMax: e.FieldPlayersCountMax,
		FieldPlayers:         fieldPlayers,
		FieldPlayersCnt:      e.FieldPlayersCnt,
		Goalkeepers:          goalkeepers,
		GoalkeepersCnt:       e.GoalkeepersCnt,
		CurMemberCnt:         e.CurMemberCnt,
		Host:                 host,
		MinAge:               e.MinAge,
		Price:                e.Price,
		Description:          e.Description,
		CreatedAt:            e.CreatedAt,
	}, nil
}

func (d eventDoc) model() model.Event {
	e := model.Event{
		ID:                   d.ID.Hex(),
		Title:                d.Title,
		DateEventBegan:       d.DateEventBegan,
		FieldPlayersCountMax: d.FieldPlayersCountMax,
		FieldPlayers:         hexes(d.FieldPlayers),
		FieldPlayersCnt:      d.FieldPlayersCnt,
		Goalkeepers:          hexes(d.Goalkeepers),
		GoalkeepersCnt:       d.GoalkeepersCnt,
		CurMemberCnt:         d.CurMemberCnt,
		Host:                 d.Host.Hex(),
		MinAge:               d.MinAge,
		Price:                d.Price,
		Description:          d.Description,
		CreatedAt:            d.CreatedAt,
	}
	if len(d.Location.Coordinates) == 2 {
		e.Location = model.GeoPoint{Longitude: d.Location.Coordinates[0], Latitude: d.Location.Coordinates[1]}
	}
	for _, s := range d.UserSubscriptions {
		e.UserSubscriptions = append(e.UserSubscriptions, s.model())
	}
	return e
}

func (s subscriptionDoc) model() model.Subscription {
	return model.Subscription{Role: model.Role(s.Role), Participant: s.Participant.Hex(), CreatedAt: s.CreatedAt}
}

func toUserDoc(u *model.User) (userDoc, error) {
	id, err := oid(u.ID)
	if err != nil {
		return userDoc{}, err
	}
	own, err := oids(u.OwnEvents)
	if err != nil {
		return userDoc{}, err
	}
	events, err := oids(u.Events)
	if err != nil {
		return userDoc{}, err
	}
	subs, err := oids(u.EventSubscriptions)
	if err != nil {
		return userDoc{}, err
	}
	return userDoc{
		ID:                 id,
		Email:              u.Email,
		FirstName:          u.FirstName,
		SecondName:         u.SecondName,
		OwnEvents:          own,
		Events:             events,
		EventSubscriptions: subs,
		CreatedAt:          u.CreatedAt,
	}, nil
}

func (d userDoc) model() model.User {
	return model.User{
		ID:                 d.ID.Hex(),
		Email:              d.Email,
		FirstName:          d.FirstName,
		SecondName:         d.SecondName,
		OwnEvents:          hexes(d.OwnEvents),
		Events:             hexes(d.Events),
		EventSubscriptions: hexes(d.EventSubscriptions),
		CreatedAt:          d.CreatedAt,
	}
}
