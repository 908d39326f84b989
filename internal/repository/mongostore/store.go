// Package mongostore implements the roster store on MongoDB multi-document
// transactions.
//
// Conditional updates are findOneAndUpdate / updateOne calls whose query
// carries the preconditions. The server labels retryable failures:
// TransientTransactionError asks for the whole transaction to be rerun and
// UnknownTransactionCommitResult asks for the commit alone to be repeated.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// Compile-time contract assertions.
var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Session = (*session)(nil)
)

// Server error labels.
const (
	labelTransient     = "TransientTransactionError"
	labelUnknownCommit = "UnknownTransactionCommitResult"
)

// Store handles roster persistence on MongoDB.
type Store struct {
	client *mongo.Client
	events *mongo.Collection
	users  *mongo.Collection
}

// NewStore binds the events and users collections of dbName.
func NewStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		client: client,
		events: db.Collection("events"),
		users:  db.Collection("users"),
	}
}

// EnsureIndexes creates the unique email index and the host index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users.email index: %w", err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "host", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create events.host index: %w", err)
	}
	return nil
}

// Classify reads the server error labels.
func (s *Store) Classify(err error) txn.Class {
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel(labelUnknownCommit) {
			return txn.IndeterminateCommit
		}
		if se.HasErrorLabel(labelTransient) {
			return txn.TransientConflict
		}
	}
	return txn.Fatal
}

// NewSession starts a driver session.
func (s *Store) NewSession(context.Context) (repository.Session, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &session{store: s, sess: sess}, nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	oidv, err := oid(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	var doc eventDoc
	if err := s.events.FindOne(ctx, bson.M{"_id": oidv}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e := doc.model()
	return &e, nil
}

// ListEvents returns up to limit events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.events.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	events := make([]model.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, d.model())
	}
	return events, nil
}

// GetUser returns a single user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	oidv, err := oid(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": oidv}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u := doc.model()
	return &u, nil
}

// InsertUser inserts u with a fresh ObjectID.
func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	doc, err := toUserDoc(u)
	if err != nil {
		return err
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type session struct {
	store  *Store
	sess   mongo.Session
	active bool
}

func transactionOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary())
}

// sc binds ctx to the driver session so operations join the transaction.
func (t *session) sc(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

func (t *session) Start(ctx context.Context) error {
	if t.active {
		_ = t.Abort(ctx)
	}
	if err := t.sess.StartTransaction(transactionOptions()); err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	t.active = true
	return nil
}

// Commit may be called again after an UnknownTransactionCommitResult. The
// driver refuses to abort once a commit was attempted.
func (t *session) Commit(ctx context.Context) error {
	t.active = false
	return t.sess.CommitTransaction(ctx)
}

func (t *session) Abort(ctx context.Context) error {
	if !t.active {
		return nil
	}
	t.active = false
	return t.sess.AbortTransaction(ctx)
}

func (t *session) End(ctx context.Context) {
	t.sess.EndSession(ctx)
}

func (t *session) InsertEvent(ctx context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = primitive.NewObjectID().Hex()
	}
	doc, err := toEventDoc(e)
	if err != nil {
		return err
	}
	if _, err := t.store.events.InsertOne(t.sc(ctx), doc); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// noMatchOnBadID reports an id that is not an ObjectID as a failed
// precondition: such an id can never match a document.
func noMatchOnBadID(err error) error {
	if errors.Is(err, errInvalidID) {
		return repository.ErrNoMatch
	}
	return err
}

func (t *session) UpdateEvent(ctx context.Context, f repository.EventFilter, c repository.EventChange) (repository.Matched, error) {
	update, err := eventUpdateDoc(c)
	if err != nil {
		return repository.Matched{}, noMatchOnBadID(err)
	}
	filter, err := eventFilterDoc(f)
	if err != nil {
		return repository.Matched{}, noMatchOnBadID(err)
	}

	projection := bson.M{"_id": 1}
	if f.Subscriber != "" {
		projection = bson.M{"userSubscriptions.$": 1}
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(projection)

	var prior struct {
		UserSubscriptions []subscriptionDoc `bson:"userSubscriptions"`
	}
	err = t.store.events.FindOneAndUpdate(t.sc(ctx), filter, update, opts).Decode(&prior)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.Matched{}, repository.ErrNoMatch
		}
		return repository.Matched{}, fmt.Errorf("update event: %w", err)
	}

	var m repository.Matched
	if f.Subscriber != "" && len(prior.UserSubscriptions) > 0 {
		sub := prior.UserSubscriptions[0].model()
		m.Subscription = &sub
	}
	return m, nil
}

func (t *session) UpdateUser(ctx context.Context, f repository.UserFilter, c repository.UserChange) error {
	update, err := userUpdateDoc(c)
	if err != nil {
		return noMatchOnBadID(err)
	}
	filter, err := userFilterDoc(f)
	if err != nil {
		return noMatchOnBadID(err)
	}
	res, err := t.store.users.UpdateOne(t.sc(ctx), filter, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNoMatch
	}
	return nil
}
