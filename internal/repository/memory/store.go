// Package memory provides an in-process implementation of the roster store
// used for tests and ephemeral environments.
//
// Transactions run under snapshot isolation: a session works on a copy of the
// committed state taken at Start. Writing a document takes a per-document lock
// held until commit or abort; a writer that finds the document locked waits
// for the holder, and if the document was committed after its snapshot the
// write fails with ErrWriteConflict. First committer wins.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// Compile-time contract assertions.
var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Session = (*session)(nil)
)

var (
	// ErrWriteConflict is the transient error of a lost write-write race.
	ErrWriteConflict = errors.New("memory: write conflict")
	// ErrUnknownCommitResult is an injected indeterminate commit.
	ErrUnknownCommitResult = errors.New("memory: unknown transaction commit result")
	// ErrNoTransaction is returned when a session is used outside Start/Commit.
	ErrNoTransaction = errors.New("memory: no transaction in progress")
)

const defaultLockWait = 2 * time.Second

type kind byte

const (
	kindEvent kind = 'e'
	kindUser  kind = 'u'
)

type docKey struct {
	kind kind
	id   string
}

type eventRecord struct {
	doc    model.Event
	modSeq uint64
}

type userRecord struct {
	doc    model.User
	modSeq uint64
}

// Store is a concurrency-safe in-memory roster store.
type Store struct {
	mu       sync.Mutex
	seq      uint64
	events   map[string]eventRecord
	users    map[string]userRecord
	emails   map[string]string
	locks    map[docKey]*session
	released chan struct{}
	lockWait time.Duration

	conflictFaults int
	commitFaults   int
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait bounds how long a writer waits for a locked document before
// failing with ErrWriteConflict.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) { s.lockWait = d }
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		events:   make(map[string]eventRecord),
		users:    make(map[string]userRecord),
		emails:   make(map[string]string),
		locks:    make(map[docKey]*session),
		released: make(chan struct{}),
		lockWait: defaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectConflicts makes the next n document writes fail with ErrWriteConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflictFaults = n
}

// InjectUnknownCommits makes the next n commits apply their writes but report
// ErrUnknownCommitResult.
func (s *Store) InjectUnknownCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFaults = n
}

// Classify implements repository.Store.
func (s *Store) Classify(err error) txn.Class {
	switch {
	case errors.Is(err, ErrWriteConflict):
		return txn.TransientConflict
	case errors.Is(err, ErrUnknownCommitResult):
		return txn.IndeterminateCommit
	}
	return txn.Fatal
}

// NewSession implements repository.Store.
func (s *Store) NewSession(context.Context) (repository.Session, error) {
	return &session{store: s}, nil
}

// GetEvent returns the committed event.
func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	e := cloneEvent(rec.doc)
	return &e, nil
}

// ListEvents returns up to limit committed events, newest first.
func (s *Store) ListEvents(_ context.Context, limit int) ([]model.Event, error) {
	s.mu.Lock()
	events := make([]model.Event, 0, len(s.events))
	for _, rec := range s.events {
		events = append(events, cloneEvent(rec.doc))
	}
	s.mu.Unlock()

	slices.SortFunc(events, func(a, b model.Event) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// GetUser returns the committed user.
func (s *Store) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := cloneUser(rec.doc)
	return &u, nil
}

// InsertUser stores u outside any transaction.
func (s *Store) InsertUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[u.Email]; taken {
		return repository.ErrDuplicate
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.seq++
	s.users[u.ID] = userRecord{doc: cloneUser(*u), modSeq: s.seq}
	s.emails[u.Email] = u.ID
	return nil
}

// Close implements repository.Store.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) modSeq(key docKey) uint64 {
	if key.kind == kindEvent {
		return s.events[key.id].modSeq
	}
	return s.users[key.id].modSeq
}

// releaseLocked drops every lock owned by owner and wakes waiters.
// Callers hold s.mu.
func (s *Store) releaseLocked(owner *session) {
	for key, holder := range s.locks {
		if holder == owner {
			delete(s.locks, key)
		}
	}
	close(s.released)
	s.released = make(chan struct{})
}

// session is one transactional handle. It is not safe for concurrent use.
type session struct {
	store     *Store
	active    bool
	committed bool
	snapshot  uint64
	events    map[string]model.Event
	users     map[string]model.User
	written   map[docKey]struct{}
}

func (t *session) Start(context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.active {
		s.releaseLocked(t)
	}
	t.snapshot = s.seq
	t.events = make(map[string]model.Event, len(s.events))
	for id, rec := range s.events {
		t.events[id] = cloneEvent(rec.doc)
	}
	t.users = make(map[string]model.User, len(s.users))
	for id, rec := range s.users {
		t.users[id] = cloneUser(rec.doc)
	}
	t.written = make(map[docKey]struct{})
	t.active = true
	t.committed = false
	return nil
}

// Commit applies the write set. Repeating Commit after the write set has
// been applied succeeds without applying it again.
func (t *session) Commit(context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.committed {
		return nil
	}
	if !t.active {
		return ErrNoTransaction
	}

	s.seq++
	for key := range t.written {
		if key.kind == kindEvent {
			s.events[key.id] = eventRecord{doc: cloneEvent(t.events[key.id]), modSeq: s.seq}
		} else {
			s.users[key.id] = userRecord{doc: cloneUser(t.users[key.id]), modSeq: s.seq}
		}
	}
	s.releaseLocked(t)
	t.active = false
	t.committed = true

	if s.commitFaults > 0 {
		s.commitFaults--
		return ErrUnknownCommitResult
	}
	return nil
}

func (t *session) Abort(context.Context) error {
	if !t.active {
		return nil
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(t)
	t.active = false
	t.events, t.users, t.written = nil, nil, nil
	return nil
}

func (t *session) End(ctx context.Context) {
	_ = t.Abort(ctx)
}

// acquire takes the write lock on key, waiting for another holder to finish.
func (t *session) acquire(ctx context.Context, key docKey) error {
	s := t.store
	deadline := time.Now().Add(s.lockWait)

	s.mu.Lock()
	if s.conflictFaults > 0 {
		s.conflictFaults--
		s.mu.Unlock()
		return ErrWriteConflict
	}
	for {
		holder, held := s.locks[key]
		if !held || holder == t {
			if s.modSeq(key) > t.snapshot {
				s.mu.Unlock()
				return ErrWriteConflict
			}
			s.locks[key] = t
			s.mu.Unlock()
			return nil
		}

		wake := s.released
		s.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return ErrWriteConflict
		}
		timer := time.NewTimer(wait)
		select {
		case <-wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
		s.mu.Lock()
	}
}

func (t *session) InsertEvent(ctx context.Context, e *model.Event) error {
	if !t.active {
		return ErrNoTransaction
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	key := docKey{kind: kindEvent, id: e.ID}
	if _, exists := t.events[e.ID]; exists {
		return repository.ErrDuplicate
	}
	if err := t.acquire(ctx, key); err != nil {
		return err
	}
	t.events[e.ID] = cloneEvent(*e)
	t.written[key] = struct{}{}
	return nil
}

func (t *session) UpdateEvent(ctx context.Context, f repository.EventFilter, c repository.EventChange) (repository.Matched, error) {
	if err := c.Validate(); err != nil {
		return repository.Matched{}, err
	}
	if !t.active {
		return repository.Matched{}, ErrNoTransaction
	}
	e, ok := t.events[f.ID]
	if !ok || !matchEvent(&e, f) {
		return repository.Matched{}, repository.ErrNoMatch
	}
	key := docKey{kind: kindEvent, id: f.ID}
	if err := t.acquire(ctx, key); err != nil {
		return repository.Matched{}, err
	}

	var m repository.Matched
	if f.Subscriber != "" {
		sub, _ := e.SubscriptionOf(f.Subscriber)
		m.Subscription = &sub
	}
	applyEvent(&e, c)
	t.events[f.ID] = e
	t.written[key] = struct{}{}
	return m, nil
}

func (t *session) UpdateUser(ctx context.Context, f repository.UserFilter, c repository.UserChange) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !t.active {
		return ErrNoTransaction
	}
	u, ok := t.users[f.ID]
	if !ok || !matchUser(&u, f) {
		return repository.ErrNoMatch
	}
	key := docKey{kind: kindUser, id: f.ID}
	if err := t.acquire(ctx, key); err != nil {
		return err
	}
	applyUser(&u, c)
	t.users[f.ID] = u
	t.written[key] = struct{}{}
	return nil
}
