// Package postgres implements the roster store on PostgreSQL using pgx.
//
// Each event is a single row carrying its role arrays, counters and a JSONB
// array of pending subscriptions, so every transition is a conditional UPDATE
// on one row. Transactions run at REPEATABLE READ (snapshot isolation):
// concurrent writers to the same row fail with a serialization error, which
// is classified as a transient conflict and retried by the runner.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/model"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/repository"
	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// Compile-time contract assertions.
var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Session = (*session)(nil)
)

//go:embed schema.sql
var schema string

// SQLSTATE codes.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

const eventColumns = `id, title, date_event_began, longitude, latitude, field_players_count_max,
	field_players, field_players_cnt, goalkeepers, goalkeepers_cnt, cur_member_cnt,
	user_subscriptions, host, min_age, price, description, created_at`

const userColumns = `id, email, first_name, second_name, own_events, events, event_subscriptions, created_at`

// Store handles roster persistence on PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Classify maps serialization failures and deadlocks to transient conflicts.
// PostgreSQL reports commit failures definitively, so nothing is indeterminate.
func (s *Store) Classify(err error) txn.Class {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return txn.TransientConflict
		}
	}
	return txn.Fatal
}

// NewSession implements repository.Store.
func (s *Store) NewSession(context.Context) (repository.Session, error) {
	return &session{db: s.db}, nil
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListEvents returns up to limit events ordered by creation time descending.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetUser returns a single user or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.SecondName, &u.OwnEvents, &u.Events, &u.EventSubscriptions, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// InsertUser inserts a user with a generated UUID.
func (s *Store) InsertUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.FirstName, u.SecondName,
		orEmpty(u.OwnEvents), orEmpty(u.Events), orEmpty(u.EventSubscriptions), u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.db.Close()
	return nil
}

// session wraps one pgx transaction at a time.
type session struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func (t *session) Start(ctx context.Context) error {
	if err := t.Abort(ctx); err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t.tx = tx
	return nil
}

func (t *session) Commit(ctx context.Context) error {
	if t.tx == nil {
		return errors.New("commit: no transaction in progress")
	}
	err := t.tx.Commit(ctx)
	// pgx closes the transaction whether or not the commit succeeded.
	t.tx = nil
	return err
}

func (t *session) Abort(ctx context.Context) error {
	if t.tx == nil {
		return nil
	}
	err := t.tx.Rollback(ctx)
	t.tx = nil
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *session) End(ctx context.Context) {
	_ = t.Abort(ctx)
}

func (t *session) InsertEvent(ctx context.Context, e *model.Event) error {
	if t.tx == nil {
		return errors.New("insert event: no transaction in progress")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	subs, err := json.Marshal(orEmptySubs(e.UserSubscriptions))
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.Title, e.DateEventBegan, e.Location.Longitude, e.Location.Latitude, e.FieldPlayersCountMax,
		orEmpty(e.FieldPlayers), e.FieldPlayersCnt, orEmpty(e.Goalkeepers), e.GoalkeepersCnt, e.CurMemberCnt,
		subs, e.Host, e.MinAge, e.Price, e.Description, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (t *session) UpdateEvent(ctx context.Context, f repository.EventFilter, c repository.EventChange) (repository.Matched, error) {
	if t.tx == nil {
		return repository.Matched{}, errors.New("update event: no transaction in progress")
	}
	sql, args, err := eventUpdateSQL(f, c)
	if err != nil {
		return repository.Matched{}, err
	}

	var role *string
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Matched{}, repository.ErrNoMatch
		}
		return repository.Matched{}, fmt.Errorf("update event: %w", err)
	}

	var m repository.Matched
	if f.Subscriber != "" && role != nil {
		m.Subscription = &model.Subscription{Role: model.Role(*role), Participant: f.Subscriber}
	}
	return m, nil
}

func (t *session) UpdateUser(ctx context.Context, f repository.UserFilter, c repository.UserChange) error {
	if t.tx == nil {
		return errors.New("update user: no transaction in progress")
	}
	sql, args, err := userUpdateSQL(f, c)
	if err != nil {
		return err
	}

	var id string
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNoMatch
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e    model.Event
		subs []byte
	)
	err := row.Scan(
		&e.ID, &e.Title, &e.DateEventBegan, &e.Location.Longitude, &e.Location.Latitude, &e.FieldPlayersCountMax,
		&e.FieldPlayers, &e.FieldPlayersCnt, &e.Goalkeepers, &e.GoalkeepersCnt, &e.CurMemberCnt,
		&subs, &e.Host, &e.MinAge, &e.Price, &e.Description, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subs, &e.UserSubscriptions); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return &e, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptySubs(s []model.Subscription) []model.Subscription {
	if s == nil {
		return []model.Subscription{}
	}
	return s
}
