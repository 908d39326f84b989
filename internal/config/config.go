// Package config loads the immutable process configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Backend names the storage implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendMongo    Backend = "mongo"
)

// Limits bounds rosters and per-user lists.
type Limits struct {
	MaxSubscriptionsPerEvent int // MAX_USER_PER_EVENT_SUBSCRIPTIONS_CNT
	MaxSubscriptionsPerUser  int // MAX_EVENT_PER_USER_SUBSCRIPTIONS_CNT
	MaxEventsPerUser         int // MAX_EVENT_PER_USER
	MaxCreatedEventsPerUser  int // MAX_CREATED_EVENTS_PER_USER
	EventsPerPage            int
}

// Transaction bounds the two retry tiers of the transaction runner.
type Transaction struct {
	WholeRetries  int
	CommitRetries int
}

// Postgres holds PostgreSQL connection settings.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c Postgres) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Mongo holds MongoDB connection settings.
type Mongo struct {
	URL    string
	DBName string
}

// Redis holds notification publisher settings. An empty URL disables it.
type Redis struct {
	URL     string
	Channel string
}

// Config is built once at start-up and passed by value.
type Config struct {
	Port        string
	LogLevel    string
	JWTSecret   string
	Backend     Backend
	Limits      Limits
	Transaction Transaction
	Postgres    Postgres
	Mongo       Mongo
	Redis       Redis
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		Backend:  BackendMemory,
		Limits: Limits{
			MaxSubscriptionsPerEvent: 15,
			MaxSubscriptionsPerUser:  5,
			MaxEventsPerUser:         10,
			MaxCreatedEventsPerUser:  17,
			EventsPerPage:            10,
		},
		Transaction: Transaction{
			WholeRetries:  10,
			CommitRetries: 10,
		},
		Postgres: Postgres{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "roster",
			SSLMode:  "disable",
		},
		Mongo: Mongo{
			URL:    "mongodb://localhost:27017/?replicaSet=rs0",
			DBName: "roster",
		},
		Redis: Redis{
			Channel: "roster_events",
		},
	}
}

// Load reads .env (if present) and the process environment on top of Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the process environment on top of Default.
func FromEnv() (Config, error) {
	d := Default()
	c := Config{
		Port:      getEnv("PORT", d.Port),
		LogLevel:  getEnv("LOG_LEVEL", d.LogLevel),
		JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		Backend:   Backend(getEnv("STORE_BACKEND", string(d.Backend))),
		Postgres: Postgres{
			Host:     getEnv("DB_HOST", d.Postgres.Host),
			Port:     getEnv("DB_PORT", d.Postgres.Port),
			User:     getEnv("DB_USER", d.Postgres.User),
			Password: getEnv("DB_PASSWORD", d.Postgres.Password),
			DBName:   getEnv("DB_NAME", d.Postgres.DBName),
			SSLMode:  getEnv("DB_SSLMODE", d.Postgres.SSLMode),
		},
		Mongo: Mongo{
			URL:    getEnv("MONGO_URL", d.Mongo.URL),
			DBName: getEnv("MONGO_DB", d.Mongo.DBName),
		},
		Redis: Redis{
			URL:     getEnv("REDIS_URL", ""),
			Channel: getEnv("REDIS_CHANNEL", d.Redis.Channel),
		},
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"MAX_USER_PER_EVENT_SUBSCRIPTIONS_CNT", &c.Limits.MaxSubscriptionsPerEvent, d.Limits.MaxSubscriptionsPerEvent},
		{"MAX_EVENT_PER_USER_SUBSCRIPTIONS_CNT", &c.Limits.MaxSubscriptionsPerUser, d.Limits.MaxSubscriptionsPerUser},
		{"MAX_EVENT_PER_USER", &c.Limits.MaxEventsPerUser, d.Limits.MaxEventsPerUser},
		{"MAX_CREATED_EVENTS_PER_USER", &c.Limits.MaxCreatedEventsPerUser, d.Limits.MaxCreatedEventsPerUser},
		{"EVENT_PER_PAGE", &c.Limits.EventsPerPage, d.Limits.EventsPerPage},
		{"WHOLE_TRANSACTION_RETRY_CNT", &c.Transaction.WholeRetries, d.Transaction.WholeRetries},
		{"TRANSACTION_COMMIT_RETRY_CNT", &c.Transaction.CommitRetries, d.Transaction.CommitRetries},
	}
	for _, it := range ints {
		v, err := getEnvInt(it.key, it.def)
		if err != nil {
			return Config{}, err
		}
		*it.dst = v
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects configurations the roster logic cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres, BackendMongo:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Backend)
	}
	checks := map[string]int{
		"MAX_USER_PER_EVENT_SUBSCRIPTIONS_CNT": c.Limits.MaxSubscriptionsPerEvent,
		"MAX_EVENT_PER_USER_SUBSCRIPTIONS_CNT": c.Limits.MaxSubscriptionsPerUser,
		"MAX_EVENT_PER_USER":                   c.Limits.MaxEventsPerUser,
		"MAX_CREATED_EVENTS_PER_USER":          c.Limits.MaxCreatedEventsPerUser,
		"EVENT_PER_PAGE":                       c.Limits.EventsPerPage,
		"WHOLE_TRANSACTION_RETRY_CNT":          c.Transaction.WholeRetries,
		"TRANSACTION_COMMIT_RETRY_CNT":         c.Transaction.CommitRetries,
	}
	for key, v := range checks {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
