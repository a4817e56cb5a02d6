// Package store persists delivered anomaly events in Postgres. It is an
// alert sink: probe samples are never written here.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/tmater/dnswatch/internal/alert"
	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/proto"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store writes anomaly events to Postgres.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// Anomaly is one persisted event.
type Anomaly struct {
	ID          string           `json:"id"`
	Severity    anomaly.Severity `json:"severity"`
	Text        string           `json:"text"`
	Key         proto.CheckKey   `json:"key"`
	Success     bool             `json:"success"`
	LatencyMs   float64          `json:"latency_ms"`
	ZScore      float64          `json:"zscore"`
	UptimeRatio float64          `json:"uptime_ratio"`
	Error       string           `json:"error,omitempty"`
	Addresses   []string         `json:"addresses"`
	ObservedAt  time.Time        `json:"observed_at"`
	CreatedAt   time.Time        `json:"created_at"`
}

// New applies pending migrations and opens a connection pool. dsn must be a
// postgres:// or postgresql:// URL.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log := logger.For("store")
	log.Info("database ready")
	return &Store{pool: pool, log: log}, nil
}

// Migrate brings the schema up to date.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrateURL rewrites a postgres URL to the scheme of the pgx/v5 migrate driver.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

// Name implements alert.Sink.
func (s *Store) Name() string { return "postgres" }

// Deliver implements alert.Sink by inserting ev. ev.ID must be a UUID.
// Redelivery of the same event id is ignored.
func (s *Store) Deliver(ctx context.Context, ev alert.Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("event id %q: %w", ev.ID, err)
	}
	p := ev.Payload
	addrs := p.Addresses
	if addrs == nil {
		addrs = []string{}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO anomalies (id, severity, text, target, resolver, record_type, success,
			latency_ms, zscore, uptime_ratio, error, addresses, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`,
		id,
		string(ev.Severity),
		ev.Text,
		p.Key.Target,
		p.Key.Resolver,
		string(p.Key.RecordType),
		p.Up,
		p.LatencyMs,
		p.ZScore,
		p.UptimeRatio,
		p.Error,
		addrs,
		p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// Recent returns up to limit anomalies, newest observation first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Anomaly, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, severity, text, target, resolver, record_type, success,
			latency_ms, zscore, uptime_ratio, error, addresses, observed_at, created_at
		FROM anomalies
		ORDER BY observed_at DESC, created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Anomaly
	for rows.Next() {
		var (
			a        Anomaly
			severity string
			rtype    string
		)
		if err := rows.Scan(&a.ID, &severity, &a.Text, &a.Key.Target, &a.Key.Resolver, &rtype, &a.Success,
			&a.LatencyMs, &a.ZScore, &a.UptimeRatio, &a.Error, &a.Addresses, &a.ObservedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.Severity = anomaly.Severity(severity)
		a.Key.RecordType = proto.RecordType(rtype)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}
