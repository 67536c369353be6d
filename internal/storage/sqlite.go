package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "cuinotify/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `id, endpoint, p256dh, auth, user_agent, created_at, last_seen, expires_at`

func (s *sqliteStore) Upsert(ctx context.Context, sub Subscription) (Subscription, error) {
	if s == nil || s.db == nil {
		return Subscription{}, ErrDisabled
	}
	if err := sub.validate(); err != nil {
		return Subscription{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Subscription{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing *Subscription
	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subscriptions WHERE endpoint = ?`, strings.TrimSpace(sub.Endpoint))
	if cur, err := scanSubscription(row); err == nil {
		existing = &cur
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, err
	}

	rec := prepare(sub, existing, time.Now())
	_, err = tx.ExecContext(ctx,
		`INSERT INTO subscriptions(id, endpoint, p256dh, auth, user_agent, created_at, last_seen, expires_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(endpoint) DO UPDATE SET
		   p256dh=excluded.p256dh,
		   auth=excluded.auth,
		   user_agent=excluded.user_agent,
		   last_seen=excluded.last_seen,
		   expires_at=excluded.expires_at`,
		rec.ID, rec.Endpoint, rec.P256dh, rec.Auth, nullStr(rec.UserAgent),
		rec.CreatedAt.UnixMilli(), nullTime(rec.LastSeen), nullTime(rec.ExpiresAt),
	)
	if err != nil {
		return Subscription{}, err
	}
	if err := tx.Commit(); err != nil {
		return Subscription{}, err
	}
	return rec, nil
}

func (s *sqliteStore) Remove(ctx context.Context, endpoint string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return false, ErrInvalidEndpoint
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Subscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM subscriptions ORDER BY created_at, endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		rec, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`).Scan(&n)
	return n, err
}

func (s *sqliteStore) Touch(ctx context.Context, endpoint string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET last_seen = ? WHERE endpoint = ?`, at.UnixMilli(), endpoint)
	return err
}

func (s *sqliteStore) PruneExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE expires_at IS NOT NULL AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(r rowScanner) (Subscription, error) {
	var (
		rec       Subscription
		userAgent sql.NullString
		created   int64
		lastSeen  sql.NullInt64
		expiresAt sql.NullInt64
	)
	if err := r.Scan(&rec.ID, &rec.Endpoint, &rec.P256dh, &rec.Auth, &userAgent, &created, &lastSeen, &expiresAt); err != nil {
		return Subscription{}, err
	}
	rec.UserAgent = userAgent.String
	rec.CreatedAt = time.UnixMilli(created)
	if lastSeen.Valid {
		rec.LastSeen = time.UnixMilli(lastSeen.Int64)
	}
	if expiresAt.Valid {
		rec.ExpiresAt = time.UnixMilli(expiresAt.Int64)
	}
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
