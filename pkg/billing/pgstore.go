package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the Postgres implementation of Store.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// Open connects to the billing database.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the underlying pool so stores sharing the billing database can
// reuse the connection.
func (s *PGStore) DB() *sql.DB { return s.db }

const subscriberColumns = `id, organization_id, parent_id, is_independent, package_id,
	balance, status, expires_at, extended_until, paused_seconds_remaining,
	username, secret, calling_station_id, framed_ip`

func scanSubscriber(row interface{ Scan(...any) error }) (*Subscriber, error) {
	var (
		sub       Subscriber
		parentID  sql.NullInt64
		expires   sql.NullTime
		extended  sql.NullTime
		callingID sql.NullString
		framedIP  sql.NullString
	)
	err := row.Scan(&sub.ID, &sub.OrganizationID, &parentID, &sub.IsIndependent,
		&sub.PackageID, &sub.Balance, &sub.Status, &expires, &extended,
		&sub.PausedSecondsRemaining, &sub.Username, &sub.Secret, &callingID, &framedIP)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		sub.ParentID = &parentID.Int64
	}
	if expires.Valid {
		t := expires.Time
		sub.ExpiresAt = &t
	}
	if extended.Valid {
		t := extended.Time
		sub.ExtendedUntil = &t
	}
	sub.CallingStationID = callingID.String
	sub.FramedIP = framedIP.String
	return &sub, nil
}

func (s *PGStore) GetSubscriber(ctx context.Context, id int64) (*Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sub, err
}

func (s *PGStore) GetPackage(ctx context.Context, id int64) (*Package, error) {
	var p Package
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, validity_days, rate_up_kbps, rate_down_kbps,
			burst_up_kbps, burst_down_kbps, burst_threshold_up_kbps,
			burst_threshold_down_kbps, burst_seconds, priority
		FROM packages WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.ValidityDays, &p.RateUpKbps, &p.RateDownKbps,
		&p.BurstUpKbps, &p.BurstDownKbps, &p.BurstThresholdUpKbps,
		&p.BurstThresholdDownKbps, &p.BurstSeconds, &p.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) ListSyncCandidates(ctx context.Context, afterID int64, limit int) ([]*Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers
		 WHERE id > $1 AND status <> $2
		 ORDER BY id LIMIT $3`, afterID, StatusSuspended, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PGStore) UpdateState(ctx context.Context, sub *Subscriber) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscribers
		SET status = $2, expires_at = $3, extended_until = $4,
			paused_seconds_remaining = $5, updated_at = now()
		WHERE id = $1`,
		sub.ID, sub.Status, nullTime(sub.ExpiresAt), nullTime(sub.ExtendedUntil),
		sub.PausedSecondsRemaining)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *PGStore) CreditBalance(ctx context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET balance = balance + $2, updated_at = now() WHERE id = $1`,
		id, amount)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *PGStore) Renew(ctx context.Context, id int64, plan PlanFunc) (*Subscriber, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1 FOR UPDATE`, id)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p, err := plan(sub)
	if err != nil {
		return nil, err
	}
	if p.Price < 0 {
		return nil, fmt.Errorf("billing: negative renewal price %d", p.Price)
	}
	if sub.Balance < p.Price {
		return nil, ErrInsufficientBalance
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscribers
		SET balance = balance - $2, expires_at = $3, extended_until = NULL,
			status = $4, updated_at = now()
		WHERE id = $1`,
		id, p.Price, p.NewExpiry, StatusActive); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sub.Balance -= p.Price
	exp := p.NewExpiry
	sub.ExpiresAt = &exp
	sub.ExtendedUntil = nil
	sub.Status = StatusActive
	return sub, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
