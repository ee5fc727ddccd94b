package aaa

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore is the Postgres implementation of Store against the standard
// FreeRADIUS SQL schema.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// Open connects to the AAA database.
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

func (s *PGStore) ReplaceCheckAttributes(ctx context.Context, username string, attrs []CheckAttribute) error {
	return s.replaceAttrs(ctx, "radcheck", username, func(tx *sql.Tx) error {
		for _, a := range attrs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO radcheck (username, attribute, op, value) VALUES ($1, $2, $3, $4)`,
				username, a.Attribute, a.Op, a.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) ReplaceReplyAttributes(ctx context.Context, username string, attrs []ReplyAttribute) error {
	return s.replaceAttrs(ctx, "radreply", username, func(tx *sql.Tx) error {
		for _, a := range attrs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO radreply (username, attribute, op, value) VALUES ($1, $2, $3, $4)`,
				username, a.Attribute, a.Op, a.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PGStore) replaceAttrs(ctx context.Context, table, username string, insert func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE username = $1`, username); err != nil {
		return err
	}
	if err := insert(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) RemoveUser(ctx context.Context, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"radcheck", "radreply", "radusergroup"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE username = $1`, username); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGStore) UpsertUserGroup(ctx context.Context, username, groupName string, priority int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO radusergroup (username, groupname, priority)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE
		SET groupname = excluded.groupname, priority = excluded.priority`,
		username, groupName, priority)
	return err
}

func (s *PGStore) CurrentGroup(ctx context.Context, username string) (string, error) {
	var group string
	err := s.db.QueryRowContext(ctx,
		`SELECT groupname FROM radusergroup WHERE username = $1 ORDER BY priority LIMIT 1`,
		username).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return group, err
}

func (s *PGStore) Groups(ctx context.Context, username string) ([]UserGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, groupname, priority FROM radusergroup WHERE username = $1 ORDER BY priority`,
		username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []UserGroup
	for rows.Next() {
		var g UserGroup
		if err := rows.Scan(&g.Username, &g.GroupName, &g.Priority); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PGStore) CheckAttributes(ctx context.Context, username string) ([]CheckAttribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, attribute, op, value FROM radcheck WHERE username = $1`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []CheckAttribute
	for rows.Next() {
		var a CheckAttribute
		if err := rows.Scan(&a.Username, &a.Attribute, &a.Op, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func (s *PGStore) ReplyAttributes(ctx context.Context, username string) ([]ReplyAttribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, attribute, op, value FROM radreply WHERE username = $1`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []ReplyAttribute
	for rows.Next() {
		var a ReplyAttribute
		if err := rows.Scan(&a.Username, &a.Attribute, &a.Op, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

func (s *PGStore) UpsertGroupReply(ctx context.Context, groupName, attribute, op, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO radgroupreply (groupname, attribute, op, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (groupname, attribute) DO UPDATE
		SET op = excluded.op, value = excluded.value`,
		groupName, attribute, op, value)
	return err
}

func (s *PGStore) OpenSessions(ctx context.Context, username string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT radacctid, acctsessionid, username, nasipaddress,
			COALESCE(framedipaddress, ''), acctstarttime
		FROM radacct
		WHERE username = $1 AND acctstoptime IS NULL`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.RadAcctID, &sess.AcctSessionID, &sess.Username,
			&sess.NASIPAddress, &sess.FramedIP, &sess.StartTime); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *PGStore) HasOpenSession(ctx context.Context, username string) (bool, error) {
	var online bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM radacct WHERE username = $1 AND acctstoptime IS NULL)`,
		username).Scan(&online)
	return online, err
}

func (s *PGStore) CloseSession(ctx context.Context, radAcctID int64, stop time.Time, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE radacct SET acctstoptime = $2, acctterminatecause = $3
		WHERE radacctid = $1 AND acctstoptime IS NULL`,
		radAcctID, stop, cause)
	return err
}

func (s *PGStore) WritePostAuth(ctx context.Context, entry PostAuth) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO radpostauth (username, reply, reason, authdate)
		VALUES ($1, $2, $3, $4)`,
		entry.Username, entry.Reply, entry.Reason, entry.CreatedAt)
	return err
}

func (s *PGStore) RecentAuthLog(ctx context.Context, username string, limit int) ([]PostAuth, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, reply, COALESCE(reason, ''), authdate
		FROM radpostauth
		WHERE username = $1
		ORDER BY authdate DESC LIMIT $2`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PostAuth
	for rows.Next() {
		var e PostAuth
		if err := rows.Scan(&e.Username, &e.Reply, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
