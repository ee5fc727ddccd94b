package nas

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGStore reads the sites table maintained by the inventory collaborator.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an existing connection pool.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) LookupByIP(ctx context.Context, ip string) (*Site, error) {
	var (
		site     Site
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, ip_address, coa_port, secret, is_online, last_seen
		FROM sites WHERE ip_address = $1`, ip).Scan(
		&site.ID, &site.Name, &site.IPAddress, &site.CoAPort, &site.Secret,
		&site.IsOnline, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		site.LastSeen = lastSeen.Time
	}
	return &site, nil
}
