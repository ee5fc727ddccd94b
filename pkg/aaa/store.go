package aaa

import (
	"context"
	"time"
)

// Store is the AAA persistence contract. Implementations must keep every
// operation idempotent: the sync engine re-runs them on every scheduler tick
// until the projection converges.
type Store interface {
	// ReplaceCheckAttributes deletes all radcheck rows for the username and
	// writes attrs. An empty attrs slice is a pure delete (implicit deny).
	ReplaceCheckAttributes(ctx context.Context, username string, attrs []CheckAttribute) error

	// ReplaceReplyAttributes does the same for radreply.
	ReplaceReplyAttributes(ctx context.Context, username string, attrs []ReplyAttribute) error

	// RemoveUser deletes the username's radcheck, radreply and radusergroup
	// rows. Used for deletions and the old username during a rename.
	RemoveUser(ctx context.Context, username string) error

	// UpsertUserGroup sets the username's single group membership, keyed by
	// username so repeated assignment can never produce duplicate rows.
	UpsertUserGroup(ctx context.Context, username, groupName string, priority int) error

	// CurrentGroup returns the username's group, or "" when none exists.
	CurrentGroup(ctx context.Context, username string) (string, error)

	// Groups returns memberships ordered by priority.
	Groups(ctx context.Context, username string) ([]UserGroup, error)

	// CheckAttributes returns the radcheck rows for the username.
	CheckAttributes(ctx context.Context, username string) ([]CheckAttribute, error)

	// ReplyAttributes returns the radreply rows for the username.
	ReplyAttributes(ctx context.Context, username string) ([]ReplyAttribute, error)

	// UpsertGroupReply sets a group-level reply attribute in radgroupreply.
	// This is a broadcast: it affects every subscriber in the group.
	UpsertGroupReply(ctx context.Context, groupName, attribute, op, value string) error

	// OpenSessions returns radacct rows with a null stop time.
	OpenSessions(ctx context.Context, username string) ([]Session, error)

	// HasOpenSession is the canonical "currently online" query.
	HasOpenSession(ctx context.Context, username string) (bool, error)

	// CloseSession stamps a stop time and terminate cause on a radacct row.
	CloseSession(ctx context.Context, radAcctID int64, stop time.Time, cause string) error

	// WritePostAuth appends an auth audit row.
	WritePostAuth(ctx context.Context, entry PostAuth) error

	// RecentAuthLog returns the newest audit rows for the username.
	RecentAuthLog(ctx context.Context, username string, limit int) ([]PostAuth, error)
}
