// Package nas is the NAS/site inventory consumed by the session
// disconnector. Health flags are maintained externally by the monitoring
// collaborator; this package only reads them.
package nas

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no site matches the requested IP.
var ErrNotFound = errors.New("nas: site not found")

// Site is a network access server reachable for CoA.
type Site struct {
	ID        int64
	Name      string
	IPAddress string
	CoAPort   int
	Secret    string

	// IsOnline is the externally maintained health flag. It decides whether
	// a CoA timeout means "NAS is down, clean up locally" or "ambiguous".
	IsOnline bool
	LastSeen time.Time
}

// Store looks up sites by the source IP recorded in accounting rows.
type Store interface {
	LookupByIP(ctx context.Context, ip string) (*Site, error)
}
