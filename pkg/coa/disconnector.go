package coa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/nas"
)

// Terminate causes written to accounting rows closed by this core.
const (
	CauseAdminDisconnect   = "Admin-Disconnect"
	CauseGhostCleanup      = "Ghost-Cleanup"
	CauseNASOfflineCleanup = "NAS-Offline-Cleanup"
)

// SessionOutcome is the per-session result of a disconnect sweep.
type SessionOutcome struct {
	SessionID string
	NASIP     string
	Success   bool
	Cause     string // terminate cause written locally, empty when left open
	Detail    string // failure detail, empty on success
}

// DisconnectReport aggregates per-session outcomes for one username.
// Success is true only when every session resolved successfully.
type DisconnectReport struct {
	Username string
	Sessions []SessionOutcome
	Success  bool
}

// Disconnector tears down all open sessions for a username.
type Disconnector struct {
	store     aaa.Store
	sites     nas.Store
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
}

func NewDisconnector(store aaa.Store, sites nas.Store, transport Transport, logger *zap.Logger) *Disconnector {
	return &Disconnector{
		store:     store,
		sites:     sites,
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// Disconnect sends a disconnect for every open accounting session of the
// username and reconciles each row:
//
//   - ACK: the NAS dropped the session; close the row as an admin disconnect.
//   - NAK: ghost session already gone on the NAS; force-close the row.
//   - Timeout with the NAS marked offline: trust the independent health flag
//     over a single lost datagram and force-close the row.
//   - Timeout with the NAS reportedly online: ambiguous, leave the row open
//     and report failure rather than mask a stuck session.
//
// One unresolvable session never aborts the others.
func (d *Disconnector) Disconnect(ctx context.Context, username string) (*DisconnectReport, error) {
	sessions, err := d.store.OpenSessions(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list open sessions for %q: %w", username, err)
	}

	report := &DisconnectReport{Username: username, Success: true}
	for _, sess := range sessions {
		outcome := d.disconnectSession(ctx, &sess)
		if !outcome.Success {
			report.Success = false
		}
		report.Sessions = append(report.Sessions, outcome)
	}
	return report, nil
}

func (d *Disconnector) disconnectSession(ctx context.Context, sess *aaa.Session) SessionOutcome {
	outcome := SessionOutcome{SessionID: sess.AcctSessionID, NASIP: sess.NASIPAddress}

	site, err := d.sites.LookupByIP(ctx, sess.NASIPAddress)
	if err != nil {
		outcome.Detail = fmt.Sprintf("no NAS known for %s", sess.NASIPAddress)
		d.logger.Warn("disconnect skipped, NAS unresolved",
			zap.String("username", sess.Username),
			zap.String("nas_ip", sess.NASIPAddress),
			zap.Error(err),
		)
		return outcome
	}

	result, err := d.transport.SendDisconnect(ctx, site, sess.AcctSessionID, sess.Username, sess.FramedIP)
	if err != nil {
		d.logger.Warn("disconnect transport error",
			zap.String("username", sess.Username),
			zap.String("nas_ip", sess.NASIPAddress),
			zap.Error(err),
		)
	}

	switch result {
	case ResultACK:
		return d.closeSession(ctx, sess, CauseAdminDisconnect, outcome)
	case ResultNAK:
		// The NAS has no such session; ours is a ghost.
		return d.closeSession(ctx, sess, CauseGhostCleanup, outcome)
	default: // timeout
		if !site.IsOnline {
			return d.closeSession(ctx, sess, CauseNASOfflineCleanup, outcome)
		}
		outcome.Detail = fmt.Sprintf("no reply from %s and NAS reported online", sess.NASIPAddress)
		return outcome
	}
}

func (d *Disconnector) closeSession(ctx context.Context, sess *aaa.Session, cause string, outcome SessionOutcome) SessionOutcome {
	if err := d.store.CloseSession(ctx, sess.RadAcctID, d.now(), cause); err != nil {
		outcome.Detail = fmt.Sprintf("close accounting row: %v", err)
		d.logger.Error("accounting row close failed",
			zap.Int64("radacct_id", sess.RadAcctID),
			zap.String("cause", cause),
			zap.Error(err),
		)
		return outcome
	}
	outcome.Success = true
	outcome.Cause = cause
	d.logger.Info("session disconnected",
		zap.String("username", sess.Username),
		zap.String("session_id", sess.AcctSessionID),
		zap.String("cause", cause),
	)
	return outcome
}
