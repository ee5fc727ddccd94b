// Package lifecycle is the subscription state machine. It decides whether a
// subscriber's service is active, expired or suspended, auto-renews from
// balance when possible, and drives the AAA projection and live session
// disconnects needed to make the network reflect the decision.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/billing"
	"github.com/codelaboratoryltd/radbill/pkg/coa"
	"github.com/codelaboratoryltd/radbill/pkg/expiry"
	"github.com/codelaboratoryltd/radbill/pkg/metrics"
	"github.com/codelaboratoryltd/radbill/pkg/radsync"
)

// ErrNotSuspended is returned by Resume for a subscriber that is not paused.
var ErrNotSuspended = errors.New("lifecycle: subscriber is not suspended")

// Disconnector tears down a username's live sessions.
type Disconnector interface {
	Disconnect(ctx context.Context, username string) (*coa.DisconnectReport, error)
}

// Config tunes the engine.
type Config struct {
	// ChunkSize bounds how many subscribers one sweep page loads.
	ChunkSize int
	// SweepWorkers bounds concurrent per-subscriber syncs in a sweep, so a
	// slow CoA exchange cannot stall the rest of the page.
	SweepWorkers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    500,
		SweepWorkers: 16,
	}
}

// Engine is the subscription state machine. All coordination goes through
// the relational stores; the only in-process state is the per-subscriber
// lock that serializes the non-idempotent renewal step.
type Engine struct {
	config Config

	billing      billing.Store
	aaa          aaa.Store
	sync         *radsync.Engine
	disconnector Disconnector
	metrics      *metrics.Metrics
	logger       *zap.Logger

	locks stripedLocks
	now   func() time.Time
}

// NewEngine wires the state machine. metrics may be nil.
func NewEngine(config Config, billingStore billing.Store, aaaStore aaa.Store,
	syncEngine *radsync.Engine, disconnector Disconnector,
	m *metrics.Metrics, logger *zap.Logger) *Engine {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.SweepWorkers <= 0 {
		config.SweepWorkers = DefaultConfig().SweepWorkers
	}
	return &Engine{
		config:       config,
		billing:      billingStore,
		aaa:          aaaStore,
		sync:         syncEngine,
		disconnector: disconnector,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// Sync evaluates one subscriber and converges billing state, AAA records and
// live sessions. It is idempotent: once converged, repeated calls are no-ops
// by group comparison. Safe for concurrent invocation; calls for the same id
// are serialized.
func (e *Engine) Sync(ctx context.Context, id int64) (billing.Status, error) {
	unlock := e.locks.lock(id)
	defer unlock()
	return e.syncLocked(ctx, id)
}

func (e *Engine) syncLocked(ctx context.Context, id int64) (billing.Status, error) {
	sub, err := e.billing.GetSubscriber(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load subscriber %d: %w", id, err)
	}

	// Manual suspension is sticky: no time arithmetic, only idempotent
	// enforcement of the suspended target.
	if sub.Status == billing.StatusSuspended {
		e.enforceGroup(ctx, sub.Username, radsync.GroupSuspended)
		return billing.StatusSuspended, nil
	}

	pkg, err := e.billing.GetPackage(ctx, sub.PackageID)
	if err != nil {
		return "", fmt.Errorf("load package %d for subscriber %d: %w", sub.PackageID, id, err)
	}

	now := e.now()
	if eff, ok := expiry.Effective(ctx, sub, e.billing.GetSubscriber); ok && eff.After(now) {
		return e.activate(ctx, sub, pkg)
	}

	// Expired by time. Renew only when the balance covers the price AND the
	// subscriber is currently online: burning balance a user is not around
	// to use would punish them for being offline.
	online, err := e.aaa.HasOpenSession(ctx, sub.Username)
	if err != nil {
		return "", fmt.Errorf("online check for %q: %w", sub.Username, err)
	}
	if online && sub.Balance >= pkg.Price {
		renewed, err := e.renew(ctx, sub, pkg)
		if err == nil {
			return e.activate(ctx, renewed, pkg)
		}
		if !errors.Is(err, billing.ErrInsufficientBalance) {
			return "", err
		}
		// Lost the balance race to a concurrent deduction; fall through.
	}
	return e.expire(ctx, sub)
}

// activate converges the subscriber onto its package group. The AAA write is
// best-effort: a failure is logged and retried by the next sweep, while the
// relational transition still commits.
func (e *Engine) activate(ctx context.Context, sub *billing.Subscriber, pkg *billing.Package) (billing.Status, error) {
	prev := sub.Status
	sub.Status = billing.StatusActive

	target := radsync.GroupForPackage(pkg.ID)
	current, err := e.sync.CurrentGroup(ctx, sub.Username)
	switch {
	case err != nil:
		e.logger.Warn("AAA group read failed, convergence deferred",
			zap.Int64("subscriber_id", sub.ID), zap.Error(err))
	case current != target:
		if err := e.sync.SyncToAaa(ctx, sub, pkg, ""); err != nil {
			e.logger.Warn("AAA write failed, will retry next sweep",
				zap.Int64("subscriber_id", sub.ID), zap.Error(err))
		} else {
			e.disconnect(ctx, sub.Username)
		}
	}

	if prev != billing.StatusActive {
		if err := e.billing.UpdateState(ctx, sub); err != nil {
			return "", fmt.Errorf("persist activation of %d: %w", sub.ID, err)
		}
		e.recordTransition(prev, billing.StatusActive)
		e.logger.Info("subscriber activated",
			zap.Int64("subscriber_id", sub.ID),
			zap.String("group", target),
		)
	}
	return billing.StatusActive, nil
}

// expire moves the subscriber onto the expired redirect group. Check
// attributes stay in place so the NAS can still authenticate the user into
// the walled garden.
func (e *Engine) expire(ctx context.Context, sub *billing.Subscriber) (billing.Status, error) {
	prev := sub.Status
	sub.Status = billing.StatusExpired

	e.enforceGroup(ctx, sub.Username, radsync.GroupExpired)

	if prev != billing.StatusExpired {
		if err := e.billing.UpdateState(ctx, sub); err != nil {
			return "", fmt.Errorf("persist expiry of %d: %w", sub.ID, err)
		}
		e.recordTransition(prev, billing.StatusExpired)
		e.logger.Info("subscriber expired",
			zap.Int64("subscriber_id", sub.ID),
			zap.Int64("balance", sub.Balance),
		)
	}
	return billing.StatusExpired, nil
}

// renew deducts the package price and credits validity time in one
// transaction. The borrowed-days carry-over withholds extension time already
// enjoyed for free from the credited period.
func (e *Engine) renew(ctx context.Context, sub *billing.Subscriber, pkg *billing.Package) (*billing.Subscriber, error) {
	renewed, err := e.billing.Renew(ctx, sub.ID, func(locked *billing.Subscriber) (billing.RenewPlan, error) {
		credited := pkg.ValidityDays - expiry.BorrowedDays(locked)
		if credited < 0 {
			credited = 0
		}
		return billing.RenewPlan{
			Price:     pkg.Price,
			NewExpiry: e.now().Add(time.Duration(credited) * 24 * time.Hour),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.IncRenewal(pkg.Price)
	}
	e.logger.Info("subscriber auto-renewed",
		zap.Int64("subscriber_id", sub.ID),
		zap.Int64("price", pkg.Price),
		zap.Time("new_expiry", *renewed.ExpiresAt),
	)
	return renewed, nil
}

// Pause banks the remaining subscription time and suspends service. Calling
// it on an already-suspended subscriber only re-enforces the AAA target.
func (e *Engine) Pause(ctx context.Context, id int64) (billing.Status, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	sub, err := e.billing.GetSubscriber(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load subscriber %d: %w", id, err)
	}
	if sub.Status == billing.StatusSuspended {
		e.enforceGroup(ctx, sub.Username, radsync.GroupSuspended)
		return billing.StatusSuspended, nil
	}

	now := e.now()
	var banked int64
	if eff, ok := expiry.Effective(ctx, sub, e.billing.GetSubscriber); ok && eff.After(now) {
		banked = int64(eff.Sub(now) / time.Second)
	}

	prev := sub.Status
	sub.Status = billing.StatusSuspended
	// Clearing the expiry keeps the sweep's time arithmetic from reading the
	// paused account as either expired or active.
	sub.ExpiresAt = nil
	sub.PausedSecondsRemaining = banked

	e.enforceGroup(ctx, sub.Username, radsync.GroupSuspended)

	if err := e.billing.UpdateState(ctx, sub); err != nil {
		return "", fmt.Errorf("persist pause of %d: %w", id, err)
	}
	e.recordTransition(prev, billing.StatusSuspended)
	e.logger.Info("subscriber paused",
		zap.Int64("subscriber_id", id),
		zap.Int64("banked_seconds", banked),
	)
	return billing.StatusSuspended, nil
}

// Resume restores banked time, or expires the subscriber immediately when
// none is banked so the normal renewal path decides what happens next. The
// final status comes from a full Sync.
func (e *Engine) Resume(ctx context.Context, id int64) (billing.Status, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	sub, err := e.billing.GetSubscriber(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load subscriber %d: %w", id, err)
	}
	if sub.Status != billing.StatusSuspended {
		return "", ErrNotSuspended
	}

	now := e.now()
	var exp time.Time
	if sub.PausedSecondsRemaining > 0 {
		exp = now.Add(time.Duration(sub.PausedSecondsRemaining) * time.Second)
	} else {
		// No banked time: backdate so the account is immediately expired
		// rather than granted free service.
		exp = now.Add(-time.Minute)
	}
	sub.ExpiresAt = &exp
	sub.PausedSecondsRemaining = 0
	sub.Status = billing.StatusActive

	if err := e.billing.UpdateState(ctx, sub); err != nil {
		return "", fmt.Errorf("persist resume of %d: %w", id, err)
	}
	e.logger.Info("subscriber resumed",
		zap.Int64("subscriber_id", id),
		zap.Time("expires_at", exp),
	)

	return e.syncLocked(ctx, id)
}

// HandlePayment credits the balance and immediately re-evaluates the
// subscriber, so a paying user comes back online without waiting for the
// next sweep.
func (e *Engine) HandlePayment(ctx context.Context, event billing.PaymentEvent) (billing.Status, error) {
	if event.Amount <= 0 {
		return "", billing.ErrInvalidAmount
	}
	if err := e.billing.CreditBalance(ctx, event.SubscriberID, event.Amount); err != nil {
		return "", fmt.Errorf("credit payment for %d: %w", event.SubscriberID, err)
	}
	e.logger.Info("payment credited",
		zap.Int64("subscriber_id", event.SubscriberID),
		zap.Int64("amount", event.Amount),
	)
	return e.Sync(ctx, event.SubscriberID)
}

// RemoveSubscriber disconnects live sessions and removes AAA rows. The
// billing collaborator calls this before deleting the subscriber record.
func (e *Engine) RemoveSubscriber(ctx context.Context, id int64) error {
	unlock := e.locks.lock(id)
	defer unlock()

	sub, err := e.billing.GetSubscriber(ctx, id)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", id, err)
	}
	e.disconnect(ctx, sub.Username)
	if err := e.aaa.RemoveUser(ctx, sub.Username); err != nil {
		return fmt.Errorf("remove AAA rows for %q: %w", sub.Username, err)
	}
	e.logger.Info("subscriber AAA state removed",
		zap.Int64("subscriber_id", id),
		zap.String("username", sub.Username),
	)
	return nil
}

// SyncToAaa is the explicit re-push used after manual edits.
func (e *Engine) SyncToAaa(ctx context.Context, id int64, oldUsername string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	sub, err := e.billing.GetSubscriber(ctx, id)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", id, err)
	}
	pkg, err := e.billing.GetPackage(ctx, sub.PackageID)
	if err != nil {
		return fmt.Errorf("load package %d: %w", sub.PackageID, err)
	}
	return e.sync.SyncToAaa(ctx, sub, pkg, oldUsername)
}

// SyncPackageToAaa re-pushes a package's group-level rate limit.
func (e *Engine) SyncPackageToAaa(ctx context.Context, packageID int64) error {
	pkg, err := e.billing.GetPackage(ctx, packageID)
	if err != nil {
		return fmt.Errorf("load package %d: %w", packageID, err)
	}
	return e.sync.SyncPackageToAaa(ctx, pkg)
}

// enforceGroup converges group membership to target and disconnects live
// sessions when it actually changed. AAA failures are logged, not fatal.
func (e *Engine) enforceGroup(ctx context.Context, username, target string) {
	changed, err := e.sync.EnforceGroup(ctx, username, target)
	if err != nil {
		e.logger.Warn("AAA group enforcement failed, will retry next sweep",
			zap.String("username", username),
			zap.String("target", target),
			zap.Error(err),
		)
		return
	}
	if changed {
		e.disconnect(ctx, username)
	}
}

func (e *Engine) disconnect(ctx context.Context, username string) {
	report, err := e.disconnector.Disconnect(ctx, username)
	if err != nil {
		e.logger.Warn("disconnect failed",
			zap.String("username", username),
			zap.Error(err),
		)
		if e.metrics != nil {
			e.metrics.IncCoAResult("error")
		}
		return
	}
	for _, sess := range report.Sessions {
		outcome := "unresolved"
		if sess.Success {
			outcome = sess.Cause
		}
		if e.metrics != nil {
			e.metrics.IncCoAResult(outcome)
		}
		if !sess.Success {
			e.logger.Warn("session left open",
				zap.String("username", username),
				zap.String("session_id", sess.SessionID),
				zap.String("detail", sess.Detail),
			)
		}
	}
}

func (e *Engine) recordTransition(from, to billing.Status) {
	if e.metrics != nil {
		e.metrics.IncTransition(string(from), string(to))
	}
}
