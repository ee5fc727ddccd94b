package lifecycle

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/billing"
	"github.com/codelaboratoryltd/radbill/pkg/coa"
	"github.com/codelaboratoryltd/radbill/pkg/radsync"
)

// fakeBillingStore is an in-memory billing.Store with the same transactional
// guarantees the Postgres implementation provides for Renew.
type fakeBillingStore struct {
	mu   sync.Mutex
	subs map[int64]*billing.Subscriber
	pkgs map[int64]*billing.Package

	renewCalls int
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{
		subs: make(map[int64]*billing.Subscriber),
		pkgs: make(map[int64]*billing.Package),
	}
}

func (f *fakeBillingStore) GetSubscriber(_ context.Context, id int64) (*billing.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeBillingStore) GetPackage(_ context.Context, id int64) (*billing.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.pkgs[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	copied := *pkg
	return &copied, nil
}

func (f *fakeBillingStore) ListSyncCandidates(_ context.Context, afterID int64, limit int) ([]*billing.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, sub := range f.subs {
		if id > afterID && sub.Status != billing.StatusSuspended {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	var out []*billing.Subscriber
	for _, id := range ids {
		copied := *f.subs[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeBillingStore) UpdateState(_ context.Context, sub *billing.Subscriber) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.subs[sub.ID]
	if !ok {
		return billing.ErrNotFound
	}
	stored.Status = sub.Status
	stored.ExpiresAt = sub.ExpiresAt
	stored.ExtendedUntil = sub.ExtendedUntil
	stored.PausedSecondsRemaining = sub.PausedSecondsRemaining
	return nil
}

func (f *fakeBillingStore) CreditBalance(_ context.Context, id int64, amount int64) error {
	if amount <= 0 {
		return billing.ErrInvalidAmount
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.subs[id]
	if !ok {
		return billing.ErrNotFound
	}
	stored.Balance += amount
	return nil
}

func (f *fakeBillingStore) Renew(_ context.Context, id int64, plan billing.PlanFunc) (*billing.Subscriber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCalls++
	stored, ok := f.subs[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	locked := *stored
	p, err := plan(&locked)
	if err != nil {
		return nil, err
	}
	if stored.Balance < p.Price {
		return nil, billing.ErrInsufficientBalance
	}
	stored.Balance -= p.Price
	exp := p.NewExpiry
	stored.ExpiresAt = &exp
	stored.ExtendedUntil = nil
	stored.Status = billing.StatusActive
	copied := *stored
	return &copied, nil
}

// fakeDisconnector records disconnect calls and always succeeds.
type fakeDisconnector struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakeDisconnector() *fakeDisconnector {
	return &fakeDisconnector{calls: make(map[string]int)}
}

func (f *fakeDisconnector) Disconnect(_ context.Context, username string) (*coa.DisconnectReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[username]++
	return &coa.DisconnectReport{Username: username, Success: true}, nil
}

func (f *fakeDisconnector) count(username string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[username]
}

type fixture struct {
	engine       *Engine
	billing      *fakeBillingStore
	aaa          *aaa.MemoryStore
	disconnector *fakeDisconnector
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	billingStore := newFakeBillingStore()
	aaaStore := aaa.NewMemoryStore()
	disconnector := newFakeDisconnector()
	logger := zap.NewNop()

	engine := NewEngine(DefaultConfig(), billingStore, aaaStore,
		radsync.NewEngine(aaaStore, logger), disconnector, nil, logger)

	f := &fixture{
		engine:       engine,
		billing:      billingStore,
		aaa:          aaaStore,
		disconnector: disconnector,
		now:          time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	engine.now = func() time.Time { return f.now }

	billingStore.pkgs[7] = &billing.Package{
		ID: 7, Name: "Home 10M", Price: 500, ValidityDays: 30,
		RateUpKbps: 10240, RateDownKbps: 20480, Priority: 4,
	}
	return f
}

func (f *fixture) addSubscriber(id int64, status billing.Status, balance int64, expires *time.Time) *billing.Subscriber {
	sub := &billing.Subscriber{
		ID:        id,
		PackageID: 7,
		Balance:   balance,
		Status:    status,
		ExpiresAt: expires,
		Username:  "user-" + string(rune('a'+id)),
		Secret:    "secret",
	}
	f.billing.mu.Lock()
	f.billing.subs[id] = sub
	f.billing.mu.Unlock()
	return sub
}

func (f *fixture) goOnline(username string) {
	f.aaa.AddSession(aaa.Session{
		Username:      username,
		AcctSessionID: "sess-" + username,
		NASIPAddress:  "10.0.0.1",
		StartTime:     f.now.Add(-time.Hour),
	})
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSyncActiveConvergesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(24*time.Hour)))
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)

	group, err := f.aaa.CurrentGroup(ctx, sub.Username)
	require.NoError(t, err)
	assert.Equal(t, "package_7", group)
	assert.Equal(t, 1, f.disconnector.count(sub.Username))

	// Second call with no external change is a no-op by group comparison.
	status, err = f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)
	assert.Equal(t, 1, f.disconnector.count(sub.Username), "converged sync must not disconnect again")
}

func TestSyncExpiredOnlineRenews(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 500, timePtr(f.now.Add(-time.Hour)))
	f.goOnline(sub.Username)
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, f.now.Add(30*24*time.Hour), *stored.ExpiresAt)
}

func TestSyncExpiredOfflineDoesNotBurnBalance(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusActive, 500, timePtr(f.now.Add(-time.Hour)))
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), stored.Balance, "offline subscriber keeps their balance")
	assert.Equal(t, 0, f.billing.renewCalls)
}

func TestSyncExpiredInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 499, timePtr(f.now.Add(-time.Hour)))
	f.goOnline(sub.Username)
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(499), stored.Balance)

	group, err := f.aaa.CurrentGroup(ctx, sub.Username)
	require.NoError(t, err)
	assert.Equal(t, radsync.GroupExpired, group)
}

func TestRenewalWithholdsBorrowedDays(t *testing.T) {
	f := newFixture(t)
	expired := f.now.Add(-73 * time.Hour)
	sub := f.addSubscriber(1, billing.StatusActive, 500, timePtr(expired))
	// Extension three days past the expiry: already enjoyed for free.
	f.billing.subs[1].ExtendedUntil = timePtr(expired.Add(72 * time.Hour))
	f.goOnline(sub.Username)
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, f.now.Add(27*24*time.Hour), *stored.ExpiresAt, "30 validity days minus 3 borrowed")
	assert.Nil(t, stored.ExtendedUntil, "extension cleared on renewal")
}

func TestSyncSuspendedIsSticky(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusSuspended, 10000, nil)
	f.goOnline(sub.Username)
	ctx := context.Background()

	status, err := f.engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSuspended, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), stored.Balance, "suspension must not auto-renew")

	group, err := f.aaa.CurrentGroup(ctx, sub.Username)
	require.NoError(t, err)
	assert.Equal(t, radsync.GroupSuspended, group)
}

func TestPauseBanksRemainingTime(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(48*time.Hour)))
	ctx := context.Background()

	status, err := f.engine.Pause(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusSuspended, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, stored.ExpiresAt)
	assert.Equal(t, int64(48*3600), stored.PausedSecondsRemaining)
}

func TestPauseResumeRestoresEffectiveExpiry(t *testing.T) {
	f := newFixture(t)
	original := f.now.Add(48 * time.Hour)
	f.addSubscriber(1, billing.StatusActive, 0, timePtr(original))
	ctx := context.Background()

	_, err := f.engine.Pause(ctx, 1)
	require.NoError(t, err)

	status, err := f.engine.Resume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	diff := stored.ExpiresAt.Sub(original)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, time.Second, "restored expiry within one second of the original")
	assert.Zero(t, stored.PausedSecondsRemaining)
}

func TestPauseAlreadyExpiredBanksNothing(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(-time.Hour)))
	ctx := context.Background()

	_, err := f.engine.Pause(ctx, 1)
	require.NoError(t, err)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, stored.PausedSecondsRemaining)
}

func TestResumeWithoutBankedTimeExpires(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusSuspended, 0, nil)
	ctx := context.Background()

	status, err := f.engine.Resume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, status, "no banked time and no balance means immediate expiry")
}

func TestResumeNotSuspended(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(time.Hour)))

	_, err := f.engine.Resume(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotSuspended)
}

func TestHandlePaymentReactivates(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusExpired, 0, timePtr(f.now.Add(-time.Hour)))
	f.goOnline(sub.Username)
	ctx := context.Background()

	status, err := f.engine.HandlePayment(ctx, billing.PaymentEvent{SubscriberID: 1, Amount: 500})
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, status)

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance)
}

func TestHandlePaymentRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusExpired, 0, nil)

	_, err := f.engine.HandlePayment(context.Background(), billing.PaymentEvent{SubscriberID: 1, Amount: 0})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)
}

func TestConcurrentSyncDoesNotDoubleDeduct(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 500, timePtr(f.now.Add(-time.Hour)))
	f.goOnline(sub.Username)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Sync(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.billing.GetSubscriber(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Balance, "exactly one deduction")
	assert.Equal(t, billing.StatusActive, stored.Status)
}

func TestSyncMissingPackageSkipsSubscriber(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(time.Hour)))
	f.billing.mu.Lock()
	f.billing.subs[1].PackageID = 999
	f.billing.mu.Unlock()

	_, err := f.engine.Sync(context.Background(), 1)
	assert.Error(t, err)

	// No AAA side effects for the broken subscriber.
	group, gerr := f.aaa.CurrentGroup(context.Background(), sub.Username)
	require.NoError(t, gerr)
	assert.Empty(t, group)
}

func TestRemoveSubscriber(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(time.Hour)))
	ctx := context.Background()

	require.NoError(t, f.engine.SyncToAaa(ctx, 1, ""))
	require.NoError(t, f.engine.RemoveSubscriber(ctx, 1))

	assert.Equal(t, 1, f.disconnector.count(sub.Username))
	checks, err := f.aaa.CheckAttributes(ctx, sub.Username)
	require.NoError(t, err)
	assert.Empty(t, checks)
	group, err := f.aaa.CurrentGroup(ctx, sub.Username)
	require.NoError(t, err)
	assert.Empty(t, group)
}

func TestSweepOnceIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber(1, billing.StatusActive, 0, timePtr(f.now.Add(time.Hour)))
	broken := f.addSubscriber(2, billing.StatusActive, 0, timePtr(f.now.Add(time.Hour)))
	f.billing.mu.Lock()
	f.billing.subs[2].PackageID = 999
	f.billing.mu.Unlock()
	_ = broken
	f.addSubscriber(3, billing.StatusActive, 0, timePtr(f.now.Add(-time.Hour)))
	// Suspended subscribers are not sweep candidates.
	f.addSubscriber(4, billing.StatusSuspended, 0, nil)

	result := f.engine.SweepOnce(context.Background())
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Errors)

	stored, err := f.billing.GetSubscriber(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusExpired, stored.Status)
}

func TestSyncPackageToAaaBroadcast(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.engine.SyncPackageToAaa(context.Background(), 7))
	assert.Equal(t, "10240k/20480k", f.aaa.GroupReply("package_7", aaa.AttrRateLimit))
}
