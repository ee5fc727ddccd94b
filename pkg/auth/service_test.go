package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/metrics"
)

func newStoreWithUser(t *testing.T, username, credential string) *aaa.MemoryStore {
	t.Helper()
	store := aaa.NewMemoryStore()
	require.NoError(t, store.ReplaceCheckAttributes(context.Background(), username, []aaa.CheckAttribute{
		{Username: username, Attribute: aaa.AttrCleartextPassword, Op: aaa.OpSet, Value: credential},
	}))
	require.NoError(t, store.UpsertUserGroup(context.Background(), username, "package_7", 4))
	return store
}

func TestAuthenticateCredentialFormats(t *testing.T) {
	sum := md5.Sum([]byte("hunter2"))
	hexDigest := hex.EncodeToString(sum[:])
	bcryptHash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name   string
		stored string
	}{
		{name: "cleartext", stored: "hunter2"},
		{name: "md5 hex digest", stored: hexDigest},
		{name: "md5 prefixed", stored: "{MD5}" + hexDigest},
		{name: "bcrypt", stored: string(bcryptHash)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStoreWithUser(t, "alice", tt.stored)
			svc := NewService(store, zap.NewNop())

			result, err := svc.Authenticate(context.Background(), "alice", "hunter2")
			require.NoError(t, err)
			assert.True(t, result.Accepted)
			require.Len(t, result.Groups, 1)
			assert.Equal(t, "package_7", result.Groups[0].GroupName)
		})
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	store := newStoreWithUser(t, "alice", "hunter2")
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	result, err := svc.Authenticate(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, result.Accepted)

	log, err := store.RecentAuthLog(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, aaa.ReplyReject, log[0].Reply)
	assert.Equal(t, CategoryPasswordMismatch, Categorize(log[0].Reason))
}

func TestAuthenticateUnknownUser(t *testing.T) {
	store := aaa.NewMemoryStore()
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	result, err := svc.Authenticate(ctx, "nobody", "whatever")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, CategoryUnknownUser, Categorize(result.Reason))
}

func TestAuthenticateWritesAcceptAudit(t *testing.T) {
	store := newStoreWithUser(t, "alice", "hunter2")
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)

	log, err := store.RecentAuthLog(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, aaa.ReplyAccept, log[0].Reply)
	assert.Empty(t, log[0].Reason)
}

func TestAuthenticateWithMetricsAttached(t *testing.T) {
	store := newStoreWithUser(t, "alice", "hunter2")
	svc := NewService(store, zap.NewNop())
	svc.SetMetrics(metrics.New())
	ctx := context.Background()

	result, err := svc.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.True(t, result.Accepted)

	result, err = svc.Authenticate(ctx, "alice", "bad")
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestRadiusStatus(t *testing.T) {
	store := newStoreWithUser(t, "alice", "hunter2")
	store.AddSession(aaa.Session{
		Username:      "alice",
		AcctSessionID: "sess-1",
		NASIPAddress:  "10.0.0.1",
		StartTime:     time.Now(),
	})
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "alice", "nope")
	require.NoError(t, err)

	status, err := svc.RadiusStatus(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, status.HasRecords)
	assert.Equal(t, "package_7", status.Group)
	assert.True(t, status.Online)
	require.Len(t, status.RecentAuth, 1)
	assert.False(t, status.RecentAuth[0].Accepted)
	assert.Equal(t, CategoryPasswordMismatch, status.RecentAuth[0].Category)
}

func TestRadiusStatusNoRecords(t *testing.T) {
	svc := NewService(aaa.NewMemoryStore(), zap.NewNop())

	status, err := svc.RadiusStatus(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, status.HasRecords)
	assert.False(t, status.Online)
	assert.Empty(t, status.RecentAuth)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		raw  string
		want Category
	}{
		{"password mismatch", CategoryPasswordMismatch},
		{"Wrong Password", CategoryPasswordMismatch},
		{"user not found", CategoryUnknownUser},
		{"Invalid user", CategoryUnknownUser},
		{"Account expired", CategoryExpiredAccount},
		{"Max-All-Session exceeded", CategorySessionLimit},
		{"You are already logged in - access denied (simultaneous)", CategorySessionLimit},
		{"something else entirely", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.raw), "raw=%q", tt.raw)
	}
}
