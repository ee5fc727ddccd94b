// Package auth validates subscriber credentials against the AAA store and
// serves the read-only RADIUS status diagnostic.
package auth

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/metrics"
)

// Result is the outcome of an authentication attempt.
type Result struct {
	Accepted bool
	Reason   string // raw rejection detail, empty on accept
	Groups   []aaa.UserGroup
	Replies  []aaa.ReplyAttribute
}

// Status is the diagnostic view of a subscriber's AAA state.
type Status struct {
	HasRecords bool
	Group      string
	Online     bool
	RecentAuth []AuthLogEntry
}

// AuthLogEntry is one audit row with its rejection translated to a stable
// category code.
type AuthLogEntry struct {
	When     time.Time
	Accepted bool
	Category Category
	Reason   string
}

// Service authenticates usernames against radcheck rows and logs every
// attempt to radpostauth.
type Service struct {
	store   aaa.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store aaa.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// SetMetrics attaches the metrics recorder. Without it attempts are not
// counted, only audited.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Authenticate validates a username/password pair. The password is checked
// against the stored credential by trying, in order: exact match, MD5 hex
// digest, "{MD5}"-prefixed digest, then bcrypt. The chain exists to accept
// the mixed legacy and modern credential formats already present in the AAA
// store; new credentials are always written cleartext by the sync engine.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Result, error) {
	checks, err := s.store.CheckAttributes(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load check attributes: %w", err)
	}

	stored, found := credentialFrom(checks)
	if !found {
		return s.reject(ctx, username, reasonUnknownUser)
	}
	if !verifyPassword(stored, password) {
		return s.reject(ctx, username, reasonPasswordMismatch)
	}

	groups, err := s.store.Groups(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	replies, err := s.store.ReplyAttributes(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load reply attributes: %w", err)
	}

	s.audit(ctx, username, aaa.ReplyAccept, "")
	if s.metrics != nil {
		s.metrics.IncAuth(true)
	}
	s.logger.Debug("authentication accepted", zap.String("username", username))
	return &Result{Accepted: true, Groups: groups, Replies: replies}, nil
}

func (s *Service) reject(ctx context.Context, username, reason string) (*Result, error) {
	s.audit(ctx, username, aaa.ReplyReject, reason)
	if s.metrics != nil {
		s.metrics.IncAuth(false)
	}
	s.logger.Info("authentication rejected",
		zap.String("username", username),
		zap.String("reason", reason),
	)
	return &Result{Accepted: false, Reason: reason}, nil
}

func (s *Service) audit(ctx context.Context, username, reply, reason string) {
	err := s.store.WritePostAuth(ctx, aaa.PostAuth{
		Username:  username,
		Reply:     reply,
		Reason:    reason,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("post-auth audit write failed",
			zap.String("username", username),
			zap.Error(err),
		)
	}
}

// HasOpenSession reports whether the username has a live accounting session.
// This is the single online-ness source of truth used by the lifecycle
// engine's renewal gate.
func (s *Service) HasOpenSession(ctx context.Context, username string) (bool, error) {
	return s.store.HasOpenSession(ctx, username)
}

// RadiusStatus returns the diagnostic view for a username: whether AAA rows
// exist, the current group, online-ness, and recent auth attempts with
// categorized rejection reasons.
func (s *Service) RadiusStatus(ctx context.Context, username string) (*Status, error) {
	checks, err := s.store.CheckAttributes(ctx, username)
	if err != nil {
		return nil, err
	}
	group, err := s.store.CurrentGroup(ctx, username)
	if err != nil {
		return nil, err
	}
	online, err := s.store.HasOpenSession(ctx, username)
	if err != nil {
		return nil, err
	}
	log, err := s.store.RecentAuthLog(ctx, username, 20)
	if err != nil {
		return nil, err
	}

	status := &Status{
		HasRecords: len(checks) > 0 || group != "",
		Group:      group,
		Online:     online,
	}
	for _, entry := range log {
		e := AuthLogEntry{
			When:     entry.CreatedAt,
			Accepted: entry.Reply == aaa.ReplyAccept,
			Reason:   entry.Reason,
		}
		if !e.Accepted {
			e.Category = Categorize(entry.Reason)
		}
		status.RecentAuth = append(status.RecentAuth, e)
	}
	return status, nil
}

// credentialFrom picks the stored credential out of the check rows.
func credentialFrom(checks []aaa.CheckAttribute) (string, bool) {
	for _, attr := range []string{aaa.AttrCleartextPassword, aaa.AttrMD5Password} {
		for _, c := range checks {
			if c.Attribute == attr {
				return c.Value, true
			}
		}
	}
	return "", false
}

// verifyPassword runs the compatibility chain against the stored credential.
func verifyPassword(stored, password string) bool {
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1 {
		return true
	}

	sum := md5.Sum([]byte(password))
	hexDigest := hex.EncodeToString(sum[:])
	if strings.EqualFold(stored, hexDigest) {
		return true
	}

	if rest, ok := strings.CutPrefix(stored, "{MD5}"); ok {
		if strings.EqualFold(rest, hexDigest) {
			return true
		}
		if rest == base64.StdEncoding.EncodeToString(sum[:]) {
			return true
		}
	}

	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}
