// Package radsync projects billing state into AAA records. The projection is
// deterministic and idempotent: re-running it with the same inputs always
// produces the same AAA end-state.
package radsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codelaboratoryltd/radbill/pkg/aaa"
	"github.com/codelaboratoryltd/radbill/pkg/billing"
)

// Groups for subscribers that are not on an active package. Both are served
// by the NAS as redirect/walled-garden pools.
const (
	GroupExpired   = "expired"
	GroupSuspended = "suspended"
)

// GroupForPackage returns the AAA group name for a package. The name is
// derived from the immutable package id, never from the mutable display name.
func GroupForPackage(pkgID int64) string {
	return fmt.Sprintf("package_%d", pkgID)
}

// TargetGroup maps a subscriber status to its AAA group.
func TargetGroup(status billing.Status, pkgID int64) string {
	switch status {
	case billing.StatusActive:
		return GroupForPackage(pkgID)
	case billing.StatusSuspended:
		return GroupSuspended
	default:
		return GroupExpired
	}
}

// Engine writes the AAA projection of subscribers and packages.
type Engine struct {
	store  aaa.Store
	logger *zap.Logger
}

func NewEngine(store aaa.Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// SyncToAaa replaces the subscriber's AAA rows with a fresh projection.
// Existing check, reply and group rows are removed first so stale attributes
// cannot survive a package or credential change. When oldUsername is set (a
// rename), its rows are removed too so no orphans remain under the old name.
//
// A subscriber that is not active ends up with no check attributes, which the
// RADIUS front end treats as a deny for that username.
func (e *Engine) SyncToAaa(ctx context.Context, sub *billing.Subscriber, pkg *billing.Package, oldUsername string) error {
	if oldUsername != "" && oldUsername != sub.Username {
		if err := e.store.RemoveUser(ctx, oldUsername); err != nil {
			return fmt.Errorf("remove old username %q: %w", oldUsername, err)
		}
	}
	if err := e.store.RemoveUser(ctx, sub.Username); err != nil {
		return fmt.Errorf("remove user %q: %w", sub.Username, err)
	}

	if sub.Status != billing.StatusActive {
		e.logger.Debug("AAA projection cleared for inactive subscriber",
			zap.Int64("subscriber_id", sub.ID),
			zap.String("username", sub.Username),
			zap.String("status", string(sub.Status)),
		)
		return nil
	}

	checks := []aaa.CheckAttribute{{
		Username:  sub.Username,
		Attribute: aaa.AttrCleartextPassword,
		Op:        aaa.OpSet,
		Value:     sub.Secret,
	}}
	if sub.CallingStationID != "" {
		checks = append(checks, aaa.CheckAttribute{
			Username:  sub.Username,
			Attribute: aaa.AttrCallingStationID,
			Op:        aaa.OpSet,
			Value:     sub.CallingStationID,
		})
	}
	if err := e.store.ReplaceCheckAttributes(ctx, sub.Username, checks); err != nil {
		return fmt.Errorf("write check attributes: %w", err)
	}

	var replies []aaa.ReplyAttribute
	if sub.FramedIP != "" {
		replies = append(replies, aaa.ReplyAttribute{
			Username:  sub.Username,
			Attribute: aaa.AttrFramedIPAddress,
			Op:        aaa.OpSet,
			Value:     sub.FramedIP,
		})
	}
	if len(replies) > 0 {
		if err := e.store.ReplaceReplyAttributes(ctx, sub.Username, replies); err != nil {
			return fmt.Errorf("write reply attributes: %w", err)
		}
	}

	group := GroupForPackage(pkg.ID)
	if err := e.store.UpsertUserGroup(ctx, sub.Username, group, pkg.Priority); err != nil {
		return fmt.Errorf("assign group %q: %w", group, err)
	}

	e.logger.Debug("AAA projection written",
		zap.Int64("subscriber_id", sub.ID),
		zap.String("username", sub.Username),
		zap.String("group", group),
	)
	return nil
}

// SyncPackageToAaa rewrites the package's group-level rate-limit attribute.
// Every subscriber currently in the group picks up the new bandwidth on next
// authorization without per-subscriber writes.
func (e *Engine) SyncPackageToAaa(ctx context.Context, pkg *billing.Package) error {
	group := GroupForPackage(pkg.ID)
	value := ComposeRateLimit(pkg)
	if err := e.store.UpsertGroupReply(ctx, group, aaa.AttrRateLimit, aaa.OpSet, value); err != nil {
		return fmt.Errorf("write group reply for %q: %w", group, err)
	}
	e.logger.Info("package rate limit synced",
		zap.Int64("package_id", pkg.ID),
		zap.String("group", group),
		zap.String("rate_limit", value),
	)
	return nil
}

// EnforceGroup converges only the group membership, used for the expired and
// suspended targets where check attributes must stay untouched. It returns
// whether the group actually changed so the caller can decide on a disconnect.
func (e *Engine) EnforceGroup(ctx context.Context, username, group string) (changed bool, err error) {
	current, err := e.store.CurrentGroup(ctx, username)
	if err != nil {
		return false, fmt.Errorf("read current group: %w", err)
	}
	if current == group {
		return false, nil
	}
	if err := e.store.UpsertUserGroup(ctx, username, group, 1); err != nil {
		return false, fmt.Errorf("assign group %q: %w", group, err)
	}
	return true, nil
}

// CurrentGroup exposes the subscriber's present AAA group for convergence
// checks and diagnostics.
func (e *Engine) CurrentGroup(ctx context.Context, username string) (string, error) {
	return e.store.CurrentGroup(ctx, username)
}
