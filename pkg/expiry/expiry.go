// Package expiry computes a subscriber's effective expiry instant under
// hierarchical billing.
package expiry

import (
	"context"
	"time"

	"github.com/codelaboratoryltd/radbill/pkg/billing"
)

// ParentLookup resolves a billing parent by id.
type ParentLookup func(ctx context.Context, id int64) (*billing.Subscriber, error)

// Effective returns the subscriber's effective expiry instant.
//
// The authoritative provider is the subscriber itself unless it has a parent
// and is not independent, in which case the parent's fields apply. A parent
// that cannot be resolved falls back to the subscriber's own fields; the
// calculation never fails. A set extension instant wins only when strictly
// later than the expiry instant, so a goodwill extension never shortens
// service and the real expiry stays the baseline for the next renewal.
//
// ok is false when the provider has neither instant set: the subscriber is
// non-expiring as far as this function is concerned and callers must guard
// before doing time arithmetic.
func Effective(ctx context.Context, sub *billing.Subscriber, lookup ParentLookup) (t time.Time, ok bool) {
	provider := sub
	if sub.ParentID != nil && !sub.IsIndependent && lookup != nil {
		if parent, err := lookup(ctx, *sub.ParentID); err == nil && parent != nil {
			provider = parent
		}
	}

	exp := provider.ExpiresAt
	ext := provider.ExtendedUntil

	switch {
	case exp == nil && ext == nil:
		return time.Time{}, false
	case exp == nil:
		return *ext, true
	case ext != nil && ext.After(*exp):
		return *ext, true
	default:
		return *exp, true
	}
}

// BorrowedDays returns the whole days of already-enjoyed extension time to be
// withheld from the next renewal credit: the floor of (extension - expiry) in
// days, never negative. Whole-day rounding matches the billing records this
// engine stays compatible with.
func BorrowedDays(sub *billing.Subscriber) int {
	if sub.ExpiresAt == nil || sub.ExtendedUntil == nil {
		return 0
	}
	delta := sub.ExtendedUntil.Sub(*sub.ExpiresAt)
	if delta <= 0 {
		return 0
	}
	return int(delta.Hours() / 24)
}
