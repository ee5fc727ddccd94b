package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a subscriber or package does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrInsufficientBalance is returned by Renew when the balance cannot
	// cover the package price.
	ErrInsufficientBalance = errors.New("billing: insufficient balance")
	// ErrInvalidAmount is returned for non-positive credits.
	ErrInvalidAmount = errors.New("billing: invalid amount (must be > 0)")
)

// RenewPlan is what a renewal applies atomically: the price deducted from the
// balance and the new expiry instant. The extension field is cleared as part
// of the same transaction.
type RenewPlan struct {
	Price     int64
	NewExpiry time.Time
}

// PlanFunc computes a renewal plan from the subscriber row as it exists under
// the row lock. Returning an error aborts the renewal without side effects.
type PlanFunc func(sub *Subscriber) (RenewPlan, error)

// Store is the billing-side persistence contract.
type Store interface {
	GetSubscriber(ctx context.Context, id int64) (*Subscriber, error)
	GetPackage(ctx context.Context, id int64) (*Package, error)

	// ListSyncCandidates returns up to limit non-suspended subscribers with
	// id > afterID, ordered by id. The sweep pages through the table with it.
	ListSyncCandidates(ctx context.Context, afterID int64, limit int) ([]*Subscriber, error)

	// UpdateState persists status, expiry, extension and banked pause time.
	UpdateState(ctx context.Context, sub *Subscriber) error

	// CreditBalance adds a payment to the balance.
	CreditBalance(ctx context.Context, id int64, amount int64) error

	// Renew runs plan against the row-locked subscriber and, if the balance
	// covers the plan price, deducts it, sets the new expiry, clears the
	// extension and marks the subscriber active — all in one transaction.
	// A crash cannot leave the balance debited without credited time.
	Renew(ctx context.Context, id int64, plan PlanFunc) (*Subscriber, error)
}
