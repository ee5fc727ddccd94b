// Package billing holds the subscriber and package records the lifecycle
// engine operates on, plus the store contract for reading and mutating them.
// All monetary amounts are int64 minor units (cents); the engine never does
// fractional arithmetic.
package billing

import "time"

// Status is the service state of a subscriber.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// Subscriber is the billing entity kept in sync with the AAA store.
type Subscriber struct {
	ID             int64
	OrganizationID int64

	// ParentID links a child account to its billing parent. A child with
	// IsIndependent=false has no authoritative expiry of its own.
	ParentID      *int64
	IsIndependent bool

	PackageID int64

	// Balance in minor units. Never negative.
	Balance int64

	Status Status

	// ExpiresAt is nil only while suspended (remaining time is banked).
	ExpiresAt *time.Time
	// ExtendedUntil is a goodwill extension. It wins over ExpiresAt only
	// when strictly later, and is cleared on renewal.
	ExtendedUntil *time.Time

	// PausedSecondsRemaining is the banked subscription time restored on
	// resume. Non-zero only while suspended.
	PausedSecondsRemaining int64

	// Username is the AAA username. Unique and immutable once assigned.
	Username string
	// Secret is the AAA credential.
	Secret string

	// CallingStationID locks the account to a hardware address when set.
	CallingStationID string
	// FramedIP pins a static address via a reply attribute when set.
	FramedIP string
}

// Package is a service tier. Read-only from the engine's perspective.
type Package struct {
	ID    int64
	Name  string
	Price int64

	// ValidityDays is the subscription period credited on renewal.
	ValidityDays int

	RateUpKbps   int64
	RateDownKbps int64

	// Burst parameters. Zero values mean no burst clause in the composed
	// rate-limit attribute.
	BurstUpKbps            int64
	BurstDownKbps          int64
	BurstThresholdUpKbps   int64
	BurstThresholdDownKbps int64
	BurstSeconds           int

	// Priority 1-8, lower is higher priority.
	Priority int
}

// PaymentEvent is a balance credit reported by the billing collaborator.
type PaymentEvent struct {
	SubscriberID int64
	Amount       int64
}
