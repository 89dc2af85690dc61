// Package domain contains core business types and interfaces.
//
// This file defines the per-user ticket entitlement: four independent pools
// (daily free, monthly free, subscription allotment, purchased packs), their
// scheduled refills, and the fixed consumption order applied on debit.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TicketKind identifies the type of ticket consumed by a paid action.
type TicketKind string

const (
	TicketUpload TicketKind = "upload"
	TicketAI     TicketKind = "ai"
)

// Valid reports whether k is a known ticket kind.
func (k TicketKind) Valid() bool {
	return k == TicketUpload || k == TicketAI
}

// Pool identifies one of the four ticket sources.
type Pool string

const (
	PoolDaily        Pool = "daily"
	PoolMonthly      Pool = "monthly"
	PoolSubscription Pool = "subscription"
	PoolPack         Pool = "pack"
)

// SubscriptionTier is the recurring plan a user is on, if any.
type SubscriptionTier string

const (
	TierNone    SubscriptionTier = "none"
	TierCreator SubscriptionTier = "creator"
	TierPro     SubscriptionTier = "pro"
	TierMaster  SubscriptionTier = "master"
)

// Valid reports whether t is a known tier.
func (t SubscriptionTier) Valid() bool {
	switch t {
	case TierNone, TierCreator, TierPro, TierMaster:
		return true
	}
	return false
}

// Default free-pool caps and refill periods.
const (
	DailyUploadCap = 5
	DailyAICap     = 3
	MonthlyAICap   = 30

	// DailyResetPeriod is a rolling 24h window, not a calendar day.
	DailyResetPeriod = 24 * time.Hour
)

// =============================================================================
// Allotment
// =============================================================================

// Allotment is a ticket count that may be unlimited. Unlimited is a distinct
// sentinel, not a large integer: debits against an unlimited allotment always
// succeed and never decrement it.
type Allotment struct {
	n         int64
	unlimited bool
}

// Finite returns an allotment of exactly n tickets. Negative values clamp to zero.
func Finite(n int64) Allotment {
	if n < 0 {
		n = 0
	}
	return Allotment{n: n}
}

// Unlimited returns the unlimited sentinel.
func Unlimited() Allotment {
	return Allotment{unlimited: true}
}

// IsUnlimited reports whether the allotment is the unlimited sentinel.
func (a Allotment) IsUnlimited() bool { return a.unlimited }

// Count returns the finite ticket count. It is meaningless for unlimited
// allotments, which return 0.
func (a Allotment) Count() int64 {
	if a.unlimited {
		return 0
	}
	return a.n
}

// Add returns the sum of two allotments. Unlimited absorbs everything.
func (a Allotment) Add(b Allotment) Allotment {
	if a.unlimited || b.unlimited {
		return Unlimited()
	}
	return Finite(a.n + b.n)
}

// AtLeast reports whether the allotment covers n tickets.
func (a Allotment) AtLeast(n int64) bool {
	return a.unlimited || a.n >= n
}

func (a Allotment) String() string {
	if a.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", a.n)
}

// =============================================================================
// Tier allotments
// =============================================================================

// TierAllotment defines the recurring allotments granted by a subscription tier.
type TierAllotment struct {
	Upload Allotment
	AI     int64
}

// tierAllotments maps each paid tier to its per-period allotments. Activation
// replaces the subscription pool wholesale with these values; renewal refills
// to them.
var tierAllotments = map[SubscriptionTier]TierAllotment{
	TierCreator: {Upload: Finite(500), AI: 50},
	TierPro:     {Upload: Unlimited(), AI: 150},
	TierMaster:  {Upload: Unlimited(), AI: 400},
}

// AllotmentsForTier returns the recurring allotments for a tier.
// TierNone (and unknown tiers) carry no subscription allotment.
func AllotmentsForTier(tier SubscriptionTier) TierAllotment {
	if a, ok := tierAllotments[tier]; ok {
		return a
	}
	return TierAllotment{Upload: Finite(0)}
}

// =============================================================================
// Reset schedules
// =============================================================================

// DailyResetDue reports whether the rolling 24h daily refill boundary has passed.
func DailyResetDue(lastReset, now time.Time) bool {
	return now.Sub(lastReset) >= DailyResetPeriod
}

// MonthlyResetDue reports whether now is in a later calendar month (UTC) than
// the last monthly refill.
func MonthlyResetDue(lastReset, now time.Time) bool {
	last := lastReset.UTC()
	n := now.UTC()
	if n.Year() != last.Year() {
		return n.After(last)
	}
	return n.Month() > last.Month()
}

// =============================================================================
// Entitlement
// =============================================================================

// Entitlement is the per-user ticket ledger state. One row per user, mutated
// only inside a per-user transaction (see service.Ledger).
type Entitlement struct {
	UserID uuid.UUID

	// Daily free pool, refilled to the caps once per rolling 24h window.
	DailyUpload    int64
	DailyAI        int64
	LastDailyReset time.Time

	// Monthly free AI pool, refilled to the cap at each calendar-month boundary.
	MonthlyAI        int64
	MonthlyAICap     int64
	LastMonthlyReset time.Time

	// Subscription pool. SubUpload/SubAI are the remaining allotments for the
	// current period; set wholesale on activation, refilled on renewal, cleared
	// on cancellation.
	Tier      SubscriptionTier
	SubUpload Allotment
	SubAI     int64
	RenewalAt time.Time

	// Purchased packs. Never auto-reset; incremented by one-time purchases only.
	PackUpload int64
	PackAI     int64

	// BillingCustomerID is the payment provider's customer id. Set exactly once;
	// immutable afterwards.
	BillingCustomerID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntitlement returns the zero-state entitlement for a freshly created
// account: full daily and monthly free pools, no subscription, no packs.
func NewEntitlement(userID uuid.UUID, now time.Time) *Entitlement {
	return &Entitlement{
		UserID:           userID,
		DailyUpload:      DailyUploadCap,
		DailyAI:          DailyAICap,
		LastDailyReset:   now,
		MonthlyAI:        MonthlyAICap,
		MonthlyAICap:     MonthlyAICap,
		LastMonthlyReset: now,
		Tier:             TierNone,
		SubUpload:        Finite(0),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ApplyDueResets refills the daily and monthly free pools if their boundaries
// have passed. Returns true if anything changed. Idempotent: calling again
// within the same window is a no-op, and the stored reset stamp only advances
// when the caller persists the change, so a failed write is retried naturally.
func (e *Entitlement) ApplyDueResets(now time.Time) bool {
	changed := false
	if DailyResetDue(e.LastDailyReset, now) {
		e.DailyUpload = DailyUploadCap
		e.DailyAI = DailyAICap
		e.LastDailyReset = now
		changed = true
	}
	if MonthlyResetDue(e.LastMonthlyReset, now) {
		capacity := e.MonthlyAICap
		if capacity == 0 {
			capacity = MonthlyAICap
		}
		e.MonthlyAI = capacity
		e.LastMonthlyReset = now
		changed = true
	}
	return changed
}

// Available returns the sum of all pools valid for kind. Callers must apply
// due resets first; this is a pure read.
func (e *Entitlement) Available(kind TicketKind) Allotment {
	switch kind {
	case TicketUpload:
		return Finite(e.DailyUpload).Add(e.SubUpload).Add(Finite(e.PackUpload))
	case TicketAI:
		return Finite(e.DailyAI + e.MonthlyAI + e.SubAI + e.PackAI)
	}
	return Finite(0)
}

// Debit consumes amount tickets of kind from the pools in fixed priority
// order: daily free, monthly free (ai only), subscription allotment, packs.
// The pool closest to expiry is depleted first so purchased tickets survive
// the longest. All-or-nothing: on EINSUFFICIENT no pool is touched.
func (e *Entitlement) Debit(kind TicketKind, amount int64) error {
	const op = "entitlement.debit"

	if amount <= 0 {
		return Invalid(op, "Debit amount must be positive")
	}
	avail := e.Available(kind)
	if !avail.AtLeast(amount) {
		return InsufficientTickets(op, kind, amount, avail)
	}

	remaining := amount
	switch kind {
	case TicketUpload:
		remaining = drain(&e.DailyUpload, remaining)
		if remaining > 0 && e.SubUpload.IsUnlimited() {
			remaining = 0
		} else if remaining > 0 {
			n := e.SubUpload.Count()
			remaining = drain(&n, remaining)
			e.SubUpload = Finite(n)
		}
		remaining = drain(&e.PackUpload, remaining)
	case TicketAI:
		remaining = drain(&e.DailyAI, remaining)
		remaining = drain(&e.MonthlyAI, remaining)
		remaining = drain(&e.SubAI, remaining)
		remaining = drain(&e.PackAI, remaining)
	default:
		return Invalid(op, "Unknown ticket kind")
	}

	if remaining != 0 {
		// Available() said yes, so the pools must cover the amount.
		return Internal(nil, op, "Pool accounting mismatch")
	}
	return nil
}

// drain takes up to want from pool, returning what is still owed.
func drain(pool *int64, want int64) int64 {
	if want <= 0 || *pool <= 0 {
		return want
	}
	take := want
	if take > *pool {
		take = *pool
	}
	*pool -= take
	return want - take
}

// AddPack increments a purchase pack pool. Pack grants are additive and are
// safe to re-apply once in the narrow crash-retry window of webhook processing.
func (e *Entitlement) AddPack(kind TicketKind, amount int64) error {
	const op = "entitlement.add_pack"
	if amount <= 0 {
		return Invalid(op, "Grant amount must be positive")
	}
	switch kind {
	case TicketUpload:
		e.PackUpload += amount
	case TicketAI:
		e.PackAI += amount
	default:
		return Invalid(op, "Unknown ticket kind")
	}
	return nil
}

// ActivateSubscription replaces the subscription pool wholesale with the
// tier's allotments. Replacement, never accumulation: activating a new tier
// discards whatever remained of the old one. renewalAt stamps the end of the
// paid period.
func (e *Entitlement) ActivateSubscription(tier SubscriptionTier, renewalAt time.Time) error {
	const op = "entitlement.activate_subscription"
	if !tier.Valid() {
		return Invalid(op, "Unknown subscription tier")
	}
	if tier == TierNone {
		e.ClearSubscription()
		return nil
	}
	a := AllotmentsForTier(tier)
	e.Tier = tier
	e.SubUpload = a.Upload
	e.SubAI = a.AI
	e.RenewalAt = renewalAt
	return nil
}

// ClearSubscription removes the subscription pool entirely (cancellation or
// expiry). Packs and free pools are untouched.
func (e *Entitlement) ClearSubscription() {
	e.Tier = TierNone
	e.SubUpload = Finite(0)
	e.SubAI = 0
	e.RenewalAt = time.Time{}
}

// LinkBillingCustomer records the provider-assigned customer id. The id is
// set exactly once for the lifetime of the account: linking the same id again
// is a no-op, linking a different one is a conflict.
func (e *Entitlement) LinkBillingCustomer(customerID string) error {
	const op = "entitlement.link_billing_customer"
	if customerID == "" {
		return Invalid(op, "Customer id is required")
	}
	if e.BillingCustomerID == "" {
		e.BillingCustomerID = customerID
		return nil
	}
	if e.BillingCustomerID != customerID {
		return Conflict(op, "Account is already linked to a different billing customer")
	}
	return nil
}
