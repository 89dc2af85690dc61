// Package billing provides Stripe payment integration and the entitlement
// catalog mapping provider price ids to their entitlement effects.
package billing

import (
	"github.com/mossholder/ticketd/internal/domain"
)

// Effect is the entitlement change produced by a purchased product. It is a
// closed sum: either a one-time consumable grant or a subscription tier
// activation, never both.
type Effect interface {
	effect()
}

// OneTimeGrant adds a fixed number of tickets to the purchaser's pack pool.
type OneTimeGrant struct {
	Kind   domain.TicketKind
	Amount int64
}

func (OneTimeGrant) effect() {}

// SubscriptionActivation replaces the purchaser's subscription with the
// tier's recurring allotments.
type SubscriptionActivation struct {
	Tier domain.SubscriptionTier
}

func (SubscriptionActivation) effect() {}

// Pack sizes for the consumable products.
const (
	UploadPackSmallAmount = 20
	UploadPackLargeAmount = 100
	AIPackSmallAmount     = 50
	AIPackLargeAmount     = 200
)

// PriceConfig holds the Stripe price ids for every sellable product.
// Unset ids simply leave that product out of the catalog.
type PriceConfig struct {
	// Recurring plans
	CreatorMonthlyPriceID string
	CreatorYearlyPriceID  string
	ProMonthlyPriceID     string
	ProYearlyPriceID      string
	MasterMonthlyPriceID  string
	MasterYearlyPriceID   string

	// One-time ticket packs
	UploadPackSmallPriceID string
	UploadPackLargePriceID string
	AIPackSmallPriceID     string
	AIPackLargePriceID     string
}

// Catalog is the static mapping from provider price ids to entitlement
// effects. Operator-maintained configuration, immutable after construction.
type Catalog struct {
	effects map[string]Effect
}

// NewCatalog builds the catalog from the configured price ids.
func NewCatalog(prices PriceConfig) *Catalog {
	effects := make(map[string]Effect)

	add := func(priceID string, e Effect) {
		if priceID != "" {
			effects[priceID] = e
		}
	}

	add(prices.CreatorMonthlyPriceID, SubscriptionActivation{Tier: domain.TierCreator})
	add(prices.CreatorYearlyPriceID, SubscriptionActivation{Tier: domain.TierCreator})
	add(prices.ProMonthlyPriceID, SubscriptionActivation{Tier: domain.TierPro})
	add(prices.ProYearlyPriceID, SubscriptionActivation{Tier: domain.TierPro})
	add(prices.MasterMonthlyPriceID, SubscriptionActivation{Tier: domain.TierMaster})
	add(prices.MasterYearlyPriceID, SubscriptionActivation{Tier: domain.TierMaster})

	add(prices.UploadPackSmallPriceID, OneTimeGrant{Kind: domain.TicketUpload, Amount: UploadPackSmallAmount})
	add(prices.UploadPackLargePriceID, OneTimeGrant{Kind: domain.TicketUpload, Amount: UploadPackLargeAmount})
	add(prices.AIPackSmallPriceID, OneTimeGrant{Kind: domain.TicketAI, Amount: AIPackSmallAmount})
	add(prices.AIPackLargePriceID, OneTimeGrant{Kind: domain.TicketAI, Amount: AIPackLargeAmount})

	return &Catalog{effects: effects}
}

// EffectForPrice looks up the entitlement effect for a price id. The second
// return is false for unknown prices: the live provider configuration can run
// ahead of this catalog, so callers log and skip rather than fail hard.
func (c *Catalog) EffectForPrice(priceID string) (Effect, bool) {
	e, ok := c.effects[priceID]
	return e, ok
}

// IsSubscriptionPrice reports whether a price id activates a recurring plan.
// Used to pick the checkout session mode.
func (c *Catalog) IsSubscriptionPrice(priceID string) bool {
	_, ok := c.effects[priceID].(SubscriptionActivation)
	return ok
}

// Size returns the number of configured products.
func (c *Catalog) Size() int {
	return len(c.effects)
}
