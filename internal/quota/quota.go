// Package quota implements the Quota Evaluator (§4.6): computing a user's
// effective storage and outbound allowances from their base overrides plus
// any currently-active subscription bonus.
package quota

import (
	"context"

	"todosync-server/internal/config"
	"todosync-server/internal/store"
)

// Effective is the result of evaluating a user's quota at a point in time.
// A nil allowance means unlimited.
type Effective struct {
	AllowedStorageB64    *int64
	AllowedOutboundBytes *int64
	ActivePlanID         *string
	ActivePlanName       *string
	ExpiresAtMsUTC       *int64
}

// Evaluator computes effective quotas against a fixed billing
// configuration (loaded once at startup from SYNC_SUBSCRIPTION_PLANS_JSON).
type Evaluator struct {
	Billing config.BillingConfig
	Default config.QuotaConfig
}

func New(billing config.BillingConfig, defaults config.QuotaConfig) *Evaluator {
	return &Evaluator{Billing: billing, Default: defaults}
}

// Compute evaluates u's effective quota as of nowMsUTC. The caller must
// have already run store.ClearExpiredSubscriptionIfNeeded (or reload u)
// so a lapsed subscription doesn't leak a bonus here; Compute re-checks
// expiry defensively regardless.
func (e *Evaluator) Compute(u *store.User, nowMsUTC int64) Effective {
	base := u.BaseStorageB64
	if base == nil {
		base = e.Default.DefaultStorageB64
	}
	baseOutbound := u.BaseOutboundBytes
	if baseOutbound == nil {
		baseOutbound = e.Default.DefaultOutboundBytes
	}

	result := Effective{
		AllowedStorageB64:    base,
		AllowedOutboundBytes: baseOutbound,
	}

	if u.SubscriptionPlanID == nil || u.SubscriptionExpiresAtMsUTC == nil {
		return result
	}
	if *u.SubscriptionExpiresAtMsUTC <= nowMsUTC {
		return result
	}
	plan, ok := e.Billing.Plan(*u.SubscriptionPlanID)
	if !ok {
		return result
	}

	result.AllowedStorageB64 = addSaturating(base, plan.ExtraStorageB64)
	result.AllowedOutboundBytes = addSaturating(baseOutbound, plan.ExtraOutboundBytes)
	planID := plan.ID
	planName := plan.Name
	expires := *u.SubscriptionExpiresAtMsUTC
	result.ActivePlanID = &planID
	result.ActivePlanName = &planName
	result.ExpiresAtMsUTC = &expires
	return result
}

// addSaturating adds bonus to base, propagating "unlimited" (nil) as-is
// and saturating on overflow.
func addSaturating(base *int64, bonus int64) *int64 {
	if base == nil {
		return nil
	}
	sum := *base + bonus
	if bonus > 0 && sum < *base {
		max := int64(1<<63 - 1)
		return &max
	}
	return &sum
}

// EvaluateForUser is a convenience that clears an expired subscription
// in-place (§4.6) before computing, matching the order the spec requires:
// "Before quota evaluation the stale-subscription clearance fires."
func EvaluateForUser(ctx context.Context, q store.Querier, e *Evaluator, userID, nowMsUTC int64) (*store.User, Effective, error) {
	if err := store.ClearExpiredSubscriptionIfNeeded(ctx, q, userID, nowMsUTC); err != nil {
		return nil, Effective{}, err
	}
	u, err := store.GetUser(ctx, q, userID)
	if err != nil {
		return nil, Effective{}, err
	}
	return u, e.Compute(u, nowMsUTC), nil
}

// OverStorage reports whether u's stored_b64 already exceeds the
// effective storage allowance.
func (eff Effective) OverStorage(storedB64 int64) bool {
	return eff.AllowedStorageB64 != nil && storedB64 > *eff.AllowedStorageB64
}

// OverOutbound reports whether u's monthly outbound counter already
// exceeds the effective outbound allowance.
func (eff Effective) OverOutbound(apiOutboundBytes int64) bool {
	return eff.AllowedOutboundBytes != nil && apiOutboundBytes > *eff.AllowedOutboundBytes
}
