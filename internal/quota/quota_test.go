package quota

import (
	"testing"

	"todosync-server/internal/config"
	"todosync-server/internal/store"
)

func int64p(n int64) *int64 { return &n }
func strp(s string) *string { return &s }

func TestComputeFallsBackToDefaultsWhenNoOverride(t *testing.T) {
	e := New(config.BillingConfig{}, config.QuotaConfig{
		DefaultStorageB64:    int64p(1000),
		DefaultOutboundBytes: int64p(2000),
	})
	u := &store.User{}

	eff := e.Compute(u, 100)

	if eff.AllowedStorageB64 == nil || *eff.AllowedStorageB64 != 1000 {
		t.Fatalf("AllowedStorageB64 = %v, want 1000", eff.AllowedStorageB64)
	}
	if eff.AllowedOutboundBytes == nil || *eff.AllowedOutboundBytes != 2000 {
		t.Fatalf("AllowedOutboundBytes = %v, want 2000", eff.AllowedOutboundBytes)
	}
	if eff.ActivePlanID != nil {
		t.Fatalf("ActivePlanID = %v, want nil with no subscription", eff.ActivePlanID)
	}
}

func TestComputePrefersUserOverrideOverDefault(t *testing.T) {
	e := New(config.BillingConfig{}, config.QuotaConfig{DefaultStorageB64: int64p(1000)})
	u := &store.User{BaseStorageB64: int64p(500)}

	eff := e.Compute(u, 100)

	if *eff.AllowedStorageB64 != 500 {
		t.Fatalf("AllowedStorageB64 = %d, want 500 (user override wins)", *eff.AllowedStorageB64)
	}
}

func TestComputeAddsActiveSubscriptionBonus(t *testing.T) {
	billing := config.BillingConfig{Plans: map[string]config.SubscriptionPlan{
		"pro": {ID: "pro", Name: "Pro", DurationMs: 1000, ExtraStorageB64: 5000, ExtraOutboundBytes: 7000},
	}}
	e := New(billing, config.QuotaConfig{DefaultStorageB64: int64p(1000), DefaultOutboundBytes: int64p(2000)})
	u := &store.User{
		SubscriptionPlanID:         strp("pro"),
		SubscriptionExpiresAtMsUTC: int64p(500),
	}

	eff := e.Compute(u, 100) // now (100) < expiry (500): still active

	if *eff.AllowedStorageB64 != 6000 {
		t.Fatalf("AllowedStorageB64 = %d, want 1000+5000=6000", *eff.AllowedStorageB64)
	}
	if *eff.AllowedOutboundBytes != 9000 {
		t.Fatalf("AllowedOutboundBytes = %d, want 2000+7000=9000", *eff.AllowedOutboundBytes)
	}
	if eff.ActivePlanID == nil || *eff.ActivePlanID != "pro" {
		t.Fatalf("ActivePlanID = %v, want \"pro\"", eff.ActivePlanID)
	}
}

func TestComputeIgnoresExpiredSubscription(t *testing.T) {
	billing := config.BillingConfig{Plans: map[string]config.SubscriptionPlan{
		"pro": {ID: "pro", Name: "Pro", DurationMs: 1000, ExtraStorageB64: 5000},
	}}
	e := New(billing, config.QuotaConfig{DefaultStorageB64: int64p(1000)})
	u := &store.User{
		SubscriptionPlanID:         strp("pro"),
		SubscriptionExpiresAtMsUTC: int64p(50),
	}

	eff := e.Compute(u, 100) // now (100) >= expiry (50): lapsed

	if *eff.AllowedStorageB64 != 1000 {
		t.Fatalf("AllowedStorageB64 = %d, want base 1000 with no bonus applied", *eff.AllowedStorageB64)
	}
	if eff.ActivePlanID != nil {
		t.Fatalf("ActivePlanID = %v, want nil for a lapsed subscription", eff.ActivePlanID)
	}
}

func TestComputeUnknownPlanIDIsIgnored(t *testing.T) {
	e := New(config.BillingConfig{Plans: map[string]config.SubscriptionPlan{}}, config.QuotaConfig{DefaultStorageB64: int64p(1000)})
	u := &store.User{
		SubscriptionPlanID:         strp("ghost-plan"),
		SubscriptionExpiresAtMsUTC: int64p(500),
	}

	eff := e.Compute(u, 100)

	if *eff.AllowedStorageB64 != 1000 {
		t.Fatalf("AllowedStorageB64 = %d, want base passed through unchanged for an unknown plan id", *eff.AllowedStorageB64)
	}
}

func TestAddSaturatingPropagatesUnlimited(t *testing.T) {
	if got := addSaturating(nil, 500); got != nil {
		t.Fatalf("addSaturating(nil, 500) = %v, want nil (unlimited stays unlimited)", got)
	}
}

func TestAddSaturatingClampsOnOverflow(t *testing.T) {
	max := int64(1<<63 - 1)
	base := max - 10
	got := addSaturating(&base, 100)
	if got == nil || *got != max {
		t.Fatalf("addSaturating(max-10, 100) = %v, want clamped to max int64 %d", got, max)
	}
}

func TestOverStorageAndOverOutbound(t *testing.T) {
	eff := Effective{AllowedStorageB64: int64p(100), AllowedOutboundBytes: int64p(200)}

	if !eff.OverStorage(101) {
		t.Fatal("OverStorage(101) = false, want true for 101 > 100")
	}
	if eff.OverStorage(100) {
		t.Fatal("OverStorage(100) = true, want false: exactly at the limit is not over")
	}
	if !eff.OverOutbound(201) {
		t.Fatal("OverOutbound(201) = false, want true for 201 > 200")
	}

	unlimited := Effective{}
	if unlimited.OverStorage(1 << 40) {
		t.Fatal("OverStorage with nil allowance should never report over (unlimited)")
	}
}
