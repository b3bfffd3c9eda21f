package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
)

func TestDefault_PlanByID(t *testing.T) {
	c := Default()

	plan, err := c.PlanByID("career_boost_plus")
	require.NoError(t, err)
	assert.Equal(t, int64(149900), plan.Price)
	assert.Equal(t, 30, plan.Entitlements.Optimizations)
	assert.Equal(t, model.Unlimited, plan.Entitlements.LinkedInMessages)
	assert.Equal(t, 8760, plan.ValidityHours())

	lite, err := c.PlanByID("lite_check")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, lite.Validity)
}

func TestPlanByID_UnknownFailsClosed(t *testing.T) {
	c := Default()

	_, err := c.PlanByID("enterprise")
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	_, err = c.PlanByID(AddOnOnlyPlanID)
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestAddOnByID_Aliases(t *testing.T) {
	c := Default()

	a, err := c.AddOnByID("linkedin_messages_50_purchase")
	require.NoError(t, err)
	assert.Equal(t, model.KindLinkedInMessage, a.Kind)
	assert.Equal(t, 50, a.Quantity)

	_, err = c.AddOnByID("live_session")
	assert.True(t, errors.Is(err, ErrAddOnNotFound))
}

func TestPlans_SortedByPrice(t *testing.T) {
	plans := Default().Plans()
	require.Len(t, plans, 6)
	assert.Equal(t, "career_pro_max", plans[0].ID)
	assert.Equal(t, "lite_check", plans[5].ID)
}

func TestResolveAddOns(t *testing.T) {
	c := Default()

	grants, total, err := c.ResolveAddOns(model.AddOnSelection{
		"jd_optimization_single":    2,
		"linkedin_messages_50":      1,
		"resume_score_check_single": 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2*4900+2900), total)
	require.Len(t, grants, 2)
	assert.Equal(t, "jd_optimization_single", grants[0].AddOn.ID)
	assert.Equal(t, 2, grants[0].Quantity)
	assert.Equal(t, 50, grants[1].Quantity)

	_, _, err = c.ResolveAddOns(model.AddOnSelection{"jd_optimization_single": -1})
	assert.True(t, errors.Is(err, ErrInvalidUnits))

	_, _, err = c.ResolveAddOns(model.AddOnSelection{"nope": 1})
	assert.True(t, errors.Is(err, ErrAddOnNotFound))
}

func TestNew_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name  string
		plans []Plan
		adds  []AddOn
	}{
		{"duplicate plan", []Plan{{ID: "a", Validity: time.Hour}, {ID: "a", Validity: time.Hour}}, nil},
		{"no validity", []Plan{{ID: "a"}}, nil},
		{"negative total", []Plan{{ID: "a", Validity: time.Hour, Entitlements: model.Entitlements{ScoreChecks: -2}}}, nil},
		{"reserved id", []Plan{{ID: AddOnOnlyPlanID, Validity: time.Hour}}, nil},
		{"unknown kind", nil, []AddOn{{ID: "x", Kind: "live_session", Quantity: 1}}},
		{"zero quantity", nil, []AddOn{{ID: "x", Kind: model.KindOptimization}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("", tt.plans, tt.adds)
			assert.True(t, errors.Is(err, ErrInvalidEntry))
		})
	}
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.CatalogConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, c.Currency())
	assert.Len(t, c.Plans(), 6)

	c, err = FromConfig(config.CatalogConfig{
		Currency: "USD",
		Plans: []config.PlanConfig{
			{ID: "starter", Name: "Starter", Price: 500, DurationHours: 24, Optimizations: 3, LinkedInMessages: -1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", c.Currency())
	plan, err := c.PlanByID("starter")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, plan.Validity)
	assert.Equal(t, model.Unlimited, plan.Entitlements.LinkedInMessages)
	// 未覆盖的加购项保持内置
	assert.Len(t, c.AddOns(), 8)
}

func TestCouponRule(t *testing.T) {
	table, err := NewCouponTable(DefaultCoupons())
	require.NoError(t, err)

	r, ok := table.Lookup("  first500 ")
	require.True(t, ok)
	assert.True(t, r.Capped())
	assert.True(t, r.AppliesTo("lite_check"))
	assert.False(t, r.AppliesTo("career_pro_max"))
	assert.False(t, r.AppliesTo(AddOnOnlyPlanID))
	// 9900 * 98 / 100 = 9702
	assert.Equal(t, int64(9702), r.Discount(9900))

	full, ok := table.Lookup("FULLSUPPORT")
	require.True(t, ok)
	assert.Equal(t, int64(199900), full.Discount(199900))

	half, _ := table.Lookup("worthyone")
	assert.Equal(t, int64(99950), half.Discount(199900))
	// 奇数价格向下取整
	assert.Equal(t, int64(49), half.Discount(99))

	_, ok = table.Lookup("UNKNOWN")
	assert.False(t, ok)
}

func TestCouponsFromConfig(t *testing.T) {
	table, err := CouponsFromConfig([]config.CouponConfig{
		{Code: "all10", PlanIDs: []string{Wildcard}, Percent: 10},
		{Code: "OFF", PlanIDs: []string{"lite_check"}, Percent: 100, Disabled: true},
	})
	require.NoError(t, err)

	r, ok := table.Lookup("ALL10")
	require.True(t, ok)
	assert.True(t, r.AppliesTo("smart_apply_pack"))

	_, ok = table.Lookup("off")
	assert.False(t, ok)

	_, err = CouponsFromConfig([]config.CouponConfig{{Code: "BAD", PlanIDs: []string{"x"}, Percent: 150}})
	assert.True(t, errors.Is(err, ErrInvalidEntry))
}
