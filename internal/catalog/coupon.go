package catalog

import (
	"fmt"
	"strings"

	"github.com/qs3c/billing_server/config"
)

// Wildcard 适用于所有计划
const Wildcard = "*"

// CouponRule 优惠码规则
type CouponRule struct {
	Code     string   `json:"code"`
	PlanIDs  []string `json:"plan_ids"`
	Percent  int      `json:"percent"`
	MaxUses  int      `json:"max_uses,omitempty"` // 0 表示不限
	Disabled bool     `json:"-"`
}

// AppliesTo 规则是否适用于该计划；addon_only_purchase 永远不适用
func (r CouponRule) AppliesTo(planID string) bool {
	if planID == "" || planID == AddOnOnlyPlanID {
		return false
	}
	for _, id := range r.PlanIDs {
		if id == Wildcard || id == planID {
			return true
		}
	}
	return false
}

// Discount 整数计算折扣，向下取整
func (r CouponRule) Discount(price int64) int64 {
	if price <= 0 {
		return 0
	}
	if r.Percent >= 100 {
		return price
	}
	return price * int64(r.Percent) / 100
}

// Capped 是否有全局使用上限
func (r CouponRule) Capped() bool {
	return r.MaxUses > 0
}

// CouponTable 优惠码表，按规范化后的 code 索引
type CouponTable struct {
	rules map[string]CouponRule
}

// NormalizeCode 去除首尾空白并转大写
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCouponTable 校验并构建优惠码表
func NewCouponTable(rules []CouponRule) (*CouponTable, error) {
	t := &CouponTable{rules: make(map[string]CouponRule, len(rules))}
	for _, r := range rules {
		r.Code = NormalizeCode(r.Code)
		if r.Code == "" {
			return nil, fmt.Errorf("%w: empty coupon code", ErrInvalidEntry)
		}
		if r.Percent <= 0 || r.Percent > 100 {
			return nil, fmt.Errorf("%w: coupon %s percent %d", ErrInvalidEntry, r.Code, r.Percent)
		}
		if len(r.PlanIDs) == 0 {
			return nil, fmt.Errorf("%w: coupon %s has no plans", ErrInvalidEntry, r.Code)
		}
		if r.MaxUses < 0 {
			return nil, fmt.Errorf("%w: coupon %s negative cap", ErrInvalidEntry, r.Code)
		}
		if _, dup := t.rules[r.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate coupon %s", ErrInvalidEntry, r.Code)
		}
		t.rules[r.Code] = r
	}
	return t, nil
}

// Lookup 查找启用中的规则
func (t *CouponTable) Lookup(code string) (CouponRule, bool) {
	r, ok := t.rules[NormalizeCode(code)]
	if !ok || r.Disabled {
		return CouponRule{}, false
	}
	return r, true
}

// DefaultCoupons 内置优惠码
func DefaultCoupons() []CouponRule {
	return []CouponRule{
		{Code: "FULLSUPPORT", PlanIDs: []string{"career_pro_max"}, Percent: 100},
		{Code: "FIRST100", PlanIDs: []string{"lite_check"}, Percent: 100},
		{Code: "FIRST500", PlanIDs: []string{"lite_check"}, Percent: 98, MaxUses: 500},
		{Code: "WORTHYONE", PlanIDs: []string{"career_pro_max"}, Percent: 50},
	}
}

// CouponsFromConfig 根据配置构建优惠码表，未配置时使用内置表
func CouponsFromConfig(cfgs []config.CouponConfig) (*CouponTable, error) {
	if len(cfgs) == 0 {
		return NewCouponTable(DefaultCoupons())
	}
	rules := make([]CouponRule, 0, len(cfgs))
	for _, c := range cfgs {
		rules = append(rules, CouponRule{
			Code:     c.Code,
			PlanIDs:  c.PlanIDs,
			Percent:  c.Percent,
			MaxUses:  c.MaxUses,
			Disabled: c.Disabled,
		})
	}
	return NewCouponTable(rules)
}
