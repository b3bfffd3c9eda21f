package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/catalog"
	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/repository"
)

// CouponResult 优惠码计算结果，金额为最小货币单位
type CouponResult struct {
	Code        string `json:"code"`
	PlanID      string `json:"plan_id"`
	Percent     int    `json:"percent"`
	Price       int64  `json:"price"`
	Discount    int64  `json:"discount"`
	FinalAmount int64  `json:"final_amount"`
}

type CouponService struct {
	catalog    *catalog.Catalog
	coupons    *catalog.CouponTable
	couponRepo *repository.CouponRepository
	metrics    *metrics.Metrics
}

func NewCouponService(
	cat *catalog.Catalog,
	coupons *catalog.CouponTable,
	couponRepo *repository.CouponRepository,
	m *metrics.Metrics,
) *CouponService {
	return &CouponService{
		catalog:    cat,
		coupons:    coupons,
		couponRepo: couponRepo,
		metrics:    m,
	}
}

// evaluate 校验优惠码与计划，不涉及使用次数
func (s *CouponService) evaluate(planID, code string) (catalog.CouponRule, *CouponResult, error) {
	normalized := catalog.NormalizeCode(code)
	if normalized == "" {
		return catalog.CouponRule{}, nil, ErrCouponNotFound
	}
	if planID == "" || planID == catalog.AddOnOnlyPlanID {
		return catalog.CouponRule{}, nil, ErrCouponNotApplicable
	}

	plan, err := s.catalog.PlanByID(planID)
	if err != nil {
		return catalog.CouponRule{}, nil, err
	}

	rule, ok := s.coupons.Lookup(normalized)
	if !ok {
		return catalog.CouponRule{}, nil, ErrCouponNotFound
	}
	if !rule.AppliesTo(plan.ID) {
		return catalog.CouponRule{}, nil, ErrCouponNotApplicable
	}

	discount := rule.Discount(plan.Price)
	return rule, &CouponResult{
		Code:        rule.Code,
		PlanID:      plan.ID,
		Percent:     rule.Percent,
		Price:       plan.Price,
		Discount:    discount,
		FinalAmount: plan.Price - discount,
	}, nil
}

// Preview 校验优惠码，不占用使用次数
func (s *CouponService) Preview(ctx context.Context, planID, code string) (*CouponResult, error) {
	rule, result, err := s.evaluate(planID, code)
	if err != nil {
		s.observe(code, err)
		return nil, err
	}

	if rule.Capped() {
		used, err := s.couponRepo.Used(ctx, rule.Code)
		if err != nil {
			return nil, err
		}
		if used >= rule.MaxUses {
			s.observe(code, ErrCouponExhausted)
			return nil, ErrCouponExhausted
		}
	}
	return result, nil
}

// Apply 应用优惠码并原子地占用一次使用次数
func (s *CouponService) Apply(ctx context.Context, planID, code string, userID int64) (*CouponResult, error) {
	return s.applyTx(ctx, nil, planID, code, userID)
}

func (s *CouponService) applyTx(ctx context.Context, tx *gorm.DB, planID, code string, userID int64) (*CouponResult, error) {
	rule, result, err := s.evaluate(planID, code)
	if err != nil {
		s.observe(code, err)
		return nil, err
	}

	repo := s.couponRepo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	ok, err := repo.TryIncrement(ctx, rule.Code, rule.MaxUses)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.observe(code, ErrCouponExhausted)
		logging.Ctx(ctx).Info().
			Str("coupon", rule.Code).
			Int64("user_id", userID).
			Int("max_uses", rule.MaxUses).
			Msg("coupon cap reached")
		return nil, ErrCouponExhausted
	}

	s.metrics.Coupon(rule.Code, "applied")
	return result, nil
}

// Release 购买失败或取消时归还使用次数
func (s *CouponService) Release(ctx context.Context, code string) error {
	return s.releaseTx(ctx, nil, code)
}

func (s *CouponService) releaseTx(ctx context.Context, tx *gorm.DB, code string) error {
	normalized := catalog.NormalizeCode(code)
	if normalized == "" {
		return nil
	}
	repo := s.couponRepo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	if err := repo.Release(ctx, normalized); err != nil {
		return err
	}
	s.metrics.Coupon(normalized, "released")
	return nil
}

func (s *CouponService) observe(code string, err error) {
	label := catalog.NormalizeCode(code)
	if _, ok := s.coupons.Lookup(label); !ok {
		label = "unknown"
	}
	s.metrics.Coupon(label, ReasonCode(err))
}
