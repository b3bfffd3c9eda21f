package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/logging"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/repository"
)

// 额度来源
const (
	SourceSubscription = "subscription"
	SourceAddOn        = "addon"
)

// ConsumeResult 一次消耗的结果
type ConsumeResult struct {
	Kind           model.EntitlementKind `json:"kind"`
	Source         string                `json:"source"`
	Remaining      int                   `json:"remaining"`
	Unlimited      bool                  `json:"unlimited"`
	AddOnRemaining int                   `json:"addon_remaining"`
	SubscriptionID int64                 `json:"subscription_id,omitempty"`
}

// KindUsage 单项权益使用情况；Total 为 -1 表示不限
type KindUsage struct {
	Used           int  `json:"used"`
	Total          int  `json:"total"`
	Remaining      int  `json:"remaining"`
	Unlimited      bool `json:"unlimited"`
	AddOnRemaining int  `json:"addon_remaining"`
}

// UsageSummary 用户权益概览，只读
type UsageSummary struct {
	UserID       int64                                `json:"user_id"`
	Subscription *model.Subscription                  `json:"subscription,omitempty"`
	Kinds        map[model.EntitlementKind]*KindUsage `json:"kinds"`
}

type UsageService struct {
	subRepo   *repository.SubscriptionRepository
	addonRepo *repository.AddonCreditRepository
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewUsageService(
	subRepo *repository.SubscriptionRepository,
	addonRepo *repository.AddonCreditRepository,
	m *metrics.Metrics,
) *UsageService {
	return &UsageService{
		subRepo:   subRepo,
		addonRepo: addonRepo,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Consume 消耗一次权益：优先订阅额度，用完后使用加购额度
func (s *UsageService) Consume(ctx context.Context, userID int64, kind model.EntitlementKind) (*ConsumeResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	now := s.now()

	sub, err := s.subRepo.FindActive(ctx, userID, now)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = nil
	}

	if sub != nil {
		updated, err := s.subRepo.ConsumeUsage(ctx, sub.ID, kind, now)
		if err != nil {
			return nil, err
		}
		if updated != nil {
			remaining := updated.Remaining(kind)
			s.metrics.Consume(string(kind), SourceSubscription, "ok")
			return &ConsumeResult{
				Kind:           kind,
				Source:         SourceSubscription,
				Remaining:      remaining,
				Unlimited:      remaining == model.Unlimited,
				SubscriptionID: sub.ID,
			}, nil
		}
	}

	ok, err := s.addonRepo.ConsumeOne(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if ok {
		left, err := s.addonRepo.SumRemaining(ctx, userID, kind)
		if err != nil {
			return nil, err
		}
		s.metrics.Consume(string(kind), SourceAddOn, "ok")
		return &ConsumeResult{
			Kind:           kind,
			Source:         SourceAddOn,
			Remaining:      left,
			AddOnRemaining: left,
		}, nil
	}

	if sub == nil {
		s.metrics.Consume(string(kind), "none", "no_subscription")
		return nil, ErrNoActiveSubscription
	}
	s.metrics.Consume(string(kind), "none", "exhausted")
	logging.Ctx(ctx).Debug().
		Int64("user_id", userID).
		Str("kind", string(kind)).
		Int64("subscription_id", sub.ID).
		Msg("entitlement exhausted")
	return nil, ErrEntitlementExhausted
}

// Summary 当前订阅与加购额度概览
func (s *UsageService) Summary(ctx context.Context, userID int64) (*UsageSummary, error) {
	sub, err := s.subRepo.FindActive(ctx, userID, s.now())
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sub = nil
	}

	addOns, err := s.addonRepo.RemainingByKind(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &UsageSummary{
		UserID:       userID,
		Subscription: sub,
		Kinds:        make(map[model.EntitlementKind]*KindUsage, len(model.AllKinds)),
	}
	for _, k := range model.AllKinds {
		ku := &KindUsage{AddOnRemaining: addOns[k]}
		if sub != nil {
			ku.Used, ku.Total = sub.Usage(k)
			ku.Remaining = sub.Remaining(k)
			ku.Unlimited = ku.Total == model.Unlimited
		}
		summary.Kinds[k] = ku
	}
	return summary, nil
}

// SweepExpired 将过期订阅标记为 expired
func (s *UsageService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.subRepo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Int64("count", n).Msg("expired subscriptions")
	}
	return n, nil
}
