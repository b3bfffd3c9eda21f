package model

import (
	"time"
)

const (
	SubscriptionActive    = "active"
	SubscriptionExpired   = "expired"
	SubscriptionCancelled = "cancelled"
)

type Subscription struct {
	ID                    int64     `gorm:"primaryKey" json:"id"`
	UserID                int64     `gorm:"not null;index" json:"user_id"`
	PlanID                string    `gorm:"size:50;not null" json:"plan_id"`
	Status                string    `gorm:"size:20;default:active;index" json:"status"` // active, expired, cancelled
	StartDate             time.Time `gorm:"not null" json:"start_date"`
	EndDate               time.Time `gorm:"not null;index" json:"end_date"`
	OptimizationsUsed     int       `gorm:"not null;default:0" json:"optimizations_used"`
	OptimizationsTotal    int       `gorm:"not null;default:0" json:"optimizations_total"`
	ScoreChecksUsed       int       `gorm:"not null;default:0" json:"score_checks_used"`
	ScoreChecksTotal      int       `gorm:"not null;default:0" json:"score_checks_total"`
	LinkedInMessagesUsed  int       `gorm:"column:linkedin_messages_used;not null;default:0" json:"linkedin_messages_used"`
	LinkedInMessagesTotal int       `gorm:"column:linkedin_messages_total;not null;default:0" json:"linkedin_messages_total"`
	GuidedBuildsUsed      int       `gorm:"not null;default:0" json:"guided_builds_used"`
	GuidedBuildsTotal     int       `gorm:"not null;default:0" json:"guided_builds_total"`
	PaymentTransactionID  *int64    `gorm:"index" json:"payment_transaction_id,omitempty"`
	CouponUsed            string    `gorm:"size:50" json:"coupon_used,omitempty"`
	SupersededBy          *int64    `json:"superseded_by,omitempty"`
	CreatedAt             time.Time `gorm:"index" json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Usage 返回指定权益的 (used, total)
func (s *Subscription) Usage(k EntitlementKind) (used, total int) {
	switch k {
	case KindOptimization:
		return s.OptimizationsUsed, s.OptimizationsTotal
	case KindScoreCheck:
		return s.ScoreChecksUsed, s.ScoreChecksTotal
	case KindLinkedInMessage:
		return s.LinkedInMessagesUsed, s.LinkedInMessagesTotal
	case KindGuidedBuild:
		return s.GuidedBuildsUsed, s.GuidedBuildsTotal
	}
	return 0, 0
}

// Remaining 剩余次数；不限次数时返回 Unlimited
func (s *Subscription) Remaining(k EntitlementKind) int {
	used, total := s.Usage(k)
	if total == Unlimited {
		return Unlimited
	}
	if used >= total {
		return 0
	}
	return total - used
}

// Totals 各权益总量
func (s *Subscription) Totals() Entitlements {
	return Entitlements{
		Optimizations:    s.OptimizationsTotal,
		ScoreChecks:      s.ScoreChecksTotal,
		LinkedInMessages: s.LinkedInMessagesTotal,
		GuidedBuilds:     s.GuidedBuildsTotal,
	}
}

// SetTotals 设置各权益总量
func (s *Subscription) SetTotals(e Entitlements) {
	s.OptimizationsTotal = e.Optimizations
	s.ScoreChecksTotal = e.ScoreChecks
	s.LinkedInMessagesTotal = e.LinkedInMessages
	s.GuidedBuildsTotal = e.GuidedBuilds
}

// IsLive 是否处于有效期内的激活状态
func (s *Subscription) IsLive(now time.Time) bool {
	return s.Status == SubscriptionActive && now.Before(s.EndDate)
}
