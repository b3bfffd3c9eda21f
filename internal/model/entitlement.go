package model

import "fmt"

// EntitlementKind 可消耗权益类型
type EntitlementKind string

const (
	KindOptimization    EntitlementKind = "optimization"
	KindScoreCheck      EntitlementKind = "score_check"
	KindLinkedInMessage EntitlementKind = "linkedin_message"
	KindGuidedBuild     EntitlementKind = "guided_build"
)

// Unlimited 表示该权益不限次数
const Unlimited = -1

// AllKinds 所有权益类型，顺序固定
var AllKinds = []EntitlementKind{
	KindOptimization,
	KindScoreCheck,
	KindLinkedInMessage,
	KindGuidedBuild,
}

// ParseEntitlementKind 解析权益类型
func ParseEntitlementKind(s string) (EntitlementKind, error) {
	k := EntitlementKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entitlement kind %q", s)
	}
	return k, nil
}

func (k EntitlementKind) Valid() bool {
	switch k {
	case KindOptimization, KindScoreCheck, KindLinkedInMessage, KindGuidedBuild:
		return true
	}
	return false
}

// Columns 返回 subscriptions 表中该权益对应的 (used, total) 列名
func (k EntitlementKind) Columns() (used, total string) {
	switch k {
	case KindOptimization:
		return "optimizations_used", "optimizations_total"
	case KindScoreCheck:
		return "score_checks_used", "score_checks_total"
	case KindLinkedInMessage:
		return "linkedin_messages_used", "linkedin_messages_total"
	case KindGuidedBuild:
		return "guided_builds_used", "guided_builds_total"
	}
	panic(fmt.Sprintf("model: no columns for entitlement kind %q", string(k)))
}

// Entitlements 每种权益的数量
type Entitlements struct {
	Optimizations    int `json:"optimizations"`
	ScoreChecks      int `json:"score_checks"`
	LinkedInMessages int `json:"linkedin_messages"`
	GuidedBuilds     int `json:"guided_builds"`
}

// Of 返回指定权益的数量
func (e Entitlements) Of(k EntitlementKind) int {
	switch k {
	case KindOptimization:
		return e.Optimizations
	case KindScoreCheck:
		return e.ScoreChecks
	case KindLinkedInMessage:
		return e.LinkedInMessages
	case KindGuidedBuild:
		return e.GuidedBuilds
	}
	panic(fmt.Sprintf("model: unknown entitlement kind %q", string(k)))
}

// With 返回设置了指定权益数量的副本
func (e Entitlements) With(k EntitlementKind, n int) Entitlements {
	switch k {
	case KindOptimization:
		e.Optimizations = n
	case KindScoreCheck:
		e.ScoreChecks = n
	case KindLinkedInMessage:
		e.LinkedInMessages = n
	case KindGuidedBuild:
		e.GuidedBuilds = n
	default:
		panic(fmt.Sprintf("model: unknown entitlement kind %q", string(k)))
	}
	return e
}
