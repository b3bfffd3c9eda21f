package catalog

import (
	"time"

	"github.com/qs3c/billing_server/internal/model"
)

const year = 365 * 24 * time.Hour

// DefaultPlans 内置计划表，价格单位为 paise
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:       "career_pro_max",
			Name:     "Career Pro Max",
			Price:    199900,
			Validity: year,
			Entitlements: model.Entitlements{
				Optimizations:    50,
				ScoreChecks:      50,
				LinkedInMessages: model.Unlimited,
				GuidedBuilds:     5,
			},
			Tag: "Best Value",
		},
		{
			ID:       "career_boost_plus",
			Name:     "Career Boost+",
			Price:    149900,
			Validity: year,
			Entitlements: model.Entitlements{
				Optimizations:    30,
				ScoreChecks:      30,
				LinkedInMessages: model.Unlimited,
				GuidedBuilds:     3,
			},
			Tag:     "Most Popular",
			Popular: true,
		},
		{
			ID:       "pro_resume_kit",
			Name:     "Pro Resume Kit",
			Price:    99900,
			Validity: year,
			Entitlements: model.Entitlements{
				Optimizations:    20,
				ScoreChecks:      20,
				LinkedInMessages: 100,
				GuidedBuilds:     2,
			},
		},
		{
			ID:       "smart_apply_pack",
			Name:     "Smart Apply Pack",
			Price:    49900,
			Validity: year,
			Entitlements: model.Entitlements{
				Optimizations:    10,
				ScoreChecks:      10,
				LinkedInMessages: 50,
				GuidedBuilds:     1,
			},
		},
		{
			ID:       "resume_fix_pack",
			Name:     "Resume Fix Pack",
			Price:    19900,
			Validity: year,
			Entitlements: model.Entitlements{
				Optimizations: 5,
				ScoreChecks:   2,
			},
		},
		{
			ID:       "lite_check",
			Name:     "Lite Check",
			Price:    9900,
			Validity: 7 * 24 * time.Hour,
			Entitlements: model.Entitlements{
				Optimizations:    2,
				ScoreChecks:      2,
				LinkedInMessages: 10,
			},
			Tag: "Trial",
		},
	}
}

// DefaultAddOns 内置加购项；*_purchase 为旧客户端使用的别名
func DefaultAddOns() []AddOn {
	base := []AddOn{
		{ID: "jd_optimization_single", Name: "JD-Based Optimization", Price: 4900, Kind: model.KindOptimization, Quantity: 1},
		{ID: "guided_resume_build_single", Name: "Guided Resume Build", Price: 9900, Kind: model.KindGuidedBuild, Quantity: 1},
		{ID: "resume_score_check_single", Name: "Resume Score Check", Price: 1900, Kind: model.KindScoreCheck, Quantity: 1},
		{ID: "linkedin_messages_50", Name: "50 LinkedIn Messages", Price: 2900, Kind: model.KindLinkedInMessage, Quantity: 50},
	}
	out := make([]AddOn, 0, len(base)*2)
	out = append(out, base...)
	for _, a := range base {
		alias := a
		alias.ID = a.ID + "_purchase"
		out = append(out, alias)
	}
	return out
}
