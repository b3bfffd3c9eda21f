package model

import (
	"time"
)

// CouponUsage 优惠码全局使用计数
type CouponUsage struct {
	Code      string    `gorm:"primaryKey;size:50" json:"code"`
	UsedCount int       `gorm:"not null;default:0" json:"used_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CouponUsage) TableName() string {
	return "coupon_usages"
}
