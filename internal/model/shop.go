package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shop 店铺账户表
// 记录店主的钱包余额、佣金率和订阅有效期，是整个结算系统的核心数据
//
// 【重要】余额约束：
// 1. balance 永远 >= 0，只允许 SettlementService 修改
// 2. 重复注册只覆盖资料字段，不动余额和有效期
// 3. 店铺不删除（历史流水依赖 phone_number）
type Shop struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	PhoneNumber    string          `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone_number"` // 店主手机号（2547XXXXXXXX），对外主键
	ShopName       string          `gorm:"type:varchar(128);not null" json:"shop_name"`
	CatalogLink    string          `gorm:"type:varchar(256)" json:"catalog_link"`
	LocationMap    string          `gorm:"type:varchar(256)" json:"location_map"`
	PaymentInfo    string          `gorm:"type:varchar(128)" json:"payment_info"`
	OperatingHours string          `gorm:"type:varchar(128)" json:"operating_hours"`
	Balance        int64           `gorm:"not null;default:0" json:"balance"`                  // 未提现收入（先令）
	CommissionRate decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"commission_rate"` // 平台抽成比例 [0,1)
	ExpiryDate     time.Time       `gorm:"index;not null" json:"expiry_date"`                 // 订阅到期日，now <= expiry 才对买家可见
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Shop) TableName() string {
	return "shops"
}

// Listable 店铺当前是否对买家可见
func (s *Shop) Listable(now time.Time) bool {
	return !now.After(s.ExpiryDate)
}
