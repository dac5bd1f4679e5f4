package model

import (
	"time"
)

// ============================================================================
// 钱包流水类型常量
// ============================================================================

const (
	EntryTypePurchaseCredit  = "PURCHASE_CREDIT"  // 买家付款入账（扣佣金后净额）
	EntryTypeWithdrawalDebit = "WITHDRAWAL_DEBIT" // 提现出账
)

// WalletEntry 钱包流水表
// 记录钱包的每一笔资金变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每笔流水关联网关 CheckoutRequestID —— 便于与 Daraja 对账单核对
// 3. 记录变动前后余额 —— 便于校验余额一致性
type WalletEntry struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"` // 流水号（全局唯一）
	ShopPhone         string    `gorm:"type:varchar(20);index;not null" json:"shop_phone"`
	CheckoutRequestID string    `gorm:"type:varchar(64);index;not null" json:"checkout_request_id"`
	Amount            int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Type              string    `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore     int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter      int64     `gorm:"not null" json:"balance_after"`
	Remark            string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WalletEntry) TableName() string {
	return "wallet_entries"
}
