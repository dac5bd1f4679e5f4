package model

import (
	"time"
)

// ============================================================================
// 支付意向类型
// ============================================================================

// IntentKind 支付意向类型，封闭枚举
// SettlementService 里对它做穷举 switch，新增类型必须同时补结算分支
type IntentKind string

const (
	IntentKindSubscription IntentKind = "SUBSCRIPTION" // 店主订阅续费（collection）
	IntentKindPurchase     IntentKind = "PURCHASE"     // 买家向店铺付款（collection）
	IntentKindWithdrawal   IntentKind = "WITHDRAWAL"   // 店主提现（disbursement）
)

// Valid 是否为已知类型
func (k IntentKind) Valid() bool {
	switch k {
	case IntentKindSubscription, IntentKindPurchase, IntentKindWithdrawal:
		return true
	}
	return false
}

// ============================================================================
// 支付意向实体
// ============================================================================

// PaymentIntent 未决支付意向表
//
// 【重要】生命周期即状态机：
// 1. 行存在 = INITIATED（在途），行删除 = 终态，没有中间状态列
// 2. 结算成功/失败都以删除收尾，重放回调查不到行即天然幂等
// 3. WITHDRAWAL 类型通过 withdrawal_key 唯一索引实现
//    "每个账户至多一笔在途提现"——靠数据库约束而不是进程内互斥，
//    进程重启、多实例部署都不会失守
type PaymentIntent struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CheckoutRequestID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"checkout_request_id"` // 网关发起时返回的关联ID
	Kind              IntentKind `gorm:"type:varchar(20);not null" json:"kind"`
	InitiatorPhone    string     `gorm:"type:varchar(20);index;not null" json:"initiator_phone"` // 发起方手机号
	BeneficiaryPhone  string     `gorm:"type:varchar(20);index" json:"beneficiary_phone"`        // 收款店铺（仅 PURCHASE）
	Amount            int64      `gorm:"not null" json:"amount"`                                 // 发起时请求的金额（先令）
	WithdrawalKey     *string    `gorm:"type:varchar(20);uniqueIndex" json:"-"`                  // WITHDRAWAL 时 = 发起方手机号，其余为 NULL
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}
