package repository

import (
	"context"
	"errors"
	"time"

	"sokobot/internal/model"

	"gorm.io/gorm"
)

var (
	ErrIntentNotFound       = errors.New("支付意向不存在")
	ErrWithdrawalInProgress = errors.New("已有一笔提现在处理中")
)

type IntentRepository struct {
	db *gorm.DB
}

func NewIntentRepository(db *gorm.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// Put 持久化一条支付意向（SUBSCRIPTION / PURCHASE）
func (r *IntentRepository) Put(ctx context.Context, intent *model.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

// PutWithdrawal 持久化提现意向
//
// 【关键点】"检查是否已有在途提现 + 创建"不能分两步做，并发请求会在
// 两步之间钻进来。这里把发起方手机号写进 withdrawal_key 唯一索引列，
// 靠数据库唯一约束一步完成 check-and-insert：冲突即说明已有在途提现
func (r *IntentRepository) PutWithdrawal(ctx context.Context, intent *model.PaymentIntent) error {
	key := intent.InitiatorPhone
	intent.WithdrawalKey = &key

	err := r.db.WithContext(ctx).Create(intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrWithdrawalInProgress
		}
		return err
	}
	return nil
}

// GetWithdrawalByOwner 查询某店铺的在途提现意向，没有则返回 nil
func (r *IntentRepository) GetWithdrawalByOwner(ctx context.Context, phone string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("withdrawal_key = ?", phone).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *IntentRepository) Get(ctx context.Context, checkoutRequestID string) (*model.PaymentIntent, error) {
	var intent model.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// Retire 删除意向，返回实际删除的行数
//
// 【关键点】行删除是意向的唯一终态。结算事务里先 Retire 再动余额，
// 调用方检查返回值：0 行说明这笔已被处理过（重放/并发回调），直接放弃
func (r *IntentRepository) Retire(ctx context.Context, tx *gorm.DB, checkoutRequestID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		Delete(&model.PaymentIntent{})
	return result.RowsAffected, result.Error
}

// ListStale 查询超过保留时长的 SUBSCRIPTION / PURCHASE 意向
// WITHDRAWAL 一律排除：那一行就是提现互斥锁本身，只能由网关结果释放
func (r *IntentRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.PaymentIntent, error) {
	var intents []*model.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("kind <> ? AND created_at < ?", model.IntentKindWithdrawal, before).
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// CountByInitiator 统计某账户的在途意向数（状态查询用）
func (r *IntentRepository) CountByInitiator(ctx context.Context, phone string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PaymentIntent{}).
		Where("initiator_phone = ?", phone).
		Count(&count).Error
	return count, err
}
