package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"sokobot/internal/config"
	"sokobot/internal/infrastructure/lock"
	"sokobot/internal/model"
	"sokobot/internal/mpesa"
	"sokobot/internal/repository"
	"sokobot/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ============================================================================
// 结算引擎
// ============================================================================
//
// 消化网关异步回调，把确认的支付结果落到账本上。三条铁律：
//
// 1. 幂等：结算事务第一步删 intent 并检查 RowsAffected，
//    删到 0 行说明这笔已处理过（重放/并发回调），整个事务退化为 no-op，
//    不会二次入账、二次延期、二次打款
// 2. 原子：余额变更、流水落账、intent 删除、outbox 事件在同一个数据库
//    事务里提交，崩溃后不会出现"钱动了但 intent 还在"的撕裂状态
// 3. 静默：未知关联ID只记日志不报错——网关要求无论内部结果如何都回 200，
//    对方会话早已结束，没有可通知的人
//
// ============================================================================

// SettlementService 结算引擎
type SettlementService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	shopRepo        *repository.ShopRepository
	intentRepo      *repository.IntentRepository
	walletEntryRepo *repository.WalletEntryRepository
	outboxRepo      *repository.OutboxRepository
}

func NewSettlementService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *SettlementService {
	return &SettlementService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		shopRepo:        repository.NewShopRepository(db),
		intentRepo:      repository.NewIntentRepository(db),
		walletEntryRepo: repository.NewWalletEntryRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// HandleNotification 处理一条网关结果通知
// 返回 error 仅供调用方记日志；HTTP 层无论如何都要应答 200
func (s *SettlementService) HandleNotification(ctx context.Context, n *mpesa.Notification) error {
	if n.CheckoutRequestID == "" {
		log.Printf("[Settlement] 回调缺少关联ID，丢弃: desc=%s", n.ResultDesc)
		return nil
	}

	// 同一笔交易的并发重复回调在入口串行化；拿不到锁直接放弃，
	// 正确性由结算事务里的删行检查兜底
	cbLock := lock.NewCallbackLock(s.redisClient, n.CheckoutRequestID)
	acquired, err := cbLock.TryLock(ctx)
	if err != nil {
		log.Printf("[Settlement] 获取回调锁失败，继续处理: checkoutRequestID=%s, err=%v",
			n.CheckoutRequestID, err)
	} else if !acquired {
		log.Printf("[Settlement] 并发重复回调，放弃: checkoutRequestID=%s", n.CheckoutRequestID)
		return nil
	} else {
		defer cbLock.Unlock(ctx)
	}

	intent, err := s.intentRepo.Get(ctx, n.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrIntentNotFound) {
			// 重放或未知通知，静默确认
			log.Printf("[Settlement] 未知关联ID，丢弃: checkoutRequestID=%s, success=%v",
				n.CheckoutRequestID, n.Success)
			return nil
		}
		return fmt.Errorf("查询支付意向失败: %w", err)
	}

	if !n.Success {
		return s.settleFailure(ctx, intent, n)
	}
	return s.settleSuccess(ctx, intent, n)
}

// settleFailure 失败结算：不动任何余额，只释放意向
// WITHDRAWAL 的行删除即释放互斥锁，店主可以重新发起
func (s *SettlementService) settleFailure(ctx context.Context, intent *model.PaymentIntent, n *mpesa.Notification) error {
	rows, err := s.intentRepo.Retire(ctx, nil, intent.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("删除失败意向出错: %w", err)
	}
	if rows == 0 {
		log.Printf("[Settlement] 失败回调重放，已无意向: checkoutRequestID=%s", intent.CheckoutRequestID)
		return nil
	}

	log.Printf("[Settlement] 交易失败，意向已释放: checkoutRequestID=%s, kind=%s, initiator=%s, desc=%s",
		intent.CheckoutRequestID, intent.Kind, intent.InitiatorPhone, n.ResultDesc)
	return nil
}

// settleSuccess 成功结算，按意向类型穷举分派
func (s *SettlementService) settleSuccess(ctx context.Context, intent *model.PaymentIntent, n *mpesa.Notification) error {
	switch intent.Kind {
	case model.IntentKindSubscription:
		return s.settleSubscription(ctx, intent, n)
	case model.IntentKindPurchase:
		return s.settlePurchase(ctx, intent, n)
	case model.IntentKindWithdrawal:
		return s.settleWithdrawal(ctx, intent, n)
	default:
		return fmt.Errorf("未知意向类型: %s (checkoutRequestID=%s)", intent.Kind, intent.CheckoutRequestID)
	}
}

// settleSubscription 订阅续费成功：有效期重置为今天 + 订阅周期
// 策略：提前续费也从今天起算，不叠加旧有效期
func (s *SettlementService) settleSubscription(ctx context.Context, intent *model.PaymentIntent, n *mpesa.Notification) error {
	var newExpiry time.Time
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.intentRepo.Retire(ctx, tx, intent.CheckoutRequestID)
		if err != nil {
			return fmt.Errorf("删除意向失败: %w", err)
		}
		if rows == 0 {
			return nil // 重放，no-op
		}

		newExpiry, err = s.shopRepo.ExtendExpiry(ctx, tx, intent.InitiatorPhone, s.cfg.Business.SubscriptionDays)
		if err != nil {
			return fmt.Errorf("延长有效期失败: %w", err)
		}

		return s.writeEvent(ctx, tx, intent, n, map[string]interface{}{
			"new_expiry": newExpiry.Format("2006-01-02"),
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Settlement] 订阅续费已结算: checkoutRequestID=%s, owner=%s, newExpiry=%s",
		intent.CheckoutRequestID, intent.InitiatorPhone, newExpiry.Format("2006-01-02"))
	return nil
}

// settlePurchase 购买成功：扣佣金后把净额记入店铺钱包
// 买家没有钱包，买家侧不产生任何状态
func (s *SettlementService) settlePurchase(ctx context.Context, intent *model.PaymentIntent, n *mpesa.Notification) error {
	var net, commission int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.intentRepo.Retire(ctx, tx, intent.CheckoutRequestID)
		if err != nil {
			return fmt.Errorf("删除意向失败: %w", err)
		}
		if rows == 0 {
			return nil // 重放，no-op
		}

		shop, err := s.shopRepo.GetByPhoneInTx(ctx, tx, intent.BeneficiaryPhone)
		if err != nil {
			return fmt.Errorf("查询收款店铺失败: %w", err)
		}

		// 佣金 = 金额 × 费率，四舍五入到整先令；净额 = 金额 − 佣金
		commission = decimal.NewFromInt(intent.Amount).
			Mul(shop.CommissionRate).
			Round(0).
			IntPart()
		net = intent.Amount - commission

		if err := s.shopRepo.AdjustBalance(ctx, tx, shop.PhoneNumber, net); err != nil {
			return fmt.Errorf("入账失败: %w", err)
		}

		entry := &model.WalletEntry{
			EntryNo:           idgen.GenerateEntryNo(),
			ShopPhone:         shop.PhoneNumber,
			CheckoutRequestID: intent.CheckoutRequestID,
			Amount:            net,
			Type:              model.EntryTypePurchaseCredit,
			BalanceBefore:     shop.Balance,
			BalanceAfter:      shop.Balance + net,
			Remark:            fmt.Sprintf("购买入账 总额=%d 佣金=%d 回执=%s", intent.Amount, commission, n.Receipt),
		}
		if err := s.walletEntryRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.writeEvent(ctx, tx, intent, n, map[string]interface{}{
			"gross":      intent.Amount,
			"commission": commission,
			"net":        net,
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Settlement] 购买已结算: checkoutRequestID=%s, shop=%s, gross=%d, commission=%d, net=%d",
		intent.CheckoutRequestID, intent.BeneficiaryPhone, intent.Amount, commission, net)
	return nil
}

// settleWithdrawal 提现打款成功：按结算时余额出账并释放互斥锁
//
// 【关键点】实付金额取此刻的余额，不是发起时 intent 里存的数——
// 发起到结算之间新到的购买入账归店主，不能少付。出账用
// balance = balance - 实付 的条件更新而不是直接置 0：
// 结算瞬间并发进来的入账会保留在余额里，不会被清掉
func (s *SettlementService) settleWithdrawal(ctx context.Context, intent *model.PaymentIntent, n *mpesa.Notification) error {
	var payout int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.intentRepo.Retire(ctx, tx, intent.CheckoutRequestID)
		if err != nil {
			return fmt.Errorf("删除意向失败: %w", err)
		}
		if rows == 0 {
			return nil // 重放，no-op
		}

		shop, err := s.shopRepo.GetByPhoneInTx(ctx, tx, intent.InitiatorPhone)
		if err != nil {
			return fmt.Errorf("查询提现店铺失败: %w", err)
		}

		payout = shop.Balance
		if payout > 0 {
			if err := s.shopRepo.AdjustBalance(ctx, tx, shop.PhoneNumber, -payout); err != nil {
				return fmt.Errorf("出账失败: %w", err)
			}

			entry := &model.WalletEntry{
				EntryNo:           idgen.GenerateEntryNo(),
				ShopPhone:         shop.PhoneNumber,
				CheckoutRequestID: intent.CheckoutRequestID,
				Amount:            -payout,
				Type:              model.EntryTypeWithdrawalDebit,
				BalanceBefore:     shop.Balance,
				BalanceAfter:      shop.Balance - payout,
				Remark:            fmt.Sprintf("提现出账 发起时请求=%d 回执=%s", intent.Amount, n.Receipt),
			}
			if err := s.walletEntryRepo.Create(ctx, tx, entry); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}
		}

		return s.writeEvent(ctx, tx, intent, n, map[string]interface{}{
			"requested": intent.Amount,
			"paid_out":  payout,
		})
	})
	if err != nil {
		return err
	}

	log.Printf("[Settlement] 提现已结算: checkoutRequestID=%s, owner=%s, requested=%d, paidOut=%d",
		intent.CheckoutRequestID, intent.InitiatorPhone, intent.Amount, payout)
	return nil
}

// writeEvent 结算事件写入 outbox，与结算同事务提交
func (s *SettlementService) writeEvent(ctx context.Context, tx *gorm.DB, intent *model.PaymentIntent, n *mpesa.Notification, detail map[string]interface{}) error {
	payload := map[string]interface{}{
		"checkout_request_id": intent.CheckoutRequestID,
		"kind":                intent.Kind,
		"initiator":           intent.InitiatorPhone,
		"beneficiary":         intent.BeneficiaryPhone,
		"receipt":             n.Receipt,
		"settled_at":          time.Now().Format(time.RFC3339),
	}
	for k, v := range detail {
		payload[k] = v
	}
	payloadBytes, _ := json.Marshal(payload)

	msg := &model.OutboxMessage{
		MessageKey: intent.CheckoutRequestID,
		Topic:      s.cfg.Kafka.Topic.PaymentSettled,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入结算事件失败: %w", err)
	}
	return nil
}
