package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sokobot/internal/config"
	"sokobot/internal/infrastructure/lock"
	"sokobot/internal/model"
	"sokobot/internal/mpesa"
	"sokobot/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrNotRegistered       = errors.New("店铺未注册")
	ErrInvalidAmount       = errors.New("金额必须大于 0")
	ErrInsufficientBalance = errors.New("余额未达到最低提现额")
)

// IntentService 支付意向跟踪器
// 负责创建意向并调用网关；意向一旦落库就只等回调，结算归 SettlementService
type IntentService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	gateway     mpesa.Gateway
	shopRepo    *repository.ShopRepository
	intentRepo  *repository.IntentRepository
}

func NewIntentService(db *gorm.DB, redisClient *redis.Client, gateway mpesa.Gateway, cfg *config.Config) *IntentService {
	return &IntentService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		gateway:     gateway,
		shopRepo:    repository.NewShopRepository(db),
		intentRepo:  repository.NewIntentRepository(db),
	}
}

// StartPurchase 买家向店铺付款
//
// 顺序固定为"先网关后落库"：网关拒绝/不可达时不产生任何本地状态，
// 买家侧直接收到失败提示，可安全重试
func (s *IntentService) StartPurchase(ctx context.Context, buyerPhone, sellerQuery string, amount int64) (*model.PaymentIntent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	seller, err := s.shopRepo.FindByName(ctx, sellerQuery)
	if err != nil {
		return nil, err
	}
	if !seller.Listable(time.Now()) {
		// 订阅过期的店铺对买家不可见
		return nil, repository.ErrShopNotFound
	}

	checkoutID, err := s.gateway.InitiateCollection(ctx, buyerPhone, amount,
		fmt.Sprintf("Purchase at %s", seller.ShopName))
	if err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		CheckoutRequestID: checkoutID,
		Kind:              model.IntentKindPurchase,
		InitiatorPhone:    buyerPhone,
		BeneficiaryPhone:  seller.PhoneNumber,
		Amount:            amount,
	}
	if err := s.intentRepo.Put(ctx, intent); err != nil {
		return nil, fmt.Errorf("持久化购买意向失败: %w", err)
	}

	log.Printf("[Intent] 购买意向已创建: checkoutRequestID=%s, buyer=%s, shop=%s, amount=%d",
		checkoutID, buyerPhone, seller.PhoneNumber, amount)
	return intent, nil
}

// StartSubscription 店主发起订阅续费，金额为配置的固定费用
func (s *IntentService) StartSubscription(ctx context.Context, ownerPhone string) (*model.PaymentIntent, error) {
	if _, err := s.shopRepo.GetByPhone(ctx, ownerPhone); err != nil {
		if errors.Is(err, repository.ErrShopNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}

	fee := s.cfg.Business.SubscriptionFee
	checkoutID, err := s.gateway.InitiateCollection(ctx, ownerPhone, fee, "Subscription renewal")
	if err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		CheckoutRequestID: checkoutID,
		Kind:              model.IntentKindSubscription,
		InitiatorPhone:    ownerPhone,
		Amount:            fee,
	}
	if err := s.intentRepo.Put(ctx, intent); err != nil {
		return nil, fmt.Errorf("持久化订阅意向失败: %w", err)
	}

	log.Printf("[Intent] 订阅意向已创建: checkoutRequestID=%s, owner=%s, fee=%d",
		checkoutID, ownerPhone, fee)
	return intent, nil
}

// StartWithdrawal 店主发起提现
//
// 【关键点】互斥分两层：
// 1. Redis 店铺级锁把"调网关 + 落 intent"整段串行化，避免并发请求
//    各自触发一笔 B2C
// 2. withdrawal_key 唯一索引是权威判据，Redis 不可用或锁过期时
//    依然保证至多一条在途提现
// 余额此刻不扣减——打款结果回来之前钱还是店主的，金额以结算时为准
func (s *IntentService) StartWithdrawal(ctx context.Context, ownerPhone string) (*model.PaymentIntent, error) {
	shop, err := s.shopRepo.GetByPhone(ctx, ownerPhone)
	if err != nil {
		if errors.Is(err, repository.ErrShopNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}

	if shop.Balance < s.cfg.Business.MinWithdrawal {
		return nil, fmt.Errorf("%w: balance=%d, min=%d",
			ErrInsufficientBalance, shop.Balance, s.cfg.Business.MinWithdrawal)
	}

	wLock := lock.NewWithdrawalLock(s.redisClient, ownerPhone)
	acquired, err := wLock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取提现锁失败: %w", err)
	}
	if !acquired {
		return nil, repository.ErrWithdrawalInProgress
	}
	defer wLock.Unlock(ctx)

	// 锁内先查已落库的在途提现，避免向网关多发一笔 B2C
	existing, err := s.intentRepo.GetWithdrawalByOwner(ctx, ownerPhone)
	if err != nil {
		return nil, fmt.Errorf("查询在途提现失败: %w", err)
	}
	if existing != nil {
		return nil, repository.ErrWithdrawalInProgress
	}

	conversationID, err := s.gateway.InitiateDisbursement(ctx, ownerPhone, shop.Balance,
		fmt.Sprintf("Withdrawal for %s", shop.ShopName))
	if err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		CheckoutRequestID: conversationID,
		Kind:              model.IntentKindWithdrawal,
		InitiatorPhone:    ownerPhone,
		Amount:            shop.Balance, // 发起时的余额，仅作展示；实付以结算时余额为准
	}
	if err := s.intentRepo.PutWithdrawal(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrWithdrawalInProgress) {
			log.Printf("[Intent] 提现意向冲突: owner=%s, conversationID=%s（B2C 已在途，等待回调）",
				ownerPhone, conversationID)
			return nil, err
		}
		return nil, fmt.Errorf("持久化提现意向失败: %w", err)
	}

	log.Printf("[Intent] 提现意向已创建: conversationID=%s, owner=%s, amount=%d",
		conversationID, ownerPhone, shop.Balance)
	return intent, nil
}
