package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sokobot/internal/config"
	"sokobot/internal/model"
	"sokobot/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidField = errors.New("不支持的资料字段")
)

// profileColumns 指令字段到表列的白名单映射
var profileColumns = map[string]string{
	"NAME":     "shop_name",
	"CATALOG":  "catalog_link",
	"LOCATION": "location_map",
	"PAY":      "payment_info",
	"HOURS":    "operating_hours",
}

type ShopService struct {
	db              *gorm.DB
	cfg             *config.Config
	shopRepo        *repository.ShopRepository
	walletEntryRepo *repository.WalletEntryRepository
	intentRepo      *repository.IntentRepository
}

func NewShopService(db *gorm.DB, cfg *config.Config) *ShopService {
	return &ShopService{
		db:              db,
		cfg:             cfg,
		shopRepo:        repository.NewShopRepository(db),
		walletEntryRepo: repository.NewWalletEntryRepository(db),
		intentRepo:      repository.NewIntentRepository(db),
	}
}

// RegisterRequest 注册/重复注册请求
type RegisterRequest struct {
	Phone          string
	ShopName       string
	CatalogLink    string
	LocationMap    string
	PaymentInfo    string
	OperatingHours string
}

// Register 注册店铺
// 新店铺：余额 0、默认佣金率、有效期 = 今天 + 订阅周期
// 已有店铺：只覆盖资料字段，余额和有效期原样保留
func (s *ShopService) Register(ctx context.Context, req *RegisterRequest) (*model.Shop, error) {
	if req.Phone == "" || req.ShopName == "" {
		return nil, errors.New("手机号和店铺名不能为空")
	}

	rate, err := decimal.NewFromString(s.cfg.Business.DefaultCommissionRate)
	if err != nil {
		return nil, fmt.Errorf("默认佣金率配置非法: %w", err)
	}

	shop := &model.Shop{
		PhoneNumber:    req.Phone,
		ShopName:       req.ShopName,
		CatalogLink:    req.CatalogLink,
		LocationMap:    req.LocationMap,
		PaymentInfo:    req.PaymentInfo,
		OperatingHours: req.OperatingHours,
		Balance:        0,
		CommissionRate: rate,
		ExpiryDate:     time.Now().AddDate(0, 0, s.cfg.Business.SubscriptionDays),
	}

	if err := s.shopRepo.UpsertProfile(ctx, shop); err != nil {
		return nil, fmt.Errorf("注册店铺失败: %w", err)
	}

	// upsert 命中已有行时不会回填旧值，重新读一次返回真实状态
	return s.shopRepo.GetByPhone(ctx, req.Phone)
}

// UpdateField 更新单个资料字段（NAME / CATALOG / LOCATION / PAY / HOURS）
func (s *ShopService) UpdateField(ctx context.Context, phone, field, value string) error {
	column, ok := profileColumns[field]
	if !ok {
		return ErrInvalidField
	}
	return s.shopRepo.UpdateProfileField(ctx, phone, column, value)
}

func (s *ShopService) GetShop(ctx context.Context, phone string) (*model.Shop, error) {
	return s.shopRepo.GetByPhone(ctx, phone)
}

// FindListedShop 按名称查找对买家可见（未过期）的店铺
func (s *ShopService) FindListedShop(ctx context.Context, query string) (*model.Shop, error) {
	shop, err := s.shopRepo.FindByName(ctx, query)
	if err != nil {
		return nil, err
	}
	if !shop.Listable(time.Now()) {
		return nil, repository.ErrShopNotFound
	}
	return shop, nil
}

// ShopStatus 店主状态查询结果
type ShopStatus struct {
	Shop           *model.Shop `json:"shop"`
	PendingIntents int64       `json:"pending_intents"`
}

// Status 店主 STATUS 读路径：余额、有效期、在途交易数
func (s *ShopService) Status(ctx context.Context, phone string) (*ShopStatus, error) {
	shop, err := s.shopRepo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	pending, err := s.intentRepo.CountByInitiator(ctx, phone)
	if err != nil {
		return nil, err
	}
	return &ShopStatus{Shop: shop, PendingIntents: pending}, nil
}

// ListExpiringOn 查询指定日期到期的店铺，供外部提醒任务（cron）调用
func (s *ShopService) ListExpiringOn(ctx context.Context, date time.Time) ([]*model.Shop, error) {
	return s.shopRepo.ListExpiringOn(ctx, date)
}

// ListWalletEntries 查询店铺钱包流水
func (s *ShopService) ListWalletEntries(ctx context.Context, phone string, page, pageSize int) ([]*model.WalletEntry, int64, error) {
	return s.walletEntryRepo.ListByShop(ctx, phone, page, pageSize)
}
