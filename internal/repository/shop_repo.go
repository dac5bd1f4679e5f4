package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"sokobot/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrShopNotFound = errors.New("店铺不存在")
)

type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

// UpsertProfile 注册/重复注册店铺
//
// 【关键点】冲突时只覆盖资料列，balance / commission_rate / expiry_date
// 一律不动：重复注册不能清掉店主没提走的钱，也不能重置订阅有效期
func (r *ShopRepository) UpsertProfile(ctx context.Context, shop *model.Shop) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "phone_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"shop_name", "catalog_link", "location_map", "payment_info", "operating_hours",
			}),
		}).
		Create(shop).Error
}

func (r *ShopRepository) GetByPhone(ctx context.Context, phone string) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &shop, nil
}

// GetByPhoneInTx 结算事务内读取店铺
// 余额随后的变动都走条件化的单条 UPDATE，这里不需要行锁
func (r *ShopRepository) GetByPhoneInTx(ctx context.Context, tx *gorm.DB, phone string) (*model.Shop, error) {
	var shop model.Shop
	err := tx.WithContext(ctx).
		Where("phone_number = ?", phone).
		First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &shop, nil
}

// FindByName 按名称子串查找（大小写不敏感），返回第一个匹配
func (r *ShopRepository) FindByName(ctx context.Context, query string) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).
		Where("LOWER(shop_name) LIKE ?", "%"+strings.ToLower(query)+"%").
		Order("id ASC").
		First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &shop, nil
}

// AdjustBalance 余额增量调整
//
// 【关键点】单条 UPDATE balance = balance + ?，不在应用层读改写，
// 并发 PURCHASE 入账不会互相覆盖；WHERE 里带 balance + delta >= 0
// 兜底余额非负约束
func (r *ShopRepository) AdjustBalance(ctx context.Context, tx *gorm.DB, phone string, delta int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Shop{}).
		Where("phone_number = ? AND balance + ? >= 0", phone, delta).
		Update("balance", gorm.Expr("balance + ?", delta))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrShopNotFound
	}
	return nil
}

// SetBalance 余额直设（提现清零用）
func (r *ShopRepository) SetBalance(ctx context.Context, tx *gorm.DB, phone string, value int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Shop{}).
		Where("phone_number = ?", phone).
		Update("balance", value)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrShopNotFound
	}
	return nil
}

// ExtendExpiry 订阅有效期重置为 now + days
// 续费策略：提前续费也从今天起算，不在旧有效期上叠加
func (r *ShopRepository) ExtendExpiry(ctx context.Context, tx *gorm.DB, phone string, days int) (time.Time, error) {
	if tx == nil {
		tx = r.db
	}
	newExpiry := time.Now().AddDate(0, 0, days)
	result := tx.WithContext(ctx).
		Model(&model.Shop{}).
		Where("phone_number = ?", phone).
		Update("expiry_date", newExpiry)

	if result.Error != nil {
		return time.Time{}, result.Error
	}
	if result.RowsAffected == 0 {
		return time.Time{}, ErrShopNotFound
	}
	return newExpiry, nil
}

// UpdateProfileField 更新单个资料列，column 必须已被 service 层白名单校验
func (r *ShopRepository) UpdateProfileField(ctx context.Context, phone, column, value string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Shop{}).
		Where("phone_number = ?", phone).
		Update(column, value)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrShopNotFound
	}
	return nil
}

// ListExpiringOn 查询在指定日期（当天）到期的店铺，供外部提醒任务调用
func (r *ShopRepository) ListExpiringOn(ctx context.Context, date time.Time) ([]*model.Shop, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	var shops []*model.Shop
	err := r.db.WithContext(ctx).
		Where("expiry_date >= ? AND expiry_date < ?", dayStart, dayEnd).
		Order("id ASC").
		Find(&shops).Error
	return shops, err
}
