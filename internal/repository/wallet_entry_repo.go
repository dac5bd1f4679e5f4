package repository

import (
	"context"
	"errors"

	"sokobot/internal/model"

	"gorm.io/gorm"
)

type WalletEntryRepository struct {
	db *gorm.DB
}

func NewWalletEntryRepository(db *gorm.DB) *WalletEntryRepository {
	return &WalletEntryRepository{db: db}
}

func (r *WalletEntryRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.WalletEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *WalletEntryRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*model.WalletEntry, error) {
	var entry model.WalletEntry
	err := r.db.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *WalletEntryRepository) ListByShop(ctx context.Context, phone string, page, pageSize int) ([]*model.WalletEntry, int64, error) {
	var entries []*model.WalletEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletEntry{}).Where("shop_phone = ?", phone)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
