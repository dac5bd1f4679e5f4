package service

import (
	"context"
	"testing"
	"time"

	"sokobot/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterNewShopDefaults(t *testing.T) {
	db := newTestDB(t)
	svc := NewShopService(db, testConfig())
	ctx := context.Background()

	shop, err := svc.Register(ctx, &RegisterRequest{
		Phone:    "254700000001",
		ShopName: "Kibanda Chips",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), shop.Balance)
	assert.True(t, shop.CommissionRate.Equal(decimal.RequireFromString("0.05")))
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), shop.ExpiryDate, time.Minute)
}

func TestReRegisterKeepsBalanceAndExpiry(t *testing.T) {
	db := newTestDB(t)
	svc := NewShopService(db, testConfig())
	ctx := context.Background()

	first, err := svc.Register(ctx, &RegisterRequest{Phone: "254700000001", ShopName: "Kibanda Chips"})
	require.NoError(t, err)
	require.NoError(t, repository.NewShopRepository(db).AdjustBalance(ctx, nil, "254700000001", 750))

	// 重复注册只覆盖资料，钱包和有效期原样保留
	second, err := svc.Register(ctx, &RegisterRequest{
		Phone:       "254700000001",
		ShopName:    "Kibanda Chips & Grill",
		CatalogLink: "https://wa.me/c/123",
	})
	require.NoError(t, err)
	assert.Equal(t, "Kibanda Chips & Grill", second.ShopName)
	assert.Equal(t, "https://wa.me/c/123", second.CatalogLink)
	assert.Equal(t, int64(750), second.Balance)
	assert.WithinDuration(t, first.ExpiryDate, second.ExpiryDate, time.Second)
}

func TestUpdateFieldWhitelist(t *testing.T) {
	db := newTestDB(t)
	svc := NewShopService(db, testConfig())
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Phone: "254700000001", ShopName: "Kibanda Chips"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateField(ctx, "254700000001", "HOURS", "Mon-Sat 8am-8pm"))
	shop, err := svc.GetShop(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, "Mon-Sat 8am-8pm", shop.OperatingHours)

	// 白名单外的字段名直接拒绝，balance 之类的列不可能被指令改到
	err = svc.UpdateField(ctx, "254700000001", "BALANCE", "9999")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestFindListedShopSkipsExpired(t *testing.T) {
	db := newTestDB(t)
	svc := NewShopService(db, testConfig())
	ctx := context.Background()

	shop := seedShop(t, db, "254700000001", "Kibanda Chips", 0, "0.05")

	found, err := svc.FindListedShop(ctx, "kibanda")
	require.NoError(t, err)
	assert.Equal(t, "254700000001", found.PhoneNumber)

	require.NoError(t, db.Model(shop).Update("expiry_date", time.Now().AddDate(0, 0, -1)).Error)
	_, err = svc.FindListedShop(ctx, "kibanda")
	assert.ErrorIs(t, err, repository.ErrShopNotFound)
}

func TestStatusCountsPendingIntents(t *testing.T) {
	db := newTestDB(t)
	shopSvc := NewShopService(db, testConfig())
	intentSvc := NewIntentService(db, newTestRedis(t), &fakeGateway{}, testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 200, "0.05")

	status, err := shopSvc.Status(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.PendingIntents)

	_, err = intentSvc.StartWithdrawal(ctx, "254700000001")
	require.NoError(t, err)

	status, err = shopSvc.Status(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.PendingIntents)
	assert.Equal(t, int64(200), status.Shop.Balance)
}
