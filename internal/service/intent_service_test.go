package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sokobot/internal/model"
	"sokobot/internal/mpesa"
	"sokobot/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeGateway 可编程的网关替身，记录调用次数
type fakeGateway struct {
	collectionErr   error
	disbursementErr error
	collections     int
	disbursements   int
}

func (f *fakeGateway) InitiateCollection(ctx context.Context, phone string, amount int64, description string) (string, error) {
	f.collections++
	if f.collectionErr != nil {
		return "", f.collectionErr
	}
	return fmt.Sprintf("ws_CO_fake_%d", f.collections), nil
}

func (f *fakeGateway) InitiateDisbursement(ctx context.Context, phone string, amount int64, description string) (string, error) {
	f.disbursements++
	if f.disbursementErr != nil {
		return "", f.disbursementErr
	}
	return fmt.Sprintf("AG_fake_%d", f.disbursements), nil
}

func countIntents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.PaymentIntent{}).Count(&n).Error)
	return n
}

func TestStartPurchaseCreatesIntent(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 0, "0.05")

	intent, err := svc.StartPurchase(ctx, "254711000001", "kibanda", 1000)
	require.NoError(t, err)
	assert.Equal(t, model.IntentKindPurchase, intent.Kind)
	assert.Equal(t, "254711000001", intent.InitiatorPhone)
	assert.Equal(t, "254700000001", intent.BeneficiaryPhone)
	assert.Equal(t, int64(1000), intent.Amount)
	assert.Equal(t, 1, gw.collections)
	assert.Equal(t, int64(1), countIntents(t, db))
}

func TestStartPurchaseRejectsInvalidAmount(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())

	_, err := svc.StartPurchase(context.Background(), "254711000001", "kibanda", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	// 参数校验失败不碰网关
	assert.Equal(t, 0, gw.collections)
}

func TestStartPurchaseHidesExpiredShop(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	ctx := context.Background()

	shop := seedShop(t, db, "254700000001", "Kibanda Chips", 0, "0.05")
	require.NoError(t, db.Model(shop).Update("expiry_date", time.Now().AddDate(0, 0, -1)).Error)

	// 过期店铺对买家等同不存在
	_, err := svc.StartPurchase(ctx, "254711000001", "kibanda", 1000)
	assert.ErrorIs(t, err, repository.ErrShopNotFound)
	assert.Equal(t, 0, gw.collections)
}

func TestStartPurchaseGatewayErrorLeavesNoState(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{collectionErr: errors.New("stk push rejected")}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 0, "0.05")

	_, err := svc.StartPurchase(ctx, "254711000001", "kibanda", 1000)
	require.Error(t, err)
	// 先网关后落库：网关失败不留本地状态，可安全重试
	assert.Equal(t, int64(0), countIntents(t, db))
}

func TestStartSubscriptionRequiresRegistration(t *testing.T) {
	db := newTestDB(t)
	svc := NewIntentService(db, newTestRedis(t), &fakeGateway{}, testConfig())

	_, err := svc.StartSubscription(context.Background(), "254700000099")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestStartSubscriptionUsesConfiguredFee(t *testing.T) {
	db := newTestDB(t)
	svc := NewIntentService(db, newTestRedis(t), &fakeGateway{}, testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 0, "0.05")

	intent, err := svc.StartSubscription(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, model.IntentKindSubscription, intent.Kind)
	assert.Equal(t, int64(500), intent.Amount)
}

func TestStartWithdrawalMinimumBoundary(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	ctx := context.Background()

	// min_withdrawal = 50：49 拒绝，50 放行
	seedShop(t, db, "254700000001", "Kibanda Chips", 49, "0.05")
	_, err := svc.StartWithdrawal(ctx, "254700000001")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 0, gw.disbursements)

	seedShop(t, db, "254700000002", "Mama Mboga", 50, "0.05")
	intent, err := svc.StartWithdrawal(ctx, "254700000002")
	require.NoError(t, err)
	assert.Equal(t, model.IntentKindWithdrawal, intent.Kind)
	assert.Equal(t, int64(50), intent.Amount)
	assert.Equal(t, 1, gw.disbursements)
}

func TestStartWithdrawalMutualExclusion(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 200, "0.05")

	_, err := svc.StartWithdrawal(ctx, "254700000001")
	require.NoError(t, err)

	// 已有在途提现时第二次发起必须被拒，且不再触发 B2C
	_, err = svc.StartWithdrawal(ctx, "254700000001")
	assert.ErrorIs(t, err, repository.ErrWithdrawalInProgress)
	assert.Equal(t, 1, gw.disbursements)

	// 其他店铺不受影响
	seedShop(t, db, "254700000002", "Mama Mboga", 200, "0.05")
	_, err = svc.StartWithdrawal(ctx, "254700000002")
	require.NoError(t, err)
}

func TestStartWithdrawalRetryAfterFailureCallback(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	intentSvc := NewIntentService(db, newTestRedis(t), gw, testConfig())
	settlementSvc := NewSettlementService(db, newTestRedis(t), testConfig())
	ctx := context.Background()

	seedShop(t, db, "254700000001", "Kibanda Chips", 200, "0.05")

	intent, err := intentSvc.StartWithdrawal(ctx, "254700000001")
	require.NoError(t, err)

	// 打款失败：意向释放，余额不动，可以重新发起
	require.NoError(t, settlementSvc.HandleNotification(ctx, &mpesa.Notification{
		CheckoutRequestID: intent.CheckoutRequestID,
		Success:           false,
		ResultDesc:        "DS timeout",
	}))

	_, err = intentSvc.StartWithdrawal(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.disbursements)
}
