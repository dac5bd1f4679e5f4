package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sokobot/internal/config"
	"sokobot/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubGateway struct{}

func (stubGateway) InitiateCollection(ctx context.Context, phone string, amount int64, description string) (string, error) {
	return "ws_CO_stub", nil
}

func (stubGateway) InitiateDisbursement(ctx context.Context, phone string, amount int64, description string) (string, error) {
	return "AG_stub", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库：每个连接是独立数据库，必须锁死在单连接上
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.Shop{},
		&model.PaymentIntent{},
		&model.WalletEntry{},
		&model.OutboxMessage{},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PaymentSettled: "payment.settled"},
		},
		Business: config.BusinessConfig{
			DefaultCommissionRate: "0.05",
			MinWithdrawal:         50,
			SubscriptionFee:       500,
			SubscriptionDays:      30,
			IntentTTLHours:        24,
		},
	}

	return SetupRouter(db, rdb, stubGateway{}, cfg)
}

// 无论报文是什么，回调必须应答 200 + ResultCode 0，
// 否则 Daraja 会把同一条结果反复重发
func TestMpesaCallbackAlwaysAcks(t *testing.T) {
	router := newTestRouter(t)

	bodies := []string{
		`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0,"ResultDesc":"ok"}}}`,
		`{"Result":{"ResultCode":0,"ConversationID":"AG_unknown"}}`,
		`{"foo":"bar"}`,
		`not even json`,
	}

	for _, body := range bodies {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/mpesa/callback", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, "body=%q", body)

		var ack map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack), "body=%q", body)
		assert.EqualValues(t, 0, ack["ResultCode"], "body=%q", body)
	}
}

func TestWhatsAppWebhookRepliesTwiml(t *testing.T) {
	router := newTestRouter(t)

	form := "From=whatsapp%3A%2B254712345678&Body=help"
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Response>")
	assert.Contains(t, w.Body.String(), "Karibu SokoBot")
}

func TestGetShopStatusRequiresPhone(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/shop/status", nil)
	router.ServeHTTP(w, req)

	// 参数错误走统一应答包，HTTP 仍是 200
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "phone")
}
