package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"sokobot/internal/config"
	"sokobot/internal/mpesa"
	"sokobot/internal/repository"
	"sokobot/internal/service"
	"sokobot/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	shopService       *service.ShopService
	intentService     *service.IntentService
	settlementService *service.SettlementService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, gateway mpesa.Gateway, cfg *config.Config) *Handler {
	return &Handler{
		shopService:       service.NewShopService(db, cfg),
		intentService:     service.NewIntentService(db, rdb, gateway, cfg),
		settlementService: service.NewSettlementService(db, rdb, cfg),
	}
}

// ============================================================
// 网关回调接口
// ============================================================

// MpesaCallback Daraja 回调入口
// POST /api/v1/mpesa/callback
//
// 【关键点】STK 结果和 B2C 结果共用这个地址，报文自带形态标识。
// 无论内部结算成败，这里必须回 200 + ResultCode 0，否则 Daraja
// 会按失败重试，制造回调风暴；内部异常靠日志和对账兜底
func (h *Handler) MpesaCallback(c *gin.Context) {
	var envelope mpesa.CallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		log.Printf("[Callback] 报文解析失败: %v", err)
		h.ackCallback(c)
		return
	}

	notification, err := envelope.Notification()
	if err != nil {
		log.Printf("[Callback] 报文形态无法识别: %v", err)
		h.ackCallback(c)
		return
	}

	if err := h.settlementService.HandleNotification(c.Request.Context(), notification); err != nil {
		log.Printf("[Callback] 结算失败（已确认收到，等待对账）: checkoutRequestID=%s, err=%v",
			notification.CheckoutRequestID, err)
	}

	h.ackCallback(c)
}

func (h *Handler) ackCallback(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// ============================================================
// 店铺查询接口
// ============================================================

// GetShopStatus 查询店铺状态（余额、有效期、在途交易数）
// GET /api/v1/shop/status?phone=xxx
func (h *Handler) GetShopStatus(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		response.ParamError(c, "phone 参数不能为空")
		return
	}

	status, err := h.shopService.Status(c.Request.Context(), phone)
	if err != nil {
		if errors.Is(err, repository.ErrShopNotFound) {
			response.BusinessError(c, response.CodeShopNotFound, "店铺不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, status)
}

// ListExpiringShops 查询指定日期到期的店铺，供外部提醒任务调用
// GET /api/v1/shops/expiring?date=2024-01-15
func (h *Handler) ListExpiringShops(c *gin.Context) {
	dateStr := c.DefaultQuery("date", time.Now().Format("2006-01-02"))
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		response.ParamError(c, "date 格式必须是 YYYY-MM-DD")
		return
	}

	shops, err := h.shopService.ListExpiringOn(c.Request.Context(), date)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	type expiring struct {
		Phone    string `json:"phone"`
		ShopName string `json:"shop_name"`
		Expiry   string `json:"expiry"`
	}
	list := make([]expiring, 0, len(shops))
	for _, s := range shops {
		list = append(list, expiring{
			Phone:    s.PhoneNumber,
			ShopName: s.ShopName,
			Expiry:   s.ExpiryDate.Format("2006-01-02"),
		})
	}

	response.Success(c, gin.H{"list": list, "total": len(list)})
}

// ListWalletEntries 查询店铺钱包流水
// GET /api/v1/wallet/entries?phone=xxx&page=1&page_size=10
func (h *Handler) ListWalletEntries(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		response.ParamError(c, "phone 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.shopService.ListWalletEntries(c.Request.Context(), phone, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
