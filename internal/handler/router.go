package handler

import (
	"sokobot/internal/config"
	"sokobot/internal/mpesa"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, gateway mpesa.Gateway, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, gateway, cfg)

	// WhatsApp 消息入口（Twilio 表单 POST）
	r.POST("/whatsapp", h.WhatsAppWebhook)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// Daraja 回调（STK 结果和 B2C 结果共用）
		api.POST("/mpesa/callback", h.MpesaCallback)

		// 店铺查询
		shop := api.Group("/shop")
		{
			shop.GET("/status", h.GetShopStatus)
		}
		api.GET("/shops/expiring", h.ListExpiringShops)

		// 钱包流水
		wallet := api.Group("/wallet")
		{
			wallet.GET("/entries", h.ListWalletEntries)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
