package job

import (
	"context"
	"log"
	"time"

	"sokobot/internal/config"
	"sokobot/internal/repository"

	"gorm.io/gorm"
)

// IntentSweeper 未决意向对账清扫任务
//
// Daraja 偶尔会吞掉一笔交易的回调（付款方一直不输 PIN、会话过期），
// 对应的 SUBSCRIPTION / PURCHASE 意向就永远停在在途状态。清扫任务把
// 超过保留时长的这类意向删掉，防止表无限增长。
//
// 【关键点】WITHDRAWAL 意向绝不清扫：那一行本身就是提现互斥锁，
// 打款可能仍在网关侧进行，只能由成功/失败回调释放；卡死的提现
// 属于人工对账范畴
type IntentSweeper struct {
	db         *gorm.DB
	intentRepo *repository.IntentRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewIntentSweeper(db *gorm.DB, cfg *config.Config) *IntentSweeper {
	return &IntentSweeper{
		db:         db,
		intentRepo: repository.NewIntentRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   10 * time.Minute,
		batchSize:  100,
	}
}

func (j *IntentSweeper) Start(ctx context.Context) {
	log.Println("[IntentSweeper] 意向清扫任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[IntentSweeper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[IntentSweeper] 任务停止")
			return
		case <-ticker.C:
			j.sweepStaleIntents(ctx)
		}
	}
}

func (j *IntentSweeper) Stop() {
	close(j.stopCh)
}

func (j *IntentSweeper) sweepStaleIntents(ctx context.Context) {
	ttl := time.Duration(j.cfg.Business.IntentTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	before := time.Now().Add(-ttl)

	intents, err := j.intentRepo.ListStale(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[IntentSweeper] 查询过期意向失败: %v", err)
		return
	}

	if len(intents) == 0 {
		return
	}

	log.Printf("[IntentSweeper] 发现 %d 条过期意向", len(intents))

	sweptCount := 0
	for _, intent := range intents {
		rows, err := j.intentRepo.Retire(ctx, nil, intent.CheckoutRequestID)
		if err != nil {
			log.Printf("[IntentSweeper] 清扫失败: checkoutRequestID=%s, err=%v", intent.CheckoutRequestID, err)
			continue
		}
		if rows == 0 {
			// 清扫和迟到的回调赛跑输了，结算已处理
			continue
		}
		sweptCount++
		log.Printf("[IntentSweeper] 过期意向已清扫: checkoutRequestID=%s, kind=%s, initiator=%s, amount=%d",
			intent.CheckoutRequestID, intent.Kind, intent.InitiatorPhone, intent.Amount)
	}

	log.Printf("[IntentSweeper] 本次清扫 %d 条过期意向", sweptCount)
}
