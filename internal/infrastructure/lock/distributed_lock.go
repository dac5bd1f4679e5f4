package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【场景】Daraja 对同一笔交易可能并发投递多份回调（网络重试）。
// 结算本身靠"先删 intent、查 RowsAffected"保证幂等，正确性不依赖这把锁；
// 锁的作用是让并发重复回调在入口就排队/放弃，省掉无谓的结算事务。
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本先验 value 再删 key，保证原子性
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】Lua 脚本保证"检查+删除"原子执行：
// A 的锁过期后 B 持锁，A 迟到的 Unlock 发现 value 不是自己的，不会删掉 B 的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// 便捷函数：基于关联ID的回调锁
// ============================================================================

// NewCallbackLock 创建回调处理锁（按网关关联ID维度）
// 不同交易的回调可以并发结算，同一笔交易的重复回调串行化
func NewCallbackLock(client *redis.Client, checkoutRequestID string) *DistributedLock {
	key := fmt.Sprintf("settle:lock:checkout:%s", checkoutRequestID)
	return NewDistributedLock(client, key, uuid.NewString(), 30*time.Second)
}

// NewWithdrawalLock 创建提现发起锁（按店铺维度）
//
// 提现互斥的权威判据是 payment_intents.withdrawal_key 唯一索引；
// 这把锁只负责把"调网关 + 落 intent"整段串行化，避免并发请求
// 各自触发一笔 B2C 后才在唯一索引上分出胜负
func NewWithdrawalLock(client *redis.Client, shopPhone string) *DistributedLock {
	key := fmt.Sprintf("withdraw:lock:shop:%s", shopPhone)
	return NewDistributedLock(client, key, uuid.NewString(), 30*time.Second)
}
