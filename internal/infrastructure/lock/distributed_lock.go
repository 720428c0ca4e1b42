package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用在哪里？】
//
// 余额的正确性由数据库事务 + 版本号保证，分布式锁只用来把"注定会冲突"的
// 请求在进入数据库之前排好队，减少乐观锁重试：
//   - 转盘：同一用户连点多次，串行执行，避免一次次撞版本号
//   - 拍卖结算：到期扫描和管理员"立即结束"同时触发时只让一个进入
//   - 到期扫描：多副本部署时同一时刻只有一个实例在扫
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止持有者崩溃后死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

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

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
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
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】A 处理超时锁已过期、B 拿到锁之后，A 的 Unlock 不能删掉 B 的锁，
// 所以必须先比较 value 再删除
func (l *DistributedLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// Extend 续期，只有仍持有锁时才生效
func (l *DistributedLock) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, l.expiration.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}

// ============================================================================
// 业务锁
// ============================================================================

// NewSpinLock 转盘锁（按用户维度），不同用户可以并发抽奖
func NewSpinLock(client *redis.Client, userID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("credits:lock:spin:%d", userID)
	return NewDistributedLock(client, key, owner, 10*time.Second)
}

// NewSettleLock 拍卖结算锁（按拍卖维度）
func NewSettleLock(client *redis.Client, auctionID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("credits:lock:settle:%d", auctionID)
	return NewDistributedLock(client, key, owner, 15*time.Second)
}

// NewSweepLock 到期扫描锁（全局），ttl 应小于扫描间隔
func NewSweepLock(client *redis.Client, owner string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, "credits:lock:expiry-sweep", owner, ttl)
}
