// Package control 提供摄取 worker 的运行时控制面：暂停标志与期望并发度。
// 两个值都存放在 Redis 中，调度循环每轮都会重新读取，修改立即生效，无需重启进程。
package control

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"rag-service-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

const (
	pausedKey      = "rag:workers:paused_at"
	concurrencyKey = "rag:workers:concurrency"
)

// Plane 接口定义了调度器与管理端共同使用的控制面操作。
type Plane interface {
	// Paused 返回暂停标志是否被设置。
	Paused(ctx context.Context) (bool, error)
	// PausedSince 返回暂停开始的时间（RFC3339），未暂停时返回空串。
	PausedSince(ctx context.Context) (string, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// DesiredConcurrency 返回期望并发度，读取失败或未设置时回退为 1。
	DesiredConcurrency(ctx context.Context, max int) int
	// SetConcurrency 写入期望并发度，返回实际生效的钳制值。
	SetConcurrency(ctx context.Context, n, max int) (int, error)
}

// ClampConcurrency 将原始并发度字符串钳制到 [1, max] 区间。
// 空串或非法值回退为 1。
func ClampConcurrency(raw string, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		v = 1
	}
	if v < 1 {
		v = 1
	}
	if v > max {
		v = max
	}
	return v
}

// redisPlane 是 Plane 接口的 Redis 实现。
type redisPlane struct {
	client *redis.Client
}

// NewRedisPlane 创建一个基于 Redis 的控制面。
func NewRedisPlane(client *redis.Client) Plane {
	return &redisPlane{client: client}
}

func (p *redisPlane) Paused(ctx context.Context) (bool, error) {
	val, err := p.client.Get(ctx, pausedKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return val != "", nil
}

func (p *redisPlane) PausedSince(ctx context.Context) (string, error) {
	val, err := p.client.Get(ctx, pausedKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (p *redisPlane) Pause(ctx context.Context) error {
	return p.client.Set(ctx, pausedKey, time.Now().UTC().Format(time.RFC3339), 0).Err()
}

func (p *redisPlane) Resume(ctx context.Context) error {
	return p.client.Del(ctx, pausedKey).Err()
}

func (p *redisPlane) DesiredConcurrency(ctx context.Context, max int) int {
	raw, err := p.client.Get(ctx, concurrencyKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Control] 读取期望并发度失败, 回退为 1: %v", err)
		}
		raw = ""
	}
	return ClampConcurrency(raw, max)
}

func (p *redisPlane) SetConcurrency(ctx context.Context, n, max int) (int, error) {
	clamped := ClampConcurrency(strconv.Itoa(n), max)
	if err := p.client.Set(ctx, concurrencyKey, strconv.Itoa(clamped), 0).Err(); err != nil {
		return 0, err
	}
	return clamped, nil
}
