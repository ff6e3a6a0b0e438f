// Package progress 负责摄取进度事件的缓存与广播。
// 每个文档的最新进度写入带 TTL 的 Redis 键，同时通过 Pub/Sub 频道实时推送。
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rag-service-go/internal/model"
	"rag-service-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// 进度快照的缓存键前缀与存活时间。
const (
	cacheKeyPrefix = "rag:progress:"
	cacheTTL       = time.Hour
)

// Broker 封装了进度事件的发布与订阅。
type Broker struct {
	client  *redis.Client
	channel string
}

// NewBroker 创建一个进度事件 Broker。
func NewBroker(client *redis.Client, channel string) *Broker {
	return &Broker{client: client, channel: channel}
}

// Publish 缓存并广播一条进度事件。
// 进度通道是尽力而为的旁路：缓存或广播失败只记日志，不影响摄取流程，
// 文档状态以数据库行为准。
func (b *Broker) Publish(ctx context.Context, event model.ProgressEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Errorf("[Progress] 序列化进度事件失败, DocID: %s, Error: %v", event.DocID, err)
		return
	}

	if err := b.client.SetEX(ctx, cacheKeyPrefix+event.DocID, payload, cacheTTL).Err(); err != nil {
		log.Warnf("[Progress] 缓存进度快照失败, DocID: %s, Error: %v", event.DocID, err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		log.Warnf("[Progress] 广播进度事件失败, DocID: %s, Error: %v", event.DocID, err)
	}
}

// GetCached 读取某文档的最新进度快照，不存在时返回 (nil, nil)。
func (b *Broker) GetCached(ctx context.Context, docID string) (*model.ProgressEvent, error) {
	raw, err := b.client.Get(ctx, cacheKeyPrefix+docID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var event model.ProgressEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Subscription 是一个活动的进度事件订阅。
type Subscription struct {
	pubsub *redis.PubSub
	events chan model.ProgressEvent
}

// Subscribe 订阅进度频道。返回的 Subscription 在 Close 前持续投递事件，
// 无法解析的消息会被丢弃。
func (b *Broker) Subscribe(ctx context.Context) *Subscription {
	pubsub := b.client.Subscribe(ctx, b.channel)
	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan model.ProgressEvent, 16),
	}

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var event model.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warnf("[Progress] 丢弃无法解析的进度消息: %v", err)
				continue
			}
			sub.events <- event
		}
	}()

	return sub
}

// Events 返回事件通道，订阅关闭后该通道也会关闭。
func (s *Subscription) Events() <-chan model.ProgressEvent {
	return s.events
}

// Close 取消订阅并释放资源。
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
