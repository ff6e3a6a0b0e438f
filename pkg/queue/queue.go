// Package queue 抽象了摄取任务队列，提供 Redis 列表与 Kafka 两种实现。
// 队列里只传文档 ID，文档的全部元数据以数据库记录为准。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rag-service-go/internal/config"
	"rag-service-go/pkg/log"

	"github.com/go-redis/redis/v8"
	kafkago "github.com/segmentio/kafka-go"
)

// ErrMalformed 表示队列中出现了无法解析的消息，调度方应丢弃并继续。
var ErrMalformed = errors.New("队列消息格式非法")

// Envelope 是摄取任务在队列中的载荷。
type Envelope struct {
	DocID string `json:"doc_id"`
}

// Queue 接口定义了摄取任务队列的入队与出队操作。
type Queue interface {
	Enqueue(ctx context.Context, env Envelope) error
	// Dequeue 阻塞至多 timeout 等待一个任务；队列为空时返回 (nil, nil)，
	// 消息损坏时返回 ErrMalformed。
	Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error)
	// Depth 返回当前积压的任务数，实现无法统计时返回 -1。
	Depth(ctx context.Context) (int64, error)
	Close() error
}

// New 根据配置选择队列实现。
func New(cfg config.QueueConfig, redisClient *redis.Client) (Queue, error) {
	switch cfg.Driver {
	case "", "redis":
		log.Infof("[Queue] 使用 Redis 列表队列, Key: %s", cfg.RedisKey)
		return NewRedisQueue(redisClient, cfg.RedisKey), nil
	case "kafka":
		log.Infof("[Queue] 使用 Kafka 队列, Topic: %s", cfg.Kafka.Topic)
		return NewKafkaQueue(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("不支持的队列驱动: %s", cfg.Driver)
	}
}

// redisQueue 用 Redis 列表实现 FIFO 队列：LPUSH 入队、BRPOP 出队。
type redisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue 创建基于 Redis 列表的队列。
func NewRedisQueue(client *redis.Client, key string) Queue {
	return &redisQueue{client: client, key: key}
}

func (q *redisQueue) Enqueue(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化队列消息失败: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("任务出队失败: %w", err)
	}
	// BRPOP 返回 [key, value]。
	if len(res) != 2 {
		return nil, ErrMalformed
	}
	return decodeEnvelope([]byte(res[1]))
}

func (q *redisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *redisQueue) Close() error {
	// Redis 连接由 database 包统一管理，这里无需关闭。
	return nil
}

// kafkaQueue 用 Kafka 主题实现队列，消费组内各实例分摊分区。
type kafkaQueue struct {
	writer *kafkago.Writer
	reader *kafkago.Reader
}

// NewKafkaQueue 创建基于 Kafka 的队列。
func NewKafkaQueue(cfg config.KafkaConfig) Queue {
	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafkago.LeastBytes{},
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &kafkaQueue{writer: writer, reader: reader}
}

func (q *kafkaQueue) Enqueue(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化队列消息失败: %w", err)
	}
	if err := q.writer.WriteMessages(ctx, kafkago.Message{Value: payload}); err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (q *kafkaQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := q.reader.FetchMessage(fetchCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("任务出队失败: %w", err)
	}
	// 任务状态以数据库为准，拿到消息即提交 offset，失败的文档不靠 Kafka 重投。
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		log.Errorf("[Queue] 提交 Kafka 消息 offset 失败: %v", err)
	}
	return decodeEnvelope(msg.Value)
}

func (q *kafkaQueue) Depth(ctx context.Context) (int64, error) {
	// 消费组滞后量需要逐分区查询，这里不做统计。
	return -1, nil
}

func (q *kafkaQueue) Close() error {
	if err := q.writer.Close(); err != nil {
		return err
	}
	return q.reader.Close()
}

// decodeEnvelope 解析队列消息，文档 ID 缺失时视为损坏消息。
func decodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.DocID == "" {
		return nil, fmt.Errorf("%w: doc_id 为空", ErrMalformed)
	}
	return &env, nil
}
