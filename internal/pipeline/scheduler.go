package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"rag-service-go/internal/control"
	"rag-service-go/pkg/log"
	"rag-service-go/pkg/queue"

	"github.com/panjf2000/ants/v2"
)

// 调度循环的节拍：有在途任务时放慢轮询，空闲时稍快。
const (
	dequeueTimeout = time.Second
	busyInterval   = 500 * time.Millisecond
	idleInterval   = 200 * time.Millisecond
)

// TaskRunner 处理一个文档摄取任务。
type TaskRunner interface {
	Process(ctx context.Context, docID string)
}

// Scheduler 从队列拉取摄取任务并投递到协程池。
// 每轮循环重读控制面的暂停标志与期望并发度，管理端的调整即时生效。
type Scheduler struct {
	queue    queue.Queue
	plane    control.Plane
	runner   TaskRunner
	pool     *ants.Pool
	poolSize int

	wg     sync.WaitGroup
	stopCh chan struct{}
	done   chan struct{}
}

// NewScheduler 创建摄取调度器，poolSize 会被钳制到 [1, 32]，非法值回退为 8。
func NewScheduler(q queue.Queue, plane control.Plane, runner TaskRunner, poolSize int) (*Scheduler, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	if poolSize > 32 {
		poolSize = 32
	}
	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(p interface{}) {
		log.Errorf("[Scheduler] 任务协程发生 panic: %v", p)
	}))
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		queue:    q,
		plane:    plane,
		runner:   runner,
		pool:     pool,
		poolSize: poolSize,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// PoolSize 返回协程池容量，也是期望并发度的上限。
func (s *Scheduler) PoolSize() int {
	return s.poolSize
}

// Start 启动调度循环。
func (s *Scheduler) Start() {
	log.Infof("[Scheduler] 摄取调度器已启动, 协程池大小: %d", s.poolSize)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ctx := context.Background()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		paused, err := s.plane.Paused(ctx)
		if err != nil {
			log.Warnf("[Scheduler] 读取暂停标志失败: %v", err)
		}
		if paused {
			time.Sleep(busyInterval)
			continue
		}

		// 在途任务数未到期望并发度之前持续拉取。
		desired := s.plane.DesiredConcurrency(ctx, s.poolSize)
		for s.pool.Running() < desired {
			env, err := s.queue.Dequeue(ctx, dequeueTimeout)
			if err != nil {
				if errors.Is(err, queue.ErrMalformed) {
					log.Warnf("[Scheduler] 丢弃损坏的队列消息: %v", err)
					continue
				}
				log.Errorf("[Scheduler] 任务出队失败: %v", err)
				break
			}
			if env == nil {
				break
			}
			s.submit(ctx, env.DocID)
		}

		if s.pool.Running() > 0 {
			time.Sleep(busyInterval)
		} else {
			time.Sleep(idleInterval)
		}
	}
}

// submit 把任务投递到协程池执行。
func (s *Scheduler) submit(ctx context.Context, docID string) {
	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		s.runner.Process(ctx, docID)
	})
	if err != nil {
		s.wg.Done()
		log.Errorf("[Scheduler] 提交任务到协程池失败, DocID: %s, Error: %v", docID, err)
	}
}

// Stop 停止拉取新任务，等待在途任务全部完成后释放协程池。
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.done
	s.wg.Wait()
	s.pool.Release()
	log.Info("[Scheduler] 摄取调度器已停止")
}
