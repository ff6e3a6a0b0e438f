package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-service-go/pkg/queue"
)

// memQueue 是非阻塞的内存队列，空队列立即返回 (nil, nil)。
type memQueue struct {
	mu    sync.Mutex
	items []queue.Envelope
	errs  []error // 预置的出队错误，先于真实消息返回
}

func (q *memQueue) Enqueue(ctx context.Context, env queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, env)
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		return nil, err
	}
	if len(q.items) == 0 {
		return nil, nil
	}
	env := q.items[0]
	q.items = q.items[1:]
	return &env, nil
}

func (q *memQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *memQueue) Close() error { return nil }

// memPlane 是内存控制面。
type memPlane struct {
	mu          sync.Mutex
	paused      bool
	concurrency int
}

func (p *memPlane) Paused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, nil
}

func (p *memPlane) PausedSince(ctx context.Context) (string, error) { return "", nil }

func (p *memPlane) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *memPlane) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

func (p *memPlane) DesiredConcurrency(ctx context.Context, max int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.concurrency
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}

func (p *memPlane) SetConcurrency(ctx context.Context, n, max int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.concurrency = n
	return n, nil
}

// countingRunner 记录任务执行，gate 非 nil 时任务会阻塞直到放行。
type countingRunner struct {
	mu      sync.Mutex
	started int
	docs    []string
	gate    chan struct{}
}

func (r *countingRunner) Process(ctx context.Context, docID string) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.docs = append(r.docs, docID)
	r.mu.Unlock()
}

func (r *countingRunner) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *countingRunner) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func TestSchedulerProcessesQueuedTasks(t *testing.T) {
	q := &memQueue{}
	runner := &countingRunner{}
	s, err := NewScheduler(q, &memPlane{concurrency: 4}, runner, 4)
	require.NoError(t, err)

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		require.NoError(t, q.Enqueue(context.Background(), queue.Envelope{DocID: id}))
	}

	s.Start()
	assert.Eventually(t, func() bool { return runner.doneCount() == 3 },
		3*time.Second, 20*time.Millisecond)
	s.Stop()

	depth, _ := q.Depth(context.Background())
	assert.Equal(t, int64(0), depth)
}

func TestSchedulerHonorsPause(t *testing.T) {
	q := &memQueue{}
	plane := &memPlane{paused: true, concurrency: 2}
	runner := &countingRunner{}
	s, err := NewScheduler(q, plane, runner, 2)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), queue.Envelope{DocID: "doc-1"}))

	s.Start()
	assert.Never(t, func() bool { return runner.doneCount() > 0 },
		700*time.Millisecond, 50*time.Millisecond)

	require.NoError(t, plane.Resume(context.Background()))
	assert.Eventually(t, func() bool { return runner.doneCount() == 1 },
		3*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestSchedulerAppliesConcurrencyChanges(t *testing.T) {
	q := &memQueue{}
	plane := &memPlane{concurrency: 1}
	runner := &countingRunner{gate: make(chan struct{}, 3)}
	s, err := NewScheduler(q, plane, runner, 4)
	require.NoError(t, err)

	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		require.NoError(t, q.Enqueue(context.Background(), queue.Envelope{DocID: id}))
	}

	s.Start()
	assert.Eventually(t, func() bool { return runner.startedCount() == 1 },
		3*time.Second, 20*time.Millisecond)
	// 期望并发度为 1，第一个任务没结束之前不应再派发
	assert.Never(t, func() bool { return runner.startedCount() > 1 },
		700*time.Millisecond, 50*time.Millisecond)

	// 调高并发度后，无需等第一个任务完成即可继续派发
	_, err = plane.SetConcurrency(context.Background(), 3, s.PoolSize())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return runner.startedCount() == 3 },
		3*time.Second, 20*time.Millisecond)

	runner.gate <- struct{}{}
	runner.gate <- struct{}{}
	runner.gate <- struct{}{}
	assert.Eventually(t, func() bool { return runner.doneCount() == 3 },
		3*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestSchedulerDiscardsMalformedMessages(t *testing.T) {
	q := &memQueue{errs: []error{queue.ErrMalformed}}
	runner := &countingRunner{}
	s, err := NewScheduler(q, &memPlane{concurrency: 2}, runner, 2)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(context.Background(), queue.Envelope{DocID: "doc-1"}))

	s.Start()
	assert.Eventually(t, func() bool { return runner.doneCount() == 1 },
		3*time.Second, 20*time.Millisecond)
	s.Stop()

	assert.Equal(t, []string{"doc-1"}, runner.docs)
}

func TestNewSchedulerClampsPoolSize(t *testing.T) {
	s, err := NewScheduler(&memQueue{}, &memPlane{}, &countingRunner{}, -1)
	require.NoError(t, err)
	assert.Equal(t, 8, s.PoolSize())
	s.pool.Release()

	s, err = NewScheduler(&memQueue{}, &memPlane{}, &countingRunner{}, 100)
	require.NoError(t, err)
	assert.Equal(t, 32, s.PoolSize())
	s.pool.Release()
}
