// Package worker 提供单 goroutine 的 FIFO 任务队列。
//
// 引擎把所有阻塞操作提交到同一个队列，提交顺序即执行顺序，
// 调用方通过 Future 等待结果。
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/iabetor/pivox/internal/logger"
)

// ErrClosed 表示队列已关闭，不再接受新任务。
var ErrClosed = errors.New("worker queue closed")

// PanicError 包装任务中恢复的 panic。
type PanicError struct {
	Job   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("任务 %s panic: %v", e.Job, e.Value)
}

type job struct {
	id   string
	name string
	ctx  context.Context
	run  func(ctx context.Context)
}

// Queue 是串行任务队列。等待的任务保存在切片里，工作 goroutine 在条件变量上等待。
type Queue struct {
	name string
	log  *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []*job
	running string
	closed  bool
	done    chan struct{}
}

// New 创建队列并启动工作 goroutine。
func New(name string) *Queue {
	q := &Queue{
		name: name,
		log:  logger.Named("worker." + name),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.running = j.name
		q.mu.Unlock()

		q.execute(j)

		q.mu.Lock()
		q.running = ""
		q.mu.Unlock()
	}
}

func (q *Queue) execute(j *job) {
	q.log.Debugf("[worker] 开始任务: %s id=%s", j.name, j.id)
	j.run(j.ctx)
}

func (q *Queue) enqueue(j *job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.jobs = append(q.jobs, j)
	q.cond.Signal()
	return nil
}

// Pending 返回排队中（不含正在执行）的任务数。
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Running 返回正在执行的任务名，空闲时为空字符串。
func (q *Queue) Running() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Close 停止接受新任务，等待已排队的任务执行完毕。重复调用无副作用。
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	q.mu.Unlock()
	<-q.done
}

// Future 是异步任务的结果。
type Future[T any] struct {
	id   string
	name string
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any](name string) *Future[T] {
	return &Future[T]{id: xid.New().String(), name: name, done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// ID 返回任务 id。
func (f *Future[T]) ID() string { return f.id }

// Name 返回任务名。
func (f *Future[T]) Name() string { return f.name }

// Done 在任务完成时关闭。
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await 等待任务完成或 ctx 结束。ctx 结束不会中断正在执行的任务。
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait 阻塞直到任务完成。
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Submit 把 fn 放入队列末尾。队列已关闭时返回的 Future 立即以 ErrClosed 完成。
//
// 入队后的任务一定会执行：ctx 的取消只结束调用方的 Await，不会撤回任务，
// 后续任务依赖它的效果。fn 收到的 ctx 保留 ctx 的值但不再被取消。
func Submit[T any](ctx context.Context, q *Queue, name string, fn func(ctx context.Context) (T, error)) *Future[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFuture[T](name)
	j := &job{
		id:   f.id,
		name: name,
		ctx:  context.WithoutCancel(ctx),
	}
	j.run = func(ctx context.Context) {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				q.log.Errorf("[worker] 任务 panic: %s id=%s: %v", name, f.id, r)
				var zero T
				v, err = zero, &PanicError{Job: name, Value: r, Stack: debug.Stack()}
			}
			f.resolve(v, err)
		}()
		v, err = fn(ctx)
	}
	if err := q.enqueue(j); err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}

// Do 提交任务并等待结果。
func Do[T any](ctx context.Context, q *Queue, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return Submit(ctx, q, name, fn).Await(ctx)
}

// Resolved 返回已经完成的 Future，用于提交前就能确定结果的调用。
func Resolved[T any](v T, err error) *Future[T] {
	f := newFuture[T]("resolved")
	f.resolve(v, err)
	return f
}

// Then 返回在 f 完成后对结果应用 fn 的 Future。f 失败时 fn 不会被调用。
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	g := &Future[U]{id: f.id, name: f.name, done: make(chan struct{})}
	go func() {
		v, err := f.Wait()
		if err != nil {
			var zero U
			g.resolve(zero, err)
			return
		}
		g.resolve(fn(v))
	}()
	return g
}
