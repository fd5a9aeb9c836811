package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	executed := false
	result, err := cq.Enqueue("test", func(ctx context.Context) (any, error) {
		executed = true
		return "result", nil
	}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.True(t, executed)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue("test", func(ctx context.Context) (any, error) {
		return nil, expectedErr
	}, nil)

	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)
}

func TestCommandQueue_FIFOWithinLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	// Block the lane so the following tasks queue up in a known order.
	release := make(chan struct{})
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cq.Enqueue("session:a", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue("session:a", func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		require.Eventually(t, func() bool { return cq.GetQueueSize("session:a") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for _, lane := range []string{"lane1", "lane2", "lane3"} {
		lane := lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(lane, func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.Greater(t, atomic.LoadInt32(&peak), int32(1), "lanes should overlap")
}

func TestCommandQueue_CallerCancellation(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("busy", func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount("busy") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cq.EnqueueWithContext(ctx, "busy", func(ctx context.Context) (any, error) {
		return "late", ctx.Err()
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.True(t, cq.WaitForActive(time.Second))
}

func TestCommandQueue_SetConcurrency(t *testing.T) {
	cq := New()
	defer cq.Close()

	cq.SetConcurrency("whatsapp", 3)
	cq.SetConcurrency("zero", 0)

	stats := cq.GetStats()
	assert.Equal(t, 3, stats["whatsapp"].Concurrency)
	assert.Equal(t, 1, stats["zero"].Concurrency)
}

func TestCommandQueue_DefaultLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue("", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	require.NoError(t, err)
	assert.Contains(t, cq.GetStats(), DefaultLane)
}

func TestCommandQueue_WarnAfter(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue("slow", func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}, nil)
	}()
	require.Eventually(t, func() bool { return cq.GetRunningCount("slow") == 1 }, time.Second, time.Millisecond)

	waited := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = cq.Enqueue("slow", func(ctx context.Context) (any, error) { return nil, nil }, &TaskOptions{
			WarnAfter: 10 * time.Millisecond,
			OnWait:    func(_ time.Duration, pos int) { waited <- pos },
		})
	}()

	select {
	case pos := <-waited:
		assert.Equal(t, 0, pos)
	case <-time.After(time.Second):
		t.Fatal("OnWait was not called")
	}
	close(release)
	<-done
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	var sawCancel atomic.Bool
	go func() {
		_, _ = cq.Enqueue("long", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil, ctx.Err()
		}, nil)
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.True(t, sawCancel.Load())

	_, err := cq.Enqueue("long", func(ctx context.Context) (any, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandQueue_Events(t *testing.T) {
	queue := New()
	defer queue.Close()

	var (
		mu     sync.Mutex
		events []Event
	)
	queue.On(func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	_, err := queue.Enqueue("test", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, nil)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "enqueued", events[0].Type)
	assert.Equal(t, "completed", events[1].Type)
	assert.Equal(t, events[0].TaskID, events[1].TaskID)
	assert.EqualError(t, events[1].Err, "boom")
}
