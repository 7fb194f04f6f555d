package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// waitCalls 等待计数达到期望值（处理器是异步执行的）
func waitCalls(t *testing.T, c *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Load() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("calls = %d, want %d", c.Load(), want)
}

func TestSubscribeAccumulates(t *testing.T) {
	d := New(zap.NewNop())
	var calls atomic.Int64
	fn := func(ctx context.Context, del Delivery) error {
		calls.Add(1)
		return nil
	}
	d.SubscribeFunc("hanqi/gateway/+/report", "h1", fn)
	d.SubscribeFunc("hanqi/gateway/+/report", "h2", fn)

	n := d.Dispatch(context.Background(), "hanqi/gateway/GW1/report", []byte("{}"), "GW1")
	assert.Equal(t, 2, n)
	waitCalls(t, &calls, 2)
	assert.Equal(t, []string{"hanqi/gateway/+/report"}, d.Patterns())
}

func TestDispatchWildcardFanOut(t *testing.T) {
	d := New(zap.NewNop())
	var mu sync.Mutex
	var got []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, del Delivery) error {
			mu.Lock()
			got = append(got, name+":"+del.Topic+":"+del.ClientID)
			mu.Unlock()
			return nil
		}
	}
	d.SubscribeFunc("hanqi/gateway/+/report", "report", record("report"))
	d.SubscribeFunc("hanqi/gateway/+/ota/report", "ota", record("ota"))
	d.SubscribeFunc("hanqi/#", "audit", record("audit"))

	n := d.Dispatch(context.Background(), "hanqi/gateway/GW1/report", []byte("{}"), "GW1")
	assert.Equal(t, 2, n) // report + audit，ota模式不命中

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := len(got) == 2
		mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Contains(t, got, "report:hanqi/gateway/GW1/report:GW1")
	assert.Contains(t, got, "audit:hanqi/gateway/GW1/report:GW1")
}

// 单个处理器panic或报错不得拖垮同消息的其他处理器
func TestHandlerFailureIsolation(t *testing.T) {
	d := New(zap.NewNop())
	var errCount atomic.Int64
	d.SetCounters(nil, func(pattern string) { errCount.Add(1) })

	var okCalls atomic.Int64
	d.SubscribeFunc("t/+", "panics", func(ctx context.Context, del Delivery) error {
		panic("boom")
	})
	d.SubscribeFunc("t/+", "fails", func(ctx context.Context, del Delivery) error {
		return errors.New("handler failed")
	})
	d.SubscribeFunc("t/+", "works", func(ctx context.Context, del Delivery) error {
		okCalls.Add(1)
		return nil
	})

	n := d.Dispatch(context.Background(), "t/x", nil, "c1")
	assert.Equal(t, 3, n)
	waitCalls(t, &okCalls, 1)
	waitCalls(t, &errCount, 2)
}

func TestDispatchNoMatch(t *testing.T) {
	d := New(zap.NewNop())
	d.SubscribeFunc("a/b", "h", func(ctx context.Context, del Delivery) error { return nil })
	var matchedSeen atomic.Int64
	d.SetCounters(func(matched int) { matchedSeen.Store(int64(matched)) }, nil)

	n := d.Dispatch(context.Background(), "x/y", nil, "c")
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), matchedSeen.Load())
}

// 并发订阅与分发下路由表不被破坏（-race 保障）
func TestConcurrentSubscribeDispatch(t *testing.T) {
	d := New(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.SubscribeFunc("c/+", "h", func(ctx context.Context, del Delivery) error { return nil })
		}()
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), "c/1", nil, "c")
		}()
	}
	wg.Wait()
}
