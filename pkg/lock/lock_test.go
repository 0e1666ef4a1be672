package lock_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/memento/pkg/lock"
)

func testMutualExclusion(t *testing.T, locker lock.Locker, key string) {
	ctx := context.Background()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, key)
			gt.NoError(t, err)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	gt.Equal(t, atomic.LoadInt32(&maxActive), int32(1))
}

func TestLocalMutualExclusion(t *testing.T) {
	l := lock.NewLocal()
	testMutualExclusion(t, l, "user-1")
	gt.Equal(t, l.Size(), 0)
}

func TestLocalIndependentKeys(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	unlockA, err := l.Lock(ctx, "a")
	gt.NoError(t, err)
	defer unlockA()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx2, "b")
	gt.NoError(t, err)
	unlockB()
}

func TestLocalContextCancel(t *testing.T) {
	ctx := context.Background()
	l := lock.NewLocal()

	unlock, err := l.Lock(ctx, "a")
	gt.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "a")
	gt.Error(t, err)

	unlock()
	unlock()
	gt.Equal(t, l.Size(), 0)

	unlock, err = l.Lock(ctx, "a")
	gt.NoError(t, err)
	unlock()
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	locker, err := lock.NewRedis(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 0,
		lock.WithLeaseTTL(5*time.Second),
		lock.WithRetryInterval(5*time.Millisecond),
		lock.WithKeyPrefix("memento-test:"))
	gt.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	key := "user-" + uuid.NewString()
	testMutualExclusion(t, locker, key)

	t.Run("wait is bounded by context", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, key)
		gt.NoError(t, err)
		defer unlock()

		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(waitCtx, key)
		gt.Error(t, err)
	})

	t.Run("expired lease is taken over", func(t *testing.T) {
		short, err := lock.NewRedis(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 0,
			lock.WithLeaseTTL(50*time.Millisecond),
			lock.WithRetryInterval(5*time.Millisecond),
			lock.WithKeyPrefix("memento-test:"))
		gt.NoError(t, err)
		defer short.Close()

		expiredKey := "user-" + uuid.NewString()
		staleUnlock, err := short.Lock(ctx, expiredKey)
		gt.NoError(t, err)

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		unlock, err := short.Lock(waitCtx, expiredKey)
		gt.NoError(t, err)

		// releasing the stale lease must not drop the new holder's lock
		staleUnlock()
		busyCtx, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel2()
		_, err = locker.Lock(busyCtx, expiredKey)
		gt.Error(t, err)
		unlock()
	})
}
