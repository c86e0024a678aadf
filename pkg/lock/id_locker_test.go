package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithLockSerializesPerId(t *testing.T) {
	locker := NewIdLocker()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock("same-id", func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestDifferentIdsDoNotBlockEachOther(t *testing.T) {
	locker := NewIdLocker()

	locker.AcquireLock("a")

	done := make(chan struct{})
	go func() {
		locker.AcquireLock("b")
		locker.ReleaseLock("b")
		close(done)
	}()

	<-done
	locker.ReleaseLock("a")
}
