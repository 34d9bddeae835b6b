package cache

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Concurrent Set/Get/Delete/Evict on random keys; run with -race.
func TestRace_MixedWorkload(t *testing.T) {
	var released atomic.Int64
	c := New[string, int](Options[string, int]{
		Capacity: 512,
		OnEvict:  func(string, int, EvictReason) { released.Add(1) },
		Same:     func(a, b int) bool { return a == b },
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	deadline := time.Now().Add(500 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id) * 9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(5000))
				switch r.Intn(100) {
				case 0, 1, 2:
					c.Delete(k)
				case 3:
					c.Evict(4)
				case 4, 5, 6, 7, 8, 9, 10, 11, 12, 13:
					c.Set(k, 1)
				default:
					c.Get(k)
				}
				if c.Len() > c.Cap() {
					t.Errorf("Len %d > Cap %d", c.Len(), c.Cap())
					return
				}
			}
		}(w)
	}
	wg.Wait()

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
	if released.Load() == 0 {
		t.Fatal("expected evictions under churn")
	}
}
