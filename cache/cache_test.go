package cache

import (
	"fmt"
	"testing"

	"github.com/IvanBrykalov/gallerycache/policy/twoq"
)

type evicted struct {
	key    string
	val    int
	reason EvictReason
}

func recording(capacity int) (Cache[string, int], *[]evicted) {
	var log []evicted
	c := New[string, int](Options[string, int]{
		Name:     "test",
		Capacity: capacity,
		OnEvict: func(k string, v int, r EvictReason) {
			log = append(log, evicted{k, v, r})
		},
	})
	return c, &log
}

func keys(c Cache[string, int]) []string {
	var out []string
	c.Range(func(k string, _ int) bool {
		out = append(out, k)
		return true
	})
	return out
}

func TestNew_ZeroCapacityPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r != ErrCapacityExhausted {
			t.Fatalf("want panic %v, got %v", ErrCapacityExhausted, r)
		}
	}()
	New[string, int](Options[string, int]{})
}

// capacity 3: A,B,C,D evicts A; Get(B) then E evicts C.
func TestCache_LRUScenario(t *testing.T) {
	t.Parallel()

	c, log := recording(3)
	for i, k := range []string{"A", "B", "C", "D"} {
		c.Set(k, i)
	}
	if len(*log) != 1 || (*log)[0].key != "A" || (*log)[0].reason != EvictCapacity {
		t.Fatalf("D must evict A, got %+v", *log)
	}

	if _, ok := c.Get("B"); !ok {
		t.Fatal("B must be present")
	}
	c.Set("E", 4)
	if len(*log) != 2 || (*log)[1].key != "C" {
		t.Fatalf("E must evict C, got %+v", *log)
	}
	if !c.Has("B") || c.Has("C") {
		t.Fatal("B must survive and C must be gone")
	}
}

func TestCache_RoundTripNoEviction(t *testing.T) {
	t.Parallel()

	c, log := recording(2)
	c.Set("a", 7)
	if v, ok := c.Get("a"); !ok || v != 7 {
		t.Fatalf("want 7, got %v ok=%v", v, ok)
	}
	if len(*log) != 0 {
		t.Fatalf("no eviction expected, got %+v", *log)
	}
}

func TestCache_HasDoesNotPromote(t *testing.T) {
	t.Parallel()

	c, log := recording(2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Has("a")
	c.Set("c", 3)
	if (*log)[0].key != "a" {
		t.Fatalf("Has must not promote; want a evicted, got %+v", *log)
	}
}

func TestCache_DeleteInvokesCallback(t *testing.T) {
	t.Parallel()

	c, log := recording(4)
	c.Set("a", 1)
	if !c.Delete("a") {
		t.Fatal("Delete must report the removal")
	}
	if c.Delete("a") {
		t.Fatal("second Delete must be false")
	}
	if len(*log) != 1 || (*log)[0].reason != EvictDeleted {
		t.Fatalf("want one deleted callback, got %+v", *log)
	}
}

func TestCache_EvictN(t *testing.T) {
	t.Parallel()

	c, log := recording(10)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprint(i), i)
	}
	c.Get("0")

	if got := c.Evict(2); got != 2 {
		t.Fatalf("Evict(2) = %d", got)
	}
	if (*log)[0].key != "1" || (*log)[1].key != "2" {
		t.Fatalf("forced eviction must take LRU first, got %+v", *log)
	}
	for _, e := range *log {
		if e.reason != EvictForced {
			t.Fatalf("want forced, got %v", e.reason)
		}
	}
	if got := c.Evict(100); got != 3 {
		t.Fatalf("Evict beyond Len must stop at Len, got %d", got)
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d", c.Len())
	}
}

func TestCache_ClearCallsOncePerEntry(t *testing.T) {
	t.Parallel()

	c, log := recording(8)
	for i := 0; i < 6; i++ {
		c.Set(fmt.Sprint(i), i)
	}
	if got := c.Clear(); got != 6 {
		t.Fatalf("Clear = %d", got)
	}
	seen := map[string]int{}
	for _, e := range *log {
		seen[e.key]++
	}
	if len(seen) != 6 {
		t.Fatalf("want 6 distinct callbacks, got %v", seen)
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("%s evicted %d times", k, n)
		}
	}
}

func TestCache_OverwriteReportsReplaced(t *testing.T) {
	t.Parallel()

	c, log := recording(2)
	c.Set("a", 1)
	c.Set("a", 2)
	if len(*log) != 1 || (*log)[0].val != 1 || (*log)[0].reason != EvictReplaced {
		t.Fatalf("want old value reported as replaced, got %+v", *log)
	}
	if c.Len() != 1 {
		t.Fatalf("overwrite must not grow the cache")
	}
}

func TestCache_SameSuppressesReplaced(t *testing.T) {
	t.Parallel()

	calls := 0
	c := New[string, int](Options[string, int]{
		Capacity: 2,
		Same:     func(a, b int) bool { return a == b },
		OnEvict:  func(string, int, EvictReason) { calls++ },
	})
	c.Set("a", 1)
	c.Set("a", 1)
	if calls != 0 {
		t.Fatalf("re-storing the same value must not evict it, got %d calls", calls)
	}
}

func TestCache_PanickingCallbackDoesNotAbortClear(t *testing.T) {
	t.Parallel()

	var seen []string
	c := New[string, int](Options[string, int]{
		Capacity: 4,
		OnEvict: func(k string, _ int, _ EvictReason) {
			seen = append(seen, k)
			if k == "b" {
				panic("release failed")
			}
		},
	})
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, 0)
	}
	if got := c.Clear(); got != 3 {
		t.Fatalf("Clear = %d", got)
	}
	if len(seen) != 3 {
		t.Fatalf("every entry must reach the callback, got %v", seen)
	}
}

func TestCache_CostLimit(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{
		Capacity: 100,
		Cost:     func(v []byte) int64 { return int64(len(v)) },
		MaxCost:  10,
	})
	c.Set("a", make([]byte, 6))
	c.Set("b", make([]byte, 6))
	if c.Has("a") {
		t.Fatal("a must be evicted to fit MaxCost")
	}
	if c.Cost() != 6 {
		t.Fatalf("Cost = %d", c.Cost())
	}
}

func TestCache_RangeIsMRUFirst(t *testing.T) {
	t.Parallel()

	c, _ := recording(3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a")
	got := fmt.Sprint(keys(c))
	if got != "[a c b]" {
		t.Fatalf("Range order = %s", got)
	}
}

func TestCache_CloseClearsAndRejectsWrites(t *testing.T) {
	t.Parallel()

	c, log := recording(3)
	c.Set("a", 1)
	_ = c.Close()
	if len(*log) != 1 || (*log)[0].reason != EvictCleared {
		t.Fatalf("Close must clear, got %+v", *log)
	}
	c.Set("b", 2)
	if c.Len() != 0 {
		t.Fatal("writes after Close must be ignored")
	}
	if len(*log) != 2 || (*log)[1].key != "b" {
		t.Fatalf("a rejected write must be returned through OnEvict, got %+v", *log)
	}
}

func TestCache_TwoQResistsScan(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		Capacity: 4,
		Policy:   twoq.New[string, int](1, 4),
	})
	c.Set("hot", 0)
	c.Get("hot")
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprint("scan", i), i)
	}
	if !c.Has("hot") {
		t.Fatal("an entry hit twice must survive a one-shot scan under 2Q")
	}
	if c.Len() > c.Cap() {
		t.Fatalf("Len %d exceeds Cap %d", c.Len(), c.Cap())
	}
}
