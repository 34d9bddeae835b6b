package cache

import (
	"strings"
	"testing"
)

// Arbitrary keys and values must keep the basic contract: a Set is
// readable, the callback count matches removals, Len never exceeds Cap.
func FuzzCache_SetGetDelete(f *testing.F) {
	f.Add("", "", uint8(1))
	f.Add("https://img/a.jpg", "blob:1", uint8(3))
	f.Add("αβγ", "δ", uint8(2))
	f.Add("long", strings.Repeat("x", 1024), uint8(8))

	f.Fuzz(func(t *testing.T, k, v string, capacity uint8) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}
		capN := int(capacity%16) + 1

		removed := 0
		c := New[string, string](Options[string, string]{
			Capacity: capN,
			OnEvict:  func(string, string, EvictReason) { removed++ },
		})

		c.Set(k, v)
		if got, ok := c.Get(k); !ok || got != v {
			t.Fatalf("Set/Get: want %q, got %q ok=%v", v, got, ok)
		}

		for i := 0; i < capN+3; i++ {
			c.Set(k+strings.Repeat("#", i+1), v)
			if c.Len() > capN {
				t.Fatalf("Len %d > Cap %d", c.Len(), capN)
			}
		}

		before := c.Len()
		total := removed
		c.Clear()
		if removed-total != before {
			t.Fatalf("Clear reported %d callbacks for %d entries", removed-total, before)
		}
	})
}
