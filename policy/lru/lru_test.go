package lru

import (
	"testing"

	"github.com/IvanBrykalov/gallerycache/policy"
)

type entry struct {
	k string
	v int
}

func (e *entry) Key() string { return e.k }
func (e *entry) Value() *int { return &e.v }

type recorder struct {
	pushes, moves, removes int
	last                   policy.Node[string, int]
}

func (r *recorder) MoveToFront(n policy.Node[string, int]) { r.moves++; r.last = n }
func (r *recorder) PushFront(n policy.Node[string, int])   { r.pushes++; r.last = n }
func (r *recorder) Remove(n policy.Node[string, int])      { r.removes++; r.last = n }
func (r *recorder) Back() policy.Node[string, int]         { return nil }
func (r *recorder) Len() int                               { return 0 }

func TestLRU_Hooks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		call                   func(p policy.Instance[string, int], n policy.Node[string, int])
		pushes, moves, removes int
	}{
		{"add pushes front", func(p policy.Instance[string, int], n policy.Node[string, int]) {
			if v := p.OnAdd(n); v != nil {
				t.Errorf("LRU must not nominate on add, got %v", v)
			}
		}, 1, 0, 0},
		{"get promotes", func(p policy.Instance[string, int], n policy.Node[string, int]) { p.OnGet(n) }, 0, 1, 0},
		{"update promotes", func(p policy.Instance[string, int], n policy.Node[string, int]) { p.OnUpdate(n) }, 0, 1, 0},
		{"remove is silent", func(p policy.Instance[string, int], n policy.Node[string, int]) { p.OnRemove(n) }, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			n := &entry{k: "thumb", v: 1}
			tt.call(New[string, int]().Bind(r), n)
			if r.pushes != tt.pushes || r.moves != tt.moves || r.removes != tt.removes {
				t.Fatalf("hooks: push=%d move=%d remove=%d, want %d/%d/%d",
					r.pushes, r.moves, r.removes, tt.pushes, tt.moves, tt.removes)
			}
			if tt.pushes+tt.moves > 0 && r.last != n {
				t.Fatal("hook must receive the node")
			}
		})
	}
}
