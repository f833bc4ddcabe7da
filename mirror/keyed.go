package mirror

import (
	"sort"
	"sync"
	"sync/atomic"
)

// keyed stores one snapshot per key. Each key owns an atomic pointer so that
// writers to different keys never contend and readers never lock.
type keyed[K comparable, V any] struct {
	m sync.Map // K -> *atomic.Pointer[Snapshot[V]]
}

func (s *keyed[K, V]) get(k K) (Snapshot[V], bool) {
	v, ok := s.m.Load(k)
	if !ok {
		return Snapshot[V]{}, false
	}
	cur := v.(*atomic.Pointer[Snapshot[V]]).Load()
	if cur == nil {
		return Snapshot[V]{}, false
	}
	return *cur, true
}

// put applies the monotonic-write guard: the snapshot replaces the stored one
// only if its watermark is not lower.
func (s *keyed[K, V]) put(k K, snap Snapshot[V]) bool {
	v, _ := s.m.LoadOrStore(k, new(atomic.Pointer[Snapshot[V]]))
	p := v.(*atomic.Pointer[Snapshot[V]])
	for {
		cur := p.Load()
		if cur != nil && cur.Watermark > snap.Watermark {
			return false
		}
		if p.CompareAndSwap(cur, &snap) {
			return true
		}
	}
}

func (s *keyed[K, V]) collect(match func(K) bool) []Snapshot[V] {
	var out []Snapshot[V]
	s.m.Range(func(k, v any) bool {
		if match != nil && !match(k.(K)) {
			return true
		}
		if cur := v.(*atomic.Pointer[Snapshot[V]]).Load(); cur != nil {
			out = append(out, *cur)
		}
		return true
	})
	return out
}

func (s *keyed[K, V]) remove(match func(K) bool) {
	s.m.Range(func(k, _ any) bool {
		if match == nil || match(k.(K)) {
			s.m.Delete(k)
		}
		return true
	})
}

func (s *keyed[K, V]) len() int {
	n := 0
	s.m.Range(func(_, v any) bool {
		if v.(*atomic.Pointer[Snapshot[V]]).Load() != nil {
			n++
		}
		return true
	})
	return n
}

func sortSnapshots[V any](s []Snapshot[V], less func(a, b V) bool) {
	sort.Slice(s, func(i, j int) bool { return less(s[i].Value, s[j].Value) })
}
