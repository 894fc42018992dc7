package vkng

import "github.com/cockroachdb/errors"

// table hands out port handles for driver objects. Handle 0 is never used.
type table[K ~uint64, V any] struct {
	kind    string
	next    K
	entries map[K]V
}

func newTable[K ~uint64, V any](kind string) *table[K, V] {
	return &table[K, V]{kind: kind, entries: make(map[K]V)}
}

func (t *table[K, V]) add(v V) K {
	t.next++
	t.entries[t.next] = v
	return t.next
}

func (t *table[K, V]) get(k K) (V, error) {
	v, ok := t.entries[k]
	if !ok {
		var zero V
		return zero, errors.AssertionFailedf("unknown %s handle %d", t.kind, k)
	}
	return v, nil
}

func (t *table[K, V]) must(k K) V {
	v, err := t.get(k)
	if err != nil {
		panic(err)
	}
	return v
}

func (t *table[K, V]) remove(k K) (V, bool) {
	v, ok := t.entries[k]
	delete(t.entries, k)
	return v, ok
}

func (t *table[K, V]) len() int {
	return len(t.entries)
}
