package resource

import (
	"sort"

	"github.com/google/uuid"
)

type Kind string

const (
	KindBuffer Kind = "buffer"
	KindImage  Kind = "image"
)

type Entry struct {
	ID   uuid.UUID
	Kind Kind
	Name string
	Size int

	seq int
}

// Registry tracks live resources by ID.
type Registry struct {
	entries map[uuid.UUID]Entry
	seq     int
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uuid.UUID]Entry)}
}

func (r *Registry) add(kind Kind, name string, size int) uuid.UUID {
	id := uuid.New()
	r.seq++
	r.entries[id] = Entry{ID: id, Kind: kind, Name: name, Size: size, seq: r.seq}
	return id
}

func (r *Registry) remove(id uuid.UUID) bool {
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Entries returns live resources in creation order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
