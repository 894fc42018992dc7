// Package family classifies queue families by capability and selects a
// physical device that exposes the families the engine needs.
package family

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Key is the capability set of a queue family.
type Key struct {
	Graphics bool
	Present  bool
	Transfer bool
	Compute  bool
}

var (
	// Combined can do everything, and owns resources after the ownership handshake.
	Combined = Key{Graphics: true, Present: true, Transfer: true, Compute: true}
	// DedicatedTransfer does transfer and nothing else.
	DedicatedTransfer = Key{Transfer: true}
)

func (k Key) String() string {
	var parts []string
	if k.Graphics {
		parts = append(parts, "graphics")
	}
	if k.Present {
		parts = append(parts, "present")
	}
	if k.Transfer {
		parts = append(parts, "transfer")
	}
	if k.Compute {
		parts = append(parts, "compute")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

type Family struct {
	Index      int
	Properties gpu.QueueFamilyProperties
}

// Map holds the lowest-indexed family for each capability set a device exposes.
type Map map[Key]Family

func (m Map) Lookup(key Key) (Family, error) {
	f, ok := m[key]
	if !ok {
		return Family{}, errors.Wrapf(gpu.ErrMissingQueueFamily, "no family with capabilities %s", key)
	}
	return f, nil
}

func (m Map) LogValue() slog.Value {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]].Index < m[keys[j]].Index })

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Int(k.String(), m[k].Index))
	}
	return slog.GroupValue(attrs...)
}

// Indices are the two family indices every component needs.
type Indices struct {
	Combined int
	Transfer int
}

func (i Indices) String() string {
	return fmt.Sprintf("combined=%d transfer=%d", i.Combined, i.Transfer)
}

// Classify derives a Key for every family with at least one queue.
func Classify(pd gpu.PhysicalDevice) (Map, error) {
	m := make(Map)
	for index, props := range pd.QueueFamilies() {
		if props.QueueCount == 0 {
			continue
		}

		present, err := pd.SurfaceSupport(index)
		if err != nil {
			return nil, gpu.Wrap(err, "surface support for family %d of %s", index, pd.Name())
		}

		key := Key{
			Graphics: props.Flags&core1_0.QueueGraphics != 0,
			Present:  present,
			Transfer: props.Flags&core1_0.QueueTransfer != 0,
			Compute:  props.Flags&core1_0.QueueCompute != 0,
		}

		if _, seen := m[key]; !seen {
			m[key] = Family{Index: index, Properties: props}
		}
	}
	return m, nil
}
