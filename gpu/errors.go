package gpu

import (
	"github.com/cockroachdb/errors"
)

// Error categories. Every error the engine returns carries at most one of them.
var (
	ErrCapability = errors.New("capability")
	ErrDriver     = errors.New("driver")
	ErrResource   = errors.New("resource")
	ErrTransient  = errors.New("transient")
)

var (
	ErrNoSuitableDevice   = errors.Mark(errors.New("no suitable physical device"), ErrCapability)
	ErrMissingQueueFamily = errors.Mark(errors.New("missing queue family"), ErrCapability)
	ErrMissingExtension   = errors.Mark(errors.New("missing device extension"), ErrCapability)
	ErrMissingFeature     = errors.Mark(errors.New("missing device feature"), ErrCapability)

	ErrNoSuitableMemoryType = errors.Mark(errors.New("no suitable memory type"), ErrResource)
	ErrUnsupportedFormat    = errors.Mark(errors.New("unsupported image format"), ErrResource)

	ErrSurfaceOutOfDate = errors.Mark(errors.New("surface out of date"), ErrTransient)
)

type Kind int

const (
	KindUnknown Kind = iota
	KindCapability
	KindDriver
	KindResource
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindCapability:
		return "capability"
	case KindDriver:
		return "driver"
	case KindResource:
		return "resource"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// KindOf reports the category err was marked with.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrCapability):
		return KindCapability
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrDriver):
		return KindDriver
	default:
		return KindUnknown
	}
}

// Wrap annotates a failed device call. Errors without a category are marked
// as driver errors.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrapf(err, format, args...)
	if KindOf(err) == KindUnknown {
		return errors.Mark(wrapped, ErrDriver)
	}
	return wrapped
}
