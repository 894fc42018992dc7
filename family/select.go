package family

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
)

type Requirements struct {
	Extensions []string
	Timelines  bool
	Subgroups  bool
}

type Selection struct {
	Device   gpu.PhysicalDevice
	Families Map
	Combined Family
	Transfer Family
}

func (s *Selection) Indices() Indices {
	return Indices{Combined: s.Combined.Index, Transfer: s.Transfer.Index}
}

// QueueFamilies lists the distinct families a logical device must create queues for.
func (s *Selection) QueueFamilies() []int {
	if s.Combined.Index == s.Transfer.Index {
		return []int{s.Combined.Index}
	}
	return []int{s.Combined.Index, s.Transfer.Index}
}

type options struct {
	logger *slog.Logger
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Select returns the first candidate that meets req. There is no scoring.
// A driver failure while querying a candidate ends the search.
func Select(candidates []gpu.PhysicalDevice, req Requirements, opts ...Option) (*Selection, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var rejections error
	for _, pd := range candidates {
		selection, err := qualify(pd, req)
		if gpu.KindOf(err) == gpu.KindDriver {
			return nil, errors.Wrapf(err, "query %s", pd.Name())
		}
		if err != nil {
			o.logger.Info("rejected physical device", "name", pd.Name(), "reason", err)
			rejections = errors.CombineErrors(rejections, errors.Wrapf(err, "%s", pd.Name()))
			continue
		}

		o.logger.Info("selected physical device",
			"name", pd.Name(),
			"families", selection.Families,
			"combined", selection.Combined.Index,
			"transfer", selection.Transfer.Index,
		)
		return selection, nil
	}

	if rejections == nil {
		return nil, errors.Wrap(gpu.ErrNoSuitableDevice, "no physical devices")
	}
	return nil, errors.Mark(errors.Wrap(rejections, "no physical device qualifies"), gpu.ErrNoSuitableDevice)
}

func qualify(pd gpu.PhysicalDevice, req Requirements) (*Selection, error) {
	available, err := pd.Extensions()
	if err != nil {
		return nil, gpu.Wrap(err, "enumerate extensions")
	}
	for _, name := range req.Extensions {
		if _, ok := available[name]; !ok {
			return nil, errors.Wrapf(gpu.ErrMissingExtension, "%s", name)
		}
	}

	features := pd.Features()
	if req.Timelines && !features.TimelineSemaphore {
		return nil, errors.Wrap(gpu.ErrMissingFeature, "timeline semaphores")
	}
	if req.Subgroups && !features.SubgroupOperations {
		return nil, errors.Wrap(gpu.ErrMissingFeature, "subgroup operations")
	}

	families, err := Classify(pd)
	if err != nil {
		return nil, err
	}

	combined, err := families.Lookup(Combined)
	if err != nil {
		return nil, err
	}
	transfer, err := families.Lookup(DedicatedTransfer)
	if err != nil {
		return nil, err
	}

	return &Selection{
		Device:   pd,
		Families: families,
		Combined: combined,
		Transfer: transfer,
	}, nil
}
