package implementation

import (
	"context"
	"fmt"
	"slices"

	"github.com/xaionaro-go/avsession/logger"
	"github.com/xaionaro-go/avsession/types"
	"github.com/xaionaro-go/xsync"
)

// Registry is an ordered set of implementations.
type Registry struct {
	locker xsync.Mutex
	items  []Implementation
}

// Default is the registry implementations register themselves in (see
// the blank imports of implementation/soft and implementation/libav).
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an implementation. Registration order is the tie-breaker
// of selection.
func Register(impl Implementation) {
	if err := Default.Register(context.Background(), impl); err != nil {
		panic(err)
	}
}

func (r *Registry) Register(ctx context.Context, impl Implementation) error {
	name := impl.Description().Name
	return xsync.DoR1(ctx, &r.locker, func() error {
		for _, item := range r.items {
			if item.Description().Name == name {
				return fmt.Errorf("implementation %q is already registered", name)
			}
		}
		r.items = append(r.items, impl)
		return nil
	})
}

// All returns the registered implementations in registration order.
func (r *Registry) All(ctx context.Context) []Implementation {
	return xsync.DoR1(ctx, &r.locker, func() []Implementation {
		return slices.Clone(r.items)
	})
}

// Select validates the properties and picks the best matching
// implementation. Identical properties on an identical registry always
// give the same result. No device is opened.
func (r *Registry) Select(
	ctx context.Context,
	props Properties,
) (_ret Selector, _err error) {
	logger.Debugf(ctx, "Select: %#+v", props)
	defer func() { logger.Debugf(ctx, "/Select: %s %v", _ret, _err) }()
	if err := props.Validate(); err != nil {
		return Selector{}, err
	}
	props = props.Clone()

	type candidate struct {
		Implementation Implementation
		Description    Description
		Rank           int
	}
	var candidates []candidate
	for _, impl := range r.All(ctx) {
		desc := impl.Description()
		if err := props.match(desc); err != nil {
			logger.Debugf(ctx, "implementation %s does not match: %v", desc, err)
			continue
		}
		candidates = append(candidates, candidate{
			Implementation: impl,
			Description:    desc,
			Rank:           props.rank(desc.Type),
		})
	}
	if len(candidates) == 0 {
		return Selector{}, fmt.Errorf("%w: %+v", types.ErrNoMatchingImplementation, props)
	}
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return a.Rank - b.Rank
	})

	best := candidates[0]
	return Selector{
		implementation: best.Implementation,
		description:    best.Description,
		properties:     props,
	}, nil
}

// Select is Default.Select.
func Select(ctx context.Context, props Properties) (Selector, error) {
	return Default.Select(ctx, props)
}
