package provisioner

import (
	"context"

	"github.com/bosun-ci/bosun/machine"
)

// FixedSpec ties an engine to the one spec a pool scales with. Each
// Provision call declares and launches exactly one instance; the engine's
// resolver cache is shared across calls.
type FixedSpec struct {
	engine *Engine
	spec   machine.Spec
}

func NewFixedSpec(engine *Engine, spec machine.Spec) (*FixedSpec, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &FixedSpec{engine: engine, spec: spec}, nil
}

func (f *FixedSpec) Provision(ctx context.Context) error {
	if err := f.engine.Declare(f.spec); err != nil {
		return err
	}
	return f.engine.Provision(ctx)
}
