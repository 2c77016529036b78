package model

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Predictor compiles a Model's operations for a backend and runs them on
// named tensors. Unlike Model, it checks the supplied names against the
// declared input lists and reports failures as errors.
type Predictor struct {
	model *Model

	predictExec   *context.Exec
	costExec      *context.Exec
	representExec *context.Exec
}

// NewPredictor prepares the executors. Graphs are built lazily on first use
// and again for every new input shape.
func NewPredictor(backend backends.Backend, m *Model) (*Predictor, error) {
	predictNames := m.Inputs()
	costNames := m.CostInputs()
	prefixNames := m.PrefixEncoder().Inputs()

	p := &Predictor{model: m}
	var err error
	p.predictExec, err = context.NewExec(backend, m.Context(), func(_ *context.Context, inputs []*graph.Node) *graph.Node {
		return m.Predict(m.predictInputsFrom(named(predictNames, inputs)))
	})
	if err != nil {
		return nil, fmt.Errorf("predict exec: %w", err)
	}
	p.costExec, err = context.NewExec(backend, m.Context(), func(_ *context.Context, inputs []*graph.Node) *graph.Node {
		return m.Cost(m.costInputsFrom(named(costNames, inputs)))
	})
	if err != nil {
		return nil, fmt.Errorf("cost exec: %w", err)
	}
	p.representExec, err = context.NewExec(backend, m.Context(), func(_ *context.Context, inputs []*graph.Node) *graph.Node {
		return m.RepresentPrefix(trajectoryFrom(named(prefixNames, inputs), "", m.PrefixEncoder().ContextInputs()))
	})
	if err != nil {
		return nil, fmt.Errorf("represent exec: %w", err)
	}
	return p, nil
}

// NewBackend returns the backend selected by config, formatted
// "<backend>:<options>" (e.g. "go:parallelism=-1"). An empty config defers to
// $GOMLX_BACKEND and then to the first registered backend.
func NewBackend(config string) (backends.Backend, error) {
	var (
		backend backends.Backend
		newErr  error
	)
	err := exceptions.TryCatch[error](func() {
		if config == "" {
			backend, newErr = backends.New()
			return
		}
		backend, newErr = backends.NewWithConfig(config)
	})
	if err == nil {
		err = newErr
	}
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", config, err)
	}
	return backend, nil
}

// Model returns the wrapped model.
func (p *Predictor) Model() *Model { return p.model }

// Predict returns one (latitude, longitude) per prefix. inputs must hold
// every name in Model.Inputs.
func (p *Predictor) Predict(inputs map[string]*tensors.Tensor) ([][2]float32, error) {
	out, err := p.call(p.predictExec, p.model.Inputs(), inputs)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	rows, ok := out.Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("predict: unexpected output %s", out.Shape())
	}
	preds := make([][2]float32, len(rows))
	for i, r := range rows {
		preds[i] = [2]float32{r[0], r[1]}
	}
	return preds, nil
}

// Cost returns the batch-mean error in kilometers. inputs must hold every
// name in Model.CostInputs.
func (p *Predictor) Cost(inputs map[string]*tensors.Tensor) (float32, error) {
	out, err := p.call(p.costExec, p.model.CostInputs(), inputs)
	if err != nil {
		return 0, fmt.Errorf("cost: %w", err)
	}
	v, ok := out.Value().(float32)
	if !ok {
		return 0, fmt.Errorf("cost: unexpected output %s", out.Shape())
	}
	return v, nil
}

// Represent returns the prefix encoder's representations.
func (p *Predictor) Represent(inputs map[string]*tensors.Tensor) ([][]float32, error) {
	out, err := p.call(p.representExec, p.model.PrefixEncoder().Inputs(), inputs)
	if err != nil {
		return nil, fmt.Errorf("represent: %w", err)
	}
	rows, ok := out.Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("represent: unexpected output %s", out.Shape())
	}
	return rows, nil
}

func (p *Predictor) call(exec *context.Exec, names []string, inputs map[string]*tensors.Tensor) (*tensors.Tensor, error) {
	if err := requireAll(names, inputs); err != nil {
		return nil, err
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = inputs[n]
	}
	outs, err := exec.Exec(args...)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}
