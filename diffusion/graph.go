package diffusion

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

// frozenGrad stands in for a parameter a graph does not use: its gradient is zero, so
// optimizer state stays aligned with the full parameter list. applyStep keeps its value
// fixed across the update.
type frozenGrad struct {
	v *tensor.Dense
}

func (f frozenGrad) Value() G.Value { return f.v }

func (f frozenGrad) Grad() (G.Value, error) {
	return tensor.New(tensor.Of(f.v.Dtype()), tensor.WithShape(f.v.Shape()...)), nil
}

// valueGrads lists every parameter in canonical order, using the bound node where the
// graph has one.
func valueGrads(p *unet.Params, m *unet.Model) []G.ValueGrad {
	all := p.All()
	out := make([]G.ValueGrad, 0, len(all))
	for _, prm := range all {
		if n, ok := m.Node(prm.Name); ok {
			out = append(out, n)
			continue
		}
		out = append(out, frozenGrad{v: prm.Value})
	}
	return out
}

// applyStep runs one solver update over grads and then puts back the value of every
// frozen entry. Adam moves a weight even on a zero gradient while its moments are
// nonzero, and a parameter the graph does not use must not move.
func applyStep(solver G.Solver, grads []G.ValueGrad) error {
	var held []*tensor.Dense
	for _, vg := range grads {
		if f, ok := vg.(frozenGrad); ok {
			held = append(held, f.v.Clone().(*tensor.Dense))
		}
	}
	if err := solver.Step(grads); err != nil {
		return err
	}
	i := 0
	for _, vg := range grads {
		if f, ok := vg.(frozenGrad); ok {
			if err := tensor.Copy(f.v, held[i]); err != nil {
				return fmt.Errorf("restore frozen parameter: %w", err)
			}
			i++
		}
	}
	return nil
}

func inputNode(g *G.ExprGraph, name string, shape ...int) *G.Node {
	return G.NewTensor(g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName(name))
}

func letTensor(n *G.Node, t *Tensor) error {
	if !n.Shape().Eq(tensor.Shape(t.Shape)) {
		return fmt.Errorf("%w: %s expects shape %v, got %v", ErrData, n.Name(), n.Shape(), t.Shape)
	}
	return G.Let(n, t.Dense())
}

func scalarOf(v G.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: loss was not computed", ErrNumerical)
	}
	var loss float64
	switch x := v.Data().(type) {
	case float32:
		loss = float64(x)
	case float64:
		loss = x
	default:
		return 0, fmt.Errorf("%w: unexpected loss value %T", ErrNumerical, x)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("%w: loss is %v", ErrNumerical, loss)
	}
	return loss, nil
}

func tensorOf(v G.Value) (*Tensor, error) {
	d, ok := v.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected graph output %T", ErrData, v)
	}
	return FromDense(d)
}
