package unet

import (
	"fmt"
	"strings"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Model is a parameter set bound into one expression graph.
//
// Down: NumLayers stages of conv-conv-maxpool, pre-pool activations kept as skips.
// Bottleneck: two convs back to BaseChannels.
// Up: NumLayers stages of transposed conv + two convs, each followed by a skip concat.
// Output: one conv to OutChannels.
type Model struct {
	cfg         Config
	conditioned bool
	g           *G.ExprGraph
	nodes       map[string]*G.Node
	learnables  G.Nodes
}

// Bind creates one graph node per parameter. The nodes share the parameters' backing
// tensors, so optimizer steps on any binding are visible to every other binding.
// An unconditioned binding leaves out the step projections; its Forward only accepts a
// nil embedding.
func Bind(g *G.ExprGraph, p *Params, conditioned bool) *Model {
	m := &Model{
		cfg:         p.cfg,
		conditioned: conditioned && p.cfg.EmbedDim > 0,
		g:           g,
		nodes:       make(map[string]*G.Node, len(p.list)),
	}
	for _, prm := range p.list {
		if !m.conditioned && isStepParam(prm.Name) {
			continue
		}
		shp := prm.Value.Shape()
		n := G.NewTensor(g, tensor.Float32, shp.Dims(),
			G.WithShape(shp...),
			G.WithName(prm.Name),
			G.WithValue(prm.Value),
		)
		m.nodes[prm.Name] = n
		m.learnables = append(m.learnables, n)
	}
	return m
}

func isStepParam(name string) bool {
	return strings.Contains(name, ".step.")
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Conditioned() bool { return m.conditioned }

// Learnables lists the bound parameter nodes in Params order.
func (m *Model) Learnables() G.Nodes { return m.learnables }

// Node returns the graph node bound for a parameter name.
func (m *Model) Node(name string) (*G.Node, bool) {
	n, ok := m.nodes[name]
	return n, ok
}

// Forward maps x [B, InChannels, H, W] to [B, OutChannels, H, W].
// emb is an optional [B, EmbedDim] step embedding; nil runs unconditioned.
func (m *Model) Forward(x, emb *G.Node) (*G.Node, error) {
	cfg := m.cfg
	if err := cfg.CheckInput(x.Shape()); err != nil {
		return nil, err
	}
	if emb != nil {
		es := emb.Shape()
		if !m.conditioned {
			return nil, fmt.Errorf("%w: unconditioned binding got a step embedding", ErrShape)
		}
		if len(es) != 2 || es[0] != x.Shape()[0] || es[1] != cfg.EmbedDim {
			return nil, fmt.Errorf("%w: step embedding %v, want [%d %d]", ErrShape, es, x.Shape()[0], cfg.EmbedDim)
		}
	}

	L := cfg.NumLayers
	skips := make([]*G.Node, L)
	var err error

	for i := 0; i < L; i++ {
		prefix := fmt.Sprintf("down.%d.", i)
		if x, err = m.conv3x3(x, prefix+"conv1"); err != nil {
			return nil, err
		}
		if x, err = m.leaky(x); err != nil {
			return nil, err
		}
		if x, err = m.addStep(x, emb, prefix+"step"); err != nil {
			return nil, err
		}
		if x, err = m.conv3x3(x, prefix+"conv2"); err != nil {
			return nil, err
		}
		if x, err = m.leaky(x); err != nil {
			return nil, err
		}
		skips[i] = x
		if x, err = G.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
			return nil, fmt.Errorf("%spool: %w", prefix, err)
		}
	}

	for _, name := range []string{"mid.conv1", "mid.conv2"} {
		if x, err = m.conv3x3(x, name); err != nil {
			return nil, err
		}
		if x, err = m.leaky(x); err != nil {
			return nil, err
		}
	}

	for i := L - 1; i >= 0; i-- {
		prefix := fmt.Sprintf("up.%d.", i)
		if x, err = m.upsample2x(x, prefix+"upsample", cfg.StageChannels(i)); err != nil {
			return nil, err
		}
		if x, err = m.leaky(x); err != nil {
			return nil, err
		}
		if x, err = m.addStep(x, emb, prefix+"step"); err != nil {
			return nil, err
		}
		for _, name := range []string{prefix + "conv1", prefix + "conv2"} {
			if x, err = m.conv3x3(x, name); err != nil {
				return nil, err
			}
			if x, err = m.leaky(x); err != nil {
				return nil, err
			}
		}
		if !x.Shape().Eq(skips[i].Shape()) {
			return nil, fmt.Errorf("%w: up stage %d produced %v, skip is %v", ErrShape, i, x.Shape(), skips[i].Shape())
		}
		if x, err = G.Concat(1, x, skips[i]); err != nil {
			return nil, fmt.Errorf("%sconcat: %w", prefix, err)
		}
	}

	return m.conv3x3(x, "out")
}

func (m *Model) param(name string) (*G.Node, error) {
	n, ok := m.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing parameter %q", ErrConfig, name)
	}
	return n, nil
}

// conv3x3: stride 1, padding 1, plus per-channel bias
func (m *Model) conv3x3(x *G.Node, name string) (*G.Node, error) {
	w, err := m.param(name + ".weight")
	if err != nil {
		return nil, err
	}
	y, err := G.Conv2d(x, w, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m.addBias(y, name)
}

func (m *Model) addBias(x *G.Node, name string) (*G.Node, error) {
	b, err := m.param(name + ".bias")
	if err != nil {
		return nil, err
	}
	y, err := G.BroadcastAdd(x, b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, fmt.Errorf("%s bias: %w", name, err)
	}
	return y, nil
}

func (m *Model) leaky(x *G.Node) (*G.Node, error) {
	return G.LeakyRelu(x, m.cfg.LeakySlope)
}

// upsample2x is a kernel-2 stride-2 transposed conv. Every input pixel writes a disjoint
// 2x2 output patch, so it is a 1x1 conv to 4*cout channels followed by depth-to-space:
//
//	[B, cout*4, H, W] -> [B*cout, 2, 2, H, W] -> [B*cout, H, 2, W, 2] -> [B, cout, 2H, 2W]
func (m *Model) upsample2x(x *G.Node, name string, cout int) (*G.Node, error) {
	w, err := m.param(name + ".weight")
	if err != nil {
		return nil, err
	}
	shp := x.Shape()
	B, H, W := shp[0], shp[2], shp[3]

	y, err := G.Conv2d(x, w, tensor.Shape{1, 1}, []int{0, 0}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = G.Reshape(y, tensor.Shape{B * cout, 2, 2, H, W}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = G.Transpose(y, 0, 3, 1, 4, 2); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = G.Reshape(y, tensor.Shape{B, cout, 2 * H, 2 * W}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m.addBias(y, name)
}

// addStep projects emb [B, E] to [B, C] and broadcasts it over H x W.
func (m *Model) addStep(x, emb *G.Node, name string) (*G.Node, error) {
	if emb == nil {
		return x, nil
	}
	w, err := m.param(name + ".weight")
	if err != nil {
		return nil, err
	}
	proj, err := G.Mul(emb, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	shp := x.Shape()
	if proj, err = G.Reshape(proj, tensor.Shape{shp[0], shp[1], 1, 1}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	y, err := G.BroadcastAdd(x, proj, nil, []byte{2, 3})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return y, nil
}
