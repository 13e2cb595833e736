package diffusion

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

// denoiseNet is a step-conditioned forward pass over a fixed input shape.
type denoiseNet struct {
	model *unet.Model
	g     *G.ExprGraph
	x     *G.Node
	emb   *G.Node
	out   *G.Node
}

func buildDenoiseNet(params *unet.Params, shape []int) (*denoiseNet, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("%w: images must be NCHW, got %v", ErrData, shape)
	}
	g := G.NewGraph()
	n := &denoiseNet{
		model: unet.Bind(g, params, true),
		g:     g,
		x:     inputNode(g, "noisy", shape...),
	}
	if n.model.Conditioned() {
		n.emb = inputNode(g, "step_emb", shape[0], params.Config().EmbedDim)
	}
	var err error
	if n.out, err = n.model.Forward(n.x, n.emb); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *denoiseNet) let(x *Tensor, t int) error {
	if err := letTensor(n.x, x); err != nil {
		return err
	}
	if n.emb == nil {
		return nil
	}
	es := n.emb.Shape()
	return letTensor(n.emb, StepEmbedding(t, es[1], es[0]))
}

// Denoising is the noise-prediction objective: MSE(net(noisy, t), noise).
type Denoising struct {
	net     *denoiseNet
	vm      G.VM
	target  *G.Node
	costVal G.Value
	grads   []G.ValueGrad
}

func NewDenoising(params *unet.Params, shape []int) (*Denoising, error) {
	net, err := buildDenoiseNet(params, shape)
	if err != nil {
		return nil, fmt.Errorf("denoise graph: %w", err)
	}
	d := &Denoising{net: net, target: inputNode(net.g, "noise", shape...)}

	diff, err := G.Sub(net.out, d.target)
	if err != nil {
		return nil, fmt.Errorf("denoise graph: %w", err)
	}
	cost, err := G.Mean(G.Must(G.Square(diff)))
	if err != nil {
		return nil, fmt.Errorf("denoise graph: %w", err)
	}
	G.Read(cost, &d.costVal)

	learnables := net.model.Learnables()
	if _, err := G.Grad(cost, learnables...); err != nil {
		return nil, fmt.Errorf("denoise graph: grad: %w", err)
	}
	d.vm = G.NewTapeMachine(net.g, G.BindDualValues(learnables...))
	d.grads = valueGrads(params, net.model)
	return d, nil
}

// Loss computes the noise-prediction MSE for a noisy batch at step t and leaves the
// gradients ready for ValueGrads.
func (d *Denoising) Loss(noisy, noise *Tensor, t int) (float64, error) {
	if err := d.net.let(noisy, t); err != nil {
		return 0, err
	}
	if err := letTensor(d.target, noise); err != nil {
		return 0, err
	}
	defer d.vm.Reset()
	if err := d.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("denoise forward: %w", err)
	}
	loss, err := scalarOf(d.costVal)
	if err != nil {
		return loss, fmt.Errorf("denoise loss at t=%d: %w", t, err)
	}
	return loss, nil
}

func (d *Denoising) ValueGrads() []G.ValueGrad { return d.grads }

func (d *Denoising) Close() error { return d.vm.Close() }

// GraphDenoiser runs trained parameters forward only, for sampling.
type GraphDenoiser struct {
	net    *denoiseNet
	vm     G.VM
	outVal G.Value
}

// NewGraphDenoiser builds an inference graph for batches of the given NCHW shape.
func NewGraphDenoiser(params *unet.Params, shape []int) (*GraphDenoiser, error) {
	net, err := buildDenoiseNet(params, shape)
	if err != nil {
		return nil, fmt.Errorf("sampler graph: %w", err)
	}
	d := &GraphDenoiser{net: net}
	G.Read(net.out, &d.outVal)
	d.vm = G.NewTapeMachine(net.g)
	return d, nil
}

func (d *GraphDenoiser) Shape() []int { return append([]int{}, d.net.x.Shape()...) }

func (d *GraphDenoiser) Denoise(x *Tensor, t int) (*Tensor, error) {
	if err := d.net.let(x, t); err != nil {
		return nil, err
	}
	defer d.vm.Reset()
	if err := d.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("denoise step %d: %w", t, err)
	}
	return tensorOf(d.outVal)
}

func (d *GraphDenoiser) Close() error { return d.vm.Close() }
