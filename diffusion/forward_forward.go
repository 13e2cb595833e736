package diffusion

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/GitsSaikat/Diffusion-Model-Incorporates-Forward-Forward-Algorithm/unet"
)

const (
	labelPositive = 1
	labelNegative = 0
)

// Partition returns the batch rows labelled positive (1) and negative (0).
// Other labels belong to neither group.
func Partition(labels []int) (pos, neg []int) {
	for i, l := range labels {
		switch l {
		case labelPositive:
			pos = append(pos, i)
		case labelNegative:
			neg = append(neg, i)
		}
	}
	return pos, neg
}

// ForwardForward scores how far apart the network pushes positive and negative left
// halves. Over all pairs, with m = group mean and v = group variance per element:
//
//	E[(o_p - o_n)^2] = (m_p - m_n)^2 + v_p + v_n
//
// Group means are taken with host-fed row weights, so one graph serves any label mix.
type ForwardForward struct {
	params *unet.Params
	model  *unet.Model
	g      *G.ExprGraph
	vm     G.VM

	left       *G.Node
	wPos, wNeg *G.Node
	cost       *G.Node
	costVal    G.Value

	grads []G.ValueGrad
}

// NewForwardForward builds the contrastive graph for left halves of shape [B, C, H, W].
func NewForwardForward(params *unet.Params, leftShape []int) (*ForwardForward, error) {
	if len(leftShape) != 4 {
		return nil, fmt.Errorf("%w: left halves must be NCHW, got %v", ErrData, leftShape)
	}
	B := leftShape[0]
	g := G.NewGraph()
	model := unet.Bind(g, params, false)

	ff := &ForwardForward{
		params: params,
		model:  model,
		g:      g,
		left:   inputNode(g, "left", leftShape...),
		wPos:   inputNode(g, "w_pos", 1, B),
		wNeg:   inputNode(g, "w_neg", 1, B),
	}

	out, err := model.Forward(ff.left, nil)
	if err != nil {
		return nil, fmt.Errorf("contrastive graph: %w", err)
	}
	flat, err := G.Reshape(out, tensor.Shape{B, out.Shape().TotalSize() / B})
	if err != nil {
		return nil, fmt.Errorf("contrastive graph: %w", err)
	}
	if ff.cost, err = pairwiseCost(flat, ff.wPos, ff.wNeg); err != nil {
		return nil, fmt.Errorf("contrastive graph: %w", err)
	}
	G.Read(ff.cost, &ff.costVal)

	if _, err := G.Grad(ff.cost, model.Learnables()...); err != nil {
		return nil, fmt.Errorf("contrastive graph: grad: %w", err)
	}
	ff.vm = G.NewTapeMachine(g, G.BindDualValues(model.Learnables()...))
	ff.grads = valueGrads(params, model)
	return ff, nil
}

func pairwiseCost(flat, wPos, wNeg *G.Node) (*G.Node, error) {
	mean := func(w, x *G.Node) *G.Node { return G.Must(G.Mul(w, x)) }
	// centred so each term is a weighted sum of squares and never goes negative
	variance := func(w, m *G.Node) *G.Node {
		d := G.Must(G.BroadcastSub(flat, m, nil, []byte{0}))
		return mean(w, G.Must(G.Square(d)))
	}

	mPos, mNeg := mean(wPos, flat), mean(wNeg, flat)
	vPos := variance(wPos, mPos)
	vNeg := variance(wNeg, mNeg)
	gap := G.Must(G.Square(G.Must(G.Sub(mPos, mNeg))))

	perElem, err := G.Add(G.Must(G.Add(gap, vPos)), vNeg)
	if err != nil {
		return nil, err
	}
	return G.Mean(perElem)
}

// Loss runs the contrastive graph on a batch split into halves. The right halves only
// have their batch size checked. When either group is empty the loss is 0, no gradients
// are computed and ok is false.
func (ff *ForwardForward) Loss(left, right *Tensor, labels []int) (loss float64, ok bool, err error) {
	B := ff.left.Shape()[0]
	if len(labels) != B || left.Shape[0] != B || right.Shape[0] != B {
		return 0, false, fmt.Errorf("%w: contrastive batch of %d, got %d labels, %d left, %d right",
			ErrData, B, len(labels), left.Shape[0], right.Shape[0])
	}
	pos, neg := Partition(labels)
	if len(pos) == 0 || len(neg) == 0 {
		return 0, false, nil
	}

	if err := letTensor(ff.left, left); err != nil {
		return 0, false, err
	}
	if err := G.Let(ff.wPos, rowWeights(B, pos)); err != nil {
		return 0, false, err
	}
	if err := G.Let(ff.wNeg, rowWeights(B, neg)); err != nil {
		return 0, false, err
	}
	defer ff.vm.Reset()
	if err := ff.vm.RunAll(); err != nil {
		return 0, false, fmt.Errorf("contrastive forward: %w", err)
	}
	loss, err = scalarOf(ff.costVal)
	if err != nil {
		return loss, false, fmt.Errorf("contrastive loss: %w", err)
	}
	return loss, true, nil
}

// ValueGrads pairs every parameter with the gradient of the last Loss call.
func (ff *ForwardForward) ValueGrads() []G.ValueGrad { return ff.grads }

func (ff *ForwardForward) Close() error { return ff.vm.Close() }

// rowWeights is a [1, B] averaging row over the listed batch rows.
func rowWeights(B int, rows []int) *tensor.Dense {
	w := make([]float32, B)
	for _, r := range rows {
		w[r] = 1 / float32(len(rows))
	}
	return tensor.New(tensor.WithShape(1, B), tensor.WithBacking(w))
}
