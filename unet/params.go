package unet

import (
	"fmt"
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Param is one named learnable tensor.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Params is the parameter set of one network. The order of All() is stable and is the
// order optimizer state is keyed by.
type Params struct {
	cfg   Config
	list  []Param
	index map[string]int
}

// NewParams allocates every weight for cfg and fills it with U(-1/sqrt(fan_in), 1/sqrt(fan_in))
// drawn from seed.
func NewParams(cfg Config, seed int64) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Params{cfg: cfg, index: make(map[string]int)}
	rng := rand.New(rand.NewSource(seed))

	conv := func(name string, cout, cin, k int) {
		fanIn := cin * k * k
		p.add(name+".weight", uniform(rng, fanIn, cout, cin, k, k))
		p.add(name+".bias", uniform(rng, fanIn, 1, cout, 1, 1))
	}
	stepProj := func(name string, c int) {
		if cfg.EmbedDim > 0 {
			p.add(name+".weight", uniform(rng, cfg.EmbedDim, cfg.EmbedDim, c))
		}
	}

	L := cfg.NumLayers
	for i := 0; i < L; i++ {
		prefix := fmt.Sprintf("down.%d.", i)
		cin := cfg.InChannels
		if i > 0 {
			cin = cfg.StageChannels(i - 1)
		}
		c := cfg.StageChannels(i)
		conv(prefix+"conv1", c, cin, 3)
		stepProj(prefix+"step", c)
		conv(prefix+"conv2", c, c, 3)
	}

	conv("mid.conv1", cfg.BaseChannels, cfg.StageChannels(L-1), 3)
	conv("mid.conv2", cfg.BaseChannels, cfg.BaseChannels, 3)

	for i := L - 1; i >= 0; i-- {
		prefix := fmt.Sprintf("up.%d.", i)
		cin := cfg.BaseChannels
		if i < L-1 {
			cin = 2 * cfg.StageChannels(i+1)
		}
		c := cfg.StageChannels(i)
		// kernel-2 stride-2 transposed conv, stored as a 1x1 conv to 4*c channels
		p.add(prefix+"upsample.weight", uniform(rng, cin, 4*c, cin, 1, 1))
		p.add(prefix+"upsample.bias", uniform(rng, cin, 1, c, 1, 1))
		stepProj(prefix+"step", c)
		conv(prefix+"conv1", c, c, 3)
		conv(prefix+"conv2", c, c, 3)
	}

	conv("out", cfg.OutChannels, 2*cfg.BaseChannels, 3)
	return p, nil
}

func uniform(rng *rand.Rand, fanIn int, shape ...int) *tensor.Dense {
	bound := 1 / math.Sqrt(float64(fanIn))
	size := 1
	for _, s := range shape {
		size *= s
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func (p *Params) add(name string, v *tensor.Dense) {
	p.index[name] = len(p.list)
	p.list = append(p.list, Param{Name: name, Value: v})
}

func (p *Params) Config() Config { return p.cfg }

func (p *Params) Len() int { return len(p.list) }

// All returns the parameters in canonical order. Values are shared, not copied.
func (p *Params) All() []Param {
	return append([]Param(nil), p.list...)
}

func (p *Params) Get(name string) (*tensor.Dense, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.list[i].Value, true
}

// NumScalars counts individual weights.
func (p *Params) NumScalars() int {
	n := 0
	for _, prm := range p.list {
		n += prm.Value.Shape().TotalSize()
	}
	return n
}

// Clone deep-copies every value.
func (p *Params) Clone() *Params {
	out := &Params{cfg: p.cfg, index: make(map[string]int, len(p.list))}
	for _, prm := range p.list {
		out.add(prm.Name, prm.Value.Clone().(*tensor.Dense))
	}
	return out
}
