package brew

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// fwdCtx carries per-call execution state to the forwards. The training flag
// lives here, not on the model, so two concurrent-by-caller-choice passes
// cannot see each other's mode.
type fwdCtx struct {
	train bool
}

// forward builds one layer's differentiable graph fragment in the inputs'
// graph and returns the output nodes in top order.
type forward func(ctx *fwdCtx, inputs ...*G.Node) (G.Nodes, error)

type maebe struct {
	err error
}

// generic monad... still useful
func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) conv2d(x, w *G.Node, kernel tensor.Shape, pad, stride []int) *G.Node {
	return m.do(func() (*G.Node, error) { return nnops.Conv2d(x, w, kernel, pad, stride, []int{1, 1}) })
}

func (m *maebe) maxpool(x *G.Node, kernel tensor.Shape, pad, stride []int) *G.Node {
	return m.do(func() (*G.Node, error) { return nnops.MaxPool2D(x, kernel, pad, stride) })
}

func (m *maebe) rectify(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return nnops.Rectify(x) })
}

func (m *maebe) reshape(x *G.Node, to tensor.Shape) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Reshape(x, to) })
}

func (m *maebe) transpose(x *G.Node, axes ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Transpose(x, axes...) })
}

func (m *maebe) mul(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mul(a, b) })
}

func (m *maebe) add(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Add(a, b) })
}

func (m *maebe) sub(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sub(a, b) })
}

func (m *maebe) neg(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Neg(x) })
}

func (m *maebe) square(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Square(x) })
}

func (m *maebe) log(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Log(x) })
}

func (m *maebe) pow(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Pow(a, b) })
}

func (m *maebe) hadamard(a, b *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.HadamardProd(a, b) })
}

func (m *maebe) sum(x *G.Node, along ...int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(x, along...) })
}

func (m *maebe) mean(x *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Mean(x) })
}

func (m *maebe) softmax(x *G.Node, axis int) *G.Node {
	return m.do(func() (*G.Node, error) { return G.SoftMax(x, axis) })
}

func (m *maebe) concat(axis int, xs ...*G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Concat(axis, xs...) })
}

func (m *maebe) slice(x *G.Node, ss ...tensor.Slice) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Slice(x, ss...) })
}

func (m *maebe) dropout(x *G.Node, prob float64) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Dropout(x, prob) })
}

func (m *maebe) broadcastAdd(a, b *G.Node, left, right []byte) *G.Node {
	return m.do(func() (*G.Node, error) { return G.BroadcastAdd(a, b, left, right) })
}

// biasAdd broadcasts a flat bias vector over every axis of y except the
// channel axis (axis 1).
func (m *maebe) biasAdd(y, b *G.Node) *G.Node {
	if m.err != nil {
		return nil
	}
	shape := make(tensor.Shape, y.Dims())
	bcast := make([]byte, 0, y.Dims()-1)
	for i := range shape {
		shape[i] = 1
		if i != 1 {
			bcast = append(bcast, byte(i))
		}
	}
	shape[1] = b.Shape()[0]
	b = m.reshape(b, shape)
	return m.broadcastAdd(y, b, nil, bcast)
}

// constTensor is a fixed filter tensor shared by every pass of one layer.
// Graph-less tensor nodes cannot feed Conv2d, so the node is minted lazily
// into each graph it is used in, the same scheme Param follows.
type constTensor struct {
	name  string
	value *tensor.Dense
	nodes map[*G.ExprGraph]*G.Node
}

func newConstTensor(name string, t *tensor.Dense) *constTensor {
	return &constTensor{name: name, value: t, nodes: make(map[*G.ExprGraph]*G.Node)}
}

func (c *constTensor) node(g *G.ExprGraph) *G.Node {
	if n, ok := c.nodes[g]; ok {
		return n
	}
	n := G.NewTensor(g, Float, c.value.Dims(),
		G.WithShape(c.value.Shape()...),
		G.WithValue(c.value),
		G.WithName(c.name))
	c.nodes[g] = n
	return n
}

func one(xs []*G.Node) error {
	if len(xs) != 1 {
		return errors.Errorf("op wants exactly 1 input, got %d", len(xs))
	}
	return nil
}

// convForward runs one Conv2d per weight group over the matching slice of
// input channels and concatenates the group outputs back along the channel
// axis. A single group is the common case and skips the slicing.
func convForward(weights []*Param, bias *Param, kernel tensor.Shape, pad, stride []int) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		x := xs[0]
		g := x.Graph()

		var mb maebe
		var y *G.Node
		if len(weights) == 1 {
			y = mb.conv2d(x, weights[0].node(g), kernel, pad, stride)
		} else {
			group := len(weights)
			inPerGroup := x.Shape()[1] / group
			ys := make([]*G.Node, group)
			for i, w := range weights {
				xg := mb.slice(x, nil, G.S(i*inPerGroup, (i+1)*inPerGroup))
				ys[i] = mb.conv2d(xg, w.node(g), kernel, pad, stride)
			}
			y = mb.concat(1, ys...)
		}
		if bias != nil {
			y = mb.biasAdd(y, bias.node(g))
		}
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// linearForward computes x·Wᵀ + b. W stays in the serialized (out, in)
// layout; inputs with more than two axes are flattened from axis 1 first.
func linearForward(weight, bias *Param) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		x := xs[0]
		g := x.Graph()

		var mb maebe
		if x.Dims() > 2 {
			s := x.Shape()
			x = mb.reshape(x, tensor.Shape{s[0], tensor.Shape(s[1:]).TotalSize()})
		}
		wT := mb.transpose(weight.node(g), 1, 0)
		y := mb.mul(x, wT)
		if bias != nil {
			b := mb.reshape(bias.node(g), tensor.Shape{1, bias.value.Shape()[0]})
			y = mb.broadcastAdd(y, b, nil, []byte{0})
		}
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

func maxPoolForward(kernel tensor.Shape, pad, stride []int) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		var mb maebe
		y := mb.maxpool(xs[0], kernel, pad, stride)
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// avgPoolForward implements average pooling as a depthwise convolution with
// a constant 1/(kh·kw) filter: channels are folded into the batch axis so
// the filter never mixes them. Padded positions count toward the mean, the
// same division rule Chainer's average_pooling_2d uses.
func avgPoolForward(kernel tensor.Shape, pad, stride []int) forward {
	kh, kw := kernel[0], kernel[1]
	backing := make([]float32, kh*kw)
	for i := range backing {
		backing[i] = 1
	}
	vecf32.Scale(backing, 1/float32(kh*kw))
	filter := newConstTensor("avgpool_filter", tensor.New(tensor.WithShape(1, 1, kh, kw), tensor.WithBacking(backing)))

	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		x := xs[0]
		if x.Dims() != 4 {
			return nil, errors.Errorf("average pooling wants a 4-D input, got %v", x.Shape())
		}
		s := x.Shape()
		n, c, h, w := s[0], s[1], s[2], s[3]
		outH := (h+2*pad[0]-kh)/stride[0] + 1
		outW := (w+2*pad[1]-kw)/stride[1] + 1

		var mb maebe
		folded := mb.reshape(x, tensor.Shape{n * c, 1, h, w})
		y := mb.conv2d(folded, filter.node(x.Graph()), kernel, pad, stride)
		y = mb.reshape(y, tensor.Shape{n, c, outH, outW})
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// lrnForward computes across-channel local response normalization,
// x · (k + α·Σ x²)^(−β), with the window sum expressed as a convolution
// along the channel axis of the (n, 1, c, h·w) reshape. alpha arrives
// already divided by the window size.
func lrnForward(size int, k, alpha, beta float32) forward {
	backing := make([]float32, size)
	for i := range backing {
		backing[i] = 1
	}
	window := newConstTensor("lrn_window", tensor.New(tensor.WithShape(1, 1, size, 1), tensor.WithBacking(backing)))

	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		x := xs[0]
		if x.Dims() != 4 {
			return nil, errors.Errorf("LRN wants a 4-D input, got %v", x.Shape())
		}
		s := x.Shape()
		n, c, h, w := s[0], s[1], s[2], s[3]

		var mb maebe
		sq := mb.square(x)
		sq = mb.reshape(sq, tensor.Shape{n, 1, c, h * w})
		sums := mb.conv2d(sq, window.node(x.Graph()), tensor.Shape{size, 1}, []int{(size - 1) / 2, 0}, []int{1, 1})
		sums = mb.reshape(sums, tensor.Shape{n, c, h, w})

		scaled := mb.mul(sums, G.NewConstant(alpha))
		base := mb.add(scaled, G.NewConstant(k))
		denom := mb.pow(base, G.NewConstant(-beta))
		y := mb.hadamard(x, denom)
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// reluForward is a plain rectifier for slope 0, otherwise the leaky form
// rectify(x) − slope·rectify(−x).
func reluForward(slope float32) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		var mb maebe
		y := mb.rectify(xs[0])
		if slope != 0 {
			leak := mb.rectify(mb.neg(xs[0]))
			leak = mb.mul(leak, G.NewConstant(slope))
			y = mb.sub(y, leak)
		}
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// dropoutForward consults the per-call context: a testing-mode pass is the
// identity, a training-mode pass drops stochastically.
func dropoutForward(ratio float64) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if err := one(xs); err != nil {
			return nil, err
		}
		if !ctx.train {
			return G.Nodes{xs[0]}, nil
		}
		var mb maebe
		y := mb.dropout(xs[0], ratio)
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

func concatForward(axis int) forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if len(xs) == 0 {
			return nil, errors.Errorf("concat wants at least 1 input")
		}
		var mb maebe
		y := mb.concat(axis, xs...)
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{y}, nil
	}
}

// softmaxLossForward is softmax cross entropy along the channel axis against
// one-hot targets: −mean over the batch of Σ t·log(softmax(x)).
func softmaxLossForward() forward {
	return func(ctx *fwdCtx, xs ...*G.Node) (G.Nodes, error) {
		if len(xs) != 2 {
			return nil, errors.Errorf("softmax loss wants exactly 2 inputs (prediction, target), got %d", len(xs))
		}
		x, t := xs[0], xs[1]

		var mb maebe
		lsm := mb.log(mb.softmax(x, 1))
		perChan := mb.hadamard(t, lsm)
		perItem := mb.sum(perChan, 1)
		loss := mb.neg(mb.mean(perItem))
		if mb.err != nil {
			return nil, mb.err
		}
		return G.Nodes{loss}, nil
	}
}
