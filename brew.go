// Package brew loads pretrained Caffe models and re-executes them as
// Gorgonia graph fragments. Layer translation happens once at load time;
// Interpret then runs any subgraph of the model against caller-supplied
// input nodes, in the order the model declares its layers.
package brew

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"

	"github.com/gorgonia/brew/pb"
)

// Float is the dtype all transplanted parameters use. Caffe serializes
// float32 and so do we.
var Float = G.Float32

// layer is one executable entry: bottoms are post-alias-resolution and fixed
// at load time.
type layer struct {
	name   string
	bottom []string
	top    []string
}

// Model is a loaded Caffe model: the per-layer forwards, the executable
// layer order, and the transplanted parameters.
type Model struct {
	name     string
	forwards map[string]forward
	layers   []layer
	splits   map[string]string   // split output -> true source blob
	produced map[string]struct{} // every name some registered layer or split can account for
	params   []*Param

	// last-pass state, overwritten by each Interpret
	vars  map[string]*G.Node
	lastG *G.ExprGraph
}

// Open reads a serialized NetParameter from disk and converts it.
func Open(path string) (*Model, error) {
	net, err := pb.Open(path)
	if err != nil {
		return nil, err
	}
	return New(net)
}

// New converts a parsed NetParameter into a Model. Layers with no registered
// converter are skipped; a converter failure aborts the whole load. A net
// without a layer collection is in the legacy format and is rejected.
func New(net *pb.NetParameter) (*Model, error) {
	if len(net.Layer) == 0 {
		return nil, errors.WithStack(ErrLegacyModel)
	}

	m := &Model{
		name:     net.Name,
		forwards: make(map[string]forward),
		splits:   make(map[string]string),
		produced: make(map[string]struct{}),
	}
	for _, l := range net.Layer {
		convert, ok := converters[l.Type]
		if !ok {
			continue
		}
		if err := convert(m, l); err != nil {
			return nil, errors.Wrapf(err, "layer %q (%s)", l.Name, l.Type)
		}
	}
	return m, nil
}

// Name returns the net's declared name.
func (m *Model) Name() string { return m.name }

// OperationEntry is one row of the executable layer order. Bottom names are
// post-alias-resolution.
type OperationEntry struct {
	Name   string
	Bottom []string
	Top    []string
}

// Layers returns the executable layer order.
func (m *Model) Layers() []OperationEntry {
	retVal := make([]OperationEntry, len(m.layers))
	for i, l := range m.layers {
		retVal[i] = OperationEntry{
			Name:   l.name,
			Bottom: append([]string(nil), l.bottom...),
			Top:    append([]string(nil), l.top...),
		}
	}
	return retVal
}

// register binds a layer's forward and appends it to the executable order.
func (m *Model) register(l *pb.LayerParameter, f forward) error {
	if _, ok := m.forwards[l.Name]; ok {
		return errors.Errorf("duplicate layer name %q", l.Name)
	}
	m.forwards[l.Name] = f
	m.addLayer(l)
	return nil
}

// addLayer records the (name, bottoms, tops) entry, rewriting every bottom
// through the split-alias map first. Resolution is single-hop: the source
// format never chains splits.
func (m *Model) addLayer(l *pb.LayerParameter) {
	bottom := make([]string, len(l.Bottom))
	for i, b := range l.Bottom {
		if src, ok := m.splits[b]; ok {
			b = src
		}
		bottom[i] = b
	}
	top := append([]string(nil), l.Top...)
	m.layers = append(m.layers, layer{name: l.Name, bottom: bottom, top: top})
	for _, t := range top {
		m.produced[t] = struct{}{}
	}
}

type interpretOpts struct {
	disabled map[string]struct{}
	train    bool
}

// InterpretOpt modifies one Interpret call.
type InterpretOpt func(*interpretOpts)

// Disable skips the named layers for this pass. Anything depending on their
// outputs becomes unreachable in turn.
func Disable(names ...string) InterpretOpt {
	return func(o *interpretOpts) {
		if o.disabled == nil {
			o.disabled = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			o.disabled[n] = struct{}{}
		}
	}
}

// Testing puts the pass in inference mode: stochastic layers such as dropout
// become the identity. Training mode is the default.
func Testing() InterpretOpt {
	return func(o *interpretOpts) { o.train = false }
}

// Interpret executes the model over the given input bindings and returns the
// nodes bound to the requested output names, in request order.
//
// The registered layer order is walked exactly once. A layer is skipped,
// without error, when it is disabled, has no forward, or any of its bottoms
// is still unbound; otherwise its forward runs on the bound bottoms and the
// results are bound to its tops in declared order. A requested output that
// is still unbound after the pass is a caller error: UnreachableOutputError
// if the model could have produced it, UnknownOutputError if nothing in the
// model ever does.
//
// The full binding map is retained on the model for introspection until the
// next call. Interpret is not safe for concurrent use on one Model.
func (m *Model) Interpret(inputs map[string]*G.Node, outputs []string, opts ...InterpretOpt) (G.Nodes, error) {
	o := interpretOpts{train: true}
	for _, opt := range opts {
		opt(&o)
	}
	ctx := &fwdCtx{train: o.train}

	variables := make(map[string]*G.Node, len(inputs)+len(m.layers))
	for name, n := range inputs {
		variables[name] = n
		if n != nil {
			m.lastG = n.Graph()
		}
	}

	for _, l := range m.layers {
		if _, ok := o.disabled[l.name]; ok {
			continue
		}
		fwd, ok := m.forwards[l.name]
		if !ok {
			continue
		}
		ready := true
		for _, b := range l.bottom {
			if _, ok := variables[b]; !ok {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}

		ins := make([]*G.Node, len(l.bottom))
		for i, b := range l.bottom {
			ins[i] = variables[b]
		}
		outs, err := fwd(ctx, ins...)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %q", l.name)
		}
		for i, name := range l.top {
			if i >= len(outs) {
				break
			}
			variables[name] = outs[i]
		}
	}
	m.vars = variables

	retVal := make(G.Nodes, len(outputs))
	for i, name := range outputs {
		n, ok := variables[name]
		if !ok {
			if _, known := m.produced[name]; known {
				return nil, errors.WithStack(UnreachableOutputError{Name: name})
			}
			return nil, errors.WithStack(UnknownOutputError{Name: name})
		}
		retVal[i] = n
	}
	return retVal, nil
}

// Variables returns the blob bindings of the most recent Interpret call,
// intermediate activations included. Overwritten by the next call.
func (m *Model) Variables() map[string]*G.Node { return m.vars }
