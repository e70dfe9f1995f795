package brew

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/brew/device"
)

// Param is one transplanted learnable tensor. Graph nodes are minted lazily
// per expression graph and share the tensor's backing, so a solver stepping
// the node updates the stored parameter in place.
type Param struct {
	name  string
	value *tensor.Dense
	nodes map[*G.ExprGraph]*G.Node
}

func (p *Param) node(g *G.ExprGraph) *G.Node {
	if n, ok := p.nodes[g]; ok {
		return n
	}
	n := G.NewTensor(g, Float, p.value.Dims(),
		G.WithShape(p.value.Shape()...),
		G.WithValue(p.value),
		G.WithName(p.name))
	p.nodes[g] = n
	return n
}

func (m *Model) newParam(name string, t *tensor.Dense) *Param {
	p := &Param{
		name:  name,
		value: t,
		nodes: make(map[*G.ExprGraph]*G.Node),
	}
	m.params = append(m.params, p)
	return p
}

// Learnables returns the parameter nodes minted for the graph of the most
// recent Interpret call, for solver interop:
//
//	solver.Step(G.NodesToValueGrads(m.Learnables()))
//
// Parameters whose layers never executed in that pass have no node and are
// omitted.
func (m *Model) Learnables() G.Nodes {
	if m.lastG == nil {
		return nil
	}
	retVal := make(G.Nodes, 0, len(m.params))
	for _, p := range m.params {
		if n, ok := p.nodes[m.lastG]; ok {
			retVal = append(retVal, n)
		}
	}
	return retVal
}

// Parameters returns every learnable tensor in registration order. The
// tensors are the live parameters, not copies.
func (m *Model) Parameters() []*tensor.Dense {
	retVal := make([]*tensor.Dense, len(m.params))
	for i, p := range m.params {
		retVal[i] = p.value
	}
	return retVal
}

// SetParameters copies the given values over the stored parameters,
// in registration order. Shapes must match exactly.
func (m *Model) SetParameters(vals []*tensor.Dense) error {
	if len(vals) != len(m.params) {
		return errors.Errorf("have %d parameters, got %d values", len(m.params), len(vals))
	}
	for i, p := range m.params {
		v := vals[i]
		if !p.value.Shape().Eq(v.Shape()) {
			return errors.Errorf("parameter %q has shape %v, got %v", p.name, p.value.Shape(), v.Shape())
		}
		copy(p.value.Data().([]float32), v.Data().([]float32))
	}
	return nil
}

// Grads returns the gradient values of the most recent pass's learnables,
// in the same order Learnables reports them.
func (m *Model) Grads() ([]G.Value, error) {
	learnables := m.Learnables()
	retVal := make([]G.Value, len(learnables))
	for i, n := range learnables {
		g, err := n.Grad()
		if err != nil {
			return nil, errors.Wrapf(err, "gradient of %q", n.Name())
		}
		retVal[i] = g
	}
	return retVal, nil
}

// ToGPU bulk-migrates every parameter to the given accelerator. Minted
// nodes reference the old backing and are dropped; the next Interpret
// re-mints them. Without a registered device.Copier this fails.
func (m *Model) ToGPU(dev int) (*Model, error) {
	return m.migrate(device.GPU(dev))
}

// ToCPU bulk-migrates every parameter back to host memory.
func (m *Model) ToCPU() (*Model, error) {
	return m.migrate(device.CPU)
}

func (m *Model) migrate(dev device.Device) (*Model, error) {
	for _, p := range m.params {
		moved, err := device.Copy(p.value, dev)
		if err != nil {
			return m, errors.Wrapf(err, "migrating parameter %q", p.name)
		}
		p.value = moved
		p.nodes = make(map[*G.ExprGraph]*G.Node)
	}
	return m, nil
}
