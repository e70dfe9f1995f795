package brew

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/brew/device"
	"github.com/gorgonia/brew/pb"
)

func ipNet() *pb.NetParameter {
	return netOf(
		&pb.LayerParameter{
			Name: "ip1", Type: "InnerProduct",
			Bottom:       []string{"data"},
			Top:          []string{"scores"},
			InnerProduct: &pb.InnerProductParameter{NumOutput: 2, BiasTerm: true, Axis: 1},
			Blobs: []*pb.BlobProto{
				blob4(1, 1, 2, 2, 1, 0, 0, 1),
				blob4(1, 1, 1, 2, 0, 0),
			},
		},
		&pb.LayerParameter{
			Name: "loss", Type: "SoftmaxWithLoss",
			Bottom: []string{"scores", "label"},
			Top:    []string{"loss"},
		},
	)
}

func TestParametersAccessors(t *testing.T) {
	assert := assert.New(t)
	m, err := New(ipNet())
	if err != nil {
		t.Fatalf("%+v", err)
	}

	params := m.Parameters()
	assert.Equal(2, len(params)) // ip1_W, ip1_b
	assert.Equal([]int{2, 2}, []int(params[0].Shape()))

	w := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{4, 3, 2, 1}))
	b := tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, -1}))
	if err := m.SetParameters([]*tensor.Dense{w, b}); err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal([]float32{4, 3, 2, 1}, m.Parameters()[0].Data().([]float32))

	bad := tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{1, 2, 3}))
	assert.Error(m.SetParameters([]*tensor.Dense{w, bad}))
	assert.Error(m.SetParameters([]*tensor.Dense{w}))
}

func TestLearnablesAndSolverStep(t *testing.T) {
	assert := assert.New(t)
	m, err := New(ipNet())
	if err != nil {
		t.Fatalf("%+v", err)
	}

	g := G.NewGraph()
	x := input4(g, "data", tensor.Shape{1, 2}, []float32{1, 2})
	label := input4(g, "label", tensor.Shape{1, 2}, []float32{0, 1})

	outs, err := m.Interpret(map[string]*G.Node{"data": x, "label": label}, []string{"loss"})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	learnables := m.Learnables()
	assert.Equal(2, len(learnables))

	if _, err := G.Grad(outs[0], learnables...); err != nil {
		t.Fatalf("%+v", err)
	}
	machine := G.NewTapeMachine(g, G.BindDualValues(learnables...))
	defer machine.Close()
	if err := machine.RunAll(); err != nil {
		t.Fatalf("%+v", err)
	}

	grads, err := m.Grads()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(len(learnables), len(grads))

	before := append([]float32(nil), m.Parameters()[0].Data().([]float32)...)
	solver := G.NewVanillaSolver(G.WithLearnRate(0.1))
	if err := solver.Step(G.NodesToValueGrads(learnables)); err != nil {
		t.Fatalf("%+v", err)
	}
	// the minted nodes share backing with the stored parameters, so the
	// solver's step lands in the model
	assert.NotEqual(before, m.Parameters()[0].Data().([]float32))
}

func TestToGPUWithoutAccelerator(t *testing.T) {
	m, err := New(ipNet())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	_, err = m.ToGPU(0)
	if err == nil {
		t.Fatal("expected GPU migration to fail without a registered Copier")
	}
	assert.Equal(t, device.ErrNoAccelerator, errors.Cause(err))
}

func TestToCPUClones(t *testing.T) {
	m, err := New(ipNet())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	before := m.Parameters()
	if _, err := m.ToCPU(); err != nil {
		t.Fatalf("%+v", err)
	}
	after := m.Parameters()
	for i := range before {
		assert.NotSame(t, before[i], after[i])
		assert.Equal(t, before[i].Data(), after[i].Data())
	}
}
