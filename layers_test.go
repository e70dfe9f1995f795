package brew

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/gorgonia/brew/pb"
)

func assertUnsupported(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an unsupported configuration error")
	}
	_, ok := errors.Cause(err).(UnsupportedError)
	assert.True(t, ok, "got %T: %v", errors.Cause(err), err)
}

func TestInnerProductNonDefaultAxis(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "ip1", Type: "InnerProduct",
		Bottom:       []string{"data"},
		Top:          []string{"ip1"},
		InnerProduct: &pb.InnerProductParameter{NumOutput: 2, Axis: 2},
		Blobs:        []*pb.BlobProto{blob4(1, 1, 2, 3, 1, 2, 3, 4, 5, 6)},
	}))
	assertUnsupported(t, err)
}

func TestWithinChannelLRN(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "norm1", Type: "LRN",
		Bottom: []string{"data"},
		Top:    []string{"norm1"},
		LRN:    &pb.LRNParameter{LocalSize: 5, NormRegion: pb.WithinChannel},
	}))
	assertUnsupported(t, err)
}

func TestEvenLRNWindow(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "norm1", Type: "LRN",
		Bottom: []string{"data"},
		Top:    []string{"norm1"},
		LRN:    &pb.LRNParameter{LocalSize: 4},
	}))
	assertUnsupported(t, err)
}

func TestStochasticPooling(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "pool1", Type: "Pooling",
		Bottom:  []string{"data"},
		Top:     []string{"pool1"},
		Pooling: &pb.PoolingParameter{Pool: pb.PoolStochastic, KernelSize: 2},
	}))
	assertUnsupported(t, err)
}

func TestSoftmaxNonChannelAxis(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "loss", Type: "SoftmaxWithLoss",
		Bottom:  []string{"scores", "label"},
		Top:     []string{"loss"},
		Softmax: &pb.SoftmaxParameter{Axis: 2},
	}))
	assertUnsupported(t, err)
}

func TestNonDividingGroup(t *testing.T) {
	_, err := New(netOf(&pb.LayerParameter{
		Name: "conv1", Type: "Convolution",
		Bottom:      []string{"data"},
		Top:         []string{"conv1"},
		Convolution: &pb.ConvolutionParameter{NumOutput: 3, KernelSize: 1, Stride: 1, Group: 2, BiasTerm: false},
		Blobs:       []*pb.BlobProto{blob4(3, 1, 1, 1, 1, 2, 3)},
	}))
	assertUnsupported(t, err)
}

func TestConvolutionBlobMismatch(t *testing.T) {
	// kernel says 3×3 but the blob only holds a 2×2's worth of data:
	// reported, not silently ignored
	_, err := New(netOf(&pb.LayerParameter{
		Name: "conv1", Type: "Convolution",
		Bottom:      []string{"data"},
		Top:         []string{"conv1"},
		Convolution: &pb.ConvolutionParameter{NumOutput: 1, KernelSize: 3, Stride: 1, Group: 1, BiasTerm: false},
		Blobs:       []*pb.BlobProto{blob4(1, 1, 2, 2, 1, 2, 3, 4)},
	}))
	if err == nil {
		t.Fatal("expected a shape mismatch error")
	}
}

func TestConvolutionExplicitSpatialFields(t *testing.T) {
	// kernel_h > 0 wins over the symmetric scalar
	m, err := New(netOf(&pb.LayerParameter{
		Name: "conv1", Type: "Convolution",
		Bottom: []string{"data"},
		Top:    []string{"conv1"},
		Convolution: &pb.ConvolutionParameter{
			NumOutput: 1, KernelSize: 7, KernelH: 1, KernelW: 2,
			Stride: 1, Group: 1, BiasTerm: false,
		},
		Blobs: []*pb.BlobProto{blob4(1, 1, 1, 2, 1, 1)},
	}))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, 1, len(m.Parameters()))
	// the 1×2 kernel matched the blob, so the scalar field was ignored
	assert.Equal(t, []int{1, 1, 1, 2}, []int(m.Parameters()[0].Shape()))
}

func TestDuplicateLayerName(t *testing.T) {
	_, err := New(netOf(
		&pb.LayerParameter{Name: "relu", Type: "ReLU", Bottom: []string{"data"}, Top: []string{"a"}},
		&pb.LayerParameter{Name: "relu", Type: "ReLU", Bottom: []string{"a"}, Top: []string{"b"}},
	))
	if err == nil {
		t.Fatal("expected duplicate layer names to be rejected")
	}
}
