package brew

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/brew/pb"
)

// converter translates one layer descriptor into a registered forward, or
// rejects the configuration. The table is closed on purpose: dispatch is by
// exact type tag, and a tag outside the table means the layer is skipped.
type converter func(m *Model, l *pb.LayerParameter) error

var converters = map[string]converter{
	"Concat":          convertConcat,
	"Convolution":     convertConvolution,
	"Dropout":         convertDropout,
	"InnerProduct":    convertInnerProduct,
	"LRN":             convertLRN,
	"Pooling":         convertPooling,
	"ReLU":            convertReLU,
	"SoftmaxWithLoss": convertSoftmaxWithLoss,
	"Split":           convertSplit,
}

// spatialPair resolves Caffe's paired-or-scalar spatial fields: explicit
// height/width win whenever the height field is positive, otherwise the
// single symmetric scalar applies to both.
func spatialPair(h, w, scalar uint32) (int, int) {
	if h > 0 {
		return int(h), int(w)
	}
	return int(scalar), int(scalar)
}

func convertConvolution(m *Model, l *pb.LayerParameter) error {
	p := l.GetConvolution()
	kh, kw := spatialPair(p.KernelH, p.KernelW, p.KernelSize)
	sh, sw := spatialPair(p.StrideH, p.StrideW, p.Stride)
	ph, pw := spatialPair(p.PadH, p.PadW, p.Pad)

	if len(l.Blobs) == 0 {
		return errors.Errorf("convolution layer carries no weight blob")
	}
	wb := l.Blobs[0]
	nOut, wc, _, _ := wb.Dims4()

	group := int(p.Group)
	if group < 1 {
		group = 1
	}
	nIn := wc * group
	if nOut%group != 0 {
		return unsupportedf(l.Name, "group %d does not evenly divide %d output channels", group, nOut)
	}

	tensors, err := convWeights(wb, group, nIn, nOut, kh, kw)
	if err != nil {
		return err
	}
	weights := make([]*Param, group)
	for i, t := range tensors {
		weights[i] = m.newParam(fmt.Sprintf("%s_W%d", l.Name, i), t)
	}

	var bias *Param
	if p.BiasTerm {
		if len(l.Blobs) < 2 {
			return errors.Errorf("convolution layer declares a bias term but carries no bias blob")
		}
		bt, err := flatVector(l.Blobs[1], nOut)
		if err != nil {
			return err
		}
		bias = m.newParam(l.Name+"_b", bt)
	}

	return m.register(l, convForward(weights, bias, tensor.Shape{kh, kw}, []int{ph, pw}, []int{sh, sw}))
}

func convertInnerProduct(m *Model, l *pb.LayerParameter) error {
	p := l.GetInnerProduct()
	if p.Axis != 1 {
		return unsupportedf(l.Name, "inner product along axis %d (want 1)", p.Axis)
	}
	if len(l.Blobs) == 0 {
		return errors.Errorf("inner product layer carries no weight blob")
	}
	wb := l.Blobs[0]
	_, _, nOut, nIn := wb.Dims4()

	wt, err := flatMatrix(wb, nOut, nIn)
	if err != nil {
		return err
	}
	weight := m.newParam(l.Name+"_W", wt)

	var bias *Param
	if p.BiasTerm {
		if len(l.Blobs) < 2 {
			return errors.Errorf("inner product layer declares a bias term but carries no bias blob")
		}
		bt, err := flatVector(l.Blobs[1], nOut)
		if err != nil {
			return err
		}
		bias = m.newParam(l.Name+"_b", bt)
	}

	return m.register(l, linearForward(weight, bias))
}

func convertLRN(m *Model, l *pb.LayerParameter) error {
	p := l.GetLRN()
	if p.NormRegion != pb.AcrossChannels {
		return unsupportedf(l.Name, "within-channel LRN")
	}
	size := int(p.LocalSize)
	if size < 1 || size%2 == 0 {
		return unsupportedf(l.Name, "LRN window of size %d (want odd, positive)", size)
	}
	// the serialized alpha is unnormalized; the op wants it per window element
	alpha := p.Alpha / float32(size)
	return m.register(l, lrnForward(size, p.K, alpha, p.Beta))
}

func convertPooling(m *Model, l *pb.LayerParameter) error {
	p := l.GetPooling()
	kh, kw := spatialPair(p.KernelH, p.KernelW, p.KernelSize)
	sh, sw := spatialPair(p.StrideH, p.StrideW, p.Stride)
	ph, pw := spatialPair(p.PadH, p.PadW, p.Pad)

	var f forward
	switch p.Pool {
	case pb.PoolMax:
		f = maxPoolForward(tensor.Shape{kh, kw}, []int{ph, pw}, []int{sh, sw})
	case pb.PoolAve:
		f = avgPoolForward(tensor.Shape{kh, kw}, []int{ph, pw}, []int{sh, sw})
	default:
		return unsupportedf(l.Name, "%v pooling", p.Pool)
	}
	return m.register(l, f)
}

func convertReLU(m *Model, l *pb.LayerParameter) error {
	return m.register(l, reluForward(l.GetReLU().NegativeSlope))
}

func convertDropout(m *Model, l *pb.LayerParameter) error {
	return m.register(l, dropoutForward(float64(l.GetDropout().Ratio)))
}

func convertConcat(m *Model, l *pb.LayerParameter) error {
	p := l.GetConcat()
	axis := int(p.Axis)
	// the legacy single-axis field wins while the modern one sits at its default
	if axis == 1 && p.ConcatDim != 1 {
		axis = int(p.ConcatDim)
	}
	return m.register(l, concatForward(axis))
}

func convertSoftmaxWithLoss(m *Model, l *pb.LayerParameter) error {
	if axis := l.GetSoftmax().Axis; axis != 1 {
		return unsupportedf(l.Name, "softmax along axis %d (want the channel axis)", axis)
	}
	return m.register(l, softmaxLossForward())
}

// convertSplit registers no forward. Every declared top becomes an alias for
// the sole bottom, and downstream bottoms are rewritten through the alias
// map as they are recorded.
func convertSplit(m *Model, l *pb.LayerParameter) error {
	if len(l.Bottom) != 1 {
		return errors.Errorf("split layer wants exactly 1 bottom, got %d", len(l.Bottom))
	}
	src := l.Bottom[0]
	for _, top := range l.Top {
		m.splits[top] = src
		m.produced[top] = struct{}{}
	}
	return nil
}
