// Package pb decodes the subset of Caffe's NetParameter wire format that the
// interpreter consumes. It is a hand-written protowire reader rather than
// generated code: the registry upstairs only understands a closed set of
// layer types, so the decoder only understands a closed set of fields, and
// skips everything else the same way the registry skips unknown layers.
//
// All records follow proto2 semantics: a field that is absent on the wire
// reports its declared default.
package pb

// NetParameter is the root message of a serialized Caffe model.
type NetParameter struct {
	Name  string
	Layer []*LayerParameter
}

// LayerParameter describes one node of the layer graph: a named, typed
// operation with declared bottom/top blob names, optional learned parameter
// blobs, and at most one type-specific parameter record.
type LayerParameter struct {
	Name   string
	Type   string
	Bottom []string
	Top    []string
	Blobs  []*BlobProto

	Concat       *ConcatParameter
	Convolution  *ConvolutionParameter
	Dropout      *DropoutParameter
	InnerProduct *InnerProductParameter
	LRN          *LRNParameter
	Pooling      *PoolingParameter
	ReLU         *ReLUParameter
	Softmax      *SoftmaxParameter
}

// The GetX accessors return a defaults-populated record when the layer does
// not carry one, so converters never see a nil parameter record.

func (l *LayerParameter) GetConcat() *ConcatParameter {
	if l.Concat == nil {
		return newConcatParameter()
	}
	return l.Concat
}

func (l *LayerParameter) GetConvolution() *ConvolutionParameter {
	if l.Convolution == nil {
		return newConvolutionParameter()
	}
	return l.Convolution
}

func (l *LayerParameter) GetDropout() *DropoutParameter {
	if l.Dropout == nil {
		return newDropoutParameter()
	}
	return l.Dropout
}

func (l *LayerParameter) GetInnerProduct() *InnerProductParameter {
	if l.InnerProduct == nil {
		return newInnerProductParameter()
	}
	return l.InnerProduct
}

func (l *LayerParameter) GetLRN() *LRNParameter {
	if l.LRN == nil {
		return newLRNParameter()
	}
	return l.LRN
}

func (l *LayerParameter) GetPooling() *PoolingParameter {
	if l.Pooling == nil {
		return newPoolingParameter()
	}
	return l.Pooling
}

func (l *LayerParameter) GetReLU() *ReLUParameter {
	if l.ReLU == nil {
		return newReLUParameter()
	}
	return l.ReLU
}

func (l *LayerParameter) GetSoftmax() *SoftmaxParameter {
	if l.Softmax == nil {
		return newSoftmaxParameter()
	}
	return l.Softmax
}

// BlobProto is a flat numeric array with shape metadata. Old models carry the
// legacy 4-D num/channels/height/width fields; newer ones carry Shape.
type BlobProto struct {
	Num      int32
	Channels int32
	Height   int32
	Width    int32
	Data     []float32
	Diff     []float32
	Shape    []int64
}

// Dims4 returns the blob's dimensions as (num, channels, height, width). A
// modern Shape is right-aligned into 4-D, so a 2-D inner-product weight
// (out, in) lands on (height, width) and a 4-D convolution weight lands on
// all four, matching the legacy encoding.
func (b *BlobProto) Dims4() (n, c, h, w int) {
	if b.Num != 0 || b.Channels != 0 || b.Height != 0 || b.Width != 0 {
		return int(b.Num), int(b.Channels), int(b.Height), int(b.Width)
	}
	dims := [4]int{1, 1, 1, 1}
	off := len(dims) - len(b.Shape)
	for i, d := range b.Shape {
		dims[off+i] = int(d)
	}
	return dims[0], dims[1], dims[2], dims[3]
}

// PoolMethod is PoolingParameter's reduction kind.
type PoolMethod int32

const (
	PoolMax PoolMethod = iota
	PoolAve
	PoolStochastic
)

func (p PoolMethod) String() string {
	switch p {
	case PoolMax:
		return "MAX"
	case PoolAve:
		return "AVE"
	case PoolStochastic:
		return "STOCHASTIC"
	}
	return "UNKNOWN"
}

// NormRegion selects LRN's normalization mode.
type NormRegion int32

const (
	AcrossChannels NormRegion = iota
	WithinChannel
)

type ConvolutionParameter struct {
	NumOutput  uint32
	BiasTerm   bool
	Pad        uint32
	KernelSize uint32
	Group      uint32
	Stride     uint32
	PadH       uint32
	PadW       uint32
	KernelH    uint32
	KernelW    uint32
	StrideH    uint32
	StrideW    uint32
}

func newConvolutionParameter() *ConvolutionParameter {
	return &ConvolutionParameter{
		BiasTerm: true,
		Group:    1,
		Stride:   1,
	}
}

type PoolingParameter struct {
	Pool       PoolMethod
	KernelSize uint32
	Stride     uint32
	Pad        uint32
	KernelH    uint32
	KernelW    uint32
	StrideH    uint32
	StrideW    uint32
	PadH       uint32
	PadW       uint32
}

func newPoolingParameter() *PoolingParameter {
	return &PoolingParameter{
		Pool:   PoolMax,
		Stride: 1,
	}
}

type InnerProductParameter struct {
	NumOutput uint32
	BiasTerm  bool
	Axis      int32
}

func newInnerProductParameter() *InnerProductParameter {
	return &InnerProductParameter{
		BiasTerm: true,
		Axis:     1,
	}
}

type LRNParameter struct {
	LocalSize  uint32
	Alpha      float32
	Beta       float32
	NormRegion NormRegion
	K          float32
}

func newLRNParameter() *LRNParameter {
	return &LRNParameter{
		LocalSize: 5,
		Alpha:     1,
		Beta:      0.75,
		K:         1,
	}
}

type DropoutParameter struct {
	Ratio float32
}

func newDropoutParameter() *DropoutParameter {
	return &DropoutParameter{Ratio: 0.5}
}

type ReLUParameter struct {
	NegativeSlope float32
}

func newReLUParameter() *ReLUParameter {
	return &ReLUParameter{}
}

type ConcatParameter struct {
	ConcatDim uint32 // legacy single-axis field
	Axis      int32
}

func newConcatParameter() *ConcatParameter {
	return &ConcatParameter{
		ConcatDim: 1,
		Axis:      1,
	}
}

type SoftmaxParameter struct {
	Axis int32
}

func newSoftmaxParameter() *SoftmaxParameter {
	return &SoftmaxParameter{Axis: 1}
}
