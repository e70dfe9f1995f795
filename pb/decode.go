package pb

import (
	"io/ioutil"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Open reads and decodes a serialized NetParameter from disk.
func Open(path string) (*NetParameter, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model file %q", path)
	}
	net, err := Decode(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode model file %q", path)
	}
	return net, nil
}

// Decode parses a wire-encoded NetParameter. Fields outside the decoded
// subset are skipped, including the legacy V1 "layers" collection, so a
// pre-LayerParameter model decodes to a NetParameter with no layers.
func Decode(buf []byte) (*NetParameter, error) {
	net := &NetParameter{}
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			net.Name = string(v)
		case 100:
			layer, err := decodeLayer(v)
			if err != nil {
				return err
			}
			net.Layer = append(net.Layer, layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return net, nil
}

// eachField walks one message's fields, handing bytes-typed fields to f as v
// and scalar fields as u. Unknown fields are validated and skipped.
func eachField(buf []byte, f func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.WithStack(protowire.ParseError(n))
		}
		buf = buf[n:]

		var v []byte
		var u uint64
		switch typ {
		case protowire.VarintType:
			u, n = protowire.ConsumeVarint(buf)
		case protowire.Fixed32Type:
			var u32 uint32
			u32, n = protowire.ConsumeFixed32(buf)
			u = uint64(u32)
		case protowire.Fixed64Type:
			u, n = protowire.ConsumeFixed64(buf)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(buf)
		default:
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return errors.WithStack(protowire.ParseError(n))
		}
		if err := f(num, typ, v, u); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func decodeLayer(buf []byte) (*LayerParameter, error) {
	l := &LayerParameter{}
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		var err error
		switch num {
		case 1:
			l.Name = string(v)
		case 2:
			l.Type = string(v)
		case 3:
			l.Bottom = append(l.Bottom, string(v))
		case 4:
			l.Top = append(l.Top, string(v))
		case 7:
			var blob *BlobProto
			if blob, err = decodeBlob(v); err == nil {
				l.Blobs = append(l.Blobs, blob)
			}
		case 104:
			l.Concat, err = decodeConcat(v)
		case 106:
			l.Convolution, err = decodeConvolution(v)
		case 108:
			l.Dropout, err = decodeDropout(v)
		case 117:
			l.InnerProduct, err = decodeInnerProduct(v)
		case 118:
			l.LRN, err = decodeLRN(v)
		case 121:
			l.Pooling, err = decodePooling(v)
		case 123:
			l.ReLU, err = decodeReLU(v)
		case 125:
			l.Softmax, err = decodeSoftmax(v)
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "layer %q", l.Name)
	}
	return l, nil
}

func decodeBlob(buf []byte) (*BlobProto, error) {
	b := &BlobProto{}
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			b.Num = int32(u)
		case 2:
			b.Channels = int32(u)
		case 3:
			b.Height = int32(u)
		case 4:
			b.Width = int32(u)
		case 5:
			return appendFloats(&b.Data, typ, v, u)
		case 6:
			return appendFloats(&b.Diff, typ, v, u)
		case 7:
			return eachField(v, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
				if num != 1 {
					return nil
				}
				if typ == protowire.BytesType {
					// packed int64 dims
					for len(v) > 0 {
						d, n := protowire.ConsumeVarint(v)
						if n < 0 {
							return errors.WithStack(protowire.ParseError(n))
						}
						b.Shape = append(b.Shape, int64(d))
						v = v[n:]
					}
					return nil
				}
				b.Shape = append(b.Shape, int64(u))
				return nil
			})
		}
		return nil
	})
	return b, err
}

// appendFloats handles a repeated float field in either encoding: unpacked
// (one fixed32 per element, how Caffe's proto2 writer emits it) or packed.
func appendFloats(dst *[]float32, typ protowire.Type, v []byte, u uint64) error {
	if typ == protowire.Fixed32Type {
		*dst = append(*dst, math32.Float32frombits(uint32(u)))
		return nil
	}
	if typ != protowire.BytesType {
		return errors.Errorf("repeated float field encoded as wire type %v", typ)
	}
	for len(v) > 0 {
		bits, n := protowire.ConsumeFixed32(v)
		if n < 0 {
			return errors.WithStack(protowire.ParseError(n))
		}
		*dst = append(*dst, math32.Float32frombits(bits))
		v = v[n:]
	}
	return nil
}

func decodeConvolution(buf []byte) (*ConvolutionParameter, error) {
	p := newConvolutionParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			p.NumOutput = uint32(u)
		case 2:
			p.BiasTerm = protowire.DecodeBool(u)
		case 3:
			p.Pad = uint32(u)
		case 4:
			p.KernelSize = uint32(u)
		case 5:
			p.Group = uint32(u)
		case 6:
			p.Stride = uint32(u)
		case 9:
			p.PadH = uint32(u)
		case 10:
			p.PadW = uint32(u)
		case 11:
			p.KernelH = uint32(u)
		case 12:
			p.KernelW = uint32(u)
		case 13:
			p.StrideH = uint32(u)
		case 14:
			p.StrideW = uint32(u)
		}
		return nil
	})
	return p, err
}

func decodePooling(buf []byte) (*PoolingParameter, error) {
	p := newPoolingParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			p.Pool = PoolMethod(u)
		case 2:
			p.KernelSize = uint32(u)
		case 3:
			p.Stride = uint32(u)
		case 4:
			p.Pad = uint32(u)
		case 5:
			p.KernelH = uint32(u)
		case 6:
			p.KernelW = uint32(u)
		case 7:
			p.StrideH = uint32(u)
		case 8:
			p.StrideW = uint32(u)
		case 9:
			p.PadH = uint32(u)
		case 10:
			p.PadW = uint32(u)
		}
		return nil
	})
	return p, err
}

func decodeInnerProduct(buf []byte) (*InnerProductParameter, error) {
	p := newInnerProductParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			p.NumOutput = uint32(u)
		case 2:
			p.BiasTerm = protowire.DecodeBool(u)
		case 5:
			p.Axis = int32(u)
		}
		return nil
	})
	return p, err
}

func decodeLRN(buf []byte) (*LRNParameter, error) {
	p := newLRNParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			p.LocalSize = uint32(u)
		case 2:
			p.Alpha = math32.Float32frombits(uint32(u))
		case 3:
			p.Beta = math32.Float32frombits(uint32(u))
		case 4:
			p.NormRegion = NormRegion(u)
		case 5:
			p.K = math32.Float32frombits(uint32(u))
		}
		return nil
	})
	return p, err
}

func decodeDropout(buf []byte) (*DropoutParameter, error) {
	p := newDropoutParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		if num == 1 {
			p.Ratio = math32.Float32frombits(uint32(u))
		}
		return nil
	})
	return p, err
}

func decodeReLU(buf []byte) (*ReLUParameter, error) {
	p := newReLUParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		if num == 1 {
			p.NegativeSlope = math32.Float32frombits(uint32(u))
		}
		return nil
	})
	return p, err
}

func decodeConcat(buf []byte) (*ConcatParameter, error) {
	p := newConcatParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			p.ConcatDim = uint32(u)
		case 2:
			p.Axis = int32(u)
		}
		return nil
	})
	return p, err
}

func decodeSoftmax(buf []byte) (*SoftmaxParameter, error) {
	p := newSoftmaxParameter()
	err := eachField(buf, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		if num == 2 {
			p.Axis = int32(u)
		}
		return nil
	})
	return p, err
}
