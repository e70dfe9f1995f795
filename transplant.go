package brew

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gorgonia/brew/pb"
)

// convWeights partitions a convolution weight blob into group contiguous
// slices along both channel axes and reshapes each slice's flat data into
// its (out/g, in/g, kh, kw) sub-tensor. The blob stores groups back to
// back, so slice i is just data[i·part : (i+1)·part].
func convWeights(b *pb.BlobProto, group, nIn, nOut, kh, kw int) ([]*tensor.Dense, error) {
	inPerGroup := nIn / group
	outPerGroup := nOut / group
	part := outPerGroup * inPerGroup * kh * kw
	if len(b.Data) != part*group {
		return nil, errors.Errorf("convolution weight blob has %d values, want %d (%d groups of %d×%d×%d×%d)",
			len(b.Data), part*group, group, outPerGroup, inPerGroup, kh, kw)
	}

	retVal := make([]*tensor.Dense, group)
	for i := range retVal {
		data := make([]float32, part)
		copy(data, b.Data[i*part:(i+1)*part])
		retVal[i] = tensor.New(tensor.WithShape(outPerGroup, inPerGroup, kh, kw), tensor.WithBacking(data))
	}
	return retVal, nil
}

// flatMatrix reshapes a blob's flat data into a (rows, cols) tensor.
func flatMatrix(b *pb.BlobProto, rows, cols int) (*tensor.Dense, error) {
	if len(b.Data) != rows*cols {
		return nil, errors.Errorf("weight blob has %d values, want %d (%d×%d)", len(b.Data), rows*cols, rows, cols)
	}
	data := make([]float32, len(b.Data))
	copy(data, b.Data)
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data)), nil
}

// flatVector loads a blob as a flat vector of the given size.
func flatVector(b *pb.BlobProto, size int) (*tensor.Dense, error) {
	if len(b.Data) != size {
		return nil, errors.Errorf("bias blob has %d values, want %d", len(b.Data), size)
	}
	data := make([]float32, size)
	copy(data, b.Data)
	return tensor.New(tensor.WithShape(size), tensor.WithBacking(data)), nil
}
