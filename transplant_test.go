package brew

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gorgonia/brew/pb"
)

func TestConvWeightsRoundTrip(t *testing.T) {
	assert := assert.New(t)

	// 2 groups, each (2 out, 3 in, 2, 2)
	const group, nIn, nOut, kh, kw = 2, 6, 4, 2, 2
	data := iota32(nOut * (nIn / group) * kh * kw)
	b := &pb.BlobProto{Data: data}

	parts, err := convWeights(b, group, nIn, nOut, kh, kw)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(group, len(parts))
	for _, p := range parts {
		assert.Equal([]int{nOut / group, nIn / group, kh, kw}, []int(p.Shape()))
	}

	// concatenating the flat group data reconstructs the blob exactly
	var joined []float32
	for _, p := range parts {
		joined = append(joined, p.Data().([]float32)...)
	}
	assert.Equal(data, joined)

	// and the partitions do not share backing with the blob
	parts[0].Data().([]float32)[0] = -999
	assert.Equal(float32(1), data[0])
}

func TestConvWeightsSizeMismatch(t *testing.T) {
	b := &pb.BlobProto{Data: iota32(7)}
	_, err := convWeights(b, 1, 2, 2, 2, 2)
	if err == nil {
		t.Fatal("expected a size mismatch error")
	}
}

func TestFlatMatrix(t *testing.T) {
	b := &pb.BlobProto{Data: iota32(6)}
	m, err := flatMatrix(b, 2, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []int{2, 3}, []int(m.Shape()))

	if _, err = flatMatrix(b, 3, 3); err == nil {
		t.Fatal("expected a size mismatch error")
	}
}

func TestFlatVector(t *testing.T) {
	b := &pb.BlobProto{Data: []float32{1, 2, 3}}
	v, err := flatVector(b, 3)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	assert.Equal(t, []float32{1, 2, 3}, v.Data().([]float32))

	if _, err = flatVector(b, 4); err == nil {
		t.Fatal("expected a size mismatch error")
	}
}
