package heatmap

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.Scale = 4
	enc.Cols = 2

	backing := make([]float32, 4*3*3)
	for i := range backing {
		backing[i] = float32(i)
	}
	a := tensor.New(tensor.WithShape(4, 3, 3), tensor.WithBacking(backing))
	if err := enc.Encode(a, "conv1 activations"); err != nil {
		t.Fatalf("%+v", err)
	}

	im, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// 2×2 grid of 12×12 cells plus padding and the label strip
	bounds := im.Bounds()
	assert.Equal(t, 2*(3*4+4)+4, bounds.Dx())
	assert.Equal(t, 2*(3*4+4)+4+14, bounds.Dy())
}

func TestEncodeRejectsWrongRank(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	a := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, 2, 3, 4}))
	assert.Error(t, enc.Encode(a, "nope"))
}

func TestEncodeFilters(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	backing := make([]float32, 2*3*5*5)
	for i := range backing {
		backing[i] = float32(i % 7)
	}
	a := tensor.New(tensor.WithShape(2, 3, 5, 5), tensor.WithBacking(backing))
	if err := enc.EncodeFilters(a, "conv1 filters"); err != nil {
		t.Fatalf("%+v", err)
	}
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestFlatGray(t *testing.T) {
	// a constant tensor has no range; everything lands mid-gray
	g := gray(3, 3, 3)
	assert.Equal(t, uint8(127), g.Y)
}
