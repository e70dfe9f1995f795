// Package heatmap renders 3-D activation tensors and convolution filter
// stacks as labelled grayscale grids, for inspecting what an interpreted
// model computed. One cell per channel, values min-max normalized per
// tensor.
package heatmap

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/chewxy/math32"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/math/fixed"
	"gorgonia.org/tensor"
)

var regular *truetype.Font

const (
	dpi      = 72.0
	fontsize = 10.0
	cellPad  = 4
	labelH   = 14
)

func init() {
	var err error
	if regular, err = truetype.Parse(gomono.TTF); err != nil {
		panic(err)
	}
}

// Encoder renders channel grids into an image and writes it out as PNG.
type Encoder struct {
	Cols  int // cells per row; 0 picks a near-square grid
	Scale int // pixels per tensor element, minimum 1

	font.Drawer
	io.Writer

	initialized bool
}

// NewEncoder writes PNGs to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		Scale:  1,
		Writer: w,
	}
}

// Encode renders a (C, H, W) tensor as a labelled grid of C heatmap cells
// and writes the PNG.
func (enc *Encoder) Encode(t *tensor.Dense, label string) error {
	if t.Dims() != 3 {
		return errors.Errorf("heatmap wants a 3-D (C, H, W) tensor, got %v", t.Shape())
	}
	if !enc.initialized {
		enc.Drawer.Src = image.Black
		enc.Drawer.Face = truetype.NewFace(regular, &truetype.Options{
			Size:    fontsize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		})
		enc.initialized = true
	}
	if enc.Scale < 1 {
		enc.Scale = 1
	}

	s := t.Shape()
	c, h, w := s[0], s[1], s[2]
	data := t.Data().([]float32)
	lo, hi := minMax(data)

	cols := enc.Cols
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(c))))
	}
	rows := (c + cols - 1) / cols

	cellW := w*enc.Scale + cellPad
	cellH := h*enc.Scale + cellPad
	im := image.NewGray(image.Rect(0, 0, cols*cellW+cellPad, rows*cellH+cellPad+labelH))
	draw.Draw(im, im.Bounds(), image.White, image.ZP, draw.Src)

	for ch := 0; ch < c; ch++ {
		x0 := (ch%cols)*cellW + cellPad
		y0 := (ch/cols)*cellH + cellPad + labelH
		plane := data[ch*h*w : (ch+1)*h*w]
		for i, v := range plane {
			shade := gray(v, lo, hi)
			px := x0 + (i%w)*enc.Scale
			py := y0 + (i/w)*enc.Scale
			for dy := 0; dy < enc.Scale; dy++ {
				for dx := 0; dx < enc.Scale; dx++ {
					im.SetGray(px+dx, py+dy, shade)
				}
			}
		}
	}

	enc.Dst = im
	enc.Dot = fixed.P(cellPad, labelH-cellPad)
	enc.DrawString(label)

	return errors.Wrap(png.Encode(enc.Writer, im), "failed to encode heatmap")
}

// EncodeFilters flattens a (Out, In, H, W) filter stack to (Out·In, H, W)
// and renders it.
func (enc *Encoder) EncodeFilters(t *tensor.Dense, label string) error {
	if t.Dims() != 4 {
		return errors.Errorf("filter heatmap wants a 4-D (Out, In, H, W) tensor, got %v", t.Shape())
	}
	s := t.Shape()
	flat := t.Clone().(*tensor.Dense)
	if err := flat.Reshape(s[0]*s[1], s[2], s[3]); err != nil {
		return errors.Wrap(err, "failed to flatten filter stack")
	}
	return enc.Encode(flat, label)
}

func minMax(data []float32) (lo, hi float32) {
	lo = math32.Inf(1)
	hi = math32.Inf(-1)
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func gray(v, lo, hi float32) color.Gray {
	if hi <= lo {
		return color.Gray{Y: 127}
	}
	return color.Gray{Y: uint8(255 * (v - lo) / (hi - lo))}
}
