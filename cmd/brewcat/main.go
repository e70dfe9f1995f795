// brewcat inspects a Caffe model through brew's eyes: it prints the
// executable layer order after conversion, and can dump the layer graph as
// DOT or render a convolution layer's filters as a PNG heatmap.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gorgonia.org/tensor"

	"github.com/gorgonia/brew"
	"github.com/gorgonia/brew/encoding/heatmap"
	"github.com/gorgonia/brew/pb"
)

var (
	dot     = flag.Bool("dot", false, "dump the layer graph as graphviz DOT and exit")
	filters = flag.String("filters", "", "render this layer's filters as a heatmap")
	out     = flag.String("o", "filters.png", "output file for -filters")
	scale   = flag.Int("scale", 8, "pixels per filter element for -filters")
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: brewcat [flags] model.caffemodel")
	}
	path := flag.Arg(0)

	net, err := pb.Open(path)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	model, err := brew.New(net)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *dot {
		s, err := model.Dot()
		if err != nil {
			log.Fatalf("%+v", err)
		}
		fmt.Println(s)
		return
	}

	if *filters != "" {
		if err := renderFilters(net, *filters, *out, *scale); err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	fmt.Printf("%s: %d layers declared, %d executable, %d parameter tensors\n",
		model.Name(), len(net.Layer), len(model.Layers()), len(model.Parameters()))
	for _, l := range model.Layers() {
		fmt.Printf("  %-24s %s -> %s\n", l.Name,
			strings.Join(l.Bottom, ", "), strings.Join(l.Top, ", "))
	}
}

func renderFilters(net *pb.NetParameter, name, out string, scale int) error {
	for _, l := range net.Layer {
		if l.Name != name {
			continue
		}
		if len(l.Blobs) == 0 {
			return fmt.Errorf("layer %q carries no parameter blobs", name)
		}
		b := l.Blobs[0]
		n, c, h, w := b.Dims4()
		data := make([]float32, len(b.Data))
		copy(data, b.Data)
		t := tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(data))

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()

		enc := heatmap.NewEncoder(f)
		enc.Scale = scale
		return enc.EncodeFilters(t, name)
	}
	return fmt.Errorf("no layer named %q", name)
}
