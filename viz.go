package brew

import (
	"strconv"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// Dot renders the executable layer order as a graphviz digraph: blobs as
// ellipses, layers as boxes, edges following the post-alias-resolution
// bottoms. Handy for eyeballing what a model will actually run.
func (m *Model) Dot() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("brew"); err != nil {
		return "", errors.WithStack(err)
	}
	if err := g.SetDir(true); err != nil {
		return "", errors.WithStack(err)
	}

	seen := make(map[string]struct{})
	blob := func(name string) (string, error) {
		id := strconv.Quote("blob:" + name)
		if _, ok := seen[name]; ok {
			return id, nil
		}
		seen[name] = struct{}{}
		attrs := map[string]string{
			"shape": "ellipse",
			"label": strconv.Quote(name),
		}
		return id, g.AddNode("brew", id, attrs)
	}

	for _, l := range m.layers {
		id := strconv.Quote("layer:" + l.name)
		attrs := map[string]string{
			"shape": "box",
			"label": strconv.Quote(l.name),
		}
		if err := g.AddNode("brew", id, attrs); err != nil {
			return "", errors.WithStack(err)
		}
		for _, b := range l.bottom {
			bid, err := blob(b)
			if err != nil {
				return "", errors.WithStack(err)
			}
			if err := g.AddEdge(bid, id, true, nil); err != nil {
				return "", errors.WithStack(err)
			}
		}
		for _, t := range l.top {
			tid, err := blob(t)
			if err != nil {
				return "", errors.WithStack(err)
			}
			if err := g.AddEdge(id, tid, true, nil); err != nil {
				return "", errors.WithStack(err)
			}
		}
	}
	return g.String(), nil
}
