package brew

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrLegacyModel is returned when the model file predates Caffe's
// LayerParameter format. Upgrading is out of scope here; Caffe ships
// upgrade_net_proto_binary for that.
var ErrLegacyModel = errors.New("caffe model is in the old format: upgrade it with Caffe's upgrade_net_proto_binary tool")

// UnsupportedError is a recognized layer type used with a parameter
// combination this interpreter does not emulate. It is raised at load time
// and aborts the whole load.
type UnsupportedError struct {
	Layer string
	Msg   string
}

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported configuration in layer %q: %s", e.Layer, e.Msg)
}

func unsupportedf(layer, format string, args ...interface{}) error {
	return errors.WithStack(UnsupportedError{Layer: layer, Msg: fmt.Sprintf(format, args...)})
}

// UnknownOutputError is a caller error: the requested output name is not
// produced by any layer in the model.
type UnknownOutputError struct {
	Name string
}

func (e UnknownOutputError) Error() string {
	return fmt.Sprintf("output %q is not produced by any layer in the model", e.Name)
}

// UnreachableOutputError is a caller error: the requested output exists in
// the model but was never bound during the pass, because a layer upstream
// was disabled or an input it depends on was not supplied.
type UnreachableOutputError struct {
	Name string
}

func (e UnreachableOutputError) Error() string {
	return fmt.Sprintf("output %q was not computed: a layer upstream was disabled or missing its inputs", e.Name)
}
