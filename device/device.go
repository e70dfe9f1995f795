// Package device is a small data-movement shim between host memory and an
// optional accelerator. The default build is host-only: copies within host
// memory are clones, and any accelerator transfer fails with
// ErrNoAccelerator until a Copier is registered.
package device

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Device identifies where a tensor's backing memory lives. CPU is the host;
// non-negative values are accelerator ordinals.
type Device int

// CPU is the host device.
const CPU Device = -1

// GPU returns the device for the given accelerator ordinal.
func GPU(n int) Device { return Device(n) }

// IsGPU reports whether d is an accelerator device.
func (d Device) IsGPU() bool { return d >= 0 }

func (d Device) String() string {
	if d.IsGPU() {
		return fmt.Sprintf("GPU(%d)", int(d))
	}
	return "CPU"
}

// ErrNoAccelerator is returned by Copy for accelerator targets when no
// Copier has been registered.
var ErrNoAccelerator = errors.New("no accelerator Copier registered")

// Copier moves a tensor's backing memory between devices. Implementations
// are registered by accelerator backends via Use.
type Copier interface {
	Copy(t *tensor.Dense, dev Device) (*tensor.Dense, error)
}

var copier Copier

// Use registers the Copier that accelerator transfers go through. Passing
// nil reverts to the host-only default.
func Use(c Copier) { copier = c }

// Copy copies t onto the given device. Host-to-host copies clone the tensor,
// so the result never shares backing memory with the input.
func Copy(t *tensor.Dense, dev Device) (*tensor.Dense, error) {
	if copier != nil {
		return copier.Copy(t, dev)
	}
	if dev.IsGPU() {
		return nil, errors.Wrapf(ErrNoAccelerator, "cannot copy to %v", dev)
	}
	return t.Clone().(*tensor.Dense), nil
}
