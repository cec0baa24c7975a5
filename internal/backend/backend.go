// Package backend names the ONNX Runtime execution providers a session
// can be created with.
package backend

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CPU      = "cpu"
	CUDA     = "cuda"
	DirectML = "directml"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Options selects an execution provider for a session.
type Options struct {
	Name     string
	DeviceID int
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	switch backend {
	case "":
		return CPU, nil
	case "dml":
		backend = DirectML
	}
	switch backend {
	case CPU, CUDA, DirectML:
		if !Has(backend) {
			return "", fmt.Errorf("%w: %q is not available on this platform (available: %s)", ErrUnknownBackend, backend, Available())
		}
		return backend, nil
	default:
		return "", fmt.Errorf("%w: %q (expected %s)", ErrUnknownBackend, backend, Available())
	}
}

// Resolve normalizes the provider name and validates the device id.
func (o Options) Resolve() (Options, error) {
	name, err := Normalize(o.Name)
	if err != nil {
		return Options{}, err
	}
	if o.DeviceID < 0 {
		return Options{}, fmt.Errorf("device id must be non-negative, got %d", o.DeviceID)
	}
	if name == CPU {
		o.DeviceID = 0
	}
	o.Name = name
	return o, nil
}

// Accelerated reports whether the provider runs on a device other than the CPU.
func (o Options) Accelerated() bool {
	return o.Name == CUDA || o.Name == DirectML
}
