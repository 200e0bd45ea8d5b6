// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the capability contract a compute backend (the "hardware") needs to implement
// to be used by lazygrad, and the machinery that owns device memory on top of it.
//
// A backend only provides raw memory management (Allocate/Deallocate), data movement and a small fixed
// set of elementwise kernels. Everything else (shapes, graphs, gradients) is built on top of it.
//
// The main elements are:
//
//   - Hardware: the interface a backend implements. It is not required to be safe for concurrent use.
//   - Device: the exclusive-access context wrapping one Hardware. Every call into the Hardware goes through
//     the Device, which holds its lock only for the duration of that call. Devices are compared by identity
//     (pointer), two devices are never interchangeable, even if they wrap the same kind of backend.
//   - Buffer: owns one region of device memory, bound to a Device for its whole life, and released exactly once.
//
// Backends register themselves with Register, and a Device is created with New or NewWithConfig.
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handle is an opaque reference to a region of device memory, as returned by Hardware.Allocate.
//
// The zero value is never a valid handle.
type Handle uintptr

// InvalidHandle is the zero Handle.
const InvalidHandle = Handle(0)

// Hardware is the API that needs to be implemented by a backend.
//
// Implementations don't need to be safe for concurrent use: all calls are serialized by the owning Device.
// Optionally, they can implement Finalizer to release their resources in Device.Finalize.
type Hardware interface {
	// Name returns the short name of the backend. E.g.: "go" for the host memory backend.
	Name() string

	// Description is a longer description of the Hardware that can be used to pretty-print.
	Description() string

	// Allocate returns a handle to a new region of size bytes. The contents are undefined.
	//
	// Allocator exhaustion is not recoverable: it panics with an error wrapping ErrOutOfMemory.
	Allocate(size int) Handle

	// Deallocate releases the region referred by handle, which must have been allocated with the given size.
	// It must be called exactly once per handle.
	Deallocate(handle Handle, size int)

	// Fill sets the first numElements elements (of the given dtype) of out to value.
	Fill(dtype dtypes.DType, out Handle, numElements int, value float64) error

	// CopyFromHost copies len(src) bytes from host memory into dst.
	CopyFromHost(dst Handle, src []byte) error

	// CopyToHost copies len(dst) bytes from src into host memory.
	CopyToHost(dst []byte, src Handle) error

	// Copy copies size bytes from src to dst, both on this hardware.
	Copy(dst, src Handle, size int) error

	// Binary executes the elementwise binary operation op (Add, Sub, Mul or Div) on numElements elements
	// of lhs and rhs and stores the result in out.
	Binary(op OpType, dtype dtypes.DType, lhs, rhs, out Handle, numElements int) error

	// Unary executes the elementwise unary operation op (Neg) on numElements elements of x and
	// stores the result in out.
	Unary(op OpType, dtype dtypes.DType, x, out Handle, numElements int) error
}

// Constructor takes a config string (optionally empty) and returns a Hardware.
type Constructor func(config string) (Hardware, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
const ConfigEnvVar = "LAZYGRAD_BACKEND"

// New returns a Device for a new default Hardware.
//
// The default is:
//
// 1. The environment LAZYGRAD_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It returns an error if no backend was registered.
func New() (*Device, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew calls New and panics if it fails.
func MustNew() *Device {
	device, err := New()
	if err != nil {
		panic(err)
	}
	return device
}

// NewWithConfig takes a configuration string formatted as "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If "<backend_name>" is not given, the first registered
// backend is used.
//
// Each call creates a new Device: devices are never shared between callers implicitly.
func NewWithConfig(config string) (*Device, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for lazygrad -- maybe import the default host one with import _ "github.com/gomlx/lazygrad/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given", backendName, config)
	}
	hw, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to construct backend %q with configuration %q", backendName, backendConfig)
	}
	device := NewDevice(hw)
	klog.V(1).Infof("created device %s (%s)", device, hw.Description())
	return device, nil
}
