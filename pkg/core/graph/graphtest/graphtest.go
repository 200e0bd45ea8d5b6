// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/lazygrad/backends"
	_ "github.com/gomlx/lazygrad/backends/default"
	"github.com/gomlx/lazygrad/pkg/core/graph"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var (
	deviceOnce   sync.Once
	cachedDevice *backends.Device
)

// BuildTestDevice returns a Device shared by tests, created with backends.New, so it can be
// configured with the LAZYGRAD_BACKEND environment variable. It defaults to the "go" backend.
func BuildTestDevice() *backends.Device {
	deviceOnce.Do(func() {
		if backends.DefaultConfig == "" {
			backends.DefaultConfig = "go"
		}
		var err error
		cachedDevice, err = backends.New()
		if err != nil {
			klog.Fatalf("Failed to create test device: %+v", err)
		}
	})
	return cachedDevice
}

// NewDevice returns a new Device, distinct from any other, with the given backend configuration.
func NewDevice(t *testing.T, config string) *backends.Device {
	t.Helper()
	device, err := backends.NewWithConfig(config)
	require.NoErrorf(t, err, "failed to create device with config %q", config)
	return device
}

// Scalar returns a constant scalar node with value, on the test device.
func Scalar(t *testing.T, g *graph.Graph, value float64) graph.Node {
	t.Helper()
	node, err := graph.FromScalar(g, BuildTestDevice(), value)
	require.NoError(t, err)
	return node
}

// RequireScalar calculates node and compares it to want.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RequireScalar(t *testing.T, want float64, node graph.Node, delta float64) {
	t.Helper()
	got, err := node.ToScalar()
	require.NoErrorf(t, err, "failed to calculate %s", node)
	if delta <= 0 {
		require.Equalf(t, want, got, "%s", node)
	} else {
		require.InDeltaf(t, want, got, delta, "%s", node)
	}
}

// RequireValues calculates node and compares its flat values to want.
//
// delta has the same meaning as in RequireScalar.
func RequireValues(t *testing.T, want []float64, node graph.Node, delta float64) {
	t.Helper()
	got, err := node.Values()
	require.NoErrorf(t, err, "failed to calculate %s", node)
	require.Lenf(t, got, len(want), "%s", node)
	if delta <= 0 {
		require.Equalf(t, want, got, "%s", node)
	} else {
		require.InDeltaSlicef(t, want, got, delta, "%s", node)
	}
}

// PrintGraph prints the graph, to help debug tests.
func PrintGraph(g *graph.Graph) {
	fmt.Printf("%s\n", g)
}
