// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

// ErrInvalidGraph is returned (wrapped) when nodes or addresses don't belong to the graph they are used with,
// or when the graph was already finalized.
var ErrInvalidGraph = errors.New("invalid graph")
