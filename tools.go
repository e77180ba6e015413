//go:build tools
// +build tools

// Package tools pins the code generators used by go generate (mockgen)
// so they are versioned in go.mod like any other dependency.
package line_chat

import (
	_ "go.uber.org/mock/mockgen"
)
