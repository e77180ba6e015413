// Package domain contains core concepts of the chat system.
// This file defines Participant entities and related rules.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ConnectionID identifies one accepted connection for its whole lifetime.
// It is never reused while the connection is alive.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

func (c ConnectionID) String() string { return string(c) }

// DisplayName is chosen once per session and never changes afterward.
// Two sessions may share the same name.
type DisplayName string

// ParseDisplayName trims the raw input and reports whether a usable name remains.
func ParseDisplayName(raw string) (DisplayName, bool) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", false
	}
	return DisplayName(name), true
}

func (d DisplayName) String() string { return string(d) }

// SessionState is the lifecycle of a single connection.
// Terminated is terminal: there is no transition out of it.
type SessionState int

const (
	AwaitingUsername SessionState = iota
	Active
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case AwaitingUsername:
		return "awaiting_username"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
