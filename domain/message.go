// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable once built.
package domain

import "fmt"

// UsernamePrompt is written to every new connection before the first read.
const UsernamePrompt = "Enter your Username: "

// BroadcastMessage is a fully formatted, newline-terminated line.
// Every subscriber receives the same value and must not alter it.
type BroadcastMessage string

func (m BroadcastMessage) String() string { return string(m) }

func (m BroadcastMessage) Bytes() []byte { return []byte(m) }

func JoinNotice(name DisplayName) BroadcastMessage {
	return BroadcastMessage(fmt.Sprintf("*** %s has joined the chat ***\n", name))
}

func LeaveNotice(name DisplayName) BroadcastMessage {
	return BroadcastMessage(fmt.Sprintf("*** %s has left the chat ***\n", name))
}

func ChatLine(name DisplayName, text string) BroadcastMessage {
	return BroadcastMessage(fmt.Sprintf("%s: %s\n", name, text))
}

type DeliveryKind int

const (
	// DeliveryMessage carries a published message.
	DeliveryMessage DeliveryKind = iota
	// DeliveryLagged reports that Missed messages were dropped for this receiver only.
	DeliveryLagged
	// DeliveryClosed reports that the bus is closed and the queue is drained.
	DeliveryClosed
)

// Delivery is what a bus receiver hands to its owner.
// Lag and closure are never encoded inside Message.
type Delivery struct {
	Kind    DeliveryKind
	Message BroadcastMessage
	Missed  uint64
}

func MessageDelivery(m BroadcastMessage) Delivery {
	return Delivery{Kind: DeliveryMessage, Message: m}
}

func LaggedDelivery(missed uint64) Delivery {
	return Delivery{Kind: DeliveryLagged, Missed: missed}
}

func ClosedDelivery() Delivery {
	return Delivery{Kind: DeliveryClosed}
}
