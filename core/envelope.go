// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

// InboundEnvelope wraps a received message with its routing metadata. The
// provider fills ProviderHint with whatever it needs to settle the delivery
// later; the core never inspects it.
type InboundEnvelope struct {
	ConsumerID    ConsumerID
	TransactionID TransactionID
	Message       *Message
	DispatchID    uint64
	DeliveryCount int
	ProviderHint  any
}

func (e *InboundEnvelope) String() string {
	return "inbound { consumer=" + e.ConsumerID.String() + " }"
}

// OutboundEnvelope wraps a message being sent with its routing metadata.
// DispatchID carries the producer's monotonic message sequence.
type OutboundEnvelope struct {
	ProducerID    ProducerID
	TransactionID TransactionID
	Destination   Destination
	Message       *Message
	DispatchID    uint64
	Presettle     bool
	SendAsync     bool
}

func (e *OutboundEnvelope) String() string {
	return "outbound { producer=" + e.ProducerID.String() + " dest=" + e.Destination.String() + " }"
}
