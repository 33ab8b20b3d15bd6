// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the contract between the client core and the
// wire-level transport that speaks the broker protocol. Providers are
// asynchronous: every request carries a Future the provider settles when the
// remote operation finishes, and inbound traffic plus lifecycle events are
// pushed through the EventListener from provider-owned goroutines. Listener
// callbacks must never block waiting on application code.
package provider

import (
	"errors"
	"time"

	"github.com/absmach/fluxmsg/core"
)

// Provider errors.
var (
	// ErrClosed signals a request made against a destroyed provider. Benign
	// during orderly shutdown, fatal otherwise.
	ErrClosed = errors.New("provider is closed")
	// ErrRequestTimeout signals a request that did not settle in time.
	ErrRequestTimeout = errors.New("provider request timed out")
)

// MessageFactory creates native messages bound to the active provider so
// body encoding can follow the wire format in use.
type MessageFactory interface {
	NewMessage() *core.Message
	NewTextMessage(text string) *core.Message
	NewBytesMessage(body []byte) *core.Message
}

// Provider is the downstream transport contract. All resource-bearing
// methods are asynchronous; outcomes settle the supplied Future.
type Provider interface {
	// Start activates the provider. The event listener must be set first.
	Start() error
	// Close tears the provider down, releasing its connection and threads.
	Close() error

	Create(resource core.Resource, request *Future)
	StartResource(resource core.Resource, request *Future)
	StopResource(resource core.Resource, request *Future)
	Destroy(resource core.Resource, request *Future)

	Send(envelope *core.OutboundEnvelope, request *Future)
	Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType, request *Future)
	AcknowledgeSession(sessionID core.SessionID, ackType core.AckType, request *Future)

	Commit(tx *core.TransactionInfo, request *Future)
	Rollback(tx *core.TransactionInfo, request *Future)
	Recover(sessionID core.SessionID, request *Future)

	Pull(consumerID core.ConsumerID, timeout time.Duration, request *Future)
	Unsubscribe(name string, request *Future)

	SetEventListener(listener EventListener)
	MessageFactory() MessageFactory
	RemoteURI() string
}

// EventListener receives asynchronous provider events. The core implements
// this on the connection.
type EventListener interface {
	// OnInboundMessage routes a delivery to its consumer.
	OnInboundMessage(envelope *core.InboundEnvelope)

	// OnConnectionEstablished fires once the initial connection is up.
	OnConnectionEstablished(remoteURI string)
	// OnConnectionInterrupted fires when the transport drops and failover
	// begins.
	OnConnectionInterrupted(remoteURI string)
	// OnConnectionRecovery asks the client to re-declare all broker state on
	// the replacement provider.
	OnConnectionRecovery(p Provider) error
	// OnConnectionRecovered runs finalization once state is re-declared.
	OnConnectionRecovered(p Provider) error
	// OnConnectionRestored fires when failover completed and normal
	// processing resumed.
	OnConnectionRestored(remoteURI string)
	// OnConnectionFailure fires when the transport is permanently lost.
	OnConnectionFailure(err error)

	// OnResourceClosed fires when the remote end closed a resource out from
	// under the client.
	OnResourceClosed(resource core.Resource, cause error)
	// OnProviderError reports a non-fatal asynchronous provider error.
	OnProviderError(err error)
}
