// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "github.com/absmach/fluxmsg/core"

// ExceptionListener receives asynchronous errors that have no synchronous
// caller to report to.
type ExceptionListener func(err error)

// MessageListener receives dispatched messages.
type MessageListener func(msg *core.Message)

// ConnectionListener observes connection lifecycle events. All callbacks run
// on the connection executor in event order.
type ConnectionListener interface {
	// OnConnectionEstablished fires when the initial connection comes up.
	OnConnectionEstablished(remoteURI string)
	// OnConnectionInterrupted fires when the transport drops and failover
	// begins.
	OnConnectionInterrupted(remoteURI string)
	// OnConnectionRestored fires when failover completed.
	OnConnectionRestored(remoteURI string)
	// OnConnectionFailure fires when the transport is permanently lost.
	OnConnectionFailure(err error)

	// OnInboundMessage observes every delivery routed through the connection.
	OnInboundMessage(envelope *core.InboundEnvelope)

	// OnSessionClosed fires when the remote peer closed a session.
	OnSessionClosed(session *Session, cause error)
	// OnProducerClosed fires when the remote peer closed a producer.
	OnProducerClosed(producer *Producer, cause error)
	// OnConsumerClosed fires when the remote peer closed a consumer.
	OnConsumerClosed(consumer *Consumer, cause error)
}

// MetaData describes the client and the API generation it implements.
type MetaData struct {
	ProviderName    string
	ProviderVersion string
	APIMajor        int
	APIMinor        int
}

// Metadata for this client.
var metadata = MetaData{
	ProviderName:    "fluxmsg",
	ProviderVersion: "1.0.0",
	APIMajor:        1,
	APIMinor:        1,
}
