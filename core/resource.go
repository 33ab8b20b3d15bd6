// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import "time"

// ResourceKind tags the variants of Resource so provider callbacks can
// dispatch without downcasting.
type ResourceKind int

// Resource kinds.
const (
	ResourceConnection ResourceKind = iota
	ResourceSession
	ResourceProducer
	ResourceConsumer
	ResourceTemporaryDestination
	ResourceTransaction
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceConnection:
		return "connection"
	case ResourceSession:
		return "session"
	case ResourceProducer:
		return "producer"
	case ResourceConsumer:
		return "consumer"
	case ResourceTemporaryDestination:
		return "temporary-destination"
	case ResourceTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Resource is a client-side descriptor of broker state. Every variant is
// declared remotely before use and destroyed remotely on orderly close.
type Resource interface {
	ResourceKind() ResourceKind
}

// Default request timeouts.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultCloseTimeout   = 60 * time.Second
	DefaultSendTimeout    = 0 // no limit
	DefaultRequestTimeout = 0 // no limit
)

// ConnectionInfo describes a connection resource and its configuration.
type ConnectionInfo struct {
	ID       ConnectionID
	ClientID string

	ConfiguredURI string
	ConnectedURI  string

	Username string
	Password string

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	SendTimeout    time.Duration
	RequestTimeout time.Duration

	ForceSyncSend          bool
	ForceAsyncSend         bool
	ForceAsyncAcks         bool
	PopulateUserID         bool
	ValidatePropertyNames  bool
	LocalMessageExpiry     bool
	LocalMessagePriority   bool
	ReceiveLocalOnly       bool
	ReceiveNoWaitLocalOnly bool
}

// NewConnectionInfo returns a ConnectionInfo with default timeouts.
func NewConnectionInfo(id ConnectionID) *ConnectionInfo {
	return &ConnectionInfo{
		ID:                    id,
		ConnectTimeout:        DefaultConnectTimeout,
		CloseTimeout:          DefaultCloseTimeout,
		SendTimeout:           DefaultSendTimeout,
		RequestTimeout:        DefaultRequestTimeout,
		ValidatePropertyNames: true,
		LocalMessageExpiry:    true,
	}
}

func (i *ConnectionInfo) ResourceKind() ResourceKind { return ResourceConnection }

// EncodedUsername returns the username bytes stamped into the user-id header
// when user-id population is enabled.
func (i *ConnectionInfo) EncodedUsername() []byte {
	if i.Username == "" {
		return nil
	}
	return []byte(i.Username)
}

// SessionInfo describes a session resource.
type SessionInfo struct {
	ID            SessionID
	AckMode       AckMode
	SendAcksAsync bool
}

func (i *SessionInfo) ResourceKind() ResourceKind { return ResourceSession }

// ProducerInfo describes a producer resource. A zero Destination marks an
// anonymous producer that names its target per send.
type ProducerInfo struct {
	ID          ProducerID
	Destination Destination
	Presettle   bool
}

func (i *ProducerInfo) ResourceKind() ResourceKind { return ResourceProducer }

// IsAnonymous reports whether the producer was created without a destination.
func (i *ProducerInfo) IsAnonymous() bool {
	return i.Destination.IsZero()
}

// ConsumerInfo describes a consumer resource. Policy outcomes are resolved to
// scalars at creation so the provider never needs the policy objects.
type ConsumerInfo struct {
	ID               ConsumerID
	Destination      Destination
	Selector         string
	NoLocal          bool
	SubscriptionName string
	Browser          bool
	Prefetch         int
	Presettle        bool
	LocalPriority    bool
}

func (i *ConsumerInfo) ResourceKind() ResourceKind { return ResourceConsumer }

// IsDurable reports whether the consumer backs a durable subscription.
func (i *ConsumerInfo) IsDurable() bool {
	return i.SubscriptionName != ""
}

// TemporaryDestinationInfo describes a temporary destination resource owned
// by the creating connection.
type TemporaryDestinationInfo struct {
	Destination Destination
	Connection  ConnectionID
}

func (i *TemporaryDestinationInfo) ResourceKind() ResourceKind { return ResourceTemporaryDestination }

// TransactionInfo describes a local transaction resource.
type TransactionInfo struct {
	ID      TransactionID
	Session SessionID
}

func (i *TransactionInfo) ResourceKind() ResourceKind { return ResourceTransaction }
