// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/policy"
)

// Options configures a Connection.
type Options struct {
	// Connection
	URI      string // Configured remote URI
	Username string
	Password string

	// Timeouts
	ConnectTimeout time.Duration
	CloseTimeout   time.Duration
	SendTimeout    time.Duration // 0 = no limit
	RequestTimeout time.Duration // 0 = no limit

	// Send and acknowledge behavior
	ForceSyncSend  bool
	ForceAsyncSend bool
	ForceAsyncAcks bool

	// Message handling
	PopulateUserID         bool
	ValidatePropertyNames  bool
	LocalMessageExpiry     bool
	LocalMessagePriority   bool
	ReceiveLocalOnly       bool
	ReceiveNoWaitLocalOnly bool

	// Policies
	Prefetch        policy.Prefetch
	Redelivery      policy.Redelivery
	Presettle       policy.Presettle
	MessageID       policy.MessageID
	Deserialization policy.Deserialization

	// SelectorValidator checks consumer selector expressions. Nil accepts
	// every selector; the provider is then the only authority on syntax.
	SelectorValidator func(selector string) error

	Logger *slog.Logger
}

// NewOptions returns Options with the standard defaults.
func NewOptions() *Options {
	return &Options{
		ConnectTimeout:        core.DefaultConnectTimeout,
		CloseTimeout:          core.DefaultCloseTimeout,
		SendTimeout:           core.DefaultSendTimeout,
		RequestTimeout:        core.DefaultRequestTimeout,
		ValidatePropertyNames: true,
		LocalMessageExpiry:    true,
		Prefetch:              policy.NewDefaultPrefetch(),
		Redelivery:            policy.NewDefaultRedelivery(),
		Presettle:             policy.NewDefaultPresettle(),
		MessageID:             policy.SequencedMessageID{},
		Deserialization:       policy.NewDefaultDeserialization(),
	}
}

// SetURI sets the configured remote URI.
func (o *Options) SetURI(uri string) *Options {
	o.URI = uri
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetConnectTimeout sets the connect timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetCloseTimeout sets the close timeout.
func (o *Options) SetCloseTimeout(d time.Duration) *Options {
	o.CloseTimeout = d
	return o
}

// SetSendTimeout sets the synchronous send timeout.
func (o *Options) SetSendTimeout(d time.Duration) *Options {
	o.SendTimeout = d
	return o
}

// SetRequestTimeout sets the provider request timeout.
func (o *Options) SetRequestTimeout(d time.Duration) *Options {
	o.RequestTimeout = d
	return o
}

// SetForceSyncSend forces every send to await broker acknowledgement.
func (o *Options) SetForceSyncSend(force bool) *Options {
	o.ForceSyncSend = force
	return o
}

// SetForceAsyncSend forces every send to complete locally.
func (o *Options) SetForceAsyncSend(force bool) *Options {
	o.ForceAsyncSend = force
	return o
}

// SetForceAsyncAcks sets the send-acks-async flag carried on every session
// declaration. The client still waits for each acknowledgement request to
// complete.
func (o *Options) SetForceAsyncAcks(force bool) *Options {
	o.ForceAsyncAcks = force
	return o
}

// SetPopulateUserID stamps the authenticated username into sent messages.
func (o *Options) SetPopulateUserID(populate bool) *Options {
	o.PopulateUserID = populate
	return o
}

// SetLogger sets the connection logger.
func (o *Options) SetLogger(logger *slog.Logger) *Options {
	o.Logger = logger
	return o
}

// Validate checks the options and fills defaulted policies.
func (o *Options) Validate() error {
	if o.Prefetch == nil {
		o.Prefetch = policy.NewDefaultPrefetch()
	}
	if o.Redelivery == nil {
		o.Redelivery = policy.NewDefaultRedelivery()
	}
	if o.Presettle == nil {
		o.Presettle = policy.NewDefaultPresettle()
	}
	if o.MessageID == nil {
		o.MessageID = policy.SequencedMessageID{}
	}
	if o.Deserialization == nil {
		o.Deserialization = policy.NewDefaultDeserialization()
	}
	return nil
}
