// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// Producer sends messages for one session. A producer created without a
// destination is anonymous and names its target per send.
type Producer struct {
	session *Session
	info    *core.ProducerInfo

	closed atomic.Bool

	failureMu    sync.Mutex
	failureCause error

	sequence atomic.Uint64

	// Send defaults, adjustable per producer.
	deliveryMode     core.DeliveryMode
	priority         int
	timeToLive       time.Duration
	disableMessageID bool
	disableTimestamp bool
}

func newProducer(session *Session, info *core.ProducerInfo) *Producer {
	return &Producer{
		session:      session,
		info:         info,
		deliveryMode: core.Persistent,
		priority:     core.DefaultPriority,
	}
}

// ID returns the producer id.
func (p *Producer) ID() core.ProducerID {
	return p.info.ID
}

// Destination returns the bound destination, zero for anonymous producers.
func (p *Producer) Destination() core.Destination {
	return p.info.Destination
}

// IsAnonymous reports whether the producer names its target per send.
func (p *Producer) IsAnonymous() bool {
	return p.info.IsAnonymous()
}

// Send sends a message to the producer's destination.
func (p *Producer) Send(msg *core.Message) error {
	return p.SendWith(msg, p.deliveryMode, p.priority, p.timeToLive)
}

// SendWith sends a message with explicit delivery mode, priority and TTL.
func (p *Producer) SendWith(msg *core.Message, deliveryMode core.DeliveryMode, priority int, ttl time.Duration) error {
	if err := p.checkClosed(); err != nil {
		return err
	}
	if p.info.IsAnonymous() {
		return fmt.Errorf("%w: anonymous producer requires an explicit destination", ErrInvalidDestination)
	}
	return p.session.send(p, p.info.Destination, msg, deliveryMode, priority, ttl,
		p.disableMessageID, p.disableTimestamp)
}

// SendTo sends a message to an explicit destination. Only anonymous
// producers may name a destination per send.
func (p *Producer) SendTo(dest core.Destination, msg *core.Message) error {
	return p.SendToWith(dest, msg, p.deliveryMode, p.priority, p.timeToLive)
}

// SendToWith sends to an explicit destination with explicit send settings.
func (p *Producer) SendToWith(dest core.Destination, msg *core.Message, deliveryMode core.DeliveryMode, priority int, ttl time.Duration) error {
	if err := p.checkClosed(); err != nil {
		return err
	}
	if !p.info.IsAnonymous() {
		return fmt.Errorf("%w: producer is bound to %s", ErrNotSupported, p.info.Destination)
	}
	return p.session.send(p, dest, msg, deliveryMode, priority, ttl,
		p.disableMessageID, p.disableTimestamp)
}

// Close destroys the producer's remote resource. Idempotent.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.session.removeProducer(p.info.ID)

	if p.session.IsClosed() {
		return nil
	}
	return p.session.conn.destroyResource(p.info)
}

// shutdown marks the producer closed without touching the provider.
func (p *Producer) shutdown(cause error) {
	p.setFailureCause(cause)
	if p.closed.CompareAndSwap(false, true) {
		p.session.removeProducer(p.info.ID)
	}
}

// IsClosed reports whether the producer has closed.
func (p *Producer) IsClosed() bool {
	return p.closed.Load()
}

func (p *Producer) checkClosed() error {
	if !p.closed.Load() {
		return nil
	}
	p.failureMu.Lock()
	cause := p.failureCause
	p.failureMu.Unlock()
	if cause != nil {
		return newConnectionFailed(cause)
	}
	return ErrProducerClosed
}

func (p *Producer) setFailureCause(cause error) {
	p.failureMu.Lock()
	defer p.failureMu.Unlock()
	if cause != nil {
		p.failureCause = cause
	}
}

// nextMessageSequence allocates the next dispatch id.
func (p *Producer) nextMessageSequence() uint64 {
	return p.sequence.Add(1)
}

// DeliveryMode returns the default delivery mode.
func (p *Producer) DeliveryMode() core.DeliveryMode { return p.deliveryMode }

// SetDeliveryMode sets the default delivery mode.
func (p *Producer) SetDeliveryMode(mode core.DeliveryMode) { p.deliveryMode = mode }

// Priority returns the default priority.
func (p *Producer) Priority() int { return p.priority }

// SetPriority sets the default priority.
func (p *Producer) SetPriority(priority int) { p.priority = priority }

// TimeToLive returns the default message TTL.
func (p *Producer) TimeToLive() time.Duration { return p.timeToLive }

// SetTimeToLive sets the default message TTL.
func (p *Producer) SetTimeToLive(ttl time.Duration) { p.timeToLive = ttl }

// SetDisableMessageID disables message-id stamping on send.
func (p *Producer) SetDisableMessageID(disable bool) { p.disableMessageID = disable }

// SetDisableTimestamp disables timestamp stamping on send.
func (p *Producer) SetDisableTimestamp(disable bool) { p.disableTimestamp = disable }

func (p *Producer) onConnectionInterrupted() {}

func (p *Producer) onConnectionRecovery(prov provider.Provider) error {
	return p.session.conn.declareResource(prov, p.info)
}

func (p *Producer) onConnectionRecovered(provider.Provider) error { return nil }

func (p *Producer) onConnectionRestored() {}
