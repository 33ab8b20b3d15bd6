// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// Consumer receives messages from one destination. Deliveries arrive on the
// consumer's queue in provider order; a registered listener drains them on
// the session's dispatch executor, otherwise the application pulls them with
// the receive family.
type Consumer struct {
	session *Session
	info    *core.ConsumerInfo

	closed    atomic.Bool
	started   atomic.Bool
	suspended atomic.Bool

	failureMu    sync.Mutex
	failureCause error

	listenerMu sync.RWMutex
	listener   MessageListener

	queue *envelopeQueue
}

func newConsumer(session *Session, info *core.ConsumerInfo) *Consumer {
	return &Consumer{
		session: session,
		info:    info,
		queue:   newEnvelopeQueue(),
	}
}

// ID returns the consumer id.
func (c *Consumer) ID() core.ConsumerID {
	return c.info.ID
}

// Destination returns the consumed destination.
func (c *Consumer) Destination() core.Destination {
	return c.info.Destination
}

// Selector returns the consumer's selector expression.
func (c *Consumer) Selector() string {
	return c.info.Selector
}

// SubscriptionName returns the durable subscription name, empty for plain
// consumers.
func (c *Consumer) SubscriptionName() string {
	return c.info.SubscriptionName
}

// SetMessageListener registers a per-consumer listener and schedules
// delivery of any already buffered messages.
func (c *Consumer) SetMessageListener(listener MessageListener) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	c.listenerMu.Lock()
	c.listener = listener
	c.listenerMu.Unlock()

	if listener != nil {
		c.scheduleDispatch()
	}
	return nil
}

// MessageListener returns the registered listener.
func (c *Consumer) MessageListener() (MessageListener, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener, nil
}

func (c *Consumer) hasMessageListener() bool {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()
	return c.listener != nil
}

//----- Receive family ---------------------------------------------------//

// Receive blocks until a message arrives, the consumer closes, or ctx is
// cancelled. Returns nil without error when the consumer closed.
func (c *Consumer) Receive(ctx context.Context) (*core.Message, error) {
	return c.receive(ctx, 0, c.session.conn.info.ReceiveLocalOnly)
}

// ReceiveTimeout waits up to the given duration for a message. Returns nil
// without error on timeout.
func (c *Consumer) ReceiveTimeout(timeout time.Duration) (*core.Message, error) {
	return c.receive(context.Background(), timeout, c.session.conn.info.ReceiveLocalOnly)
}

// ReceiveNoWait returns an already buffered message or nil.
func (c *Consumer) ReceiveNoWait() (*core.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}

	if c.info.Prefetch == 0 && !c.session.conn.info.ReceiveNoWaitLocalOnly {
		if err := c.session.conn.pull(c.info.ID, 0); err != nil {
			return nil, err
		}
	}

	for {
		env := c.queue.dequeueNoWait()
		if env == nil {
			return nil, nil
		}
		msg, ok, err := c.settleReceived(env)
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}
	}
}

func (c *Consumer) receive(ctx context.Context, timeout time.Duration, localOnly bool) (*core.Message, error) {
	if err := c.checkReceive(); err != nil {
		return nil, err
	}

	if c.info.Prefetch == 0 && !localOnly {
		if err := c.session.conn.pull(c.info.ID, timeout); err != nil {
			return nil, err
		}
	}

	for {
		env, err := c.queue.dequeue(ctx, timeout)
		if err != nil {
			return nil, err
		}
		if env == nil {
			return nil, nil
		}
		msg, ok, settleErr := c.settleReceived(env)
		if settleErr != nil {
			return nil, settleErr
		}
		if ok {
			return msg, nil
		}
	}
}

func (c *Consumer) checkReceive() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	return c.session.checkMessageListener()
}

// settleReceived applies local filtering (expiry, redelivery limit,
// untrusted payloads) and the acknowledgement for one received envelope. ok
// is false when the envelope was filtered and the caller should take the
// next one.
func (c *Consumer) settleReceived(env *core.InboundEnvelope) (*core.Message, bool, error) {
	msg := env.Message

	if c.session.conn.info.LocalMessageExpiry && msg != nil && msg.IsExpired(time.Now()) {
		if err := c.session.acknowledgeEnvelope(env, core.AckModifiedFailedUndeliverable); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if max := c.session.redelivery.MaxRedeliveries(c.info.Destination); max >= 0 && env.DeliveryCount > max {
		outcome := c.session.redelivery.Outcome(c.info.Destination)
		if err := c.session.acknowledgeEnvelope(env, outcome); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	if msg != nil && !c.session.deserialization.TrustedContentType(msg.ContentType) {
		if err := c.session.acknowledgeEnvelope(env, core.AckRejected); err != nil {
			return nil, false, err
		}
		c.session.conn.onAsyncException(fmt.Errorf("rejected message %s: untrusted content type %q",
			msg.MessageID, msg.ContentType))
		return nil, false, nil
	}

	if err := c.acknowledgeDelivery(env); err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// acknowledgeDelivery applies the session mode's disposition for one
// delivery. Browsers never settle; their link is non-destructive.
func (c *Consumer) acknowledgeDelivery(env *core.InboundEnvelope) error {
	if c.info.Browser {
		return nil
	}

	switch c.session.mode {
	case core.AutoAck, core.DupsOK, core.Transacted:
		return c.session.acknowledgeEnvelope(env, core.AckAccepted)
	case core.ClientAck:
		return c.session.acknowledgeEnvelope(env, core.AckDelivered)
	default:
		return nil
	}
}

//----- Dispatch ---------------------------------------------------------//

// onInboundMessage buffers the envelope in arrival order and, when a
// listener is armed, schedules a drain on the session executor.
func (c *Consumer) onInboundMessage(envelope *core.InboundEnvelope) {
	c.queue.enqueue(envelope)
	c.scheduleDispatch()
}

// scheduleDispatch drains buffered envelopes through the listener on the
// session's serial executor, preserving arrival order.
func (c *Consumer) scheduleDispatch() {
	if !c.hasMessageListener() || !c.started.Load() || c.suspended.Load() {
		return
	}

	c.session.dispatchExecutor().Submit(func() {
		for {
			c.listenerMu.RLock()
			listener := c.listener
			c.listenerMu.RUnlock()

			if listener == nil || !c.started.Load() || c.suspended.Load() {
				return
			}

			env := c.queue.dequeueNoWait()
			if env == nil {
				return
			}

			msg, ok, err := c.settleReceived(env)
			if err != nil {
				c.session.conn.onAsyncException(err)
				continue
			}
			if !ok {
				continue
			}
			listener(msg)
		}
	})
}

//----- Lifecycle --------------------------------------------------------//

// start arms the consumer and asks the provider to begin dispatching its
// prefetch window.
func (c *Consumer) start() error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.session.conn.startResource(c.info); err != nil {
		return err
	}
	c.scheduleDispatch()
	return nil
}

// stop pauses provider dispatch for the consumer.
func (c *Consumer) stop() error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	return c.session.conn.stopResource(c.info)
}

// suspendForRollback halts dispatch so the transaction teardown observes no
// new deliveries.
func (c *Consumer) suspendForRollback() error {
	if !c.suspended.CompareAndSwap(false, true) {
		return nil
	}
	if !c.started.Load() {
		return nil
	}
	return c.session.conn.stopResource(c.info)
}

// resumeAfterRollback restarts dispatch after a rollback, attempted for
// every consumer regardless of the rollback outcome.
func (c *Consumer) resumeAfterRollback() error {
	if !c.suspended.CompareAndSwap(true, false) {
		return nil
	}
	if !c.started.Load() {
		return nil
	}
	if err := c.session.conn.startResource(c.info); err != nil {
		return err
	}
	c.scheduleDispatch()
	return nil
}

// Close destroys the consumer's remote resource. Idempotent.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.queue.close()
	c.session.removeConsumer(c.info.ID)

	if c.session.IsClosed() {
		return nil
	}
	return c.session.conn.destroyResource(c.info)
}

// shutdown marks the consumer closed without touching the provider.
func (c *Consumer) shutdown(cause error) {
	c.setFailureCause(cause)
	if c.closed.CompareAndSwap(false, true) {
		c.queue.close()
		c.session.removeConsumer(c.info.ID)
	}
}

// IsClosed reports whether the consumer has closed.
func (c *Consumer) IsClosed() bool {
	return c.closed.Load()
}

// IsStarted reports whether the consumer is dispatching.
func (c *Consumer) IsStarted() bool {
	return c.started.Load()
}

func (c *Consumer) checkClosed() error {
	if !c.closed.Load() {
		return nil
	}
	c.failureMu.Lock()
	cause := c.failureCause
	c.failureMu.Unlock()
	if cause != nil {
		return newConnectionFailed(cause)
	}
	return ErrConsumerClosed
}

func (c *Consumer) setFailureCause(cause error) {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	if cause != nil {
		c.failureCause = cause
	}
}

func (c *Consumer) onConnectionInterrupted() {}

func (c *Consumer) onConnectionRecovery(prov provider.Provider) error {
	return c.session.conn.declareResource(prov, c.info)
}

func (c *Consumer) onConnectionRecovered(provider.Provider) error { return nil }

// onConnectionRestored resumes provider dispatch for consumers that were
// running before the interruption.
func (c *Consumer) onConnectionRestored() {
	if c.started.Load() {
		if err := c.session.conn.startResource(c.info); err != nil {
			c.session.conn.onAsyncException(err)
		}
	}
}
