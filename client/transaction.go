// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"sync"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// transactionContext shapes how sends and acknowledgements reach the
// provider. Non-transacted sessions pass straight through; transacted
// sessions tag traffic with the open transaction id.
type transactionContext interface {
	Begin() error
	Send(envelope *core.OutboundEnvelope) error
	Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType) error
	Commit() error
	Rollback() error
	Shutdown()
	OnConnectionInterrupted()
	OnConnectionRecovery(p provider.Provider) error
}

// noTxContext is the pass-through context of non-transacted sessions.
type noTxContext struct {
	conn *Connection
}

func (c *noTxContext) Begin() error { return nil }

func (c *noTxContext) Send(envelope *core.OutboundEnvelope) error {
	return c.conn.send(envelope)
}

func (c *noTxContext) Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType) error {
	return c.conn.acknowledge(envelope, ackType)
}

func (c *noTxContext) Commit() error   { return ErrNotTransacted }
func (c *noTxContext) Rollback() error { return ErrNotTransacted }

func (c *noTxContext) Shutdown()                {}
func (c *noTxContext) OnConnectionInterrupted() {}

func (c *noTxContext) OnConnectionRecovery(provider.Provider) error { return nil }

// localTxContext keeps one local transaction open at all times. Commit and
// rollback discharge the current transaction and roll over to a fresh id;
// when the old transaction cannot be discharged and no replacement could be
// declared the context goes in-doubt and refuses further work until
// recovery re-arms it.
type localTxContext struct {
	mu      sync.Mutex
	session *Session
	conn    *Connection
	current core.TransactionID
	inDoubt bool
}

func newLocalTxContext(session *Session) *localTxContext {
	return &localTxContext{
		session: session,
		conn:    session.conn,
	}
}

// Begin declares a fresh transaction with the provider.
func (c *localTxContext) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked()
}

func (c *localTxContext) beginLocked() error {
	id := c.conn.nextTransactionID()
	info := &core.TransactionInfo{ID: id, Session: c.session.ID()}
	if err := c.conn.createResource(info); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	c.current = id
	c.inDoubt = false
	return nil
}

// Send tags the envelope with the open transaction.
func (c *localTxContext) Send(envelope *core.OutboundEnvelope) error {
	c.mu.Lock()
	if c.inDoubt {
		c.mu.Unlock()
		return ErrInDoubtTransaction
	}
	envelope.TransactionID = c.current
	c.mu.Unlock()

	return c.conn.send(envelope)
}

// Acknowledge tags delivered and accepted dispositions with the open
// transaction; other dispositions pass through untagged.
func (c *localTxContext) Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType) error {
	c.mu.Lock()
	if c.inDoubt {
		c.mu.Unlock()
		return ErrInDoubtTransaction
	}
	if ackType == core.AckDelivered || ackType == core.AckAccepted {
		envelope.TransactionID = c.current
	}
	c.mu.Unlock()

	return c.conn.acknowledge(envelope, ackType)
}

// Commit commits the open transaction and begins a new one. The rollover
// happens even when the commit failed.
func (c *localTxContext) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inDoubt {
		// The open transaction was lost; replace it and report the loss.
		if err := c.beginLocked(); err != nil {
			return err
		}
		return ErrTransactionRolledBack
	}

	info := &core.TransactionInfo{ID: c.current, Session: c.session.ID()}
	commitErr := c.conn.commit(info)

	if beginErr := c.beginLocked(); beginErr != nil {
		c.inDoubt = true
		if commitErr != nil {
			return fmt.Errorf("%w: %s", ErrTransactionRolledBack, commitErr.Error())
		}
		return beginErr
	}

	if commitErr != nil {
		return fmt.Errorf("%w: %s", ErrTransactionRolledBack, commitErr.Error())
	}
	return nil
}

// Rollback discards the open transaction and begins a new one. The rollover
// happens even when the provider rollback failed.
func (c *localTxContext) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inDoubt {
		return c.beginLocked()
	}

	info := &core.TransactionInfo{ID: c.current, Session: c.session.ID()}
	rollbackErr := c.conn.rollback(info)

	if beginErr := c.beginLocked(); beginErr != nil {
		c.inDoubt = true
		if rollbackErr != nil {
			return rollbackErr
		}
		return beginErr
	}

	return rollbackErr
}

// Shutdown drops local transaction state. No provider calls are made; the
// session either destroys its resources explicitly or they are already gone.
func (c *localTxContext) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = core.TransactionID{}
	c.inDoubt = true
}

// OnConnectionInterrupted dooms the open transaction; the broker lost it
// with the connection.
func (c *localTxContext) OnConnectionInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inDoubt = true
}

// OnConnectionRecovery declares a fresh transaction on the new provider
// before any producer or consumer of the session is replayed.
func (c *localTxContext) OnConnectionRecovery(p provider.Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.conn.nextTransactionID()
	info := &core.TransactionInfo{ID: id, Session: c.session.ID()}
	if err := c.conn.declareResource(p, info); err != nil {
		return err
	}
	c.current = id
	c.inDoubt = false
	return nil
}
