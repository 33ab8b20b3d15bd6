// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements the connection and session control plane of the
// messaging client. Application calls run synchronously against local state
// and block on provider request futures; the provider pushes inbound
// messages and lifecycle events back through the connection, which routes
// them to sessions and fans user callbacks out on a serial executor.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// Connection owns sessions, temporary destinations and the provider
// lifecycle. It implements provider.EventListener.
type Connection struct {
	info *core.ConnectionInfo
	opts *Options
	log  *slog.Logger

	provider provider.Provider

	executor *serialExecutor
	requests *requestTracker

	sessionsMu sync.RWMutex
	sessions   map[core.SessionID]*Session

	tempMu    sync.Mutex
	tempDests map[core.Destination]*core.TemporaryDestinationInfo

	listenersMu sync.RWMutex
	listeners   []ConnectionListener

	exceptionMu       sync.RWMutex
	exceptionListener ExceptionListener

	factoryMu      sync.RWMutex
	messageFactory provider.MessageFactory

	connected atomic.Bool
	started   atomic.Bool
	closing   atomic.Bool
	closed    atomic.Bool
	failed    atomic.Bool

	failureMu    sync.Mutex
	firstFailure error

	// infoMu guards the client id set-once check and the lazy connect step.
	infoMu      sync.Mutex
	clientIDSet bool

	closeMu sync.Mutex

	sessionSeq  atomic.Uint64
	tempDestSeq atomic.Uint64
	txSeq       atomic.Uint64
}

// New creates a Connection over the given provider. The provider is started
// immediately; the remote connection resource is declared lazily on first
// use.
func New(p provider.Provider, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := core.NewConnectionInfo(core.ConnectionID("ID:" + uuid.NewString()))
	info.ConfiguredURI = opts.URI
	info.Username = opts.Username
	info.Password = opts.Password
	info.ConnectTimeout = opts.ConnectTimeout
	info.CloseTimeout = opts.CloseTimeout
	info.SendTimeout = opts.SendTimeout
	info.RequestTimeout = opts.RequestTimeout
	info.ForceSyncSend = opts.ForceSyncSend
	info.ForceAsyncSend = opts.ForceAsyncSend
	info.ForceAsyncAcks = opts.ForceAsyncAcks
	info.PopulateUserID = opts.PopulateUserID
	info.ValidatePropertyNames = opts.ValidatePropertyNames
	info.LocalMessageExpiry = opts.LocalMessageExpiry
	info.LocalMessagePriority = opts.LocalMessagePriority
	info.ReceiveLocalOnly = opts.ReceiveLocalOnly
	info.ReceiveNoWaitLocalOnly = opts.ReceiveNoWaitLocalOnly

	c := &Connection{
		info:      info,
		opts:      opts,
		log:       logger,
		provider:  p,
		executor:  newSerialExecutor(),
		requests:  newRequestTracker(),
		sessions:  make(map[core.SessionID]*Session),
		tempDests: make(map[core.Destination]*core.TemporaryDestinationInfo),
	}

	p.SetEventListener(c)
	if err := p.Start(); err != nil {
		c.executor.Shutdown()
		return nil, fmt.Errorf("start provider: %w", err)
	}

	return c, nil
}

// ID returns the connection id.
func (c *Connection) ID() core.ConnectionID {
	return c.info.ID
}

// Metadata returns static information about the client.
func (c *Connection) Metadata() MetaData {
	return metadata
}

// ClientID returns the configured client id.
func (c *Connection) ClientID() (string, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return "", err
	}
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.info.ClientID, nil
}

// SetClientID sets the client id. The id can be set exactly once and only
// before the connection resource has been declared remotely; setting it
// triggers the connect step so an invalid id is rejected immediately.
func (c *Connection) SetClientID(clientID string) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}

	c.infoMu.Lock()
	if c.clientIDSet {
		c.infoMu.Unlock()
		return ErrClientIDSet
	}
	if clientID == "" {
		c.infoMu.Unlock()
		return ErrEmptyClientID
	}
	if c.connected.Load() {
		c.infoMu.Unlock()
		return ErrClientIDOnConnected
	}

	c.info.ClientID = clientID
	c.clientIDSet = true
	c.infoMu.Unlock()

	return c.connect()
}

// Start begins (or resumes) message delivery on every session.
func (c *Connection) Start() error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	if err := c.connect(); err != nil {
		return err
	}
	if c.started.CompareAndSwap(false, true) {
		for _, s := range c.snapshotSessions() {
			if err := s.start(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop pauses message delivery on every session. Stop is idempotent.
func (c *Connection) Stop() error {
	return c.doStop(true)
}

func (c *Connection) doStop(checkClosed bool) error {
	if checkClosed {
		if err := c.checkClosedOrFailed(); err != nil {
			return err
		}
	}
	if c.started.CompareAndSwap(true, false) {
		for _, s := range c.snapshotSessions() {
			if err := s.stop(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close shuts the connection down. Close is idempotent and must not fail on
// an already closed or failed connection.
func (c *Connection) Close() error {
	defer func() {
		c.executor.Shutdown()
		if err := c.provider.Close(); err != nil {
			c.log.Debug("error closing provider", slog.String("error", err.Error()))
		}
	}()

	if !c.closed.Load() && !c.failed.Load() {
		_ = c.doStop(false)
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}

	c.closing.Store(true)

	for _, s := range c.snapshotSessions() {
		s.shutdown(nil)
	}

	c.sessionsMu.Lock()
	c.sessions = make(map[core.SessionID]*Session)
	c.sessionsMu.Unlock()

	c.tempMu.Lock()
	c.tempDests = make(map[core.Destination]*core.TemporaryDestinationInfo)
	c.tempMu.Unlock()

	if c.connected.Load() && !c.failed.Load() {
		req := provider.NewFuture(nil)
		c.provider.Destroy(c.info, req)
		if err := req.Await(context.Background(), c.info.CloseTimeout); err != nil {
			// The close contract forbids failing here; a provider already
			// torn down or slow to answer is logged and ignored.
			c.log.Debug("failed destroying connection resource",
				slog.String("error", err.Error()))
		}
	}

	c.connected.Store(false)
	c.started.Store(false)
	c.closing.Store(false)
	c.closed.Store(true)

	return nil
}

// shutdown releases all connection resources after a provider-initiated
// failure. It never throws back into the provider.
func (c *Connection) shutdown(cause error) {
	for _, s := range c.snapshotSessions() {
		s.shutdown(cause)
	}

	if c.connected.Load() && !c.failed.Load() && !c.closing.Load() {
		if err := c.destroyResource(c.info); err != nil {
			c.log.Debug("error destroying connection resource during shutdown",
				slog.String("error", err.Error()))
		}
	}

	c.tempMu.Lock()
	c.tempDests = make(map[core.Destination]*core.TemporaryDestinationInfo)
	c.tempMu.Unlock()

	c.started.Store(false)
	c.connected.Store(false)
}

// CreateSession creates a session with the given acknowledgement mode.
func (c *Connection) CreateSession(mode core.AckMode) (*Session, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return nil, err
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	session, err := newSession(c, c.nextSessionID(), mode)
	if err != nil {
		return nil, err
	}

	c.addSession(session)

	if c.started.Load() {
		if err := session.start(); err != nil {
			return nil, err
		}
	}

	return session, nil
}

// CreateConnectionConsumer is part of the server-side session pooling API
// which this client does not implement.
func (c *Connection) CreateConnectionConsumer(core.Destination, string, int) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	return fmt.Errorf("%w: connection consumers", ErrNotSupported)
}

// SetExceptionListener registers the asynchronous exception listener.
func (c *Connection) SetExceptionListener(listener ExceptionListener) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}
	c.exceptionMu.Lock()
	c.exceptionListener = listener
	c.exceptionMu.Unlock()
	return nil
}

// ExceptionListener returns the registered exception listener.
func (c *Connection) ExceptionListener() (ExceptionListener, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return nil, err
	}
	c.exceptionMu.RLock()
	defer c.exceptionMu.RUnlock()
	return c.exceptionListener, nil
}

// AddConnectionListener registers a connection lifecycle listener.
func (c *Connection) AddConnectionListener(listener ConnectionListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// RemoveConnectionListener removes a previously registered listener.
func (c *Connection) RemoveConnectionListener(listener ConnectionListener) bool {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, l := range c.listeners {
		if l == listener {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Connection) snapshotListeners() []ConnectionListener {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	out := make([]ConnectionListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// connect lazily declares the connection resource. First caller wins; the
// check is double-locked on the connected flag.
func (c *Connection) connect() error {
	if c.connected.Load() || c.closed.Load() {
		return nil
	}

	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	if c.connected.Load() || c.closed.Load() {
		return nil
	}

	if strings.TrimSpace(c.info.ClientID) == "" {
		c.info.ClientID = "ID:" + uuid.NewString()
	}

	if err := c.createResource(c.info); err != nil {
		return err
	}
	c.connected.Store(true)
	return nil
}

// IsConnected reports whether the connection resource has been declared.
func (c *Connection) IsConnected() bool { return c.connected.Load() }

// IsStarted reports whether delivery is running.
func (c *Connection) IsStarted() bool { return c.started.Load() }

// IsClosed reports whether the connection has closed.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// IsFailed reports whether the provider failed permanently.
func (c *Connection) IsFailed() bool { return c.failed.Load() }

// isExplicitClientID reports whether the application set the client id.
func (c *Connection) isExplicitClientID() bool {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.clientIDSet
}

func (c *Connection) checkClosed() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Connection) checkClosedOrFailed() error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if c.failed.Load() {
		return newConnectionFailed(c.firstFailureError())
	}
	return nil
}

func (c *Connection) providerFailed(err error) {
	c.failed.Store(true)
	c.failureMu.Lock()
	if c.firstFailure == nil {
		c.firstFailure = err
	}
	c.failureMu.Unlock()
}

func (c *Connection) firstFailureError() error {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	return c.firstFailure
}

//----- Temporary destinations -------------------------------------------//

// CreateTemporaryQueue declares a temporary queue owned by this connection.
func (c *Connection) CreateTemporaryQueue() (core.Destination, error) {
	return c.createTemporaryDestination(core.KindQueue)
}

// CreateTemporaryTopic declares a temporary topic owned by this connection.
func (c *Connection) CreateTemporaryTopic() (core.Destination, error) {
	return c.createTemporaryDestination(core.KindTopic)
}

func (c *Connection) createTemporaryDestination(kind core.DestinationKind) (core.Destination, error) {
	if err := c.checkClosedOrFailed(); err != nil {
		return core.Destination{}, err
	}
	if err := c.connect(); err != nil {
		return core.Destination{}, err
	}

	name := fmt.Sprintf("%s:%d", c.info.ID, c.tempDestSeq.Add(1))
	dest := core.Destination{Name: name, Kind: kind, Temporary: true}
	info := &core.TemporaryDestinationInfo{Destination: dest, Connection: c.info.ID}

	if err := c.createResource(info); err != nil {
		return core.Destination{}, err
	}

	c.tempMu.Lock()
	c.tempDests[dest] = info
	c.tempMu.Unlock()

	return dest, nil
}

// DeleteTemporaryDestination destroys a temporary destination. The delete is
// refused while any consumer of this connection subscribes to it.
func (c *Connection) DeleteTemporaryDestination(dest core.Destination) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}

	for _, s := range c.snapshotSessions() {
		if s.isDestinationInUse(dest) {
			return ErrTempInUse
		}
	}

	c.tempMu.Lock()
	info, ok := c.tempDests[dest]
	delete(c.tempDests, dest)
	c.tempMu.Unlock()

	if !ok {
		info = &core.TemporaryDestinationInfo{Destination: dest, Connection: c.info.ID}
	}

	return c.destroyResource(info)
}

// ownsTemporaryDestination reports whether this connection created dest.
func (c *Connection) ownsTemporaryDestination(dest core.Destination) bool {
	return dest.Temporary && strings.HasPrefix(dest.Name, string(c.info.ID)+":")
}

// isTemporaryDeleted reports whether a temporary destination of this
// connection has already been destroyed.
func (c *Connection) isTemporaryDeleted(dest core.Destination) bool {
	if !dest.Temporary {
		return false
	}
	c.tempMu.Lock()
	defer c.tempMu.Unlock()
	_, live := c.tempDests[dest]
	return !live
}

//----- Session registry and id generation -------------------------------//

func (c *Connection) addSession(s *Session) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.sessions[s.ID()] = s
}

func (c *Connection) removeSession(id core.SessionID) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	delete(c.sessions, id)
}

func (c *Connection) lookupSession(id core.SessionID) *Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	return c.sessions[id]
}

// snapshotSessions copies the registry so lifecycle iteration never observes
// mid-mutation state.
func (c *Connection) snapshotSessions() []*Session {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Connection) nextSessionID() core.SessionID {
	return core.SessionID{Connection: c.info.ID, Value: c.sessionSeq.Add(1)}
}

func (c *Connection) nextTransactionID() core.TransactionID {
	return core.TransactionID{Connection: c.info.ID, Value: c.txSeq.Add(1)}
}

func (c *Connection) messageFactoryRef() provider.MessageFactory {
	c.factoryMu.RLock()
	defer c.factoryMu.RUnlock()
	return c.messageFactory
}

func (c *Connection) setMessageFactory(f provider.MessageFactory) {
	c.factoryMu.Lock()
	c.messageFactory = f
	c.factoryMu.Unlock()
}

//----- Provider request helpers -----------------------------------------//

// request runs one asynchronous provider call: register the future with the
// tracker, invoke, await, deregister on every path.
func (c *Connection) request(timeout time.Duration, invoke func(*provider.Future)) error {
	if err := c.checkClosedOrFailed(); err != nil {
		return err
	}

	req := provider.NewFuture(nil)
	c.requests.add(req)
	defer c.requests.remove(req)

	invoke(req)

	if err := req.Await(context.Background(), timeout); err != nil {
		if c.failed.Load() {
			return newConnectionFailed(c.firstFailureError())
		}
		return err
	}
	return nil
}

func (c *Connection) createResource(r core.Resource) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Create(r, req)
	})
}

func (c *Connection) startResource(r core.Resource) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.StartResource(r, req)
	})
}

func (c *Connection) stopResource(r core.Resource) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.StopResource(r, req)
	})
}

func (c *Connection) destroyResource(r core.Resource) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Destroy(r, req)
	})
}

func (c *Connection) send(envelope *core.OutboundEnvelope) error {
	return c.request(c.info.SendTimeout, func(req *provider.Future) {
		c.provider.Send(envelope, req)
	})
}

func (c *Connection) acknowledge(envelope *core.InboundEnvelope, ackType core.AckType) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Acknowledge(envelope, ackType, req)
	})
}

func (c *Connection) acknowledgeSession(id core.SessionID, ackType core.AckType) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.AcknowledgeSession(id, ackType, req)
	})
}

func (c *Connection) commit(tx *core.TransactionInfo) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Commit(tx, req)
	})
}

func (c *Connection) rollback(tx *core.TransactionInfo) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Rollback(tx, req)
	})
}

func (c *Connection) recover(id core.SessionID) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Recover(id, req)
	})
}

func (c *Connection) pull(id core.ConsumerID, timeout time.Duration) error {
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Pull(id, timeout, req)
	})
}

// unsubscribe removes a durable subscription. Refused while any consumer of
// this connection holds the subscription open.
func (c *Connection) unsubscribe(name string) error {
	for _, s := range c.snapshotSessions() {
		if s.hasSubscription(name) {
			return ErrSubscriptionInUse
		}
	}
	return c.request(c.info.RequestTimeout, func(req *provider.Future) {
		c.provider.Unsubscribe(name, req)
	})
}

// declareResource declares a resource on a specific provider handle during
// recovery, bypassing the closed/failed gate.
func (c *Connection) declareResource(p provider.Provider, r core.Resource) error {
	req := provider.NewFuture(nil)
	c.requests.add(req)
	defer c.requests.remove(req)

	p.Create(r, req)
	return req.Await(context.Background(), c.info.RequestTimeout)
}

//----- Async exception routing ------------------------------------------//

// onAsyncException delivers asynchronous errors to the registered exception
// listener on the executor, or logs them when none is set.
func (c *Connection) onAsyncException(err error) {
	if c.closed.Load() || c.closing.Load() {
		return
	}

	c.exceptionMu.RLock()
	listener := c.exceptionListener
	c.exceptionMu.RUnlock()

	if listener == nil {
		c.log.Debug("async exception with no exception listener",
			slog.String("error", err.Error()))
		return
	}

	c.executor.Submit(func() {
		listener(err)
	})
}

//----- provider.EventListener -------------------------------------------//

// OnInboundMessage routes a delivery to its owning session and mirrors it to
// connection listeners on the executor.
func (c *Connection) OnInboundMessage(envelope *core.InboundEnvelope) {
	if msg := envelope.Message; msg != nil {
		msg.SetReadOnly(true)
	}

	if session := c.lookupSession(envelope.ConsumerID.Session); session != nil {
		session.onInboundMessage(envelope)
	}

	listeners := c.snapshotListeners()
	if len(listeners) == 0 {
		return
	}
	c.executor.Submit(func() {
		for _, l := range listeners {
			l.OnInboundMessage(envelope)
		}
	})
}

// OnConnectionEstablished records the provider's message factory and remote
// URI, then notifies listeners.
func (c *Connection) OnConnectionEstablished(remoteURI string) {
	c.log.Info("connection established",
		slog.String("connection", string(c.info.ID)),
		slog.String("remote", remoteURI))

	c.setMessageFactory(c.provider.MessageFactory())
	c.info.ConnectedURI = c.provider.RemoteURI()

	for _, l := range c.snapshotListeners() {
		listener := l
		c.executor.Submit(func() {
			listener.OnConnectionEstablished(remoteURI)
		})
	}
}

// OnConnectionInterrupted tells every session the transport dropped, then
// notifies listeners.
func (c *Connection) OnConnectionInterrupted(remoteURI string) {
	for _, s := range c.snapshotSessions() {
		s.onConnectionInterrupted()
	}

	for _, l := range c.snapshotListeners() {
		listener := l
		c.executor.Submit(func() {
			listener.OnConnectionInterrupted(remoteURI)
		})
	}
}

// OnConnectionRecovery re-declares all broker state on the replacement
// provider: connection info first, then temporary destinations, then each
// session with its transaction context, producers and consumers.
func (c *Connection) OnConnectionRecovery(p provider.Provider) error {
	c.log.Debug("connection recovery starting", slog.String("connection", string(c.info.ID)))

	if err := c.declareResource(p, c.info); err != nil {
		return err
	}

	c.tempMu.Lock()
	temps := make([]*core.TemporaryDestinationInfo, 0, len(c.tempDests))
	for _, info := range c.tempDests {
		temps = append(temps, info)
	}
	c.tempMu.Unlock()

	for _, info := range temps {
		if err := c.declareResource(p, info); err != nil {
			return err
		}
	}

	for _, s := range c.snapshotSessions() {
		if err := s.onConnectionRecovery(p); err != nil {
			return err
		}
	}
	return nil
}

// OnConnectionRecovered finalizes recovery: swap the message factory, update
// the connected URI and let sessions rebind provider-derived state.
func (c *Connection) OnConnectionRecovered(p provider.Provider) error {
	c.log.Debug("connection recovery finalizing", slog.String("connection", string(c.info.ID)))

	c.setMessageFactory(p.MessageFactory())
	c.info.ConnectedURI = p.RemoteURI()

	for _, s := range c.snapshotSessions() {
		if err := s.onConnectionRecovered(p); err != nil {
			return err
		}
	}
	return nil
}

// OnConnectionRestored resumes consumers and notifies listeners.
func (c *Connection) OnConnectionRestored(remoteURI string) {
	for _, s := range c.snapshotSessions() {
		s.onConnectionRestored()
	}

	for _, l := range c.snapshotListeners() {
		listener := l
		c.executor.Submit(func() {
			listener.OnConnectionRestored(remoteURI)
		})
	}
}

// OnConnectionFailure marks the connection failed, unblocks every tracked
// request, then performs full cleanup on the executor. Tracked requests are
// failed a second time there to catch registrations that raced the first
// sweep.
func (c *Connection) OnConnectionFailure(err error) {
	c.providerFailed(err)

	c.onAsyncException(newConnectionFailed(err))

	c.requests.failAll(err)

	if c.closing.Load() || c.closed.Load() {
		return
	}

	c.executor.Submit(func() {
		if perr := c.provider.Close(); perr != nil {
			c.log.Debug("error closing failed provider", slog.String("error", perr.Error()))
		}

		c.requests.failAll(err)

		c.shutdown(err)

		for _, l := range c.snapshotListeners() {
			l.OnConnectionFailure(err)
		}
	})
}

// OnResourceClosed handles remote closure of a session, producer or
// consumer: the failure cause is set synchronously so in-progress calls see
// it, then the full shutdown and listener notification run on the executor.
func (c *Connection) OnResourceClosed(resource core.Resource, cause error) {
	if c.closing.Load() || c.closed.Load() {
		return
	}

	switch r := resource.(type) {
	case *core.SessionInfo:
		if session := c.lookupSession(r.ID); session != nil {
			session.setFailureCause(cause)
		}
	case *core.ProducerInfo:
		if session := c.lookupSession(r.ID.Session); session != nil {
			if producer := session.lookupProducer(r.ID); producer != nil {
				producer.setFailureCause(cause)
			}
		}
	case *core.ConsumerInfo:
		if session := c.lookupSession(r.ID.Session); session != nil {
			if consumer := session.lookupConsumer(r.ID); consumer != nil {
				consumer.setFailureCause(cause)
			}
		}
	}

	c.executor.Submit(func() {
		switch r := resource.(type) {
		case *core.SessionInfo:
			session := c.lookupSession(r.ID)
			if session == nil {
				return
			}
			session.sessionClosed(cause)
			for _, l := range c.snapshotListeners() {
				l.OnSessionClosed(session, cause)
			}
		case *core.ProducerInfo:
			session := c.lookupSession(r.ID.Session)
			if session == nil {
				return
			}
			if producer := session.producerClosed(r, cause); producer != nil {
				for _, l := range c.snapshotListeners() {
					l.OnProducerClosed(producer, cause)
				}
			}
		case *core.ConsumerInfo:
			session := c.lookupSession(r.ID.Session)
			if session == nil {
				return
			}
			if consumer := session.consumerClosed(r, cause); consumer != nil {
				for _, l := range c.snapshotListeners() {
					l.OnConsumerClosed(consumer, cause)
				}
			}
		default:
			c.log.Info("a remote resource has been closed",
				slog.String("kind", resource.ResourceKind().String()))
		}
	})
}

// OnProviderError routes non-fatal provider errors to the exception
// listener.
func (c *Connection) OnProviderError(err error) {
	c.onAsyncException(err)
}
