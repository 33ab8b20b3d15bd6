// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/policy"
	"github.com/absmach/fluxmsg/provider"
)

// Session owns producers and consumers, routes inbound envelopes, serializes
// sends and coordinates recover, commit and rollback.
type Session struct {
	conn *Connection
	info *core.SessionInfo
	mode core.AckMode

	producersMu sync.RWMutex
	producers   map[core.ProducerID]*Producer

	consumersMu sync.RWMutex
	consumers   map[core.ConsumerID]*Consumer

	listenerMu sync.RWMutex
	listener   MessageListener

	closed  atomic.Bool
	started atomic.Bool

	stoppedMessages *stoppedQueue

	// sendMu serializes message preparation through hand-off to the
	// transaction context so a session publishes in issue order.
	sendMu sync.Mutex

	execMu   sync.Mutex
	executor *serialExecutor

	consumerSeq atomic.Uint64
	producerSeq atomic.Uint64

	txCtx transactionContext

	recoveredMu sync.Mutex
	recovered   bool

	failureMu    sync.Mutex
	failureCause error

	prefetch        policy.Prefetch
	redelivery      policy.Redelivery
	presettle       policy.Presettle
	messageID       policy.MessageID
	deserialization policy.Deserialization
}

func newSession(conn *Connection, id core.SessionID, mode core.AckMode) (*Session, error) {
	s := &Session{
		conn: conn,
		mode: mode,
		info: &core.SessionInfo{
			ID:            id,
			AckMode:       mode,
			SendAcksAsync: conn.info.ForceAsyncAcks,
		},
		producers:       make(map[core.ProducerID]*Producer),
		consumers:       make(map[core.ConsumerID]*Consumer),
		stoppedMessages: newStoppedQueue(),
		prefetch:        conn.opts.Prefetch.Copy(),
		redelivery:      conn.opts.Redelivery.Copy(),
		presettle:       conn.opts.Presettle.Copy(),
		messageID:       conn.opts.MessageID.Copy(),
		deserialization: conn.opts.Deserialization.Copy(),
	}

	if mode == core.Transacted {
		s.txCtx = newLocalTxContext(s)
	} else {
		s.txCtx = &noTxContext{conn: conn}
	}

	if err := conn.createResource(s.info); err != nil {
		return nil, err
	}

	// A transacted session always holds an open transaction.
	if err := s.txCtx.Begin(); err != nil {
		return nil, err
	}

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() core.SessionID {
	return s.info.ID
}

// AckMode returns the session's acknowledgement mode.
func (s *Session) AckMode() (core.AckMode, error) {
	if err := s.checkClosed(); err != nil {
		return 0, err
	}
	return s.mode, nil
}

// IsTransacted reports whether the session is transactional.
func (s *Session) IsTransacted() bool {
	return s.mode == core.Transacted
}

// IsClosed reports whether the session has closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// SetMessageListener registers a session-wide message listener. While set,
// envelopes bypass per-consumer dispatch.
func (s *Session) SetMessageListener(listener MessageListener) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	return nil
}

// MessageListener returns the session-wide message listener.
func (s *Session) MessageListener() (MessageListener, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	return s.listener, nil
}

//----- Message creation -------------------------------------------------//

// CreateMessage returns an empty message bound to this connection's factory.
func (s *Session) CreateMessage() (*core.Message, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if f := s.conn.messageFactoryRef(); f != nil {
		return f.NewMessage(), nil
	}
	return core.NewMessage(), nil
}

// CreateTextMessage returns a text message.
func (s *Session) CreateTextMessage(text string) (*core.Message, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if f := s.conn.messageFactoryRef(); f != nil {
		return f.NewTextMessage(text), nil
	}
	return core.NewTextMessage(text), nil
}

// CreateBytesMessage returns a bytes message.
func (s *Session) CreateBytesMessage(body []byte) (*core.Message, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if f := s.conn.messageFactoryRef(); f != nil {
		return f.NewBytesMessage(body), nil
	}
	return core.NewBytesMessage(body), nil
}

//----- Destination creation ---------------------------------------------//

// CreateQueue returns a queue destination value.
func (s *Session) CreateQueue(name string) (core.Destination, error) {
	if err := s.checkClosed(); err != nil {
		return core.Destination{}, err
	}
	return core.NewQueue(name), nil
}

// CreateTopic returns a topic destination value.
func (s *Session) CreateTopic(name string) (core.Destination, error) {
	if err := s.checkClosed(); err != nil {
		return core.Destination{}, err
	}
	return core.NewTopic(name), nil
}

// CreateTemporaryQueue declares a temporary queue on the connection.
func (s *Session) CreateTemporaryQueue() (core.Destination, error) {
	if err := s.checkClosed(); err != nil {
		return core.Destination{}, err
	}
	return s.conn.CreateTemporaryQueue()
}

// CreateTemporaryTopic declares a temporary topic on the connection.
func (s *Session) CreateTemporaryTopic() (core.Destination, error) {
	if err := s.checkClosed(); err != nil {
		return core.Destination{}, err
	}
	return s.conn.CreateTemporaryTopic()
}

//----- Consumer creation ------------------------------------------------//

// CreateConsumer creates a consumer on the destination.
func (s *Session) CreateConsumer(dest core.Destination) (*Consumer, error) {
	return s.CreateConsumerWith(dest, "", false)
}

// CreateConsumerWith creates a consumer with a selector and no-local flag.
func (s *Session) CreateConsumerWith(dest core.Destination, selector string, noLocal bool) (*Consumer, error) {
	return s.createConsumer(dest, selector, noLocal, "", false)
}

// CreateDurableSubscriber creates a durable topic subscription. The
// connection must carry an explicitly set client id.
func (s *Session) CreateDurableSubscriber(topic core.Destination, name, selector string, noLocal bool) (*Consumer, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if !topic.IsTopic() {
		return nil, fmt.Errorf("%w: durable subscriptions require a topic", ErrInvalidDestination)
	}
	if !s.conn.isExplicitClientID() {
		return nil, ErrImplicitClientID
	}
	return s.createConsumer(topic, selector, noLocal, name, false)
}

// CreateBrowser creates a read-only browser over a queue.
func (s *Session) CreateBrowser(queue core.Destination, selector string) (*Browser, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if !queue.IsQueue() {
		return nil, fmt.Errorf("%w: browsers require a queue", ErrInvalidDestination)
	}
	consumer, err := s.createConsumer(queue, selector, false, "", true)
	if err != nil {
		return nil, err
	}
	return &Browser{consumer: consumer}, nil
}

// CreateSharedConsumer is part of the later API generation and refused.
func (s *Session) CreateSharedConsumer(core.Destination, string) (*Consumer, error) {
	return nil, ErrNotSupported
}

// CreateSharedDurableConsumer is part of the later API generation and refused.
func (s *Session) CreateSharedDurableConsumer(core.Destination, string) (*Consumer, error) {
	return nil, ErrNotSupported
}

func (s *Session) createConsumer(dest core.Destination, selector string, noLocal bool, subscription string, browser bool) (*Consumer, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if dest.IsZero() {
		return nil, ErrZeroDestination
	}
	if dest.Temporary {
		if !s.conn.ownsTemporaryDestination(dest) {
			return nil, ErrForeignTemp
		}
		if s.conn.isTemporaryDeleted(dest) {
			return nil, ErrDeletedTemp
		}
	}

	selector, err := s.checkSelector(selector)
	if err != nil {
		return nil, err
	}

	info := &core.ConsumerInfo{
		ID:               s.nextConsumerID(),
		Destination:      dest,
		Selector:         selector,
		NoLocal:          noLocal,
		SubscriptionName: subscription,
		Browser:          browser,
		Presettle:        s.presettle.ConsumerPresettled(dest),
		LocalPriority:    s.conn.info.LocalMessagePriority,
	}
	info.Prefetch = s.prefetch.PrefetchFor(info)

	consumer := newConsumer(s, info)

	if err := s.conn.createResource(info); err != nil {
		return nil, err
	}

	s.addConsumer(consumer)

	if s.started.Load() {
		if err := consumer.start(); err != nil {
			return nil, err
		}
	}

	return consumer, nil
}

// checkSelector normalizes and validates a selector expression. Blank
// selectors collapse to the empty string.
func (s *Session) checkSelector(selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		return "", nil
	}
	if v := s.conn.opts.SelectorValidator; v != nil {
		if err := v(selector); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidSelector, err.Error())
		}
	}
	return selector, nil
}

//----- Producer creation ------------------------------------------------//

// CreateProducer creates a producer bound to the destination. A zero
// destination creates an anonymous producer that names its target per send.
func (s *Session) CreateProducer(dest core.Destination) (*Producer, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	info := &core.ProducerInfo{
		ID:          s.nextProducerID(),
		Destination: dest,
	}
	if !info.IsAnonymous() {
		info.Presettle = s.presettle.ProducerPresettled(dest)
	}

	producer := newProducer(s, info)

	if err := s.conn.createResource(info); err != nil {
		return nil, err
	}

	s.addProducer(producer)
	return producer, nil
}

//----- Transaction and acknowledge operations ---------------------------//

// Recover restarts delivery of all unacknowledged messages of a
// non-transacted session.
func (s *Session) Recover() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if s.IsTransacted() {
		return ErrTransactedRecover
	}

	if err := s.conn.recover(s.info.ID); err != nil {
		return err
	}

	s.recoveredMu.Lock()
	s.recovered = true
	s.recoveredMu.Unlock()
	return nil
}

// Commit commits the open transaction and begins a fresh one.
func (s *Session) Commit() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if !s.IsTransacted() {
		return ErrNotTransacted
	}
	return s.txCtx.Commit()
}

// Rollback rolls the open transaction back and begins a fresh one. Every
// consumer is suspended for the teardown and resumed afterwards even when
// the rollback partially failed.
func (s *Session) Rollback() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if !s.IsTransacted() {
		return ErrNotTransacted
	}

	consumers := s.snapshotConsumers()
	for _, c := range consumers {
		if err := c.suspendForRollback(); err != nil {
			s.conn.log.Debug("error suspending consumer for rollback",
				slog.String("consumer", c.info.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	rollbackErr := s.txCtx.Rollback()

	for _, c := range consumers {
		if err := c.resumeAfterRollback(); err != nil {
			s.conn.log.Debug("error resuming consumer after rollback",
				slog.String("consumer", c.info.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	return rollbackErr
}

// Acknowledge acknowledges every message delivered in this session. It is
// intended for client-acknowledge sessions.
func (s *Session) Acknowledge() error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if s.IsTransacted() {
		return ErrTransactedAck
	}
	return s.conn.acknowledgeSession(s.info.ID, core.AckAccepted)
}

// acknowledgeEnvelope settles one delivery through the transaction context.
func (s *Session) acknowledgeEnvelope(env *core.InboundEnvelope, ackType core.AckType) error {
	return s.txCtx.Acknowledge(env, ackType)
}

// Unsubscribe removes a durable subscription by name.
func (s *Session) Unsubscribe(name string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	return s.conn.unsubscribe(name)
}

//----- Send path --------------------------------------------------------//

// send prepares and dispatches one message while holding the session's send
// lock so messages from this session publish in issue order.
func (s *Session) send(producer *Producer, dest core.Destination, msg *core.Message,
	deliveryMode core.DeliveryMode, priority int, ttl time.Duration,
	disableMessageID, disableTimestamp bool) error {

	if dest.IsZero() {
		return ErrZeroDestination
	}
	if dest.Temporary && s.conn.isTemporaryDeleted(dest) {
		return ErrTempDeleted
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	msg.DeliveryMode = deliveryMode
	msg.Priority = priority
	msg.Redelivered = false
	msg.Destination = dest

	timestamp := time.Now().UnixMilli()
	if disableTimestamp {
		msg.Timestamp = 0
	} else {
		msg.Timestamp = timestamp
	}
	if ttl > 0 {
		msg.Expiration = timestamp + ttl.Milliseconds()
	} else {
		msg.Expiration = 0
	}

	sequence := producer.nextMessageSequence()

	var messageID string
	if !disableMessageID {
		messageID = s.messageID.NewMessageID(producer.info.ID.String(), sequence)
	}
	msg.MessageID = messageID

	outbound := msg.Copy()
	if s.conn.info.PopulateUserID {
		outbound.UserID = s.conn.info.EncodedUsername()
	} else {
		// Keep applications from spoofing the user id header.
		outbound.UserID = nil
	}

	syncSend := s.conn.info.ForceSyncSend ||
		(!s.conn.info.ForceAsyncSend && deliveryMode == core.Persistent && !s.IsTransacted())

	envelope := &core.OutboundEnvelope{
		ProducerID:  producer.info.ID,
		Destination: dest,
		Message:     outbound,
		DispatchID:  sequence,
		SendAsync:   !syncSend,
	}
	if producer.info.IsAnonymous() {
		envelope.Presettle = s.presettle.ProducerPresettled(dest)
	}

	return s.txCtx.Send(envelope)
}

//----- Lifecycle --------------------------------------------------------//

// Close shuts the session down and destroys its remote resource. Idempotent.
func (s *Session) Close() error {
	if s.closed.Load() {
		return nil
	}

	s.shutdown(nil)
	s.conn.removeSession(s.info.ID)

	if err := s.conn.destroyResource(s.info); err != nil {
		return err
	}
	return nil
}

// shutdown releases all session resources without touching the provider;
// the remote resource is either destroyed by Close or already gone.
func (s *Session) shutdown(cause error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.setFailureCause(cause)
	s.stopInternal()

	for _, c := range s.snapshotConsumers() {
		c.shutdown(cause)
	}
	for _, p := range s.snapshotProducers() {
		p.shutdown(cause)
	}

	s.txCtx.Shutdown()
}

func (s *Session) sessionClosed(cause error) {
	s.shutdown(cause)
}

func (s *Session) consumerClosed(resource *core.ConsumerInfo, cause error) *Consumer {
	s.conn.log.Info("a consumer has been remotely closed",
		slog.String("consumer", resource.ID.String()))

	consumer := s.lookupConsumer(resource.ID)
	if consumer != nil {
		consumer.shutdown(cause)
	}
	return consumer
}

func (s *Session) producerClosed(resource *core.ProducerInfo, cause error) *Producer {
	s.conn.log.Info("a producer has been remotely closed",
		slog.String("producer", resource.ID.String()))

	producer := s.lookupProducer(resource.ID)
	if producer != nil {
		producer.shutdown(cause)
	}
	return producer
}

// start drains the stopped-message buffer in arrival order before any live
// envelope, then starts every consumer.
func (s *Session) start() error {
	if s.started.CompareAndSwap(false, true) {
		for _, env := range s.stoppedMessages.drain() {
			s.deliver(env)
		}
		for _, c := range s.snapshotConsumers() {
			if err := c.start(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) stop() error {
	return s.stopWith(true)
}

func (s *Session) stopInternal() {
	_ = s.stopWith(false)
}

func (s *Session) stopWith(stopConsumers bool) error {
	s.started.Store(false)

	var firstErr error
	if stopConsumers {
		for _, c := range s.snapshotConsumers() {
			if err := c.stop(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	s.execMu.Lock()
	if s.executor != nil {
		executor := s.executor
		s.executor = nil
		s.execMu.Unlock()
		executor.Shutdown()
	} else {
		s.execMu.Unlock()
	}

	return firstErr
}

// IsStarted reports whether the session is delivering messages.
func (s *Session) IsStarted() bool {
	return s.started.Load()
}

// dispatchExecutor lazily allocates the session's serial dispatch executor.
func (s *Session) dispatchExecutor() *serialExecutor {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.executor == nil {
		s.executor = newSerialExecutor()
	}
	return s.executor
}

//----- Inbound routing --------------------------------------------------//

// onInboundMessage buffers the envelope while stopped, otherwise delivers.
// Buffer overflow refuses the envelope and surfaces an async exception.
func (s *Session) onInboundMessage(envelope *core.InboundEnvelope) {
	if s.started.Load() {
		s.deliver(envelope)
		return
	}
	if err := s.stoppedMessages.enqueue(envelope); err != nil {
		s.conn.onAsyncException(err)
	}
}

func (s *Session) deliver(envelope *core.InboundEnvelope) {
	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()

	if listener != nil {
		listener(envelope.Message)
		return
	}

	if consumer := s.lookupConsumer(envelope.ConsumerID); consumer != nil {
		consumer.onInboundMessage(envelope)
	}
}

//----- Recovery ---------------------------------------------------------//

func (s *Session) onConnectionInterrupted() {
	s.txCtx.OnConnectionInterrupted()

	for _, p := range s.snapshotProducers() {
		p.onConnectionInterrupted()
	}
	for _, c := range s.snapshotConsumers() {
		c.onConnectionInterrupted()
	}
}

// onConnectionRecovery re-declares the session, re-arms the transaction
// context and re-declares every producer and consumer on the new provider.
func (s *Session) onConnectionRecovery(p provider.Provider) error {
	if err := s.conn.declareResource(p, s.info); err != nil {
		return err
	}

	if err := s.txCtx.OnConnectionRecovery(p); err != nil {
		return err
	}

	for _, producer := range s.snapshotProducers() {
		if err := producer.onConnectionRecovery(p); err != nil {
			return err
		}
	}
	for _, consumer := range s.snapshotConsumers() {
		if err := consumer.onConnectionRecovery(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onConnectionRecovered(p provider.Provider) error {
	for _, producer := range s.snapshotProducers() {
		if err := producer.onConnectionRecovered(p); err != nil {
			return err
		}
	}
	for _, consumer := range s.snapshotConsumers() {
		if err := consumer.onConnectionRecovered(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onConnectionRestored() {
	for _, producer := range s.snapshotProducers() {
		producer.onConnectionRestored()
	}
	for _, consumer := range s.snapshotConsumers() {
		consumer.onConnectionRestored()
	}
}

//----- Registries -------------------------------------------------------//

func (s *Session) addConsumer(c *Consumer) {
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	s.consumers[c.info.ID] = c
}

func (s *Session) removeConsumer(id core.ConsumerID) {
	s.consumersMu.Lock()
	defer s.consumersMu.Unlock()
	delete(s.consumers, id)
}

func (s *Session) lookupConsumer(id core.ConsumerID) *Consumer {
	s.consumersMu.RLock()
	defer s.consumersMu.RUnlock()
	return s.consumers[id]
}

func (s *Session) snapshotConsumers() []*Consumer {
	s.consumersMu.RLock()
	defer s.consumersMu.RUnlock()
	out := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	return out
}

func (s *Session) addProducer(p *Producer) {
	s.producersMu.Lock()
	defer s.producersMu.Unlock()
	s.producers[p.info.ID] = p
}

func (s *Session) removeProducer(id core.ProducerID) {
	s.producersMu.Lock()
	defer s.producersMu.Unlock()
	delete(s.producers, id)
}

func (s *Session) lookupProducer(id core.ProducerID) *Producer {
	s.producersMu.RLock()
	defer s.producersMu.RUnlock()
	return s.producers[id]
}

func (s *Session) snapshotProducers() []*Producer {
	s.producersMu.RLock()
	defer s.producersMu.RUnlock()
	out := make([]*Producer, 0, len(s.producers))
	for _, p := range s.producers {
		out = append(out, p)
	}
	return out
}

//----- Checks and helpers -----------------------------------------------//

func (s *Session) checkClosed() error {
	if !s.closed.Load() {
		return nil
	}
	s.failureMu.Lock()
	cause := s.failureCause
	s.failureMu.Unlock()
	if cause != nil {
		return newConnectionFailed(cause)
	}
	return ErrSessionClosed
}

// checkMessageListener refuses synchronous receives while any listener is
// registered on the session or one of its consumers.
func (s *Session) checkMessageListener() error {
	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()
	if listener != nil {
		return ErrListenerSet
	}
	for _, c := range s.snapshotConsumers() {
		if c.hasMessageListener() {
			return ErrListenerSet
		}
	}
	return nil
}

func (s *Session) setFailureCause(cause error) {
	s.failureMu.Lock()
	defer s.failureMu.Unlock()
	if cause != nil {
		s.failureCause = cause
	}
}

func (s *Session) isDestinationInUse(dest core.Destination) bool {
	for _, c := range s.snapshotConsumers() {
		if c.info.Destination == dest {
			return true
		}
	}
	return false
}

func (s *Session) hasSubscription(name string) bool {
	for _, c := range s.snapshotConsumers() {
		if !c.IsClosed() && c.info.SubscriptionName == name {
			return true
		}
	}
	return false
}

// IsRecovered reports whether Recover has completed on this session. Once
// set, the flag stays set.
func (s *Session) IsRecovered() bool {
	s.recoveredMu.Lock()
	defer s.recoveredMu.Unlock()
	return s.recovered
}

func (s *Session) clearRecovered() {
	s.recoveredMu.Lock()
	defer s.recoveredMu.Unlock()
	s.recovered = false
}

func (s *Session) nextConsumerID() core.ConsumerID {
	return core.ConsumerID{Session: s.info.ID, Value: s.consumerSeq.Add(1)}
}

func (s *Session) nextProducerID() core.ProducerID {
	return core.ProducerID{Session: s.info.ID, Value: s.producerSeq.Add(1)}
}
