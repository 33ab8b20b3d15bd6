// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqp091 binds the provider contract to RabbitMQ over AMQP 0-9-1.
// Each session maps to a dedicated channel; consumers map to deliveries on
// that channel; local transactions use channel tx mode. Reconnection policy
// is intentionally out of scope: a lost connection is reported as a
// permanent failure.
package amqp091

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// topicExchange is the exchange topic destinations publish through.
const topicExchange = "amq.topic"

// Provider implements provider.Provider over amqp091.
type Provider struct {
	uri string
	log *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channels map[core.SessionID]*amqp.Channel
	tags     map[core.ConsumerID]consumerBinding
	closed   bool

	listener provider.EventListener
}

type consumerBinding struct {
	session core.SessionID
	tag     string
	queue   string
}

// New returns an unstarted provider for the given broker URI.
func New(uri string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		uri:      uri,
		log:      logger,
		channels: make(map[core.SessionID]*amqp.Channel),
		tags:     make(map[core.ConsumerID]consumerBinding),
	}
}

// SetEventListener registers the client core as event sink.
func (p *Provider) SetEventListener(listener provider.EventListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = listener
}

// Start dials the broker and begins watching for connection loss.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.listener == nil {
		return fmt.Errorf("amqp091: event listener must be set before start")
	}
	if p.conn != nil {
		return nil
	}

	conn, err := amqp.Dial(p.uri)
	if err != nil {
		return fmt.Errorf("amqp091: dial %s: %w", p.uri, err)
	}
	p.conn = conn

	p.log.Debug("connected to broker", slog.String("uri", p.uri))

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go p.watchConnection(closeCh)

	listener := p.listener
	go listener.OnConnectionEstablished(p.uri)

	return nil
}

func (p *Provider) watchConnection(closeCh <-chan *amqp.Error) {
	err, ok := <-closeCh
	if !ok || err == nil {
		// Orderly shutdown.
		return
	}

	p.mu.Lock()
	listener := p.listener
	closed := p.closed
	p.mu.Unlock()

	if closed || listener == nil {
		return
	}
	p.log.Warn("broker connection lost", slog.String("error", err.Error()))
	listener.OnConnectionFailure(fmt.Errorf("amqp091: connection lost: %w", err))
}

// Close tears the provider down. Idempotent.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.channels = make(map[core.SessionID]*amqp.Channel)
	p.tags = make(map[core.ConsumerID]consumerBinding)
	p.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// MessageFactory returns the native message factory.
func (p *Provider) MessageFactory() provider.MessageFactory {
	return messageFactory{}
}

// RemoteURI returns the connected broker URI.
func (p *Provider) RemoteURI() string {
	return p.uri
}

//----- Resource management ----------------------------------------------//

// Create declares the broker-side state backing a resource.
func (p *Provider) Create(resource core.Resource, request *provider.Future) {
	switch r := resource.(type) {
	case *core.ConnectionInfo:
		// The AMQP connection was established in Start.
		request.Complete()

	case *core.SessionInfo:
		ch, err := p.openChannel(r.ID)
		if err != nil {
			request.Fail(err)
			return
		}
		if r.AckMode == core.Transacted {
			if err := ch.Tx(); err != nil {
				request.Fail(fmt.Errorf("amqp091: enable tx mode: %w", err))
				return
			}
		}
		request.Complete()

	case *core.ProducerInfo:
		if err := p.declareDestination(r.ID.Session, r.Destination); err != nil {
			request.Fail(err)
			return
		}
		request.Complete()

	case *core.ConsumerInfo:
		if err := p.bindConsumer(r); err != nil {
			request.Fail(err)
			return
		}
		request.Complete()

	case *core.TemporaryDestinationInfo:
		ch, err := p.channelFor(core.SessionID{})
		if err != nil {
			request.Fail(err)
			return
		}
		_, err = ch.QueueDeclare(r.Destination.Name, false, true, true, false, nil)
		if err != nil {
			request.Fail(fmt.Errorf("amqp091: declare temporary destination: %w", err))
			return
		}
		request.Complete()

	case *core.TransactionInfo:
		// Channel tx mode spans transactions; declaring a new id is local.
		request.Complete()

	default:
		request.Fail(fmt.Errorf("amqp091: cannot create resource kind %s", resource.ResourceKind()))
	}
}

// StartResource begins consumer dispatch; other kinds need no start step.
func (p *Provider) StartResource(resource core.Resource, request *provider.Future) {
	if r, ok := resource.(*core.ConsumerInfo); ok {
		if err := p.startConsumer(r); err != nil {
			request.Fail(err)
			return
		}
	}
	request.Complete()
}

// StopResource pauses consumer dispatch by cancelling the consumer tag; the
// queue keeps the messages.
func (p *Provider) StopResource(resource core.Resource, request *provider.Future) {
	if r, ok := resource.(*core.ConsumerInfo); ok {
		p.mu.Lock()
		binding, ok := p.tags[r.ID]
		ch := p.channels[binding.session]
		p.mu.Unlock()
		if ok && ch != nil && binding.tag != "" {
			if err := ch.Cancel(binding.tag, false); err != nil {
				request.Fail(fmt.Errorf("amqp091: cancel consumer: %w", err))
				return
			}
			p.mu.Lock()
			binding.tag = ""
			p.tags[r.ID] = binding
			p.mu.Unlock()
		}
	}
	request.Complete()
}

// Destroy removes the broker-side state backing a resource.
func (p *Provider) Destroy(resource core.Resource, request *provider.Future) {
	switch r := resource.(type) {
	case *core.ConnectionInfo:
		request.Complete()

	case *core.SessionInfo:
		p.mu.Lock()
		ch := p.channels[r.ID]
		delete(p.channels, r.ID)
		p.mu.Unlock()
		if ch != nil {
			if err := ch.Close(); err != nil {
				request.Fail(fmt.Errorf("amqp091: close channel: %w", err))
				return
			}
		}
		request.Complete()

	case *core.ProducerInfo:
		request.Complete()

	case *core.ConsumerInfo:
		p.mu.Lock()
		binding, ok := p.tags[r.ID]
		delete(p.tags, r.ID)
		ch := p.channels[binding.session]
		p.mu.Unlock()
		if ok && ch != nil && binding.tag != "" {
			if err := ch.Cancel(binding.tag, false); err != nil {
				request.Fail(fmt.Errorf("amqp091: cancel consumer: %w", err))
				return
			}
		}
		request.Complete()

	case *core.TemporaryDestinationInfo:
		ch, err := p.channelFor(core.SessionID{})
		if err != nil {
			request.Fail(err)
			return
		}
		if _, err := ch.QueueDelete(r.Destination.Name, false, false, false); err != nil {
			request.Fail(fmt.Errorf("amqp091: delete temporary destination: %w", err))
			return
		}
		request.Complete()

	default:
		request.Complete()
	}
}

//----- Traffic ----------------------------------------------------------//

// Send publishes one envelope and settles the request once the publish is
// written to the channel. Sync and async sends take the same path; the
// channel is not in confirm mode, so no broker confirmation is awaited.
func (p *Provider) Send(envelope *core.OutboundEnvelope, request *provider.Future) {
	ch, err := p.channelFor(envelope.ProducerID.Session)
	if err != nil {
		request.Fail(err)
		return
	}

	exchange, key := routing(envelope.Destination)
	msg := envelope.Message

	pub := amqp.Publishing{
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		ContentType:   msg.ContentType,
		Expiration:    expiration(msg),
		Priority:      uint8(msg.Priority),
		Body:          msg.Body,
		UserId:        string(msg.UserID),
		Type:          msg.Type,
		Headers:       headers(msg),
	}
	if msg.Timestamp > 0 {
		pub.Timestamp = time.UnixMilli(msg.Timestamp)
	}
	if msg.DeliveryMode == core.Persistent {
		pub.DeliveryMode = amqp.Persistent
	} else {
		pub.DeliveryMode = amqp.Transient
	}

	if err := ch.PublishWithContext(context.Background(), exchange, key, false, false, pub); err != nil {
		request.Fail(fmt.Errorf("amqp091: publish: %w", err))
		return
	}
	request.Complete()
}

// Acknowledge settles one delivery.
func (p *Provider) Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType, request *provider.Future) {
	delivery, ok := envelope.ProviderHint.(amqp.Delivery)
	if !ok {
		// Delivered is informational; nothing to settle for a foreign hint.
		if ackType == core.AckDelivered {
			request.Complete()
			return
		}
		request.Fail(fmt.Errorf("amqp091: envelope carries no delivery state"))
		return
	}

	var err error
	switch ackType {
	case core.AckDelivered:
		// No wire action; settlement happens on a terminal disposition.
	case core.AckAccepted:
		err = delivery.Ack(false)
	case core.AckReleased, core.AckModifiedFailed:
		err = delivery.Nack(false, true)
	case core.AckRejected, core.AckModifiedFailedUndeliverable, core.AckPoisoned:
		err = delivery.Nack(false, false)
	default:
		err = fmt.Errorf("amqp091: unknown ack type %v", ackType)
	}

	if err != nil {
		request.Fail(fmt.Errorf("amqp091: settle delivery: %w", err))
		return
	}
	request.Complete()
}

// AcknowledgeSession settles every unsettled delivery of a session.
func (p *Provider) AcknowledgeSession(sessionID core.SessionID, ackType core.AckType, request *provider.Future) {
	ch, err := p.channelFor(sessionID)
	if err != nil {
		request.Fail(err)
		return
	}

	// Multiple-ack up to the highest delivery tag seen on the channel.
	switch ackType {
	case core.AckAccepted, core.AckDelivered:
		if err := ch.Ack(0, true); err != nil {
			request.Fail(fmt.Errorf("amqp091: session acknowledge: %w", err))
			return
		}
	default:
		if err := ch.Nack(0, true, ackType == core.AckReleased); err != nil {
			request.Fail(fmt.Errorf("amqp091: session nack: %w", err))
			return
		}
	}
	request.Complete()
}

// Commit commits the channel transaction.
func (p *Provider) Commit(tx *core.TransactionInfo, request *provider.Future) {
	ch, err := p.channelFor(tx.Session)
	if err != nil {
		request.Fail(err)
		return
	}
	if err := ch.TxCommit(); err != nil {
		request.Fail(fmt.Errorf("amqp091: tx commit: %w", err))
		return
	}
	request.Complete()
}

// Rollback rolls the channel transaction back.
func (p *Provider) Rollback(tx *core.TransactionInfo, request *provider.Future) {
	ch, err := p.channelFor(tx.Session)
	if err != nil {
		request.Fail(err)
		return
	}
	if err := ch.TxRollback(); err != nil {
		request.Fail(fmt.Errorf("amqp091: tx rollback: %w", err))
		return
	}
	request.Complete()
}

// Recover redelivers every unacknowledged message of the session.
func (p *Provider) Recover(sessionID core.SessionID, request *provider.Future) {
	ch, err := p.channelFor(sessionID)
	if err != nil {
		request.Fail(err)
		return
	}
	if err := ch.Recover(true); err != nil {
		request.Fail(fmt.Errorf("amqp091: recover: %w", err))
		return
	}
	request.Complete()
}

// Pull fetches at most one message for a zero-prefetch consumer.
func (p *Provider) Pull(consumerID core.ConsumerID, timeout time.Duration, request *provider.Future) {
	p.mu.Lock()
	binding, ok := p.tags[consumerID]
	p.mu.Unlock()
	if !ok {
		request.Fail(fmt.Errorf("amqp091: unknown consumer %s", consumerID))
		return
	}

	ch, err := p.channelFor(consumerID.Session)
	if err != nil {
		request.Fail(err)
		return
	}

	delivery, got, err := ch.Get(binding.queue, false)
	if err != nil {
		request.Fail(fmt.Errorf("amqp091: pull: %w", err))
		return
	}
	if got {
		p.dispatch(consumerID, delivery)
	}
	request.Complete()
}

// Unsubscribe removes a durable subscription queue.
func (p *Provider) Unsubscribe(name string, request *provider.Future) {
	ch, err := p.channelFor(core.SessionID{})
	if err != nil {
		request.Fail(err)
		return
	}
	if _, err := ch.QueueDelete(subscriptionQueue(name), false, false, false); err != nil {
		request.Fail(fmt.Errorf("amqp091: unsubscribe %s: %w", name, err))
		return
	}
	request.Complete()
}

//----- Internals --------------------------------------------------------//

// openChannel opens and registers the channel backing a session.
func (p *Provider) openChannel(id core.SessionID) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil, provider.ErrClosed
	}
	if ch, ok := p.channels[id]; ok {
		return ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp091: open channel: %w", err)
	}
	p.channels[id] = ch
	return ch, nil
}

// channelFor returns the session's channel, lazily opening the shared
// control channel for the zero session id.
func (p *Provider) channelFor(id core.SessionID) (*amqp.Channel, error) {
	p.mu.Lock()
	ch, ok := p.channels[id]
	conn := p.conn
	p.mu.Unlock()

	if ok {
		return ch, nil
	}
	if conn == nil {
		return nil, provider.ErrClosed
	}
	return p.openChannel(id)
}

// declareDestination ensures the broker-side entity behind a destination.
func (p *Provider) declareDestination(session core.SessionID, dest core.Destination) error {
	if dest.IsZero() || dest.Temporary {
		return nil
	}

	ch, err := p.channelFor(session)
	if err != nil {
		return err
	}

	if dest.IsQueue() {
		if _, err := ch.QueueDeclare(dest.Name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp091: declare queue %s: %w", dest.Name, err)
		}
		return nil
	}
	return nil
}

// bindConsumer declares the backing queue for a consumer and remembers its
// binding; dispatch starts on StartResource.
func (p *Provider) bindConsumer(info *core.ConsumerInfo) error {
	ch, err := p.channelFor(info.ID.Session)
	if err != nil {
		return err
	}

	queue := info.Destination.Name
	if info.Destination.IsTopic() {
		// Topic consumers read from a bound queue; durable subscriptions
		// survive under a stable name, plain ones are exclusive.
		durable := info.IsDurable()
		if durable {
			queue = subscriptionQueue(info.SubscriptionName)
		} else {
			queue = fmt.Sprintf("%s.%s", info.Destination.Name, info.ID)
		}
		if _, err := ch.QueueDeclare(queue, durable, !durable, !durable, false, nil); err != nil {
			return fmt.Errorf("amqp091: declare subscription queue: %w", err)
		}
		if err := ch.QueueBind(queue, info.Destination.Name, topicExchange, false, nil); err != nil {
			return fmt.Errorf("amqp091: bind subscription queue: %w", err)
		}
	} else if !info.Destination.Temporary {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp091: declare queue: %w", err)
		}
	}

	if info.Prefetch > 0 {
		if err := ch.Qos(info.Prefetch, 0, false); err != nil {
			return fmt.Errorf("amqp091: set prefetch: %w", err)
		}
	}

	p.mu.Lock()
	p.tags[info.ID] = consumerBinding{session: info.ID.Session, queue: queue}
	p.mu.Unlock()
	return nil
}

// startConsumer begins streaming deliveries for a bound consumer.
func (p *Provider) startConsumer(info *core.ConsumerInfo) error {
	p.mu.Lock()
	binding, ok := p.tags[info.ID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("amqp091: consumer %s is not bound", info.ID)
	}
	if binding.tag != "" {
		return nil
	}
	if info.Prefetch == 0 {
		// Zero prefetch consumers fetch with Pull.
		return nil
	}

	ch, err := p.channelFor(info.ID.Session)
	if err != nil {
		return err
	}

	tag := info.ID.String()
	deliveries, err := ch.Consume(binding.queue, tag, false, false, info.NoLocal, false, nil)
	if err != nil {
		return fmt.Errorf("amqp091: consume: %w", err)
	}

	p.mu.Lock()
	binding.tag = tag
	p.tags[info.ID] = binding
	p.mu.Unlock()

	go func() {
		for delivery := range deliveries {
			p.dispatch(info.ID, delivery)
		}
	}()
	return nil
}

// dispatch converts one delivery into an inbound envelope.
func (p *Provider) dispatch(id core.ConsumerID, delivery amqp.Delivery) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener == nil {
		return
	}

	msg := fromDelivery(delivery)
	listener.OnInboundMessage(&core.InboundEnvelope{
		ConsumerID:    id,
		Message:       msg,
		DispatchID:    delivery.DeliveryTag,
		DeliveryCount: redeliveryCount(delivery),
		ProviderHint:  delivery,
	})
}

func subscriptionQueue(name string) string {
	return "sub." + name
}
