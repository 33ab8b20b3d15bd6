// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"
	"time"

	"github.com/absmach/fluxmsg/core"
	"github.com/absmach/fluxmsg/provider"
)

// fakeProvider is a scripted in-memory provider. By default every request
// completes immediately; setting manual holds futures open so tests can
// observe blocked callers, and failures scripts per-operation errors.
type fakeProvider struct {
	mu       sync.Mutex
	listener provider.EventListener

	started bool
	closed  bool

	manual   bool
	failures map[string]error

	pending []*provider.Future

	created     []core.Resource
	destroyed   []core.Resource
	startedRes  []core.Resource
	stoppedRes  []core.Resource
	sends       []*core.OutboundEnvelope
	acks        []fakeAck
	sessionAcks []fakeSessionAck
	commits     []core.TransactionID
	rollbacks   []core.TransactionID
	recovers    []core.SessionID
	pulls       []core.ConsumerID
	unsubs      []string
}

type fakeAck struct {
	envelope *core.InboundEnvelope
	ackType  core.AckType
}

type fakeSessionAck struct {
	session core.SessionID
	ackType core.AckType
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{failures: make(map[string]error)}
}

func (f *fakeProvider) failNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeProvider) setManual(manual bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = manual
}

func (f *fakeProvider) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// settle resolves one request: scripted failure, manual hold, or success.
func (f *fakeProvider) settle(op string, request *provider.Future) {
	f.mu.Lock()
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		f.mu.Unlock()
		request.Fail(err)
		return
	}
	if f.manual {
		f.pending = append(f.pending, request)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	request.Complete()
}

func (f *fakeProvider) SetEventListener(listener provider.EventListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = listener
}

func (f *fakeProvider) eventListener() provider.EventListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

func (f *fakeProvider) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeProvider) Create(resource core.Resource, request *provider.Future) {
	f.mu.Lock()
	f.created = append(f.created, resource)
	f.mu.Unlock()
	f.settle("create", request)
}

func (f *fakeProvider) StartResource(resource core.Resource, request *provider.Future) {
	f.mu.Lock()
	f.startedRes = append(f.startedRes, resource)
	f.mu.Unlock()
	f.settle("start", request)
}

func (f *fakeProvider) StopResource(resource core.Resource, request *provider.Future) {
	f.mu.Lock()
	f.stoppedRes = append(f.stoppedRes, resource)
	f.mu.Unlock()
	f.settle("stop", request)
}

func (f *fakeProvider) Destroy(resource core.Resource, request *provider.Future) {
	f.mu.Lock()
	f.destroyed = append(f.destroyed, resource)
	f.mu.Unlock()
	f.settle("destroy", request)
}

func (f *fakeProvider) Send(envelope *core.OutboundEnvelope, request *provider.Future) {
	f.mu.Lock()
	f.sends = append(f.sends, envelope)
	f.mu.Unlock()
	f.settle("send", request)
}

func (f *fakeProvider) Acknowledge(envelope *core.InboundEnvelope, ackType core.AckType, request *provider.Future) {
	f.mu.Lock()
	f.acks = append(f.acks, fakeAck{envelope: envelope, ackType: ackType})
	f.mu.Unlock()
	f.settle("acknowledge", request)
}

func (f *fakeProvider) AcknowledgeSession(sessionID core.SessionID, ackType core.AckType, request *provider.Future) {
	f.mu.Lock()
	f.sessionAcks = append(f.sessionAcks, fakeSessionAck{session: sessionID, ackType: ackType})
	f.mu.Unlock()
	f.settle("acknowledge-session", request)
}

func (f *fakeProvider) Commit(tx *core.TransactionInfo, request *provider.Future) {
	f.mu.Lock()
	f.commits = append(f.commits, tx.ID)
	f.mu.Unlock()
	f.settle("commit", request)
}

func (f *fakeProvider) Rollback(tx *core.TransactionInfo, request *provider.Future) {
	f.mu.Lock()
	f.rollbacks = append(f.rollbacks, tx.ID)
	f.mu.Unlock()
	f.settle("rollback", request)
}

func (f *fakeProvider) Recover(sessionID core.SessionID, request *provider.Future) {
	f.mu.Lock()
	f.recovers = append(f.recovers, sessionID)
	f.mu.Unlock()
	f.settle("recover", request)
}

func (f *fakeProvider) Pull(consumerID core.ConsumerID, timeout time.Duration, request *provider.Future) {
	f.mu.Lock()
	f.pulls = append(f.pulls, consumerID)
	f.mu.Unlock()
	f.settle("pull", request)
}

func (f *fakeProvider) Unsubscribe(name string, request *provider.Future) {
	f.mu.Lock()
	f.unsubs = append(f.unsubs, name)
	f.mu.Unlock()
	f.settle("unsubscribe", request)
}

func (f *fakeProvider) MessageFactory() provider.MessageFactory {
	return fakeMessageFactory{}
}

func (f *fakeProvider) RemoteURI() string {
	return "fake://localhost"
}

// deliver pushes one inbound envelope through the event listener the way a
// real provider would from its own goroutine.
func (f *fakeProvider) deliver(id core.ConsumerID, msg *core.Message, dispatchID uint64) {
	f.eventListener().OnInboundMessage(&core.InboundEnvelope{
		ConsumerID: id,
		Message:    msg,
		DispatchID: dispatchID,
	})
}

func (f *fakeProvider) sentEnvelopes() []*core.OutboundEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*core.OutboundEnvelope, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *fakeProvider) ackedEnvelopes() []fakeAck {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeAck, len(f.acks))
	copy(out, f.acks)
	return out
}

func (f *fakeProvider) createdResources() []core.Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Resource, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeProvider) committedTx() []core.TransactionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.TransactionID, len(f.commits))
	copy(out, f.commits)
	return out
}

func (f *fakeProvider) rolledBackTx() []core.TransactionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.TransactionID, len(f.rollbacks))
	copy(out, f.rollbacks)
	return out
}

type fakeMessageFactory struct{}

func (fakeMessageFactory) NewMessage() *core.Message { return core.NewMessage() }

func (fakeMessageFactory) NewTextMessage(text string) *core.Message {
	return core.NewTextMessage(text)
}

func (fakeMessageFactory) NewBytesMessage(body []byte) *core.Message {
	return core.NewBytesMessage(body)
}
