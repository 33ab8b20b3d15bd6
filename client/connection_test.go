// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/fluxmsg/core"
)

func newTestConnection(t *testing.T) (*Connection, *fakeProvider) {
	t.Helper()

	fake := newFakeProvider()
	conn, err := New(fake, NewOptions().SetURI("fake://localhost"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn, fake
}

func TestConnectIsLazy(t *testing.T) {
	conn, fake := newTestConnection(t)

	assert.False(t, conn.IsConnected())
	assert.Empty(t, fake.createdResources())

	require.NoError(t, conn.Start())

	assert.True(t, conn.IsConnected())
	created := fake.createdResources()
	require.Len(t, created, 1)
	assert.IsType(t, &core.ConnectionInfo{}, created[0])
}

func TestSetClientIDTriggersConnect(t *testing.T) {
	conn, fake := newTestConnection(t)

	require.NoError(t, conn.SetClientID("alice"))

	assert.True(t, conn.IsConnected())
	created := fake.createdResources()
	require.Len(t, created, 1)
	info := created[0].(*core.ConnectionInfo)
	assert.Equal(t, "alice", info.ClientID)
}

func TestSetClientIDTwiceFails(t *testing.T) {
	conn, _ := newTestConnection(t)

	require.NoError(t, conn.SetClientID("alice"))

	err := conn.SetClientID("bob")
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestSetClientIDAfterConnectFails(t *testing.T) {
	conn, _ := newTestConnection(t)

	require.NoError(t, conn.Start())

	err := conn.SetClientID("late")
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestSetClientIDEmptyFails(t *testing.T) {
	conn, _ := newTestConnection(t)

	err := conn.SetClientID("")
	assert.ErrorIs(t, err, ErrInvalidClientID)
}

func TestImplicitClientIDGenerated(t *testing.T) {
	conn, fake := newTestConnection(t)

	require.NoError(t, conn.Start())

	info := fake.createdResources()[0].(*core.ConnectionInfo)
	assert.NotEmpty(t, info.ClientID)
	assert.False(t, conn.isExplicitClientID())
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := newFakeProvider()
	conn, err := New(fake, NewOptions())
	require.NoError(t, err)

	require.NoError(t, conn.Start())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.True(t, conn.IsClosed())
	assert.True(t, fake.closed)
}

func TestCloseDestroysConnectionResource(t *testing.T) {
	fake := newFakeProvider()
	conn, err := New(fake, NewOptions())
	require.NoError(t, err)

	require.NoError(t, conn.Start())
	require.NoError(t, conn.Close())

	require.Len(t, fake.destroyed, 1)
	assert.IsType(t, &core.ConnectionInfo{}, fake.destroyed[0])
}

func TestCloseAfterFailureDoesNotDestroyConnection(t *testing.T) {
	fake := newFakeProvider()
	conn, err := New(fake, NewOptions())
	require.NoError(t, err)
	require.NoError(t, conn.Start())

	fake.eventListener().OnConnectionFailure(errors.New("boom"))

	require.NoError(t, conn.Close())
	assert.Empty(t, fake.destroyed)
}

func TestOperationsAfterCloseFailIllegalState(t *testing.T) {
	fake := newFakeProvider()
	conn, err := New(fake, NewOptions())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.CreateSession(core.AutoAck)
	assert.ErrorIs(t, err, ErrIllegalState)

	err = conn.Start()
	assert.ErrorIs(t, err, ErrIllegalState)

	_, err = conn.CreateTemporaryQueue()
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestOperationsAfterFailureCarryFirstError(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	first := errors.New("first failure")
	fake.eventListener().OnConnectionFailure(first)
	fake.eventListener().OnConnectionFailure(errors.New("second failure"))

	_, err := conn.CreateSession(core.AutoAck)
	require.ErrorIs(t, err, ErrConnectionFailed)

	var failure *ConnectionFailedError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, first, failure.Cause)
}

func TestStartPropagatesToSessions(t *testing.T) {
	conn, _ := newTestConnection(t)

	session, err := conn.CreateSession(core.AutoAck)
	require.NoError(t, err)
	assert.False(t, session.IsStarted())

	require.NoError(t, conn.Start())
	assert.True(t, session.IsStarted())

	require.NoError(t, conn.Stop())
	assert.False(t, session.IsStarted())

	// Stop again is a no-op.
	require.NoError(t, conn.Stop())
}

func TestSessionCreatedOnStartedConnectionStartsImmediately(t *testing.T) {
	conn, _ := newTestConnection(t)
	require.NoError(t, conn.Start())

	session, err := conn.CreateSession(core.AutoAck)
	require.NoError(t, err)
	assert.True(t, session.IsStarted())
}

func TestRequestTrackerCompletenessOnFailure(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	// One session per producer; the session send lock would otherwise
	// serialize the callers before they reach the provider.
	const inflight = 4
	queue := core.NewQueue("q")
	producers := make([]*Producer, inflight)
	for i := range producers {
		session, err := conn.CreateSession(core.AutoAck)
		require.NoError(t, err)
		producers[i], err = session.CreateProducer(queue)
		require.NoError(t, err)
	}

	fake.setManual(true)

	results := make(chan error, inflight)
	for _, producer := range producers {
		producer := producer
		go func() {
			results <- producer.Send(core.NewTextMessage("blocked"))
		}()
	}

	require.Eventually(t, func() bool {
		return fake.pendingCount() == inflight
	}, 2*time.Second, 5*time.Millisecond)

	cause := errors.New("transport torn down")
	fake.eventListener().OnConnectionFailure(cause)

	for i := 0; i < inflight; i++ {
		select {
		case err := <-results:
			require.ErrorIs(t, err, ErrConnectionFailed)
		case <-time.After(2 * time.Second):
			t.Fatal("blocked send never completed")
		}
	}
}

func TestTemporaryDestinationLifecycle(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	session, err := conn.CreateSession(core.AutoAck)
	require.NoError(t, err)

	temp, err := conn.CreateTemporaryQueue()
	require.NoError(t, err)
	assert.True(t, temp.Temporary)
	assert.Contains(t, temp.Name, string(conn.ID())+":")

	consumer, err := session.CreateConsumer(temp)
	require.NoError(t, err)

	err = conn.DeleteTemporaryDestination(temp)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, consumer.Close())

	require.NoError(t, conn.DeleteTemporaryDestination(temp))

	found := false
	for _, r := range fake.destroyed {
		if info, ok := r.(*core.TemporaryDestinationInfo); ok && info.Destination == temp {
			found = true
		}
	}
	assert.True(t, found, "provider never destroyed the temporary destination")
}

func TestConsumeForeignTemporaryDestinationFails(t *testing.T) {
	conn, _ := newTestConnection(t)
	session, err := conn.CreateSession(core.AutoAck)
	require.NoError(t, err)

	foreign := core.Destination{Name: "ID:other:1", Kind: core.KindQueue, Temporary: true}
	_, err = session.CreateConsumer(foreign)
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestRecoveryRedeclaresStateInOrder(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	temp, err := conn.CreateTemporaryQueue()
	require.NoError(t, err)
	_ = temp

	session, err := conn.CreateSession(core.Transacted)
	require.NoError(t, err)

	queue := core.NewQueue("q")
	_, err = session.CreateProducer(queue)
	require.NoError(t, err)
	consumer, err := session.CreateConsumer(queue)
	require.NoError(t, err)
	require.True(t, consumer.IsStarted())

	listener := fake.eventListener()
	listener.OnConnectionInterrupted("fake://localhost")

	replacement := newFakeProvider()
	require.NoError(t, listener.OnConnectionRecovery(replacement))
	require.NoError(t, listener.OnConnectionRecovered(replacement))
	listener.OnConnectionRestored("fake://localhost")

	created := replacement.createdResources()
	require.GreaterOrEqual(t, len(created), 5)

	assert.IsType(t, &core.ConnectionInfo{}, created[0])
	assert.IsType(t, &core.TemporaryDestinationInfo{}, created[1])
	assert.IsType(t, &core.SessionInfo{}, created[2])
	assert.IsType(t, &core.TransactionInfo{}, created[3])

	var sawProducer, sawConsumer bool
	producerIdx, consumerIdx := -1, -1
	for i, r := range created {
		switch r.(type) {
		case *core.ProducerInfo:
			sawProducer = true
			producerIdx = i
		case *core.ConsumerInfo:
			sawConsumer = true
			consumerIdx = i
		}
	}
	assert.True(t, sawProducer)
	assert.True(t, sawConsumer)
	assert.Less(t, producerIdx, consumerIdx, "producers re-declare before consumers")

	// The consumer that was started before the interruption resumes.
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.startedRes) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, consumer.IsStarted())
}

func TestConnectionListenerFanOut(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	listener := &recordingListener{}
	conn.AddConnectionListener(listener)

	fake.eventListener().OnConnectionInterrupted("fake://a")
	fake.eventListener().OnConnectionRestored("fake://a")

	require.Eventually(t, func() bool {
		return len(listener.events()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	events := listener.events()
	assert.Equal(t, []string{"interrupted:fake://a", "restored:fake://a"}, events)

	assert.True(t, conn.RemoveConnectionListener(listener))
	assert.False(t, conn.RemoveConnectionListener(listener))
}

func TestExceptionListenerReceivesAsyncErrors(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	errs := make(chan error, 1)
	require.NoError(t, conn.SetExceptionListener(func(err error) {
		errs <- err
	}))

	fake.eventListener().OnProviderError(errors.New("async trouble"))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "async trouble")
	case <-time.After(2 * time.Second):
		t.Fatal("exception listener never invoked")
	}
}

func TestRemoteResourceClosureShutsDownConsumer(t *testing.T) {
	conn, fake := newTestConnection(t)
	require.NoError(t, conn.Start())

	session, err := conn.CreateSession(core.AutoAck)
	require.NoError(t, err)
	consumer, err := session.CreateConsumer(core.NewQueue("q"))
	require.NoError(t, err)

	listener := &recordingListener{}
	conn.AddConnectionListener(listener)

	cause := errors.New("deleted on broker")
	fake.eventListener().OnResourceClosed(consumer.info, cause)

	require.Eventually(t, consumer.IsClosed, 2*time.Second, 5*time.Millisecond)

	err = consumer.checkClosed()
	require.ErrorIs(t, err, ErrConnectionFailed)

	require.Eventually(t, func() bool {
		for _, e := range listener.events() {
			if e == "consumer-closed" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConnectionConsumerNotSupported(t *testing.T) {
	conn, _ := newTestConnection(t)

	err := conn.CreateConnectionConsumer(core.NewQueue("q"), "", 1)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestMetadata(t *testing.T) {
	conn, _ := newTestConnection(t)

	md := conn.Metadata()
	assert.Equal(t, "fluxmsg", md.ProviderName)
	assert.Equal(t, 1, md.APIMajor)
}

// recordingListener captures connection events in arrival order.
type recordingListener struct {
	mu  sync.Mutex
	log []string
}

func (r *recordingListener) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, event)
}

func (r *recordingListener) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.log))
	copy(out, r.log)
	return out
}

func (r *recordingListener) OnConnectionEstablished(uri string) { r.record("established:" + uri) }
func (r *recordingListener) OnConnectionInterrupted(uri string) { r.record("interrupted:" + uri) }
func (r *recordingListener) OnConnectionRestored(uri string)    { r.record("restored:" + uri) }
func (r *recordingListener) OnConnectionFailure(err error)      { r.record("failure:" + err.Error()) }

func (r *recordingListener) OnInboundMessage(*core.InboundEnvelope) { r.record("inbound") }

func (r *recordingListener) OnSessionClosed(*Session, error)   { r.record("session-closed") }
func (r *recordingListener) OnProducerClosed(*Producer, error) { r.record("producer-closed") }
func (r *recordingListener) OnConsumerClosed(*Consumer, error) { r.record("consumer-closed") }
