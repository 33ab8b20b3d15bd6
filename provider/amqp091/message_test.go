// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp091

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/fluxmsg/core"
)

func TestRouting(t *testing.T) {
	exchange, key := routing(core.NewQueue("orders"))
	assert.Equal(t, "", exchange)
	assert.Equal(t, "orders", key)

	exchange, key = routing(core.NewTopic("news"))
	assert.Equal(t, topicExchange, exchange)
	assert.Equal(t, "news", key)
}

func TestExpiration(t *testing.T) {
	msg := core.NewMessage()
	assert.Equal(t, "", expiration(msg))

	msg.Timestamp = time.Now().UnixMilli()
	msg.Expiration = msg.Timestamp + 60000
	assert.Equal(t, "60000", expiration(msg))

	msg.Expiration = msg.Timestamp - 1
	assert.Equal(t, "", expiration(msg))
}

func TestHeadersFlattenProperties(t *testing.T) {
	msg := core.NewMessage()
	assert.Nil(t, headers(msg))

	require.NoError(t, msg.SetProperty("region", "eu"))
	require.NoError(t, msg.SetProperty("attempt", 3))

	table := headers(msg)
	assert.Equal(t, "eu", table["region"])
	assert.Equal(t, 3, table["attempt"])
}

func TestFromDelivery(t *testing.T) {
	stamp := time.Now().Truncate(time.Millisecond)
	delivery := amqp.Delivery{
		MessageId:     "ID:1",
		CorrelationId: "corr",
		ContentType:   "text/plain",
		Body:          []byte("hello"),
		Redelivered:   true,
		Priority:      7,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     stamp,
		UserId:        "alice",
		Exchange:      topicExchange,
		RoutingKey:    "news",
		Headers:       amqp.Table{"k": "v"},
	}

	msg := fromDelivery(delivery)

	assert.Equal(t, "ID:1", msg.MessageID)
	assert.Equal(t, "corr", msg.CorrelationID)
	assert.Equal(t, "hello", msg.Text())
	assert.True(t, msg.Redelivered)
	assert.Equal(t, 7, msg.Priority)
	assert.Equal(t, core.Persistent, msg.DeliveryMode)
	assert.Equal(t, stamp.UnixMilli(), msg.Timestamp)
	assert.Equal(t, []byte("alice"), msg.UserID)
	assert.Equal(t, core.NewTopic("news"), msg.Destination)

	v, ok := msg.Property("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestFromDeliveryQueueDestination(t *testing.T) {
	msg := fromDelivery(amqp.Delivery{Exchange: "", RoutingKey: "orders"})
	assert.Equal(t, core.NewQueue("orders"), msg.Destination)
}

func TestRedeliveryCount(t *testing.T) {
	assert.Equal(t, 0, redeliveryCount(amqp.Delivery{}))
	assert.Equal(t, 1, redeliveryCount(amqp.Delivery{Redelivered: true}))
}
