// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp091

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/absmach/fluxmsg/core"
)

// messageFactory builds native messages for this wire format.
type messageFactory struct{}

func (messageFactory) NewMessage() *core.Message {
	return core.NewMessage()
}

func (messageFactory) NewTextMessage(text string) *core.Message {
	return core.NewTextMessage(text)
}

func (messageFactory) NewBytesMessage(body []byte) *core.Message {
	return core.NewBytesMessage(body)
}

// routing maps a destination to an AMQP exchange and routing key. Queues
// publish through the default exchange, topics through amq.topic.
func routing(dest core.Destination) (exchange, key string) {
	if dest.IsTopic() {
		return topicExchange, dest.Name
	}
	return "", dest.Name
}

// expiration renders the per-message TTL the way AMQP 0-9-1 expects:
// milliseconds-as-string, empty for none.
func expiration(msg *core.Message) string {
	if msg.Expiration <= 0 || msg.Timestamp <= 0 {
		return ""
	}
	ttl := msg.Expiration - msg.Timestamp
	if ttl <= 0 {
		return ""
	}
	return strconv.FormatInt(ttl, 10)
}

// headers flattens application properties into an AMQP table.
func headers(msg *core.Message) amqp.Table {
	names := msg.PropertyNames()
	if len(names) == 0 {
		return nil
	}
	table := make(amqp.Table, len(names))
	for _, name := range names {
		if v, ok := msg.Property(name); ok {
			table[name] = v
		}
	}
	return table
}

// fromDelivery converts one AMQP delivery into a native message.
func fromDelivery(d amqp.Delivery) *core.Message {
	msg := core.NewMessage()
	msg.MessageID = d.MessageId
	msg.CorrelationID = d.CorrelationId
	msg.ContentType = d.ContentType
	msg.Body = d.Body
	msg.Type = d.Type
	msg.Redelivered = d.Redelivered
	msg.Priority = int(d.Priority)
	if d.UserId != "" {
		msg.UserID = []byte(d.UserId)
	}
	if !d.Timestamp.IsZero() {
		msg.Timestamp = d.Timestamp.UnixMilli()
	}
	if d.DeliveryMode == amqp.Persistent {
		msg.DeliveryMode = core.Persistent
	}

	if d.Exchange == topicExchange {
		msg.Destination = core.NewTopic(d.RoutingKey)
	} else {
		msg.Destination = core.NewQueue(d.RoutingKey)
	}

	for name, value := range d.Headers {
		_ = msg.SetProperty(name, value)
	}

	return msg
}

// redeliveryCount derives a delivery count from the redelivered flag; the
// 0-9-1 protocol does not carry an exact count.
func redeliveryCount(d amqp.Delivery) int {
	if d.Redelivered {
		return 1
	}
	return 0
}
