// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"errors"
	"time"
)

// DeliveryMode controls broker-side persistence of a sent message.
type DeliveryMode int

// Delivery modes.
const (
	NonPersistent DeliveryMode = iota
	Persistent
)

func (m DeliveryMode) String() string {
	if m == Persistent {
		return "persistent"
	}
	return "non-persistent"
}

// Message priority bounds.
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 4
)

var (
	// ErrReadOnlyBody is returned when mutating the body of a received message.
	ErrReadOnlyBody = errors.New("message body is read-only")
	// ErrReadOnlyProperties is returned when mutating properties of a received message.
	ErrReadOnlyProperties = errors.New("message properties are read-only")
)

// Message is the native message representation carried by envelopes. Header
// fields are stamped by the session send path; application code fills Body,
// ContentType and Properties.
type Message struct {
	MessageID     string
	CorrelationID string
	Destination   Destination
	ReplyTo       Destination
	DeliveryMode  DeliveryMode
	Priority      int
	Redelivered   bool
	Timestamp     int64 // milliseconds since epoch, 0 when disabled
	Expiration    int64 // milliseconds since epoch, 0 when no TTL
	Type          string
	UserID        []byte
	ContentType   string

	Body       []byte
	properties map[string]any

	readOnlyBody       bool
	readOnlyProperties bool
}

// NewMessage returns an empty mutable message.
func NewMessage() *Message {
	return &Message{Priority: DefaultPriority}
}

// NewTextMessage returns a message whose body is the given text.
func NewTextMessage(text string) *Message {
	m := NewMessage()
	m.Body = []byte(text)
	m.ContentType = "text/plain"
	return m
}

// NewBytesMessage returns a message with an opaque byte body.
func NewBytesMessage(body []byte) *Message {
	m := NewMessage()
	m.Body = body
	m.ContentType = "application/octet-stream"
	return m
}

// Text returns the body as a string.
func (m *Message) Text() string {
	return string(m.Body)
}

// SetBody replaces the message body, honoring the read-only flag.
func (m *Message) SetBody(body []byte) error {
	if m.readOnlyBody {
		return ErrReadOnlyBody
	}
	m.Body = body
	return nil
}

// SetProperty sets an application property, honoring the read-only flag.
func (m *Message) SetProperty(name string, value any) error {
	if m.readOnlyProperties {
		return ErrReadOnlyProperties
	}
	if m.properties == nil {
		m.properties = make(map[string]any)
	}
	m.properties[name] = value
	return nil
}

// Property returns an application property.
func (m *Message) Property(name string) (any, bool) {
	v, ok := m.properties[name]
	return v, ok
}

// PropertyNames returns the names of all application properties.
func (m *Message) PropertyNames() []string {
	names := make([]string, 0, len(m.properties))
	for name := range m.properties {
		names = append(names, name)
	}
	return names
}

// SetReadOnly marks body and properties immutable. Applied to every inbound
// message before dispatch.
func (m *Message) SetReadOnly(readOnly bool) {
	m.readOnlyBody = readOnly
	m.readOnlyProperties = readOnly
}

// IsExpired reports whether the message expiration has passed.
func (m *Message) IsExpired(now time.Time) bool {
	return m.Expiration > 0 && now.UnixMilli() > m.Expiration
}

// Copy returns a deep, mutable copy of the message.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}

	cp := &Message{
		MessageID:     m.MessageID,
		CorrelationID: m.CorrelationID,
		Destination:   m.Destination,
		ReplyTo:       m.ReplyTo,
		DeliveryMode:  m.DeliveryMode,
		Priority:      m.Priority,
		Redelivered:   m.Redelivered,
		Timestamp:     m.Timestamp,
		Expiration:    m.Expiration,
		Type:          m.Type,
		ContentType:   m.ContentType,
	}

	if m.Body != nil {
		cp.Body = make([]byte, len(m.Body))
		copy(cp.Body, m.Body)
	}

	if m.UserID != nil {
		cp.UserID = make([]byte, len(m.UserID))
		copy(cp.UserID, m.UserID)
	}

	if m.properties != nil {
		cp.properties = make(map[string]any, len(m.properties))
		for k, v := range m.properties {
			cp.properties[k] = v
		}
	}

	return cp
}
