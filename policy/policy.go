// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package policy holds the pluggable per-connection policy objects that
// sessions copy at creation time. All implementations must be safe to copy;
// the session works on its own copy so later connection-level changes do not
// affect live sessions.
package policy

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/absmach/fluxmsg/core"
)

// Default prefetch windows.
const (
	DefaultQueuePrefetch        = 1000
	DefaultTopicPrefetch        = 1000
	DefaultDurableTopicPrefetch = 1000
	DefaultBrowserPrefetch      = 1000
)

// Prefetch decides how many unsettled messages a consumer may hold.
type Prefetch interface {
	PrefetchFor(info *core.ConsumerInfo) int
	Copy() Prefetch
}

// DefaultPrefetch is a fixed-window prefetch policy.
type DefaultPrefetch struct {
	Queue        int
	Topic        int
	DurableTopic int
	Browser      int
}

// NewDefaultPrefetch returns the standard prefetch windows.
func NewDefaultPrefetch() *DefaultPrefetch {
	return &DefaultPrefetch{
		Queue:        DefaultQueuePrefetch,
		Topic:        DefaultTopicPrefetch,
		DurableTopic: DefaultDurableTopicPrefetch,
		Browser:      DefaultBrowserPrefetch,
	}
}

// PrefetchFor selects the window for the given consumer.
func (p *DefaultPrefetch) PrefetchFor(info *core.ConsumerInfo) int {
	switch {
	case info.Browser:
		return p.Browser
	case info.IsDurable():
		return p.DurableTopic
	case info.Destination.IsTopic():
		return p.Topic
	default:
		return p.Queue
	}
}

// Copy returns an independent copy of the policy.
func (p *DefaultPrefetch) Copy() Prefetch {
	cp := *p
	return &cp
}

// Redelivery decides how many redeliveries a consumer tolerates and the
// outcome applied when the limit is exceeded.
type Redelivery interface {
	MaxRedeliveries(dest core.Destination) int
	Outcome(dest core.Destination) core.AckType
	Copy() Redelivery
}

// DefaultRedelivery applies a single limit and outcome to all destinations.
// A negative limit disables local redelivery tracking.
type DefaultRedelivery struct {
	Max     int
	Applied core.AckType
}

// NewDefaultRedelivery returns a policy with redelivery tracking disabled.
func NewDefaultRedelivery() *DefaultRedelivery {
	return &DefaultRedelivery{Max: -1, Applied: core.AckPoisoned}
}

// MaxRedeliveries returns the redelivery limit for the destination.
func (p *DefaultRedelivery) MaxRedeliveries(core.Destination) int { return p.Max }

// Outcome returns the disposition applied past the limit.
func (p *DefaultRedelivery) Outcome(core.Destination) core.AckType { return p.Applied }

// Copy returns an independent copy of the policy.
func (p *DefaultRedelivery) Copy() Redelivery {
	cp := *p
	return &cp
}

// Presettle decides whether sends or deliveries are settled without broker
// acknowledgement.
type Presettle interface {
	ProducerPresettled(dest core.Destination) bool
	ConsumerPresettled(dest core.Destination) bool
	Copy() Presettle
}

// DefaultPresettle enables presettlement per direction, optionally limited
// to topic destinations.
type DefaultPresettle struct {
	All            bool
	Producers      bool
	TopicProducers bool
	Consumers      bool
	TopicConsumers bool
}

// NewDefaultPresettle returns a policy with presettlement disabled.
func NewDefaultPresettle() *DefaultPresettle {
	return &DefaultPresettle{}
}

// ProducerPresettled reports whether sends to dest are presettled.
func (p *DefaultPresettle) ProducerPresettled(dest core.Destination) bool {
	if p.All || p.Producers {
		return true
	}
	return p.TopicProducers && dest.IsTopic()
}

// ConsumerPresettled reports whether deliveries from dest are presettled.
func (p *DefaultPresettle) ConsumerPresettled(dest core.Destination) bool {
	if p.All || p.Consumers {
		return true
	}
	return p.TopicConsumers && dest.IsTopic()
}

// Copy returns an independent copy of the policy.
func (p *DefaultPresettle) Copy() Presettle {
	cp := *p
	return &cp
}

// MessageID builds provider message ids from the producer id and its
// monotonic message sequence.
type MessageID interface {
	NewMessageID(producerID string, sequence uint64) string
	Copy() MessageID
}

// SequencedMessageID builds ids of the form "ID:<producer>-<sequence>".
type SequencedMessageID struct{}

// NewMessageID builds the id for one send.
func (SequencedMessageID) NewMessageID(producerID string, sequence uint64) string {
	return fmt.Sprintf("ID:%s-%d", producerID, sequence)
}

// Copy returns the policy itself; it carries no state.
func (p SequencedMessageID) Copy() MessageID { return p }

// UUIDMessageID builds ids of the form "ID:<uuid>".
type UUIDMessageID struct{}

// NewMessageID builds the id for one send.
func (UUIDMessageID) NewMessageID(string, uint64) string {
	return "ID:" + uuid.NewString()
}

// Copy returns the policy itself; it carries no state.
func (p UUIDMessageID) Copy() MessageID { return p }

// Deserialization guards which inbound content types the application is
// willing to decode.
type Deserialization interface {
	TrustedContentType(contentType string) bool
	Copy() Deserialization
}

// DefaultDeserialization trusts every content type unless a deny list entry
// matches, then an allow list (when non-empty) must match.
type DefaultDeserialization struct {
	Allow []string
	Deny  []string
}

// NewDefaultDeserialization returns a trust-all policy.
func NewDefaultDeserialization() *DefaultDeserialization {
	return &DefaultDeserialization{}
}

// TrustedContentType applies the deny then allow lists.
func (p *DefaultDeserialization) TrustedContentType(contentType string) bool {
	for _, d := range p.Deny {
		if d == contentType {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		if a == contentType {
			return true
		}
	}
	return false
}

// Copy returns an independent copy of the policy.
func (p *DefaultDeserialization) Copy() Deserialization {
	cp := &DefaultDeserialization{}
	cp.Allow = append(cp.Allow, p.Allow...)
	cp.Deny = append(cp.Deny, p.Deny...)
	return cp
}
