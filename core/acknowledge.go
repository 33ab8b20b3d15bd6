// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

// AckMode selects the acknowledgement behavior of a session.
type AckMode int

// Session acknowledgement modes.
const (
	Transacted AckMode = iota
	AutoAck
	ClientAck
	DupsOK
)

func (m AckMode) String() string {
	switch m {
	case Transacted:
		return "transacted"
	case AutoAck:
		return "auto-ack"
	case ClientAck:
		return "client-ack"
	case DupsOK:
		return "dups-ok"
	default:
		return "unknown"
	}
}

// AckType is the disposition applied to a delivered message. The core does
// not enforce which types are valid in which mode; it forwards them to the
// provider unchanged.
type AckType int

// Acknowledgement kinds.
const (
	AckDelivered AckType = iota
	AckAccepted
	AckReleased
	AckRejected
	AckModifiedFailed
	AckModifiedFailedUndeliverable
	AckPoisoned
)

func (t AckType) String() string {
	switch t {
	case AckDelivered:
		return "delivered"
	case AckAccepted:
		return "accepted"
	case AckReleased:
		return "released"
	case AckRejected:
		return "rejected"
	case AckModifiedFailed:
		return "modified-failed"
	case AckModifiedFailedUndeliverable:
		return "modified-failed-undeliverable"
	case AckPoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}
