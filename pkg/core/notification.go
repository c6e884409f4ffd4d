package core

import (
	"net/netip"

	"github.com/irctrakz/l2sack/pkg/codec"
)

// BufferingNotification is raised by the link layer of a receiver whenever
// a PDU is buffered for reordering or retransmission.
type BufferingNotification struct {
	// Endpoint is the ID of the receiving endpoint.
	Endpoint string

	// Radio context of the bearer.
	CellID uint16
	IMSI   uint64
	RNTI   uint16
	LCID   uint8

	// Local is the receiver address the bearer delivers to, if known.
	Local netip.AddrPort

	// Packet is the buffered PDU starting at its RLC header.
	Packet Packet

	// Receive buffer occupancy at the time of the notification.
	BufferedPackets uint32
	BufferedBytes   uint32

	// VrR is the receive window lower edge, VrH the highest SN received + 1.
	VrR codec.SN10
	VrH codec.SN10
}

// NotificationHandler consumes buffering notifications.
type NotificationHandler interface {
	HandleBuffering(n BufferingNotification) Outcome
}

// Outcome reports what a notification produced.
type Outcome int

const (
	// OutcomeAckSent: an ACK carrying every SACK block that fit was sent.
	OutcomeAckSent Outcome = iota
	// OutcomeNoTransport: the PDU did not decode down to TCP.
	OutcomeNoTransport
	// OutcomeOutOfWindow: the PDU SN is not inside the receive window.
	OutcomeOutOfWindow
	// OutcomeIncomplete: the segment continues in a later PDU and was not
	// tracked. An ACK with the existing blocks was still sent.
	OutcomeIncomplete
	// OutcomeUncorrelated: no socket is bound to the destination.
	OutcomeUncorrelated
	// OutcomeAddressMismatch: the destination is not the bearer's local address.
	OutcomeAddressMismatch
	// OutcomeSendFailed: the socket refused to send the ACK.
	OutcomeSendFailed
	// OutcomeUnknownEndpoint: the endpoint ID could not be resolved.
	OutcomeUnknownEndpoint
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAckSent:
		return "ack-sent"
	case OutcomeNoTransport:
		return "no-transport"
	case OutcomeOutOfWindow:
		return "out-of-window"
	case OutcomeIncomplete:
		return "incomplete"
	case OutcomeUncorrelated:
		return "uncorrelated"
	case OutcomeAddressMismatch:
		return "address-mismatch"
	case OutcomeSendFailed:
		return "send-failed"
	case OutcomeUnknownEndpoint:
		return "unknown-endpoint"
	default:
		return "unknown"
	}
}
