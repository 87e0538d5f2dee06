// Package courier builds the hosted courier web-app URL for a delivery or
// retrieval, presents it on an embedded browser Surface and turns the messages
// posted back by the page into exactly one typed Outcome.
package courier

import "fmt"

// OperationKind selects the parameter set, endpoint and outcome family.
type OperationKind int

const (
	Delivery OperationKind = iota + 1
	Retrieval
)

// String returns the wire name, which is also the URL path segment.
func (k OperationKind) String() string {
	switch k {
	case Delivery:
		return "delivery"
	case Retrieval:
		return "retrieval"
	default:
		return fmt.Sprintf("operation(%d)", int(k))
	}
}

// ParseOperationKind is the inverse of OperationKind.String.
func ParseOperationKind(s string) (OperationKind, error) {
	switch s {
	case "delivery":
		return Delivery, nil
	case "retrieval":
		return Retrieval, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// Channel is a named message handler the hosted page posts results to.
type Channel string

// The four channel names are part of the contract with the hosted page.
const (
	ChannelSuccess Channel = "success"
	ChannelCancel  Channel = "cancel"
	ChannelError   Channel = "error"
	ChannelFail    Channel = "fail"
)

// Channels returns the channels every session registers, in a fixed order.
func Channels() []Channel {
	return []Channel{ChannelSuccess, ChannelCancel, ChannelError, ChannelFail}
}

// Known reports whether c is one of the four result channels.
func (c Channel) Known() bool {
	switch c {
	case ChannelSuccess, ChannelCancel, ChannelError, ChannelFail:
		return true
	}
	return false
}
