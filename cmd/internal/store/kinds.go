package store

import (
	"fmt"
)

// Kind is the closed set of conversation variants.
type Kind uint8

const (
	KindDirect Kind = iota + 1
	KindGroup
	KindSpace
)

// String returns the wire/context-key form of the kind.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "dm"
	case KindGroup:
		return "group"
	case KindSpace:
		return "space"
	default:
		return "unknown"
	}
}

// ParseKind parses the wire form produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "dm":
		return KindDirect, nil
	case "group":
		return KindGroup, nil
	case "space":
		return KindSpace, nil
	default:
		return 0, fmt.Errorf("store: unknown conversation kind %q", s)
	}
}

// Delivery is the per-message receipt state for direct threads.
// The zero value means "not tracked" (group and space messages).
type Delivery uint8

const (
	DeliveryNone Delivery = iota
	DeliverySent
	DeliveryDelivered
	DeliveryRead
)

func (d Delivery) String() string {
	switch d {
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	default:
		return ""
	}
}

// Advance moves d forward to next. It never regresses: the returned state is
// max(d, next) and changed reports whether it differs from d.
func (d Delivery) Advance(next Delivery) (Delivery, bool) {
	if next <= d {
		return d, false
	}
	return next, true
}

func (d Delivery) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Delivery) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*d = DeliveryNone
	case "sent":
		*d = DeliverySent
	case "delivered":
		*d = DeliveryDelivered
	case "read":
		*d = DeliveryRead
	default:
		return fmt.Errorf("store: unknown delivery state %q", string(b))
	}
	return nil
}

// ChannelType is the closed set of space sub-channel variants.
type ChannelType uint8

const (
	ChannelText ChannelType = iota + 1
	ChannelVoice
)

func (c ChannelType) String() string {
	switch c {
	case ChannelText:
		return "text"
	case ChannelVoice:
		return "voice"
	default:
		return ""
	}
}

func (c ChannelType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ChannelType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "text":
		*c = ChannelText
	case "voice":
		*c = ChannelVoice
	default:
		return fmt.Errorf("store: unknown channel type %q", string(b))
	}
	return nil
}
