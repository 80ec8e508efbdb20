package types

import "fmt"

// ProtocolErrorKind classifies a malformed or out-of-bounds field.
type ProtocolErrorKind int

const (
	FieldTooLong ProtocolErrorKind = iota + 1
	FieldTooShort
	MissingField
	BadType
	BadHex
	BadTarget
	Unexpected
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case FieldTooLong:
		return "field too long"
	case FieldTooShort:
		return "field too short"
	case MissingField:
		return "missing field"
	case BadType:
		return "bad type"
	case BadHex:
		return "bad hex"
	case BadTarget:
		return "bad target"
	case Unexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProtocolError is returned when a pool message or one of its fields cannot be
// accepted. The message text is what ends up in the connection error log.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	Field  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return "PARSE error: " + e.Reason
}

func protoErr(kind ProtocolErrorKind, field, reason string) *ProtocolError {
	return &ProtocolError{Kind: kind, Field: field, Reason: reason}
}
