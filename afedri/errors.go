package afedri

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable classification of every error returned by this package.
type ErrorKind uint8

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindDiscoveryTimeout
	ErrKindTransport
	ErrKindMalformedResponse
	ErrKindInvalidArgument
	ErrKindNotConnected
	ErrKindInvalidState
)

var ErrorKindToName = map[ErrorKind]string{
	ErrKindUnknown:           "Unknown",
	ErrKindDiscoveryTimeout:  "DiscoveryTimeout",
	ErrKindTransport:         "Transport",
	ErrKindMalformedResponse: "MalformedResponse",
	ErrKindInvalidArgument:   "InvalidArgument",
	ErrKindNotConnected:      "NotConnected",
	ErrKindInvalidState:      "InvalidState",
}

func (k ErrorKind) String() string {
	if name, ok := ErrorKindToName[k]; ok {
		return name
	}
	return ErrorKindToName[ErrKindUnknown]
}

// Sentinels for errors.Is. Any *ProtocolError matches the sentinel of its kind.
var (
	ErrDiscoveryTimeout  = &ProtocolError{Kind: ErrKindDiscoveryTimeout}
	ErrTransport         = &ProtocolError{Kind: ErrKindTransport}
	ErrMalformedResponse = &ProtocolError{Kind: ErrKindMalformedResponse}
	ErrInvalidArgument   = &ProtocolError{Kind: ErrKindInvalidArgument}
	ErrNotConnected      = &ProtocolError{Kind: ErrKindNotConnected}
	ErrInvalidState      = &ProtocolError{Kind: ErrKindInvalidState}
)

// ProtocolError is the only error type returned by the codec, discovery and session layers.
type ProtocolError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewError(kind ErrorKind, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	}
}

func wrapError(kind ErrorKind, err error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// KindOf returns the kind of err, or ErrKindUnknown when err is not a *ProtocolError.
func KindOf(err error) ErrorKind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindUnknown
}
