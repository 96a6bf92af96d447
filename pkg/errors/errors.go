package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is the stable wire identifier of a dispatch failure.
type Code uint8

const (
	CodeNone Code = iota
	CodeInvalidKittyId
	CodeSameKittyId
	CodeNotOwner
	CodeIdSpaceExhausted
	CodeBadOrigin
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "None"
	case CodeInvalidKittyId:
		return "InvalidKittyId"
	case CodeSameKittyId:
		return "SameKittyId"
	case CodeNotOwner:
		return "NotOwner"
	case CodeIdSpaceExhausted:
		return "IdSpaceExhausted"
	case CodeBadOrigin:
		return "BadOrigin"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// ProtocolError is a failure that is the caller's fault: the transition is
// rejected with no state change. Anything else that escapes a transition is a
// storage failure or a defect.
type ProtocolError struct {
	Code    Code
	Message string
	Cause   error
}

var (
	ErrInvalidKittyId    = &ProtocolError{Code: CodeInvalidKittyId, Message: "invalid kitty id"}
	ErrSameKittyId       = &ProtocolError{Code: CodeSameKittyId, Message: "same kitty id"}
	ErrNotOwner          = &ProtocolError{Code: CodeNotOwner, Message: "not owner"}
	ErrIdSpaceExhausted  = &ProtocolError{Code: CodeIdSpaceExhausted, Message: "kitty id space exhausted"}
	ErrBadOrigin         = &ProtocolError{Code: CodeBadOrigin, Message: "bad origin"}
	protocolErrorsByCode = map[Code]*ProtocolError{
		CodeInvalidKittyId:   ErrInvalidKittyId,
		CodeSameKittyId:      ErrSameKittyId,
		CodeNotOwner:         ErrNotOwner,
		CodeIdSpaceExhausted: ErrIdSpaceExhausted,
		CodeBadOrigin:        ErrBadOrigin,
	}
)

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// IsProtocolError reports whether err, or anything it wraps, is a protocol error.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return stderrors.As(err, &pe)
}

// CodeOf returns the code of the first coded protocol error in err's chain.
func CodeOf(err error) Code {
	for err != nil {
		var pe *ProtocolError
		if !stderrors.As(err, &pe) {
			return CodeNone
		}
		if pe.Code != CodeNone {
			return pe.Code
		}
		err = pe.Cause
	}
	return CodeNone
}

// FromCode returns the sentinel for code, or a generic protocol error for
// codes this build does not know.
func FromCode(code Code) error {
	if err, ok := protocolErrorsByCode[code]; ok {
		return err
	}
	return ProtocolErrorf("dispatch failed with %s", code)
}

// WrapProtocolError wraps an existing error as a protocol error
func WrapProtocolError(err error, message string) *ProtocolError {
	return &ProtocolError{
		Message: message,
		Cause:   err,
	}
}

// ProtocolErrorf creates a new protocol error with formatted message
func ProtocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Message: fmt.Sprintf(format, args...),
	}
}
