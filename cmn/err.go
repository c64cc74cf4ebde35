// Package cmn provides the error taxonomy, status-code mapping, and
// read-mostly config snapshot shared by every layer of the toolkit.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package cmn

import (
	"errors"
	"fmt"
)

// StatusCode is an OPC UA result code (the upper 16 bits carry the severity
// class; callers generally only compare against the named constants below).
type StatusCode uint32

const (
	Good StatusCode = 0x00000000

	BadTcpMessageTooLarge        StatusCode = 0x80120000
	BadTcpMessageTypeInvalid     StatusCode = 0x80110000
	BadCommunicationError        StatusCode = 0x80050000
	BadTcpSecureChannelUnknown   StatusCode = 0x80220000
	BadSecureChannelTokenUnknown StatusCode = 0x80210000
	BadSecurityChecksFailed      StatusCode = 0x80130000
	BadSessionIdInvalid          StatusCode = 0x80250000
	BadSessionClosed             StatusCode = 0x80260000
	BadSessionNotActivated       StatusCode = 0x80270000
	BadIdentityTokenInvalid      StatusCode = 0x80330000
	BadIdentityTokenRejected     StatusCode = 0x80340000
	BadUserAccessDenied          StatusCode = 0x801F0000
	BadNotReadable               StatusCode = 0x803A0000
	BadNotWritable               StatusCode = 0x803B0000
	BadTypeMismatch              StatusCode = 0x80740000
	BadNodeIdUnknown             StatusCode = 0x803B0001
	BadIndexRangeNoData          StatusCode = 0x80450000
	BadServiceUnsupported        StatusCode = 0x80100000
	BadNothingToDo               StatusCode = 0x80240000
	BadOutOfMemory               StatusCode = 0x800B0000
	BadTooManyOperations         StatusCode = 0x80670000
	BadResourceUnavailable       StatusCode = 0x80AD0000
	BadTimeout                   StatusCode = 0x800A0000
	BadAttributeIdInvalid        StatusCode = 0x80350000
	BadWriteNotSupported         StatusCode = 0x80730000
)

func (s StatusCode) IsGood() bool { return s == Good }

func (s StatusCode) Error() string { return fmt.Sprintf("status=0x%08X", uint32(s)) }

// Kind is the closed taxonomy of error origins from spec.md §7.
type Kind int

const (
	KindTransport Kind = iota
	KindChannel
	KindSession
	KindIdentity
	KindAuthorization
	KindSemantic
	KindService
	KindResource
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindChannel:
		return "channel"
	case KindSession:
		return "session"
	case KindIdentity:
		return "identity"
	case KindAuthorization:
		return "authorization"
	case KindSemantic:
		return "semantic"
	case KindService:
		return "service"
	case KindResource:
		return "resource"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the single error type every layer returns: a Kind, a mapped
// StatusCode, and an optional wrapped cause.
type Error struct {
	Kind   Kind
	Status StatusCode
	Msg    string
	Cause  error
}

func NewError(kind Kind, status StatusCode, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Msg: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, status StatusCode, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Status: status, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Msg, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Status)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusOf extracts the mapped StatusCode from any error produced by this
// module, defaulting to BadCommunicationError for foreign errors.
func StatusOf(err error) StatusCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	if err == nil {
		return Good
	}
	return BadCommunicationError
}

// Errs accumulates up to maxErrs distinct errors, following the teacher's
// dedup-and-cap pattern (cmn/cos.Errs) so a single bad batch doesn't spam a
// per-item response with duplicate error text.
type Errs struct {
	errs []error
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int { return len(e.errs) }

func (e *Errs) JoinErr() error {
	if len(e.errs) == 0 {
		return nil
	}
	return errors.Join(e.errs...)
}
