// Package clienterr is the error taxonomy every client operation reports in.
//
// Each failure is an *Error carrying a Kind and an optional Reason. Callers
// match with errors.Is against the exported sentinels: a sentinel with an
// empty Reason matches every error of its Kind, otherwise Kind and Reason
// must both agree.
package clienterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the broad category of a failure
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindPreconditionRace
	KindDuplicateEffect
	KindNetwork
	KindTimeout
	KindRejected
	KindPrecisionLoss
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindPreconditionRace:
		return "precondition-race"
	case KindDuplicateEffect:
		return "duplicate-effect"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRejected:
		return "rejected"
	case KindPrecisionLoss:
		return "precision-loss"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Reasons refine a Kind
const (
	ReasonDenied            = "denied"
	ReasonTimeout           = "timeout"
	ReasonInProgress        = "already-in-progress"
	ReasonSigningRejected   = "signing-rejected"
	ReasonExpired           = "session-expired"
	ReasonNotAuthorized     = "not-authorized"
	ReasonInsufficientFunds = "insufficient-funds"
	ReasonUnknown           = "unknown"
)

// Error is a classified client failure
type Error struct {
	Kind   Kind
	Reason string
	// Op names the operation that failed, e.g. "create-poll"
	Op string
	// Signature is set when the failure concerns a submitted transaction
	Signature string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if e.Signature != "" {
		b.WriteString(" [")
		b.WriteString(e.Signature)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by Kind and, when the target has one, Reason
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Kind-wide sentinels
var (
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrPreconditionRace = &Error{Kind: KindPreconditionRace}
	ErrDuplicateEffect  = &Error{Kind: KindDuplicateEffect}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrRejected         = &Error{Kind: KindRejected}
	ErrPrecisionLoss    = &Error{Kind: KindPrecisionLoss}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Authorization sentinels
var (
	ErrAuthorizationDenied  = &Error{Kind: KindAuthorization, Reason: ReasonDenied}
	ErrAuthorizationTimeout = &Error{Kind: KindAuthorization, Reason: ReasonTimeout}
	ErrAlreadyInProgress    = &Error{Kind: KindAuthorization, Reason: ReasonInProgress}
	ErrSigningRejected      = &Error{Kind: KindAuthorization, Reason: ReasonSigningRejected}
	ErrSessionExpired       = &Error{Kind: KindAuthorization, Reason: ReasonExpired}
	ErrNotAuthorized        = &Error{Kind: KindAuthorization, Reason: ReasonNotAuthorized}
)

// ErrInsufficientFunds matches rejections caused by the payer's balance
var ErrInsufficientFunds = &Error{Kind: KindRejected, Reason: ReasonInsufficientFunds}

// New builds a classified error
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Authorization builds an authorization failure with the given reason
func Authorization(op, reason string, err error) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason, Op: op, Err: err}
}

// Validation builds a validation failure from a formatted message
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Network wraps a transport-level failure
func Network(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Timeout reports that confirmation could not be observed in time. The
// transaction may still land; signature identifies it for a later recheck.
func Timeout(op, signature string) *Error {
	return &Error{
		Kind:      KindTimeout,
		Op:        op,
		Signature: signature,
		Err:       errors.New("confirmation not observed before the deadline; status unknown"),
	}
}

// NotFound reports a missing account
func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%s does not exist", what)}
}

// PrecisionLoss reports a ledger integer that cannot be represented exactly
func PrecisionLoss(field string, value fmt.Stringer) *Error {
	return &Error{Kind: KindPrecisionLoss, Op: "normalize", Err: fmt.Errorf("%s=%s exceeds the safe integer range", field, value)}
}

// KindOf returns the Kind of err, or KindUnknown if it is not classified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether an operation that failed with err may be retried
// automatically. Only transport failures qualify.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}
