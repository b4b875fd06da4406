package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error the bot can surface. The set is
// closed: dispatch decisions (halt or continue) switch on the kind, and
// an unknown kind would silence a failure.
type ErrorKind int

const (
	// KindConfig is invalid or missing configuration. Fatal: the bot
	// cannot know what it is supposed to do.
	KindConfig ErrorKind = iota

	// KindAuth is a rejected credential. Fatal: retries cannot fix it
	// and hammering the broker gets the key locked out.
	KindAuth

	// KindAPI is a transient upstream failure (timeouts, 5xx).
	// Recoverable: the next cycle retries.
	KindAPI

	// KindData is malformed or missing upstream data. Recoverable:
	// the offending payload is skipped.
	KindData

	// KindPosition means the position table could not be trusted.
	// Fatal: exits computed from a stale table are wrong exits.
	KindPosition

	// KindRisk means a trade's preconditions could not be confirmed.
	// Fatal: trading on unconfirmed preconditions is not an option.
	KindRisk

	// KindTrading is a failed order submission or close. Fatal: the
	// account may hold state the bot did not intend.
	KindTrading
)

// String returns the kind's wire name, used in logs and the error ring.
func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindAPI:
		return "api"
	case KindData:
		return "data"
	case KindPosition:
		return "position"
	case KindRisk:
		return "risk"
	case KindTrading:
		return "trading"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must halt the bot.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindAPI, KindData:
		return false
	default:
		return true
	}
}

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string // e.g. "broker.get_account"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation.
func E(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted message instead of a wrapped error.
func Errorf(kind ErrorKind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost classification in err's chain. The
// outermost wins: a reconciler that wraps a broker fault has decided
// how that fault escalates. Unclassified errors are treated as
// transient API faults.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAPI
}

// IsFatal reports whether err must halt the bot. A nil error is not
// fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Fatal()
}
