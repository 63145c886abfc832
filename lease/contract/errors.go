package contract

import "errors"

var (
	ErrUnknownAccount     = errors.New("account is not recognised")
	ErrAlreadyHeld        = errors.New("account is already in use")
	ErrNotHeld            = errors.New("account is already logged off")
	ErrNotificationFailed = errors.New("notification failed")
	ErrNotWaiting         = errors.New("requester is not waiting")
	ErrInvalidRoster      = errors.New("invalid account roster")
	ErrInvalidRequester   = errors.New("requester id is empty")
	ErrInvalidCommand     = errors.New("invalid command")
)

// ErrorKind is a coarse classification used for replies and metric labels.
type ErrorKind string

const (
	KindNone               ErrorKind = "none"
	KindUnknownAccount     ErrorKind = "unknown_account"
	KindAlreadyHeld        ErrorKind = "already_held"
	KindNotHeld            ErrorKind = "not_held"
	KindNotificationFailed ErrorKind = "notification_failed"
	KindNotWaiting         ErrorKind = "not_waiting"
	KindInvalid            ErrorKind = "invalid"
	KindInternal           ErrorKind = "internal"
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrUnknownAccount):
		return KindUnknownAccount
	case errors.Is(err, ErrAlreadyHeld):
		return KindAlreadyHeld
	case errors.Is(err, ErrNotHeld):
		return KindNotHeld
	case errors.Is(err, ErrNotificationFailed):
		return KindNotificationFailed
	case errors.Is(err, ErrNotWaiting):
		return KindNotWaiting
	case errors.Is(err, ErrInvalidRoster), errors.Is(err, ErrInvalidRequester), errors.Is(err, ErrInvalidCommand):
		return KindInvalid
	default:
		return KindInternal
	}
}
