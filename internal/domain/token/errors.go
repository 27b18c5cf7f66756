package token

import "errors"

// Reason explains why a reservation message was rejected.
type Reason string

const (
	ReasonUnknownToken    Reason = "UNKNOWN_TOKEN"
	ReasonAlreadyReserved Reason = "ALREADY_RESERVED"
	ReasonNotHolder       Reason = "NOT_HOLDER"
	ReasonStoreConflict   Reason = "STORE_CONFLICT"
	ReasonConnectionLost  Reason = "CONNECTION_LOST"
)

var (
	ErrInvalidTransition = errors.New("invalid token status transition")
	ErrUnknownToken      = errors.New("unknown token")
	ErrAlreadyReserved   = errors.New("token already reserved by another session")
	ErrNotHolder         = errors.New("session does not hold the token")
	ErrStoreConflict     = errors.New("token could not be consumed in store")
	ErrConnectionLost    = errors.New("connection to reservation authority lost")
	ErrAuthorityStopped  = errors.New("reservation authority stopped")
	ErrSessionNotFound   = errors.New("session not found")
)

// Err maps a reason to its sentinel error. An empty reason maps to nil.
func (r Reason) Err() error {
	switch r {
	case ReasonUnknownToken:
		return ErrUnknownToken
	case ReasonAlreadyReserved:
		return ErrAlreadyReserved
	case ReasonNotHolder:
		return ErrNotHolder
	case ReasonStoreConflict:
		return ErrStoreConflict
	case ReasonConnectionLost:
		return ErrConnectionLost
	case "":
		return nil
	default:
		return errors.New(string(r))
	}
}
