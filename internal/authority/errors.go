package authority

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransientNetwork covers transport failures and gateway errors.
	KindTransientNetwork
	// KindPolicyViolation means the device failed an integrity policy.
	KindPolicyViolation
	// KindDataIntegrity means a response did not have the expected shape.
	KindDataIntegrity
	// KindCredentialRejected means the authority refused an app key.
	KindCredentialRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindPolicyViolation:
		return "policy_violation"
	case KindDataIntegrity:
		return "data_integrity"
	case KindCredentialRejected:
		return "credential_rejected"
	default:
		return "unknown"
	}
}

// Rejection refines KindCredentialRejected.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectMalformed
	RejectAlreadyUsed
	RejectMismatch
	RejectUnverifiable
)

func (r Rejection) String() string {
	switch r {
	case RejectMalformed:
		return "malformed"
	case RejectAlreadyUsed:
		return "already_used"
	case RejectMismatch:
		return "mismatch"
	case RejectUnverifiable:
		return "unverifiable"
	default:
		return "none"
	}
}

// Error is returned by Client operations.
type Error struct {
	Kind Kind
	// Op names the remote operation, e.g. "ping".
	Op string
	// Status is the HTTP status when a response was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authority %s (%s, http %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("authority %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrUnexpectedStatus is wrapped when the HTTP status is not 2xx.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrMalformedResponse is wrapped when a body fails to decode or validate.
	ErrMalformedResponse = errors.New("malformed response")
)

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
