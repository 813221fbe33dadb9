package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups of topics and channels that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrDecode marks malformed command payloads.
	ErrDecode = errors.New("malformed command")

	// ErrUnknownAction marks structured commands naming an unsupported action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownToken marks bare payloads that are not a legacy token.
	ErrUnknownToken = errors.New("unknown legacy token")
)

// ProvisionError is returned when both the lookup and the creation of a
// named resource failed. It is fatal to engine construction.
type ProvisionError struct {
	Resource  string // "topic" or "channel"
	Name      string
	LookupErr error
	CreateErr error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s %q: lookup: %v; create: %v", e.Resource, e.Name, e.LookupErr, e.CreateErr)
}

func (e *ProvisionError) Unwrap() []error {
	return []error{e.LookupErr, e.CreateErr}
}

// DecodeError wraps a payload that could not be decoded.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 128 {
		raw = raw[:128] + "..."
	}
	return fmt.Sprintf("decode %q: %v", raw, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
