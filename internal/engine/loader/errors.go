package loader

import (
	"errors"
	"fmt"
)

var (
	ErrConnectivity      = errors.New("config store unreachable")
	ErrUnknownNetwork    = errors.New("unknown network")
	ErrUnknownTrigger    = errors.New("unknown trigger")
	ErrIncompleteTrigger = errors.New("incomplete trigger")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrNoNetworks        = errors.New("no networks")
	ErrTenantMismatch    = errors.New("row belongs to another tenant")
	ErrInvalidTenant     = errors.New("invalid tenant")
)

// LoadError reports a failed load. Kind is one of the sentinels above;
// Entity and ID name the offending record when there is one.
type LoadError struct {
	Kind   error
	Entity string
	ID     string
	Err    error
}

func (e *LoadError) Error() string {
	msg := e.Kind.Error()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s: %s %q", msg, e.Entity, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newLoadError(kind error, entity, id string, cause error) *LoadError {
	return &LoadError{Kind: kind, Entity: entity, ID: id, Err: cause}
}

func invalidf(entity, id, format string, args ...any) *LoadError {
	return newLoadError(ErrInvalidRecord, entity, id, fmt.Errorf(format, args...))
}
