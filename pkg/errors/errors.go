// Package errors classifies failures so each layer knows how to react. Temporary
// errors may be retried, Permanent ones may not, NotFound and InvalidInput map to
// client responses, and the cache taxonomy in cache.go covers degraded tiers and
// open breakers.
//
//	doc, err := store.GetBySlug(ctx, slug)
//	if errors.IsNotFound(err) {
//	    // 404
//	}
package errors

import "fmt"

// cause is embedded by every category to carry the wrapped error.
type cause struct {
	err error
}

func (c cause) Unwrap() error { return c.err }

// suffix renders the cause as ": cause", or "" when there is none.
func (c cause) suffix() string {
	if c.err == nil {
		return ""
	}
	return ": " + c.err.Error()
}

// PermanentError fails the same way on every attempt: bad configuration, values the
// codec cannot encode, schema drift.
type PermanentError struct {
	cause
	msg string
}

func NewPermanent(msg string, err error) error {
	return &PermanentError{cause: cause{err}, msg: msg}
}

func (e *PermanentError) Error() string { return e.msg + e.suffix() }

// TemporaryError may clear on retry: timeouts, a Redis failover, pool exhaustion.
type TemporaryError struct {
	cause
	msg string
}

func NewTemporary(msg string, err error) error {
	return &TemporaryError{cause: cause{err}, msg: msg}
}

func (e *TemporaryError) Error() string { return e.msg + e.suffix() }

// NotFoundError names the kind of resource and the identifier that was looked up.
type NotFoundError struct {
	cause
	resource, id string
}

func NewNotFound(resource, id string) error {
	return &NotFoundError{resource: resource, id: id}
}

func NewNotFoundWithCause(resource, id string, err error) error {
	return &NotFoundError{cause: cause{err}, resource: resource, id: id}
}

func (e *NotFoundError) Error() string {
	s := fmt.Sprintf("%s not found: %s", e.resource, e.id)
	if e.err != nil {
		s += " (" + e.err.Error() + ")"
	}
	return s
}

func (e *NotFoundError) Resource() string { return e.resource }
func (e *NotFoundError) ID() string       { return e.id }

// InvalidInputError rejects a request parameter or a configuration value. field is
// the parameter or dotted config key.
type InvalidInputError struct {
	cause
	field, msg string
}

func NewInvalidInput(field, msg string) error {
	return &InvalidInputError{field: field, msg: msg}
}

func NewInvalidInputWithCause(field, msg string, err error) error {
	return &InvalidInputError{cause: cause{err}, field: field, msg: msg}
}

func (e *InvalidInputError) Error() string {
	s := fmt.Sprintf("invalid input for %s: %s", e.field, e.msg)
	if e.err != nil {
		s += " (" + e.err.Error() + ")"
	}
	return s
}

func (e *InvalidInputError) Field() string   { return e.field }
func (e *InvalidInputError) Message() string { return e.msg }
