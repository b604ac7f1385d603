// Package ormerr defines the error taxonomy shared by the entity manager packages.
//
// Four kinds of failure are distinguished, each with its own pointer type so
// callers can branch with errors.As:
//
//   - MappingError: an entity type has no usable mapping (no table, no primary key)
//   - IdentityError: identity map collision, or a missing identity where one is required
//   - ConstraintError: insertion dependency cycle, delete of a transient entity,
//     insert that yielded no primary key
//   - TransactionError: the storage collaborator failed inside a flush
//
// Every error carries the entity type name and its identity (or "transient"
// when the entity has none yet) so a failed flush always names the offending
// entity.
package ormerr

import (
	"errors"
	"strings"
)

// Transient is the identity reported for entities that have no primary key yet.
const Transient = "transient"

// ErrNotFound is returned when a lookup by identity matches no row.
var ErrNotFound = errors.New("entitymanager: entity not found")

// Details holds the context shared by all error kinds.
type Details struct {
	// Entity is the Go type name of the entity involved, if any.
	Entity string
	// Identity is the serialized primary key, or Transient.
	Identity string
	// Op names the operation that failed (persist, insert, flush, ...).
	Op string
	// Reason is a short human readable description.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (d Details) format(kind string) string {
	var b strings.Builder
	b.WriteString("entitymanager: ")
	b.WriteString(kind)
	b.WriteString(" error")
	if d.Op != "" {
		b.WriteString(" during ")
		b.WriteString(d.Op)
	}
	if d.Entity != "" {
		b.WriteString(" [")
		b.WriteString(d.Entity)
		if d.Identity != "" {
			b.WriteString("#")
			b.WriteString(d.Identity)
		}
		b.WriteString("]")
	}
	if d.Reason != "" {
		b.WriteString(": ")
		b.WriteString(d.Reason)
	}
	if d.Err != nil {
		b.WriteString(": ")
		b.WriteString(d.Err.Error())
	}
	return b.String()
}

// MappingError reports an entity type without resolvable metadata.
type MappingError struct{ Details }

func (e *MappingError) Error() string { return e.format("mapping") }
func (e *MappingError) Unwrap() error { return e.Err }

// IdentityError reports identity map collisions and missing identities.
type IdentityError struct{ Details }

func (e *IdentityError) Error() string { return e.format("identity") }
func (e *IdentityError) Unwrap() error { return e.Err }

// ConstraintError reports violations of unit of work ordering and identity constraints.
type ConstraintError struct{ Details }

func (e *ConstraintError) Error() string { return e.format("constraint") }
func (e *ConstraintError) Unwrap() error { return e.Err }

// TransactionError reports storage failures during begin, commit, rollback or
// any statement executed inside a flush.
type TransactionError struct{ Details }

func (e *TransactionError) Error() string { return e.format("transaction") }
func (e *TransactionError) Unwrap() error { return e.Err }

// NewMapping builds a MappingError for the given entity type name.
func NewMapping(entity, reason string) *MappingError {
	return &MappingError{Details{Entity: entity, Op: "metadata", Reason: reason}}
}

// NewIdentity builds an IdentityError.
func NewIdentity(op, entity, identity, reason string) *IdentityError {
	return &IdentityError{Details{Entity: entity, Identity: identity, Op: op, Reason: reason}}
}

// NewConstraint builds a ConstraintError.
func NewConstraint(op, entity, identity, reason string) *ConstraintError {
	return &ConstraintError{Details{Entity: entity, Identity: identity, Op: op, Reason: reason}}
}

// NewTransaction wraps a storage failure into a TransactionError.
func NewTransaction(op, entity, identity string, err error) *TransactionError {
	return &TransactionError{Details{Entity: entity, Identity: identity, Op: op, Err: err}}
}

// IsMapping reports whether err is or wraps a MappingError.
func IsMapping(err error) bool {
	var target *MappingError
	return errors.As(err, &target)
}

// IsIdentity reports whether err is or wraps an IdentityError.
func IsIdentity(err error) bool {
	var target *IdentityError
	return errors.As(err, &target)
}

// IsConstraint reports whether err is or wraps a ConstraintError.
func IsConstraint(err error) bool {
	var target *ConstraintError
	return errors.As(err, &target)
}

// IsTransaction reports whether err is or wraps a TransactionError.
func IsTransaction(err error) bool {
	var target *TransactionError
	return errors.As(err, &target)
}

// EntityOf extracts the entity name and identity from any error of this package.
func EntityOf(err error) (entity, identity string, ok bool) {
	var (
		me *MappingError
		ie *IdentityError
		ce *ConstraintError
		te *TransactionError
	)
	switch {
	case errors.As(err, &ce):
		return ce.Entity, ce.Identity, true
	case errors.As(err, &te):
		return te.Entity, te.Identity, true
	case errors.As(err, &ie):
		return ie.Entity, ie.Identity, true
	case errors.As(err, &me):
		return me.Entity, me.Identity, true
	}
	return "", "", false
}
