package mikrator

import (
	"errors"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
)

var (
	// ErrTagNotFound is returned when a tag is neither in the ledger nor in
	// the changelog.
	ErrTagNotFound = errors.New("tag not found")
	// ErrChangeSetNotFound is returned when a changeset is not part of the
	// changelog.
	ErrChangeSetNotFound = errors.New("changeset not found")
)

// DriverError records original sql driver error and supporting info that caused it.
type DriverError struct {
	// Info contains supporting info
	Info string

	// Err is the original (possibly driver-specific) error
	Err error
}

func (e *DriverError) Error() string { return e.Info + ": " + e.Err.Error() }

func (e *DriverError) Unwrap() error { return e.Err }

// UnderlyingError returns the underlying error from DriverError.
func UnderlyingError(err error) error {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Err
	}
	return err
}

// ValidationError lists everything wrong with a changelog.
type ValidationError struct {
	// Duplicates are identifiers used by more than one changeset.
	Duplicates []string
	// ChecksumMismatches are identifiers of changesets which were edited
	// after they ran.
	ChecksumMismatches []string
	// Invalid maps identifiers to the reason their changes cannot run.
	Invalid map[string]error
}

func (e *ValidationError) empty() bool {
	return len(e.Duplicates) == 0 && len(e.ChecksumMismatches) == 0 && len(e.Invalid) == 0
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed:")
	for _, id := range e.Duplicates {
		b.WriteString("\n  duplicate changeset " + id)
	}
	for _, id := range e.ChecksumMismatches {
		b.WriteString("\n  checksum of changeset " + id + " changed")
	}
	for _, id := range sortedKeys(e.Invalid) {
		b.WriteString("\n  changeset " + id + ": " + e.Invalid[id].Error())
	}
	return b.String()
}

// PreconditionError is returned when preconditions with HALT stop an
// update. ChangeSet is nil for changelog preconditions.
type PreconditionError struct {
	ChangeSet *changelog.ChangeSet
	Err       error
}

func (e *PreconditionError) Error() string {
	if e.ChangeSet == nil {
		return "changelog preconditions failed: " + e.Err.Error()
	}
	return "preconditions of changeset " + e.ChangeSet.Identifier() + " failed: " + e.Err.Error()
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// RollbackError is returned when a changeset cannot be rolled back.
type RollbackError struct {
	Identifier string
	Err        error
}

func (e *RollbackError) Error() string {
	return "failed to roll back changeset " + e.Identifier + ": " + e.Err.Error()
}

func (e *RollbackError) Unwrap() error { return e.Err }

// ChangeSetError is returned when the changes of a changeset fail.
type ChangeSetError struct {
	Identifier string
	Err        error
}

func (e *ChangeSetError) Error() string {
	return "changeset " + e.Identifier + " failed: " + e.Err.Error()
}

func (e *ChangeSetError) Unwrap() error { return e.Err }
