package mikrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/stretchr/testify/require"
)

func TestDriverError(t *testing.T) {
	uerr := fmt.Errorf("some driver error")
	err := &DriverError{"you won't believe what happened next", uerr}

	require.EqualError(t, err, "you won't believe what happened next: some driver error")
	require.Equal(t, uerr, UnderlyingError(err))
	require.Equal(t, uerr, UnderlyingError(fmt.Errorf("wrapped: %w", err)))
	require.EqualError(t, UnderlyingError(fmt.Errorf("not DriverError")), "not DriverError")
	require.ErrorIs(t, err, uerr)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Duplicates:         []string{"::1::alice"},
		ChecksumMismatches: []string{"::2::alice"},
		Invalid: map[string]error{
			"::4::bob": errors.New("dropColumn is not supported on sqlite"),
			"::3::bob": errors.New("createTable: tableName is required"),
		},
	}
	require.False(t, err.empty())
	require.Equal(t, `validation failed:
  duplicate changeset ::1::alice
  checksum of changeset ::2::alice changed
  changeset ::3::bob: createTable: tableName is required
  changeset ::4::bob: dropColumn is not supported on sqlite`, err.Error())
	require.True(t, (&ValidationError{}).empty())
}

func TestPreconditionError(t *testing.T) {
	failure := &changelog.Failure{Precondition: "tableExists", Message: "table person does not exist"}

	err := &PreconditionError{Err: failure}
	require.EqualError(t, err, "changelog preconditions failed: tableExists: table person does not exist")
	require.True(t, changelog.IsFailure(err))

	err = &PreconditionError{ChangeSet: changelog.NewChangeSet("1", "alice"), Err: failure}
	require.EqualError(t, err, "preconditions of changeset ::1::alice failed: tableExists: table person does not exist")
}

func TestRollbackError(t *testing.T) {
	err := &RollbackError{Identifier: "::1::alice", Err: ErrChangeSetNotFound}
	require.EqualError(t, err, "failed to roll back changeset ::1::alice: changeset not found")
	require.ErrorIs(t, err, ErrChangeSetNotFound)
}
