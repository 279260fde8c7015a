package syncerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsWrapStableSentinels(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		kind  error
	}{
		{"NotFound", NotFound("record %s", "r1"), ErrNotFound},
		{"Conflict", Conflict("record %s exists", "r1"), ErrConflict},
		{"Gone", Gone("record %s deleted", "r1"), ErrGone},
		{"NotAuthorized", NotAuthorized("node %s forbidden", "n1"), ErrNotAuthorized},
		{"FetchBeforeSend", FetchBeforeSend("pending"), ErrFetchBeforeSend},
		{"RemoteConflict", RemoteConflict("remote id taken"), ErrRemoteConflict},
		{"State", State("wrong state"), ErrState},
		{"Validation", Validation("bad payload"), ErrValidation},
		{"StorageUnavailable", StorageUnavailable("backend down"), ErrStorageUnavailable},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.True(t, errors.Is(c.err, c.kind))
			assert.NotEmpty(t, c.err.Error())
		})
	}
}

func TestErrorMessageIncludesFormattedText(t *testing.T) {
	err := NotFound("record %s not found", "rec-42")
	assert.Contains(t, err.Error(), "rec-42")
}

func TestUnwrapYieldsSentinel(t *testing.T) {
	err := Conflict("already exists")
	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, ErrConflict, target.Unwrap())
}

func TestDistinctKindsAreNotEachOther(t *testing.T) {
	assert.False(t, errors.Is(NotFound("x"), ErrConflict))
	assert.False(t, errors.Is(Conflict("x"), ErrNotFound))
}
