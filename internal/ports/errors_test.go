package ports

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		backend   string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "missing snapshot",
			backend:   "file",
			operation: "Load",
			err:       ErrStateNotFound,
			wantMsg:   "store error: backend=file, operation=Load, err=learner state not found",
		},
		{
			name:      "corrupted snapshot",
			backend:   "redis",
			operation: "Load",
			err:       ErrStateCorrupted,
			wantMsg:   "store error: backend=redis, operation=Load, err=learner state corrupted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStoreError(tt.backend, tt.operation, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.Equal(t, tt.backend, err.Backend)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("store", ErrConfigNotFound)
	assert.Equal(t, "config error: key=store, err=configuration not found", err.Error())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestCommonInfrastructureErrors(t *testing.T) {
	sentinels := []error{
		ErrStateNotFound,
		ErrStateCorrupted,
		ErrUnsupportedType,
		ErrRateLimited,
		ErrInvalidResponse,
		ErrConfigNotFound,
	}
	seen := make(map[string]bool, len(sentinels))
	for _, err := range sentinels {
		require.NotEmpty(t, err.Error())
		assert.False(t, seen[err.Error()], "duplicate message %q", err.Error())
		seen[err.Error()] = true
	}
}

func TestErrorUnwrapping(t *testing.T) {
	base := errors.New("underlying error")
	wrapped := []error{
		NewStoreError("file", "Save", base),
		NewConfigError("workers", base),
		fmt.Errorf("outer: %w", NewStoreError("redis", "Save", base)),
	}
	for _, err := range wrapped {
		assert.ErrorIs(t, err, base, "%v", err)
	}

	var serr *StoreError
	require.ErrorAs(t, wrapped[2], &serr)
	assert.Equal(t, "redis", serr.Backend)
}
