package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/grove/internal/store"
	"github.com/roach88/grove/internal/syncer"
)

func TestCloseError_QuotaPromptsBackup(t *testing.T) {
	cerr := errors.Join(nil, fmt.Errorf("flush events: %w", store.ErrQuotaExceeded))

	err := closeError(cerr)

	assert.Equal(t, ExitFailure, err.Code)
	assert.Contains(t, err.Message, "local storage is full")
	assert.Contains(t, err.Message, "grove export")
	assert.ErrorIs(t, err, store.ErrQuotaExceeded)
}

func TestCloseError_QuotaCodeFromEngine(t *testing.T) {
	err := closeError(&syncer.Error{Code: syncer.CodeQuotaExceeded, Op: "flush", Err: errors.New("disk full")})
	assert.Contains(t, err.Message, "export a backup")
}

func TestCloseError_OtherFailures(t *testing.T) {
	err := closeError(errors.New("database is locked"))

	assert.Equal(t, ExitFailure, err.Code)
	assert.Equal(t, "failed to persist changes", err.Message)
}
