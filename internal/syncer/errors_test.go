package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/grove/internal/auth"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		code        Code
		recoverable bool
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout, true},
		{"wrapped deadline", fmt.Errorf("insert: %w", context.DeadlineExceeded), CodeTimeout, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, CodeTimeout, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, CodeNetwork, true},
		{"unavailable", remote.ErrUnavailable, CodeNetwork, true},
		{"canceled", context.Canceled, CodeNetwork, true},
		{"duplicate", remote.ErrDuplicateKey, CodeDuplicateKey, false},
		{"no identity", auth.ErrNoIdentity, CodeNotAuthenticated, false},
		{"bad token", auth.ErrInvalidToken, CodeNotAuthenticated, false},
		{"quota", fmt.Errorf("persist: %w", store.ErrQuotaExceeded), CodeQuotaExceeded, false},
		{"validation", event.Validate(event.Event{Type: "bogus"}), CodeValidation, false},
		{"other", errors.New("500 internal"), CodeServer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := Classify("push", tt.err)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.recoverable, se.Recoverable())
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestClassify_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, Classify("push", nil))

	orig := &Error{Code: CodeTimeout, Op: "retry"}
	wrapped := fmt.Errorf("sync: %w", orig)
	assert.Same(t, orig, Classify("sync", wrapped))
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: CodeNetwork, Op: "push", ClientID: "c1", Err: remote.ErrUnavailable}
	assert.Equal(t, "push: NETWORK (client_id=c1): remote: unavailable", err.Error())
	assert.True(t, IsCode(err, CodeNetwork))
	assert.False(t, IsCode(errors.New("x"), CodeNetwork))
	assert.True(t, IsQuotaExceeded(store.ErrQuotaExceeded))
}
