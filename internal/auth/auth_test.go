package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	id, err := Static("user-1").UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	_, err = Static(" ").UserID(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestJWT(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := IssueToken("user-1", secret, time.Hour, now)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		secret  []byte
		now     time.Time
		want    string
		wantErr error
	}{
		{name: "valid", token: token, secret: secret, now: now.Add(time.Minute), want: "user-1"},
		{name: "expired", token: token, secret: secret, now: now.Add(2 * time.Hour), wantErr: ErrNoIdentity},
		{name: "wrong secret", token: token, secret: []byte("other"), now: now, wantErr: ErrInvalidToken},
		{name: "no secret", token: token, now: now, wantErr: ErrInvalidToken},
		{name: "empty token", token: "", secret: secret, now: now, wantErr: ErrNoIdentity},
		{name: "garbage", token: "not.a.jwt", secret: secret, now: now, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := tt.now
			id, err := NewJWT(tt.token, tt.secret, WithNow(func() time.Time { return clock })).UserID(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestIssueToken_RequiresUser(t *testing.T) {
	_, err := IssueToken("", []byte("s"), time.Hour, time.Now())
	assert.Error(t, err)
}
