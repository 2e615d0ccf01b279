package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
)

var now = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func newValidator() *Validator {
	return NewValidator("test-signing-key", "test-issuer", "caregov", WithClock(func() time.Time { return now }))
}

func TestActorRoundTrip(t *testing.T) {
	v := newValidator()
	actor := id.Actor{ID: id.NewActorID(), Name: "ops", Bootstrap: true}

	token, err := v.Issue(actor, "sess-1", time.Hour)
	require.NoError(t, err)

	got, err := v.Actor(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestValidate(t *testing.T) {
	v := newValidator()
	actor := id.Actor{ID: id.NewActorID()}

	t.Run("expired token", func(t *testing.T) {
		token, err := v.Issue(actor, "", -time.Hour)
		require.NoError(t, err)

		_, err = v.Validate(token)
		require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Validate("not-a-token")
		require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
	})

	t.Run("other signing key", func(t *testing.T) {
		token, err := NewValidator("other-key", "test-issuer", "caregov").Issue(actor, "", time.Hour)
		require.NoError(t, err)

		_, err = v.Validate(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong audience", func(t *testing.T) {
		token, err := NewValidator("test-signing-key", "test-issuer", "elsewhere",
			WithClock(func() time.Time { return now })).Issue(actor, "", time.Hour)
		require.NoError(t, err)

		_, err = v.Validate(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("anonymous actor id is rejected", func(t *testing.T) {
		token, err := v.Issue(id.Anonymous(), "", time.Hour)
		require.NoError(t, err)

		got, err := v.Actor(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.False(t, got.IsAuthenticated())
	})
}
