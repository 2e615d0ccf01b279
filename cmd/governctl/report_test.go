package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caregov/pkg/requestcontext"
)

func TestReportPeriod(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 4, 0, 0, time.UTC)

	t.Run("defaults to the last thirty days", func(t *testing.T) {
		from, to, err := reportPeriod("", "", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), to)
		assert.Equal(t, time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), from)
	})

	t.Run("explicit bounds", func(t *testing.T) {
		from, to, err := reportPeriod("2026-01-01", "2026-02-01", now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), from)
		assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), to)
	})

	t.Run("rejects malformed dates", func(t *testing.T) {
		_, _, err := reportPeriod("01/01/2026", "", now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--from")
	})
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "sweep", "compliance-report", "token"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	sweep, _, err := root.Find([]string{"sweep"})
	require.NoError(t, err)
	for _, flag := range []string{"audit-retention-days", "access-log-retention-days", "dry-run", "force"} {
		assert.NotNil(t, sweep.Flags().Lookup(flag), flag)
	}
}

func TestInvocationID(t *testing.T) {
	first := requestcontext.RequestID(withInvocationID(context.Background()))
	second := requestcontext.RequestID(withInvocationID(context.Background()))

	require.NotEmpty(t, first)
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
