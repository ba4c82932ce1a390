package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetInitializeTimeout(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv(InitializeTimeoutEnv, "")

		require.Equal(t, DefaultInitializeTimeout, (&Options{}).GetInitializeTimeout())
	})

	t.Run("env", func(t *testing.T) {
		t.Setenv(InitializeTimeoutEnv, "1.5")

		require.Equal(t, 1500*time.Millisecond, (&Options{}).GetInitializeTimeout())
	})

	t.Run("invalid env ignored", func(t *testing.T) {
		t.Setenv(InitializeTimeoutEnv, "soon")

		require.Equal(t, DefaultInitializeTimeout, (&Options{}).GetInitializeTimeout())
	})

	t.Run("option wins over env", func(t *testing.T) {
		t.Setenv(InitializeTimeoutEnv, "90")

		timeout := 5 * time.Second
		opts := &Options{InitializeTimeout: &timeout}

		require.Equal(t, timeout, opts.GetInitializeTimeout())
	})
}

func TestGetCallTimeout(t *testing.T) {
	require.Equal(t, DefaultCallTimeout, (&Options{}).GetCallTimeout())
	require.Equal(t, DefaultCallTimeout, (*Options)(nil).GetCallTimeout())
	require.Equal(t, time.Second, (&Options{CallTimeout: time.Second}).GetCallTimeout())
}

func TestGetCloseGracePeriod(t *testing.T) {
	require.Equal(t, DefaultCloseGracePeriod, (&Options{}).GetCloseGracePeriod())
	require.Equal(t, 10*time.Millisecond, (&Options{CloseGracePeriod: 10 * time.Millisecond}).GetCloseGracePeriod())
}
