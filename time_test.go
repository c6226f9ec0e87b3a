package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/catconnect/go-identity"
)

func TestThresholdPeriods(t *testing.T) {
	t.Run("within", func(t *testing.T) {
		ok, err := identity.IsWithinThresholdPeriod(time.Now().Add(-time.Hour), "24h")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = identity.IsWithinThresholdPeriod(time.Now().Add(-25*time.Hour), "24h")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("outside is the negation", func(t *testing.T) {
		ok, err := identity.IsOutsideThresholdPeriod(time.Now().Add(-25*time.Hour), "24h")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = identity.IsOutsideThresholdPeriod(time.Now().Add(-time.Hour), "24h")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("bad duration pattern", func(t *testing.T) {
		_, err := identity.IsWithinThresholdPeriod(time.Now(), "one day")
		require.Error(t, err)

		_, err = identity.IsOutsideThresholdPeriod(time.Now(), "one day")
		require.Error(t, err)
	})
}
