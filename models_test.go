package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/catconnect/go-identity"
)

func TestPurpose(t *testing.T) {
	t.Run("validity", func(t *testing.T) {
		assert.True(t, identity.PurposeEmailLink.IsValid())
		assert.True(t, identity.PurposeSignupCode.IsValid())
		assert.True(t, identity.PurposePasswordReset.IsValid())
		assert.True(t, identity.PurposeSMSSignup.IsValid())
		assert.True(t, identity.PurposeSMSPasswordReset.IsValid())
		assert.True(t, identity.PurposeSMSPhoneChange.IsValid())
		assert.False(t, identity.Purpose("BANANA").IsValid())
	})

	t.Run("channel classification", func(t *testing.T) {
		assert.True(t, identity.PurposeSMSSignup.IsSMS())
		assert.True(t, identity.PurposeSMSPasswordReset.IsSMS())
		assert.True(t, identity.PurposeSMSPhoneChange.IsSMS())
		assert.False(t, identity.PurposeSignupCode.IsSMS())
		assert.False(t, identity.PurposeEmailLink.IsSMS())

		assert.True(t, identity.PurposeEmailLink.IsLink())
		assert.False(t, identity.PurposeSignupCode.IsLink())
	})

	t.Run("time to live", func(t *testing.T) {
		assert.Equal(t, 24*time.Hour, identity.PurposeEmailLink.TTL())
		assert.Equal(t, 10*time.Minute, identity.PurposeSignupCode.TTL())
		assert.Equal(t, 10*time.Minute, identity.PurposePasswordReset.TTL())
		assert.Equal(t, 5*time.Minute, identity.PurposeSMSSignup.TTL())
		assert.Equal(t, 5*time.Minute, identity.PurposeSMSPasswordReset.TTL())
		assert.Equal(t, 5*time.Minute, identity.PurposeSMSPhoneChange.TTL())
	})
}

func TestNewCodeVerification(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("stamps the purpose deadline", func(t *testing.T) {
		record, err := identity.NewCodeVerification("pepe.rone@example.com", identity.PurposeSignupCode, "482913", now)
		require.NoError(t, err)

		assert.Equal(t, now.Add(10*time.Minute), record.ExpiresAt)
		assert.Equal(t, identity.VerificationRequested, record.Status())
		assert.NotEmpty(t, record.ID)
	})

	t.Run("rejects unknown purposes", func(t *testing.T) {
		_, err := identity.NewCodeVerification("pepe.rone@example.com", identity.Purpose("BANANA"), "482913", now)
		require.Error(t, err)
	})

	t.Run("rejects the link purpose", func(t *testing.T) {
		_, err := identity.NewCodeVerification("pepe.rone@example.com", identity.PurposeEmailLink, "482913", now)
		require.Error(t, err)
	})
}

func TestNewLinkVerification(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	t.Run("carries the staged account", func(t *testing.T) {
		record, err := identity.NewLinkVerification("pepe.rone@example.com", "secret-uuid", "pepe.rone", "$2a$14$hash", now)
		require.NoError(t, err)

		assert.Equal(t, identity.PurposeEmailLink, record.Purpose)
		assert.Equal(t, "pepe.rone", record.PendingUsername)
		assert.Equal(t, "$2a$14$hash", record.PendingPasswordHash)
		assert.Equal(t, now.Add(24*time.Hour), record.ExpiresAt)
	})

	t.Run("requires staged fields", func(t *testing.T) {
		_, err := identity.NewLinkVerification("pepe.rone@example.com", "secret-uuid", "", "$2a$14$hash", now)
		require.Error(t, err)

		_, err = identity.NewLinkVerification("pepe.rone@example.com", "secret-uuid", "pepe.rone", "", now)
		require.Error(t, err)
	})
}

func TestVerificationTokenLifecycleFlags(t *testing.T) {
	now := time.Now()
	record, err := identity.NewCodeVerification("pepe.rone@example.com", identity.PurposeSignupCode, "482913", now)
	require.NoError(t, err)

	t.Run("no expiry grace period", func(t *testing.T) {
		assert.False(t, record.IsExpired(record.ExpiresAt.Add(-time.Second)))
		assert.True(t, record.IsExpired(record.ExpiresAt))
		assert.True(t, record.IsExpired(record.ExpiresAt.Add(time.Second)))
	})

	t.Run("status derivation", func(t *testing.T) {
		assert.Equal(t, identity.VerificationRequested, record.Status())

		record.Verified = true
		assert.Equal(t, identity.VerificationVerified, record.Status())

		record.Used = true
		assert.Equal(t, identity.VerificationUsed, record.Status())
	})
}

func TestNewNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := identity.NewNumericCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.GreaterOrEqual(t, code, "100000")
		assert.LessOrEqual(t, code, "999999")
	}
}

func TestNewLinkSecret(t *testing.T) {
	a := identity.NewLinkSecret()
	b := identity.NewLinkSecret()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
