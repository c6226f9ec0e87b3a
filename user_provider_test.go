package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	identity "github.com/catconnect/go-identity"
)

func setLoginAttempts(t *testing.T, db *bun.DB, id string, attempts int, at time.Time) {
	t.Helper()

	_, err := db.NewRaw(
		`UPDATE users SET login_attempts = ?, login_attempt_at = ? WHERE id = ?`,
		attempts, at, id,
	).Exec(context.Background())
	require.NoError(t, err)
}

func TestUserProviderVerifyIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts email, username or id", func(t *testing.T) {
		repo, _ := setupTestDB(t)
		user := seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "+821012345678", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		for _, identifier := range []string{"pepe.rone@example.com", "pepe.rone", user.ID.String()} {
			id, err := provider.VerifyIdentity(ctx, identifier, "super-secret-pass")
			require.NoError(t, err, "identifier %q", identifier)
			assert.Equal(t, "pepe.rone", id.Username())
			assert.Equal(t, user.ID.String(), id.ID())
			assert.Equal(t, "user", id.Role())
		}
	})

	t.Run("wrong password is indistinguishable from unknown user", func(t *testing.T) {
		repo, _ := setupTestDB(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		_, err := provider.VerifyIdentity(ctx, "pepe.rone@example.com", "wrong-password")
		require.True(t, goerrors.Is(err, identity.ErrMismatchedHashAndPassword))

		_, err = provider.VerifyIdentity(ctx, "nobody@example.com", "super-secret-pass")
		require.True(t, goerrors.Is(err, identity.ErrMismatchedHashAndPassword))
	})

	t.Run("failed attempts are tracked", func(t *testing.T) {
		repo, _ := setupTestDB(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		_, err := provider.VerifyIdentity(ctx, "pepe.rone@example.com", "wrong-password")
		require.Error(t, err)

		stored, err := repo.Users().GetByIdentifier(ctx, "pepe.rone@example.com")
		require.NoError(t, err)
		assert.Equal(t, 1, stored.LoginAttempts)
		assert.NotNil(t, stored.LoginAttemptAt)
	})

	t.Run("throttles after too many attempts", func(t *testing.T) {
		repo, db := setupTestDB(t)
		user := seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		setLoginAttempts(t, db, user.ID.String(), identity.MaxLoginAttempts+1, time.Now())

		_, err := provider.VerifyIdentity(ctx, "pepe.rone@example.com", "super-secret-pass")
		require.True(t, goerrors.Is(err, identity.ErrTooManyLoginAttempts))
	})

	t.Run("cooldown expiry resets the counter", func(t *testing.T) {
		repo, db := setupTestDB(t)
		user := seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		setLoginAttempts(t, db, user.ID.String(), identity.MaxLoginAttempts+1, time.Now().Add(-25*time.Hour))

		id, err := provider.VerifyIdentity(ctx, "pepe.rone@example.com", "super-secret-pass")
		require.NoError(t, err)
		assert.Equal(t, "pepe.rone", id.Username())
	})

	t.Run("successful login updates tracking columns", func(t *testing.T) {
		repo, _ := setupTestDB(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
		provider := identity.NewUserProvider(repo.Users())

		_, err := provider.VerifyIdentity(ctx, "pepe.rone@example.com", "super-secret-pass")
		require.NoError(t, err)

		stored, err := repo.Users().GetByIdentifier(ctx, "pepe.rone@example.com")
		require.NoError(t, err)
		assert.NotNil(t, stored.LoggedInAt)
		assert.Equal(t, 0, stored.LoginAttempts)
	})
}

func TestUserProviderFindIdentity(t *testing.T) {
	ctx := context.Background()

	repo, _ := setupTestDB(t)
	seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")
	provider := identity.NewUserProvider(repo.Users())

	t.Run("found", func(t *testing.T) {
		id, err := provider.FindIdentityByIdentifier(ctx, "pepe.rone")
		require.NoError(t, err)
		assert.Equal(t, "pepe.rone@example.com", id.Email())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := provider.FindIdentityByIdentifier(ctx, "nobody")
		require.Error(t, err)
	})
}
