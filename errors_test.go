package identity_test

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	identity "github.com/catconnect/go-identity"
)

func TestTokenErrorClassifiers(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		assert.True(t, identity.IsTokenExpiredError(identity.ErrTokenExpired))
		assert.True(t, identity.IsTokenExpiredError(errors.New("validation failed: token is expired")))
		assert.False(t, identity.IsTokenExpiredError(identity.ErrTokenMalformed))
		assert.False(t, identity.IsTokenExpiredError(nil))
	})

	t.Run("malformed", func(t *testing.T) {
		assert.True(t, identity.IsMalformedError(identity.ErrTokenMalformed))
		assert.True(t, identity.IsMalformedError(errors.New("missing or malformed JWT")))
		assert.False(t, identity.IsMalformedError(identity.ErrTokenExpired))
		assert.False(t, identity.IsMalformedError(nil))
	})
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		category goerrors.Category
	}{
		{identity.ErrInvalidCredentials, "INVALID_CREDENTIALS", goerrors.CategoryAuth},
		{identity.ErrTooManyLoginAttempts, "TOO_MANY_LOGIN_ATTEMPTS", goerrors.CategoryAuth},
		{identity.ErrVerificationExpired, "VERIFICATION_EXPIRED", goerrors.CategoryBadInput},
		{identity.ErrVerificationCodeMismatch, "VERIFICATION_CODE_MISMATCH", goerrors.CategoryBadInput},
		{identity.ErrVerificationAlreadyUsed, "VERIFICATION_ALREADY_USED", goerrors.CategoryConflict},
		{identity.ErrDuplicateEmail, "DUPLICATE_EMAIL", goerrors.CategoryConflict},
		{identity.ErrDuplicateUsername, "DUPLICATE_USERNAME", goerrors.CategoryConflict},
		{identity.ErrPhoneNotVerified, "PHONE_NOT_VERIFIED", goerrors.CategoryConflict},
		{identity.ErrDeliveryFailed, "DELIVERY_FAILED", goerrors.CategoryOperation},
	}

	for _, tc := range cases {
		t.Run(tc.textCode, func(t *testing.T) {
			var richErr *goerrors.Error
			assert.True(t, goerrors.As(tc.err, &richErr))
			assert.Equal(t, tc.textCode, richErr.TextCode)
			assert.Equal(t, tc.category, richErr.Category)

			// sentinel identity survives wrapping
			wrapped := goerrors.Wrap(tc.err, goerrors.CategoryOperation, "while handling request")
			assert.True(t, goerrors.Is(wrapped, tc.err))
		})
	}
}
