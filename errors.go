package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
)

// ErrInvalidCredentials is returned for any identifier/password mismatch.
// We do not distinguish between unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired signals a token whose exp claim is in the past.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed covers every other token validation failure.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(errors.CodeUnauthorized)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(errors.CodeNotFound)

// ErrTooManyLoginAttempts is returned while an account is cooling down.
var ErrTooManyLoginAttempts = errors.New("too many login attempts", errors.CategoryAuth).
	WithTextCode("TOO_MANY_LOGIN_ATTEMPTS").
	WithCode(errors.CodeUnauthorized)

// ErrMismatchedHashAndPassword wraps bcrypt's mismatch error.
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithTextCode("EMPTY_PASSWORD").
	WithCode(errors.CodeBadRequest)

// ErrVerificationNotRequested means no live verification row exists for
// the (recipient, purpose) pair.
var ErrVerificationNotRequested = errors.New("verification was not requested", errors.CategoryNotFound).
	WithTextCode("VERIFICATION_NOT_REQUESTED").
	WithCode(errors.CodeNotFound)

// ErrVerificationExpired is returned when the row exists but its deadline passed.
var ErrVerificationExpired = errors.New("verification expired", errors.CategoryBadInput).
	WithTextCode("VERIFICATION_EXPIRED").
	WithCode(errors.CodeBadRequest)

// ErrVerificationCodeMismatch is returned when the submitted secret does not match.
var ErrVerificationCodeMismatch = errors.New("verification code mismatch", errors.CategoryBadInput).
	WithTextCode("VERIFICATION_CODE_MISMATCH").
	WithCode(errors.CodeBadRequest)

// ErrVerificationAlreadyUsed is returned when a consumed row is presented again.
var ErrVerificationAlreadyUsed = errors.New("verification already used", errors.CategoryConflict).
	WithTextCode("VERIFICATION_ALREADY_USED").
	WithCode(errors.CodeConflict)

// ErrVerificationNotVerified is returned when consuming a row that never
// reached the verified state.
var ErrVerificationNotVerified = errors.New("verification not completed", errors.CategoryConflict).
	WithTextCode("VERIFICATION_NOT_VERIFIED").
	WithCode(errors.CodeConflict)

// ErrChannelUnsupported is returned when a notification kind has no
// registered channel. We fail closed instead of silently dropping.
var ErrChannelUnsupported = errors.New("notification channel unsupported", errors.CategoryInternal).
	WithTextCode("CHANNEL_UNSUPPORTED").
	WithCode(errors.CodeInternal)

// ErrDeliveryFailed is returned when a channel accepted the message but
// the transport failed. Issuance is rolled back when this happens.
var ErrDeliveryFailed = errors.New("notification delivery failed", errors.CategoryOperation).
	WithTextCode("DELIVERY_FAILED").
	WithCode(errors.CodeInternal)

// ErrDuplicateEmail is returned on signup when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode("DUPLICATE_EMAIL").
	WithCode(errors.CodeConflict)

// ErrDuplicateUsername is returned on signup when the username is taken.
var ErrDuplicateUsername = errors.New("username already registered", errors.CategoryConflict).
	WithTextCode("DUPLICATE_USERNAME").
	WithCode(errors.CodeConflict)

// ErrPhoneNotVerified blocks account creation until the SMS step completed.
var ErrPhoneNotVerified = errors.New("phone number not verified", errors.CategoryConflict).
	WithTextCode("PHONE_NOT_VERIFIED").
	WithCode(errors.CodeConflict)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithTextCode("SESSION_DECODE_FAILED").
	WithCode(errors.CodeUnauthorized)

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data", errors.CategoryInternal).
	WithCode(errors.CodeInternal)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
