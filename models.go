package identity

import (
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Username       string     `bun:"username,notnull,unique" json:"username,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	EmailValidated bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Purpose identifies what a verification secret is allowed to unlock.
type Purpose string

const (
	// PurposeEmailLink is the one-click account activation link flow
	PurposeEmailLink Purpose = "EMAIL_VERIFICATION_LINK"
	// PurposeSignupCode is the emailed 6-digit signup code flow
	PurposeSignupCode Purpose = "SIGNUP_CODE"
	// PurposePasswordReset is the emailed password reset code flow
	PurposePasswordReset Purpose = "PASSWORD_RESET"
	// PurposeSMSSignup verifies phone ownership during signup
	PurposeSMSSignup Purpose = "SMS_SIGNUP"
	// PurposeSMSPasswordReset verifies phone ownership for password recovery
	PurposeSMSPasswordReset Purpose = "SMS_PASSWORD_RESET"
	// PurposeSMSPhoneChange verifies the new number on a phone change
	PurposeSMSPhoneChange Purpose = "SMS_PHONE_CHANGE"
)

// IsValid checks the purpose is one we know how to issue
func (p Purpose) IsValid() bool {
	switch p {
	case PurposeEmailLink, PurposeSignupCode, PurposePasswordReset,
		PurposeSMSSignup, PurposeSMSPasswordReset, PurposeSMSPhoneChange:
		return true
	default:
		return false
	}
}

// IsSMS reports whether confirmation leaves the row in the intermediate
// verified state instead of consuming it outright.
func (p Purpose) IsSMS() bool {
	switch p {
	case PurposeSMSSignup, PurposeSMSPasswordReset, PurposeSMSPhoneChange:
		return true
	default:
		return false
	}
}

// IsLink reports whether the purpose carries staged signup fields and a
// UUID secret delivered as a URL instead of a numeric code.
func (p Purpose) IsLink() bool {
	return p == PurposeEmailLink
}

// TTL returns how long a fresh secret stays confirmable
func (p Purpose) TTL() time.Duration {
	switch p {
	case PurposeEmailLink:
		return 24 * time.Hour
	case PurposeSignupCode, PurposePasswordReset:
		return 10 * time.Minute
	case PurposeSMSSignup, PurposeSMSPasswordReset, PurposeSMSPhoneChange:
		return 5 * time.Minute
	default:
		return 0
	}
}

// VerificationToken is a single-use secret bound to a (recipient, purpose)
// pair. The secret is stored as delivered; these rows live minutes, not
// months, and storing them verbatim keeps support diagnosable.
type VerificationToken struct {
	bun.BaseModel       `bun:"table:verification_tokens,alias:vtk"`
	ID                  uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Recipient           string     `bun:"recipient,notnull" json:"recipient,omitempty"`
	Purpose             Purpose    `bun:"purpose,notnull" json:"purpose,omitempty"`
	Secret              string     `bun:"secret,notnull" json:"-"`
	Verified            bool       `bun:"verified" json:"verified,omitempty"`
	Used                bool       `bun:"used" json:"used,omitempty"`
	PendingUsername     string     `bun:"pending_username,nullzero" json:"-"`
	PendingPasswordHash string     `bun:"pending_password_hash,nullzero" json:"-"`
	ExpiresAt           time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// NewCodeVerification builds a code-carrying row. Link purposes are
// rejected here, they stage signup fields and use NewLinkVerification.
func NewCodeVerification(recipient string, purpose Purpose, secret string, now time.Time) (*VerificationToken, error) {
	if !purpose.IsValid() {
		return nil, errors.New("unknown verification purpose", errors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	if purpose.IsLink() {
		return nil, errors.New("link purpose requires staged signup fields", errors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	return &VerificationToken{
		ID:        uuid.New(),
		Recipient: recipient,
		Purpose:   purpose,
		Secret:    secret,
		ExpiresAt: now.Add(purpose.TTL()),
	}, nil
}

// NewLinkVerification builds the activation-link row that carries the
// pending account until the recipient clicks through.
func NewLinkVerification(recipient, secret, pendingUsername, pendingPasswordHash string, now time.Time) (*VerificationToken, error) {
	if pendingUsername == "" || pendingPasswordHash == "" {
		return nil, errors.New("link verification requires a staged username and password hash", errors.CategoryBadInput)
	}

	return &VerificationToken{
		ID:                  uuid.New(),
		Recipient:           recipient,
		Purpose:             PurposeEmailLink,
		Secret:              secret,
		PendingUsername:     pendingUsername,
		PendingPasswordHash: pendingPasswordHash,
		ExpiresAt:           now.Add(PurposeEmailLink.TTL()),
	}, nil
}

// IsExpired reports whether the row's deadline has passed. There is no
// grace period.
func (t *VerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Status derives the lifecycle state from the persisted flags
func (t *VerificationToken) Status() VerificationStatus {
	switch {
	case t.Used:
		return VerificationUsed
	case t.Verified:
		return VerificationVerified
	default:
		return VerificationRequested
	}
}
