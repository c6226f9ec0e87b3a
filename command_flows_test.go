package identity_test

import (
	"context"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/catconnect/go-identity"
)

func lastSMSCode(t *testing.T, sms *stubChannel) string {
	t.Helper()
	text := sms.lastMessage(t).Variables["message"]
	require.GreaterOrEqual(t, len(text), 6)
	return text[len(text)-6:]
}

func lastEmailCode(t *testing.T, email *stubChannel) string {
	t.Helper()
	code := email.lastMessage(t).Variables["code"]
	require.Len(t, code, 6)
	return code
}

func lastLinkSecret(t *testing.T, email *stubChannel) string {
	t.Helper()
	link := email.lastMessage(t).Variables["verificationLink"]
	idx := strings.Index(link, "token=")
	require.GreaterOrEqual(t, idx, 0)
	return link[idx+len("token="):]
}

func TestSignupCodeFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("send and confirm", func(t *testing.T) {
		verifier, repo, email, _ := newTestVerifier(t)

		var sent *identity.SendSignupCodeResponse
		err := identity.NewSendSignupCodeHandler(repo, verifier).Execute(ctx, identity.SendSignupCodeMessage{
			Email:      "Pepe.Rone@Example.com",
			OnResponse: func(resp *identity.SendSignupCodeResponse) { sent = resp },
		})
		require.NoError(t, err)
		require.NotNil(t, sent)
		assert.Equal(t, "pepe.rone@example.com", sent.Email)

		err = identity.NewConfirmSignupCodeHandler(repo, verifier).Execute(ctx, identity.ConfirmSignupCodeMessage{
			Email: "pepe.rone@example.com",
			Code:  lastEmailCode(t, email),
		})
		require.NoError(t, err)
	})

	t.Run("existing email is rejected", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "super-secret-pass")

		err := identity.NewSendSignupCodeHandler(repo, verifier).Execute(ctx, identity.SendSignupCodeMessage{
			Email: "pepe.rone@example.com",
		})
		require.True(t, goerrors.Is(err, identity.ErrDuplicateEmail))
	})
}

func TestCompleteSignupFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		verifier, repo, _, sms := newTestVerifier(t)

		require.NoError(t, identity.NewSendSMSCodeHandler(repo, verifier).Execute(ctx, identity.SendSMSCodeMessage{
			Phone: "010-1234-5678",
		}))
		require.NoError(t, identity.NewConfirmSMSCodeHandler(repo, verifier).Execute(ctx, identity.ConfirmSMSCodeMessage{
			Phone: "010-1234-5678",
			Code:  lastSMSCode(t, sms),
		}))

		var resp *identity.CompleteSignupResponse
		err := identity.NewCompleteSignupHandler(repo, verifier).Execute(ctx, identity.CompleteSignupMessage{
			Username:   "pepe.rone",
			Email:      "pepe.rone@example.com",
			Phone:      "010-1234-5678",
			Password:   "super-secret-pass",
			OnResponse: func(r *identity.CompleteSignupResponse) { resp = r },
		})
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.NotNil(t, resp.User)

		assert.Equal(t, "pepe.rone", resp.User.Username)
		assert.Equal(t, "+821012345678", resp.User.Phone)
		assert.True(t, resp.User.EmailValidated)

		// the freshly created account can log in
		_, err = identity.NewUserProvider(repo.Users()).VerifyIdentity(ctx, "pepe.rone", "super-secret-pass")
		require.NoError(t, err)

		// the verified SMS proof was spent with the signup
		err = identity.NewCompleteSignupHandler(repo, verifier).Execute(ctx, identity.CompleteSignupMessage{
			Username: "other.cat",
			Email:    "other.cat@example.com",
			Phone:    "010-1234-5678",
			Password: "super-secret-pass",
		})
		require.True(t, goerrors.Is(err, identity.ErrPhoneNotVerified))
	})

	t.Run("unverified phone rolls everything back", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)

		err := identity.NewCompleteSignupHandler(repo, verifier).Execute(ctx, identity.CompleteSignupMessage{
			Username: "pepe.rone",
			Email:    "pepe.rone@example.com",
			Phone:    "010-1234-5678",
			Password: "super-secret-pass",
		})
		require.True(t, goerrors.Is(err, identity.ErrPhoneNotVerified))

		_, err = repo.Users().GetByIdentifier(ctx, "pepe.rone@example.com")
		require.Error(t, err)
	})

	t.Run("duplicate username", func(t *testing.T) {
		verifier, repo, _, sms := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "taken@example.com", "", "super-secret-pass")

		require.NoError(t, identity.NewSendSMSCodeHandler(repo, verifier).Execute(ctx, identity.SendSMSCodeMessage{
			Phone: "010-1234-5678",
		}))
		require.NoError(t, identity.NewConfirmSMSCodeHandler(repo, verifier).Execute(ctx, identity.ConfirmSMSCodeMessage{
			Phone: "010-1234-5678",
			Code:  lastSMSCode(t, sms),
		}))

		err := identity.NewCompleteSignupHandler(repo, verifier).Execute(ctx, identity.CompleteSignupMessage{
			Username: "pepe.rone",
			Email:    "pepe.rone@example.com",
			Phone:    "010-1234-5678",
			Password: "super-secret-pass",
		})
		require.True(t, goerrors.Is(err, identity.ErrDuplicateUsername))
	})
}

func TestSMSCodeFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("registered phone cannot request a signup code", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "+821012345678", "super-secret-pass")

		err := identity.NewSendSMSCodeHandler(repo, verifier).Execute(ctx, identity.SendSMSCodeMessage{
			Phone: "010-1234-5678",
		})
		require.Error(t, err)

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, "DUPLICATE_PHONE", richErr.TextCode)
	})

	t.Run("rejects non SMS purposes", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)

		err := identity.NewSendSMSCodeHandler(repo, verifier).Execute(ctx, identity.SendSMSCodeMessage{
			Phone:   "010-1234-5678",
			Purpose: identity.PurposeSignupCode,
		})
		require.Error(t, err)
	})
}

func TestSignupLinkFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("account is created when the link resolves", func(t *testing.T) {
		verifier, repo, email, _ := newTestVerifier(t)

		require.NoError(t, identity.NewSendSignupLinkHandler(repo, verifier).Execute(ctx, identity.SendSignupLinkMessage{
			Username: "pepe.rone",
			Email:    "pepe.rone@example.com",
			Password: "super-secret-pass",
		}))

		secret := lastLinkSecret(t, email)

		var resp *identity.ConfirmSignupLinkResponse
		err := identity.NewConfirmSignupLinkHandler(repo, verifier).Execute(ctx, identity.ConfirmSignupLinkMessage{
			Secret:     secret,
			OnResponse: func(r *identity.ConfirmSignupLinkResponse) { resp = r },
		})
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.NotNil(t, resp.User)

		assert.Equal(t, "pepe.rone", resp.User.Username)
		assert.Equal(t, "pepe.rone@example.com", resp.User.Email)
		assert.True(t, resp.User.EmailValidated)

		// the staged hash is the real password hash
		_, err = identity.NewUserProvider(repo.Users()).VerifyIdentity(ctx, "pepe.rone", "super-secret-pass")
		require.NoError(t, err)

		// the link is single shot
		err = identity.NewConfirmSignupLinkHandler(repo, verifier).Execute(ctx, identity.ConfirmSignupLinkMessage{
			Secret: secret,
		})
		require.True(t, goerrors.Is(err, identity.ErrVerificationAlreadyUsed))
	})

	t.Run("handle claimed while the link sat unread", func(t *testing.T) {
		verifier, repo, email, _ := newTestVerifier(t)

		require.NoError(t, identity.NewSendSignupLinkHandler(repo, verifier).Execute(ctx, identity.SendSignupLinkMessage{
			Username: "pepe.rone",
			Email:    "pepe.rone@example.com",
			Password: "super-secret-pass",
		}))

		seedUser(t, repo, "pepe.rone", "sniped@example.com", "", "super-secret-pass")

		err := identity.NewConfirmSignupLinkHandler(repo, verifier).Execute(ctx, identity.ConfirmSignupLinkMessage{
			Secret: lastLinkSecret(t, email),
		})
		require.True(t, goerrors.Is(err, identity.ErrDuplicateUsername))
	})

	t.Run("taken email is rejected up front", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)
		seedUser(t, repo, "other.cat", "pepe.rone@example.com", "", "super-secret-pass")

		err := identity.NewSendSignupLinkHandler(repo, verifier).Execute(ctx, identity.SendSignupLinkMessage{
			Username: "pepe.rone",
			Email:    "pepe.rone@example.com",
			Password: "super-secret-pass",
		})
		require.True(t, goerrors.Is(err, identity.ErrDuplicateEmail))
	})
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("email reset end to end", func(t *testing.T) {
		verifier, repo, email, _ := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "", "old-password-123")

		require.NoError(t, identity.NewInitializePasswordResetHandler(repo, verifier).Execute(ctx, identity.InitializePasswordResetMessage{
			Recipient: "pepe.rone@example.com",
		}))

		code := lastEmailCode(t, email)
		sink := &capturingSink{}

		err := identity.NewFinalizePasswordResetHandler(repo, verifier).
			WithActivitySink(sink).
			Execute(ctx, identity.FinalizePasswordResetMessage{
				Recipient: "pepe.rone@example.com",
				Code:      code,
				Password:  "new-password-456",
			})
		require.NoError(t, err)
		require.Len(t, sink.byType(identity.ActivityEventPasswordResetSuccess), 1)

		provider := identity.NewUserProvider(repo.Users())
		_, err = provider.VerifyIdentity(ctx, "pepe.rone@example.com", "new-password-456")
		require.NoError(t, err)
		_, err = provider.VerifyIdentity(ctx, "pepe.rone@example.com", "old-password-123")
		require.Error(t, err)

		// the code cannot be spent twice
		err = identity.NewFinalizePasswordResetHandler(repo, verifier).Execute(ctx, identity.FinalizePasswordResetMessage{
			Recipient: "pepe.rone@example.com",
			Code:      code,
			Password:  "another-password-789",
		})
		require.Error(t, err)
	})

	t.Run("sms reset resolves the account by phone", func(t *testing.T) {
		verifier, repo, _, sms := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "+821012345678", "old-password-123")

		require.NoError(t, identity.NewInitializePasswordResetHandler(repo, verifier).Execute(ctx, identity.InitializePasswordResetMessage{
			Recipient: "010-1234-5678",
			Purpose:   identity.PurposeSMSPasswordReset,
		}))

		err := identity.NewFinalizePasswordResetHandler(repo, verifier).Execute(ctx, identity.FinalizePasswordResetMessage{
			Recipient: "010-1234-5678",
			Purpose:   identity.PurposeSMSPasswordReset,
			Code:      lastSMSCode(t, sms),
			Password:  "new-password-456",
		})
		require.NoError(t, err)

		_, err = identity.NewUserProvider(repo.Users()).VerifyIdentity(ctx, "pepe.rone@example.com", "new-password-456")
		require.NoError(t, err)
	})

	t.Run("unknown account", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)

		err := identity.NewInitializePasswordResetHandler(repo, verifier).Execute(ctx, identity.InitializePasswordResetMessage{
			Recipient: "nobody@example.com",
		})
		require.True(t, goerrors.Is(err, identity.ErrIdentityNotFound))
	})

	t.Run("rejects purposes outside the reset pair", func(t *testing.T) {
		verifier, repo, _, _ := newTestVerifier(t)

		err := identity.NewInitializePasswordResetHandler(repo, verifier).Execute(ctx, identity.InitializePasswordResetMessage{
			Recipient: "pepe.rone@example.com",
			Purpose:   identity.PurposeSignupCode,
		})
		require.Error(t, err)
	})
}

func TestFindUsernameFlow(t *testing.T) {
	ctx := context.Background()

	t.Run("masked lookup by email and phone", func(t *testing.T) {
		_, repo, _, _ := newTestVerifier(t)
		seedUser(t, repo, "pepe.rone", "pepe.rone@example.com", "+821012345678", "super-secret-pass")

		handler := identity.NewFindUsernameHandler(repo)

		for _, recipient := range []string{"pepe.rone@example.com", "+821012345678"} {
			var resp *identity.FindUsernameResponse
			err := handler.Execute(ctx, identity.FindUsernameMessage{
				Recipient:  recipient,
				OnResponse: func(r *identity.FindUsernameResponse) { resp = r },
			})
			require.NoError(t, err, "recipient %q", recipient)
			require.NotNil(t, resp)
			assert.Equal(t, "pep******", resp.MaskedUsername)
		}
	})

	t.Run("unknown recipient", func(t *testing.T) {
		_, repo, _, _ := newTestVerifier(t)

		err := identity.NewFindUsernameHandler(repo).Execute(ctx, identity.FindUsernameMessage{
			Recipient: "nobody@example.com",
		})
		require.True(t, goerrors.Is(err, identity.ErrIdentityNotFound))
	})
}

func TestMaskUsername(t *testing.T) {
	cases := map[string]string{
		"pepe.rone": "pep******",
		"cat":       "cat",
		"ab":        "ab",
		"":          "",
		"네코네코냥":     "네코네**",
	}

	for in, want := range cases {
		assert.Equal(t, want, identity.MaskUsername(in), "input %q", in)
	}
}

func TestRegisterUserCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("derives the username from the email", func(t *testing.T) {
		_, repo, _, _ := newTestVerifier(t)

		err := identity.NewRegisterUserHandler(repo).Execute(ctx, identity.RegisterUserMessage{
			Email:    "pepe.rone@example.com",
			Password: "super-secret-pass",
			Role:     "admin",
		})
		require.NoError(t, err)

		user, err := repo.Users().GetByIdentifier(ctx, "pepe.rone@example.com")
		require.NoError(t, err)
		assert.Equal(t, "pepe.rone", user.Username)
		assert.Equal(t, identity.RoleAdmin, user.Role)
	})

	t.Run("unknown role falls back to the default", func(t *testing.T) {
		_, repo, _, _ := newTestVerifier(t)

		err := identity.NewRegisterUserHandler(repo).Execute(ctx, identity.RegisterUserMessage{
			Username: "other.cat",
			Email:    "other.cat@example.com",
			Password: "super-secret-pass",
			Role:     "banana",
		})
		require.NoError(t, err)

		user, err := repo.Users().GetByIdentifier(ctx, "other.cat@example.com")
		require.NoError(t, err)
		assert.Equal(t, identity.RoleUser, user.Role)
	})
}
