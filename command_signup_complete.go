package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CompleteSignupMessage creates the account once both contact points
// went through verification. The phone must hold a live verified SMS
// row, which is consumed in the same transaction that inserts the user.
type CompleteSignupMessage struct {
	Username   string `json:"username" example:"pepe.rone" doc:"Unique handle for the new account."`
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Verified email address."`
	Phone      string `json:"phone" example:"010-1234-5678" doc:"Verified phone number."`
	Password   string `json:"password" doc:"Cleartext password, hashed before storage."`
	OnResponse func(resp *CompleteSignupResponse)
}

func (p CompleteSignupMessage) Type() string { return "signup.complete" }

type CompleteSignupResponse struct {
	User    *User
	Success bool
}

type CompleteSignupHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewCompleteSignupHandler(repo RepositoryManager, verifier *Verifier) *CompleteSignupHandler {
	return &CompleteSignupHandler{repo: repo, verifier: verifier}
}

func (h *CompleteSignupHandler) Execute(ctx context.Context, event CompleteSignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup completion",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CompleteSignupHandler) execute(ctx context.Context, event CompleteSignupMessage) error {
	resp := &CompleteSignupResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := h.verifier.NormalizeRecipient(event.Email, PurposeSignupCode)
	if err != nil {
		return err
	}

	phone, err := h.verifier.NormalizeRecipient(event.Phone, PurposeSMSSignup)
	if err != nil {
		return err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if taken, err := h.repo.Users().ExistsByEmailTx(ctx, tx, email); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		} else if taken {
			return ErrDuplicateEmail
		}

		if taken, err := h.repo.Users().ExistsByUsernameTx(ctx, tx, event.Username); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
		} else if taken {
			return ErrDuplicateUsername
		}

		user := &User{
			Username:       event.Username,
			Email:          email,
			Phone:          phone,
			PasswordHash:   hash,
			EmailValidated: true,
		}

		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
		}
		resp.User = created

		// retire the SMS row so the proof cannot back another signup
		if err := h.verifier.ConsumeTx(ctx, tx, phone, PurposeSMSSignup); err != nil {
			if goerrors.Is(err, ErrVerificationNotRequested) || goerrors.Is(err, ErrVerificationNotVerified) {
				return ErrPhoneNotVerified
			}
			return err
		}
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to complete signup")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
