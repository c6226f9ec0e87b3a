package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// SendSignupLinkMessage starts the link based signup: username and
// password hash are staged on the verification row and the account is
// only created when the emailed link is opened.
type SendSignupLinkMessage struct {
	Username   string `json:"username" example:"pepe.rone" doc:"Handle reserved for the pending account."`
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Email address the link is sent to."`
	Password   string `json:"password" doc:"Cleartext password, hashed before staging."`
	OnResponse func(resp *SendSignupLinkResponse)
}

func (p SendSignupLinkMessage) Type() string { return "signup.link.send" }

type SendSignupLinkResponse struct {
	Email   string
	Success bool
}

type SendSignupLinkHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewSendSignupLinkHandler(repo RepositoryManager, verifier *Verifier) *SendSignupLinkHandler {
	return &SendSignupLinkHandler{repo: repo, verifier: verifier}
}

func (h *SendSignupLinkHandler) Execute(ctx context.Context, event SendSignupLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup link request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendSignupLinkHandler) execute(ctx context.Context, event SendSignupLinkMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := h.verifier.NormalizeRecipient(event.Email, PurposeEmailLink)
	if err != nil {
		return err
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
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to request signup link")
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if _, err := h.verifier.RequestLink(ctx, email, event.Username, hash); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&SendSignupLinkResponse{Email: email, Success: true})
	}

	return nil
}

// ConfirmSignupLinkMessage resolves an emailed verification link and
// creates the account from the staged fields, atomically with the row
// being retired.
type ConfirmSignupLinkMessage struct {
	Secret     string `json:"token" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Opaque token from the verification link."`
	OnResponse func(resp *ConfirmSignupLinkResponse)
}

func (p ConfirmSignupLinkMessage) Type() string { return "signup.link.confirm" }

type ConfirmSignupLinkResponse struct {
	User    *User
	Success bool
}

type ConfirmSignupLinkHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewConfirmSignupLinkHandler(repo RepositoryManager, verifier *Verifier) *ConfirmSignupLinkHandler {
	return &ConfirmSignupLinkHandler{repo: repo, verifier: verifier}
}

func (h *ConfirmSignupLinkHandler) Execute(ctx context.Context, event ConfirmSignupLinkMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup link confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmSignupLinkHandler) execute(ctx context.Context, event ConfirmSignupLinkMessage) error {
	resp := &ConfirmSignupLinkResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.verifier.ConfirmLinkTx(ctx, tx, event.Secret)
		if err != nil {
			return err
		}

		// a user may have claimed the handle while the link sat unread
		if taken, err := h.repo.Users().ExistsByUsernameTx(ctx, tx, record.PendingUsername); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check username availability")
		} else if taken {
			return ErrDuplicateUsername
		}

		user := &User{
			Username:       record.PendingUsername,
			Email:          record.Recipient,
			PasswordHash:   record.PendingPasswordHash,
			EmailValidated: true,
		}

		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user from verification link")
		}
		resp.User = created
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to confirm signup link")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
