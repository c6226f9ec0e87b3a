package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// SendSignupCodeMessage asks for a signup verification code to be
// mailed to a prospective account's email address.
type SendSignupCodeMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Email address to verify."`
	OnResponse func(resp *SendSignupCodeResponse)
}

func (p SendSignupCodeMessage) Type() string { return "signup.code.send" }

type SendSignupCodeResponse struct {
	Email   string
	Success bool
}

type SendSignupCodeHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewSendSignupCodeHandler(repo RepositoryManager, verifier *Verifier) *SendSignupCodeHandler {
	return &SendSignupCodeHandler{repo: repo, verifier: verifier}
}

func (h *SendSignupCodeHandler) Execute(ctx context.Context, event SendSignupCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup code request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendSignupCodeHandler) execute(ctx context.Context, event SendSignupCodeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	email, err := h.verifier.NormalizeRecipient(event.Email, PurposeSignupCode)
	if err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := h.repo.Users().ExistsByEmailTx(ctx, tx, email)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}
		if taken {
			return ErrDuplicateEmail
		}
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to request signup code")
	}

	if err := h.verifier.RequestCode(ctx, email, PurposeSignupCode); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&SendSignupCodeResponse{Email: email, Success: true})
	}

	return nil
}

// ConfirmSignupCodeMessage checks an emailed signup code. Email codes
// are single shot: a successful confirmation retires the row.
type ConfirmSignupCodeMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Email address being verified."`
	Code       string `json:"code" example:"482913" doc:"Six digit code from the email."`
	OnResponse func(resp *ConfirmSignupCodeResponse)
}

func (p ConfirmSignupCodeMessage) Type() string { return "signup.code.confirm" }

type ConfirmSignupCodeResponse struct {
	Email   string
	Success bool
}

type ConfirmSignupCodeHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewConfirmSignupCodeHandler(repo RepositoryManager, verifier *Verifier) *ConfirmSignupCodeHandler {
	return &ConfirmSignupCodeHandler{repo: repo, verifier: verifier}
}

func (h *ConfirmSignupCodeHandler) Execute(ctx context.Context, event ConfirmSignupCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup code confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmSignupCodeHandler) execute(ctx context.Context, event ConfirmSignupCodeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := h.verifier.Confirm(ctx, event.Email, PurposeSignupCode, event.Code); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&ConfirmSignupCodeResponse{Email: event.Email, Success: true})
	}

	return nil
}

// normalizeCommandError keeps rich errors intact and wraps everything
// else as internal.
func normalizeCommandError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
