package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// InitializePasswordResetMessage asks for a reset code to be delivered
// to the account's email or phone. The channel follows the purpose:
// PASSWORD_RESET mails the code, SMS_PASSWORD_RESET texts it.
type InitializePasswordResetMessage struct {
	Recipient  string  `json:"recipient" example:"pepe.rone@example.com" doc:"Email address or phone number on the account."`
	Purpose    Purpose `json:"purpose" example:"PASSWORD_RESET" doc:"Reset purpose selecting the delivery channel."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

type InitializePasswordResetResponse struct {
	Recipient string
	Success   bool
}

type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewInitializePasswordResetHandler(repo RepositoryManager, verifier *Verifier) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{repo: repo, verifier: verifier}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	purpose := event.Purpose
	if purpose == "" {
		purpose = PurposePasswordReset
	}

	if purpose != PurposePasswordReset && purpose != PurposeSMSPasswordReset {
		return goerrors.New("unknown or invalid purpose for password reset", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": string(purpose)})
	}

	recipient, err := h.verifier.NormalizeRecipient(event.Recipient, purpose)
	if err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().GetByIdentifierTx(ctx, tx, recipient); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to initialize password reset")
	}

	if err := h.verifier.RequestCode(ctx, recipient, purpose); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{Recipient: recipient, Success: true})
	}

	return nil
}
