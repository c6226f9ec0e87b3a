package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage confirms the reset code and swaps the
// password hash in the same transaction, so the code cannot be spent
// without the password actually changing.
type FinalizePasswordResetMessage struct {
	Recipient  string  `json:"recipient" example:"pepe.rone@example.com" doc:"Email address or phone number on the account."`
	Purpose    Purpose `json:"purpose" example:"PASSWORD_RESET" doc:"Reset purpose the code was issued under."`
	Code       string  `json:"code" example:"482913" doc:"Six digit reset code."`
	Password   string  `json:"password" doc:"New cleartext password, hashed before storage."`
	OnResponse func(resp *FinalizePasswordResetResponse)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

type FinalizePasswordResetResponse struct {
	User    *User
	Success bool
}

type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	verifier *Verifier
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, verifier *Verifier) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		verifier: verifier,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	resp := &FinalizePasswordResetResponse{}

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

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifierTx(ctx, tx, recipient)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if err := h.confirmCode(ctx, tx, recipient, purpose, event.Code); err != nil {
			return err
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, user.ID, hash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password hash")
		}

		resp.User = user
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to finalize password reset")
	}

	h.emitResetEvent(ctx, resp.User)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// confirmCode walks the row to its terminal state. Email codes go
// requested to used directly; SMS codes may already sit at verified
// from the verify-code endpoint, in which case they are consumed.
func (h *FinalizePasswordResetHandler) confirmCode(ctx context.Context, tx bun.Tx, recipient string, purpose Purpose, code string) error {
	err := h.verifier.ConfirmTx(ctx, tx, recipient, purpose, code)
	if err == nil {
		if purpose.IsSMS() {
			return h.verifier.ConsumeTx(ctx, tx, recipient, purpose)
		}
		return nil
	}
	return err
}

func (h *FinalizePasswordResetHandler) emitResetEvent(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType:  ActivityEventPasswordResetSuccess,
		Actor:      ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
		Metadata:   map[string]any{"email": user.Email},
	}

	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Warn("activity sink record error: %v", err)
	}
}
