package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// SendSMSCodeMessage texts a verification code to a phone number. The
// purpose decides what the verified number may later back: a signup, a
// password reset or a phone change.
type SendSMSCodeMessage struct {
	Phone      string  `json:"phone" example:"010-1234-5678" doc:"Phone number to verify."`
	Purpose    Purpose `json:"purpose" example:"SMS_SIGNUP" doc:"SMS purpose the code is issued under."`
	OnResponse func(resp *SendSMSCodeResponse)
}

func (p SendSMSCodeMessage) Type() string { return "sms.code.send" }

type SendSMSCodeResponse struct {
	Phone   string
	Success bool
}

type SendSMSCodeHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewSendSMSCodeHandler(repo RepositoryManager, verifier *Verifier) *SendSMSCodeHandler {
	return &SendSMSCodeHandler{repo: repo, verifier: verifier}
}

func (h *SendSMSCodeHandler) Execute(ctx context.Context, event SendSMSCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during SMS code request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendSMSCodeHandler) execute(ctx context.Context, event SendSMSCodeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	purpose := event.Purpose
	if purpose == "" {
		purpose = PurposeSMSSignup
	}

	if !purpose.IsSMS() {
		return goerrors.New("unknown or invalid purpose for SMS verification", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": string(purpose)})
	}

	phone, err := h.verifier.NormalizeRecipient(event.Phone, purpose)
	if err != nil {
		return err
	}

	if purpose == PurposeSMSSignup {
		err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			_, err := h.repo.Users().GetByIdentifierTx(ctx, tx, phone)
			if err != nil {
				if repository.IsRecordNotFound(err) {
					return nil
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check phone availability")
			}
			return goerrors.New("phone number already registered", goerrors.CategoryConflict).
				WithTextCode("DUPLICATE_PHONE").
				WithCode(goerrors.CodeConflict)
		})
		if err != nil {
			return normalizeCommandError(err, "failed to request SMS code")
		}
	}

	if err := h.verifier.RequestCode(ctx, phone, purpose); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&SendSMSCodeResponse{Phone: phone, Success: true})
	}

	return nil
}

// ConfirmSMSCodeMessage checks a texted code. A match moves the row to
// verified so a later operation can consume the proof.
type ConfirmSMSCodeMessage struct {
	Phone      string  `json:"phone" example:"010-1234-5678" doc:"Phone number being verified."`
	Purpose    Purpose `json:"purpose" example:"SMS_SIGNUP" doc:"SMS purpose the code was issued under."`
	Code       string  `json:"code" example:"482913" doc:"Six digit code from the text message."`
	OnResponse func(resp *ConfirmSMSCodeResponse)
}

func (p ConfirmSMSCodeMessage) Type() string { return "sms.code.confirm" }

type ConfirmSMSCodeResponse struct {
	Phone   string
	Success bool
}

type ConfirmSMSCodeHandler struct {
	repo     RepositoryManager
	verifier *Verifier
}

func NewConfirmSMSCodeHandler(repo RepositoryManager, verifier *Verifier) *ConfirmSMSCodeHandler {
	return &ConfirmSMSCodeHandler{repo: repo, verifier: verifier}
}

func (h *ConfirmSMSCodeHandler) Execute(ctx context.Context, event ConfirmSMSCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during SMS code confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmSMSCodeHandler) execute(ctx context.Context, event ConfirmSMSCodeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	purpose := event.Purpose
	if purpose == "" {
		purpose = PurposeSMSSignup
	}

	if !purpose.IsSMS() {
		return goerrors.New("unknown or invalid purpose for SMS verification", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": string(purpose)})
	}

	if err := h.verifier.Confirm(ctx, event.Phone, purpose, event.Code); err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&ConfirmSMSCodeResponse{Phone: event.Phone, Success: true})
	}

	return nil
}
