package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"

	"github.com/catconnect/go-identity/notification"
)

// Verifier drives the one-time verification lifecycle: issue a secret,
// confirm it, consume it. Issuance and delivery share a transaction so a
// failed dispatch never leaves an orphaned secret behind.
type Verifier struct {
	repo          RepositoryManager
	dispatcher    *notification.Dispatcher
	machine       VerificationStateMachine
	logger        Logger
	activitySink  ActivitySink
	now           func() time.Time
	verifyBaseURL string
	phoneRegion   string
}

// VerifierOption customizes the Verifier.
type VerifierOption func(*Verifier)

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVerifierClock injects a custom clock (useful for tests).
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithVerifierActivitySink publishes issuance events to the sink.
func WithVerifierActivitySink(sink ActivitySink) VerifierOption {
	return func(v *Verifier) {
		v.activitySink = normalizeActivitySink(sink)
	}
}

// WithVerifierStateMachine overrides the lifecycle machine.
func WithVerifierStateMachine(machine VerificationStateMachine) VerifierOption {
	return func(v *Verifier) {
		if machine != nil {
			v.machine = machine
		}
	}
}

// WithVerifyBaseURL sets the public base URL used to build email
// verification links.
func WithVerifyBaseURL(baseURL string) VerifierOption {
	return func(v *Verifier) {
		v.verifyBaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithPhoneRegion sets the default region for parsing national numbers.
func WithPhoneRegion(region string) VerifierOption {
	return func(v *Verifier) {
		if region != "" {
			v.phoneRegion = region
		}
	}
}

// NewVerifier wires the verification service.
func NewVerifier(repo RepositoryManager, dispatcher *notification.Dispatcher, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		repo:         repo,
		dispatcher:   dispatcher,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		phoneRegion:  "KR",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	if v.machine == nil {
		v.machine = NewVerificationStateMachine(repo.VerificationTokens())
	}

	return v
}

// NormalizeRecipient canonicalizes the key the secret is filed under:
// E.164 for phone purposes, lower-case for email purposes.
func (v *Verifier) NormalizeRecipient(recipient string, purpose Purpose) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", goerrors.New("recipient is required", goerrors.CategoryBadInput)
	}

	if !purpose.IsSMS() {
		return strings.ToLower(recipient), nil
	}

	num, err := phonenumbers.Parse(recipient, v.phoneRegion)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid phone number").
			WithTextCode("INVALID_PHONE_NUMBER").
			WithCode(goerrors.CodeBadRequest)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryBadInput).
			WithTextCode("INVALID_PHONE_NUMBER").
			WithCode(goerrors.CodeBadRequest)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// RequestCode issues a fresh 6 digit code for (recipient, purpose),
// replacing any previous secret, and delivers it. Delivery failure
// aborts the transaction.
func (v *Verifier) RequestCode(ctx context.Context, recipient string, purpose Purpose) error {
	if !purpose.IsValid() || purpose.IsLink() {
		return goerrors.New("purpose does not issue codes", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	normalized, err := v.NormalizeRecipient(recipient, purpose)
	if err != nil {
		return err
	}

	code, err := NewNumericCode()
	if err != nil {
		return err
	}

	record, err := NewCodeVerification(normalized, purpose, code, v.now())
	if err != nil {
		return err
	}

	err = v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tokens := v.repo.VerificationTokens()

		if err := tokens.DeleteAllTx(ctx, tx, normalized, purpose); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate previous verification")
		}

		if _, err := tokens.CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification")
		}

		return v.deliverCode(ctx, normalized, purpose, code)
	})

	if err != nil {
		return normalizeVerificationError(err)
	}

	v.emitRequested(ctx, normalized, purpose)
	return nil
}

// RequestLink stages a pending account behind an emailed activation
// link. The staged password must already be hashed.
func (v *Verifier) RequestLink(ctx context.Context, email, pendingUsername, pendingPasswordHash string) (string, error) {
	normalized, err := v.NormalizeRecipient(email, PurposeEmailLink)
	if err != nil {
		return "", err
	}

	secret := NewLinkSecret()
	record, err := NewLinkVerification(normalized, secret, pendingUsername, pendingPasswordHash, v.now())
	if err != nil {
		return "", err
	}

	err = v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		tokens := v.repo.VerificationTokens()

		if err := tokens.DeleteAllTx(ctx, tx, normalized, PurposeEmailLink); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to invalidate previous verification")
		}

		if _, err := tokens.CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification")
		}

		link := fmt.Sprintf("%s/verify-email?token=%s", v.verifyBaseURL, secret)
		return v.dispatcher.DispatchTemplate(ctx, notification.KindEmail, notification.Message{
			To:        normalized,
			Variables: map[string]string{"verificationLink": link},
		}, notification.TemplateSignupVerification)
	})

	if err != nil {
		return "", normalizeVerificationError(err)
	}

	v.emitRequested(ctx, normalized, PurposeEmailLink)
	return secret, nil
}

// Confirm checks the submitted secret against the live row. Email
// purposes are consumed on the spot; SMS purposes park in the verified
// state until Consume.
func (v *Verifier) Confirm(ctx context.Context, recipient string, purpose Purpose, secret string) error {
	return v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return v.ConfirmTx(ctx, tx, recipient, purpose, secret)
	})
}

// ConfirmTx is Confirm within an existing transaction.
func (v *Verifier) ConfirmTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose, secret string) error {
	record, err := v.liveRecordTx(ctx, tx, recipient, purpose, secret)
	if err != nil {
		return err
	}

	target := VerificationUsed
	if purpose.IsSMS() {
		target = VerificationVerified
	}

	_, err = v.machine.Transition(ctx, tx, ActorRef{Type: "recipient"}, record, target)
	return err
}

// Check runs the Confirm validations without changing state. The
// password reset flow uses it so the code survives until the final
// reset request.
func (v *Verifier) Check(ctx context.Context, recipient string, purpose Purpose, secret string) error {
	return v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := v.liveRecordTx(ctx, tx, recipient, purpose, secret)
		return err
	})
}

// ConfirmLinkTx resolves an activation link secret, consumes the row and
// returns it so the caller can create the staged account.
func (v *Verifier) ConfirmLinkTx(ctx context.Context, tx bun.IDB, secret string) (*VerificationToken, error) {
	record, err := v.repo.VerificationTokens().GetBySecretTx(ctx, tx, PurposeEmailLink, secret)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrVerificationNotRequested
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve verification link")
	}

	if record.Used {
		return nil, ErrVerificationAlreadyUsed
	}

	if record.IsExpired(v.now()) {
		return nil, ErrVerificationExpired
	}

	if _, err := v.machine.Transition(ctx, tx, ActorRef{Type: "recipient"}, record, VerificationUsed); err != nil {
		return nil, err
	}

	return record, nil
}

// Consume retires a verified SMS row. Rows that never reached verified
// are rejected.
func (v *Verifier) Consume(ctx context.Context, recipient string, purpose Purpose) error {
	return v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return v.ConsumeTx(ctx, tx, recipient, purpose)
	})
}

// ConsumeTx is Consume within an existing transaction.
func (v *Verifier) ConsumeTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) error {
	normalized, err := v.NormalizeRecipient(recipient, purpose)
	if err != nil {
		return err
	}

	record, err := v.repo.VerificationTokens().GetLiveTx(ctx, tx, normalized, purpose)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrVerificationNotRequested
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load verification")
	}

	if record.Status() != VerificationVerified {
		return ErrVerificationNotVerified
	}

	_, err = v.machine.Transition(ctx, tx, ActorRef{Type: "system"}, record, VerificationUsed)
	return err
}

// IsVerified reports whether the recipient holds a confirmed, not yet
// consumed verification for the purpose.
func (v *Verifier) IsVerified(ctx context.Context, recipient string, purpose Purpose) (bool, error) {
	normalized, err := v.NormalizeRecipient(recipient, purpose)
	if err != nil {
		return false, err
	}

	var verified bool
	err = v.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		verified, err = v.repo.VerificationTokens().HasVerifiedTx(ctx, tx, normalized, purpose)
		return err
	})

	return verified, err
}

func (v *Verifier) liveRecordTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose, secret string) (*VerificationToken, error) {
	normalized, err := v.NormalizeRecipient(recipient, purpose)
	if err != nil {
		return nil, err
	}

	record, err := v.repo.VerificationTokens().GetLiveTx(ctx, tx, normalized, purpose)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrVerificationNotRequested
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load verification")
	}

	// expiry wins over mismatch so probing cannot tell them apart
	if record.IsExpired(v.now()) {
		return nil, ErrVerificationExpired
	}

	if subtle.ConstantTimeCompare([]byte(record.Secret), []byte(secret)) != 1 {
		return nil, ErrVerificationCodeMismatch
	}

	return record, nil
}

func (v *Verifier) deliverCode(ctx context.Context, recipient string, purpose Purpose, code string) error {
	if purpose.IsSMS() {
		text := fmt.Sprintf("Your verification code is %s", code)
		return v.dispatcher.Dispatch(ctx, notification.KindSMS, notification.Message{
			To:        recipient,
			Body:      text,
			Variables: map[string]string{"message": text},
		})
	}

	template := notification.TemplateSignupCode
	if purpose == PurposePasswordReset {
		template = notification.TemplatePasswordReset
	}

	return v.dispatcher.DispatchTemplate(ctx, notification.KindEmail, notification.Message{
		To:        recipient,
		Variables: map[string]string{"code": code},
	}, template)
}

func (v *Verifier) emitRequested(ctx context.Context, recipient string, purpose Purpose) {
	event := ActivityEvent{
		EventType:  ActivityEventVerificationRequested,
		Actor:      ActorRef{Type: "recipient"},
		Recipient:  recipient,
		Purpose:    purpose,
		OccurredAt: v.now(),
	}

	if err := v.activitySink.Record(ctx, event); err != nil {
		v.logger.Warn("activity sink record error: %v", err)
	}
}

// normalizeVerificationError maps dispatcher failures onto the package
// taxonomy so callers see a single delivery error.
func normalizeVerificationError(err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.TextCode {
		case "CHANNEL_UNSUPPORTED":
			return ErrChannelUnsupported
		case "DELIVERY_FAILED":
			return goerrors.Wrap(err, ErrDeliveryFailed.Category, ErrDeliveryFailed.Message).
				WithTextCode(ErrDeliveryFailed.TextCode).
				WithCode(ErrDeliveryFailed.Code)
		}
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "verification request failed")
}
