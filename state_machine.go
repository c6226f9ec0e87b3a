package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// VerificationStatus is the lifecycle state of a verification row.
type VerificationStatus string

const (
	// VerificationRequested is the state right after issuance
	VerificationRequested VerificationStatus = "requested"
	// VerificationVerified is the intermediate state SMS confirmations park in
	VerificationVerified VerificationStatus = "verified"
	// VerificationUsed is terminal, the row can never authorize again
	VerificationUsed VerificationStatus = "used"
)

// ErrInvalidVerificationTransition is returned when a requested status
// change is not allowed.
var ErrInvalidVerificationTransition = goerrors.New("invalid verification state transition", goerrors.CategoryValidation).
	WithTextCode("INVALID_VERIFICATION_TRANSITION").
	WithCode(goerrors.CodeBadRequest)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition event.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// VerificationStateMachine guards the requested -> verified -> used
// lifecycle. Email purposes jump straight from requested to used, SMS
// purposes must pass through verified.
type VerificationStateMachine interface {
	Transition(ctx context.Context, tx bun.IDB, actor ActorRef, record *VerificationToken, target VerificationStatus, opts ...TransitionOption) (*VerificationToken, error)
	CurrentStatus(record *VerificationToken) VerificationStatus
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*verificationStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *verificationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewVerificationStateMachine returns the default implementation backed
// by the provided repository.
func NewVerificationStateMachine(tokens VerificationTokens, opts ...StateMachineOption) VerificationStateMachine {
	sm := &verificationStateMachine{
		tokens: tokens,
		transitions: map[VerificationStatus]map[VerificationStatus]struct{}{
			VerificationRequested: {
				VerificationVerified: {},
				VerificationUsed:     {},
			},
			VerificationVerified: {
				VerificationUsed: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type verificationStateMachine struct {
	tokens       VerificationTokens
	transitions  map[VerificationStatus]map[VerificationStatus]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata TransitionMetadata
}

func (sm *verificationStateMachine) Transition(ctx context.Context, tx bun.IDB, actor ActorRef, record *VerificationToken, target VerificationStatus, opts ...TransitionOption) (*VerificationToken, error) {
	if record == nil {
		return nil, ErrInvalidVerificationTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "record is nil",
		})
	}

	from := record.Status()
	if from == target {
		return record, nil
	}

	if from == VerificationUsed {
		return nil, ErrVerificationAlreadyUsed
	}

	if !sm.canTransition(from, target) {
		return nil, ErrInvalidVerificationTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	// verified is reserved for the two-step SMS purposes
	if target == VerificationVerified && !record.Purpose.IsSMS() {
		return nil, ErrInvalidVerificationTransition.WithMetadata(map[string]any{
			"purpose": record.Purpose,
			"to":      target,
		})
	}

	// email purposes consume in one step, SMS must pass through verified
	if target == VerificationUsed && record.Purpose.IsSMS() && from != VerificationVerified {
		return nil, ErrVerificationNotVerified
	}

	switch target {
	case VerificationVerified:
		record.Verified = true
	case VerificationUsed:
		record.Used = true
	}

	if err := sm.tokens.UpdateFlagsTx(ctx, tx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist verification transition")
	}

	options := sm.buildTransitionOptions(opts...)
	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventVerificationChanged,
		Actor:      actor,
		Recipient:  record.Recipient,
		Purpose:    record.Purpose,
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(options.metadata),
	})

	return record, nil
}

func (sm *verificationStateMachine) CurrentStatus(record *VerificationToken) VerificationStatus {
	if record == nil {
		return ""
	}
	return record.Status()
}

func (sm *verificationStateMachine) canTransition(from, to VerificationStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *verificationStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *verificationStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *verificationStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
