package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationTokens stores one-time verification secrets. At most one
// live row exists per (recipient, purpose): issuing a new secret always
// deletes the previous one first.
type VerificationTokens interface {
	repository.Repository[*VerificationToken]

	GetLive(ctx context.Context, recipient string, purpose Purpose) (*VerificationToken, error)
	GetLiveTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) (*VerificationToken, error)
	GetBySecretTx(ctx context.Context, tx bun.IDB, purpose Purpose, secret string) (*VerificationToken, error)
	DeleteAllTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) error
	HasVerifiedTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) (bool, error)
	UpdateFlagsTx(ctx context.Context, tx bun.IDB, record *VerificationToken) error
}

type verificationTokens struct {
	repository.Repository[*VerificationToken]
	db *bun.DB
}

var (
	_ VerificationTokens                        = (*verificationTokens)(nil)
	_ repository.Repository[*VerificationToken] = (*verificationTokens)(nil)
)

func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	repo := repository.NewRepository[*VerificationToken](db, repository.ModelHandlers[*VerificationToken]{
		NewRecord: func() *VerificationToken { return &VerificationToken{} },
		GetID: func(t *VerificationToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *VerificationToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "recipient"
		},
	})

	return &verificationTokens{
		Repository: repo,
		db:         db,
	}
}

func (r *verificationTokens) GetLive(ctx context.Context, recipient string, purpose Purpose) (*VerificationToken, error) {
	return r.GetLiveTx(ctx, r.db, recipient, purpose)
}

// GetLiveTx returns the unconsumed row for the pair. Used rows are
/// excluded on purpose: presenting a secret against a consumed row must
// surface "already used", which the caller resolves via GetBySecretTx.
func (r *verificationTokens) GetLiveTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) (*VerificationToken, error) {
	record := &VerificationToken{}

	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.recipient = ?", recipient).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.used = ?", false).
		Order("vtk.created_at DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"recipient": recipient,
					"purpose":   purpose,
				})
		}
		return nil, err
	}

	return record, nil
}

func (r *verificationTokens) GetBySecretTx(ctx context.Context, tx bun.IDB, purpose Purpose, secret string) (*VerificationToken, error) {
	record := &VerificationToken{}

	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.secret = ?", secret).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"purpose": purpose,
				})
		}
		return nil, err
	}

	return record, nil
}

func (r *verificationTokens) DeleteAllTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) error {
	_, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("recipient = ?", recipient).
		Where("purpose = ?", purpose).
		Exec(ctx)

	return err
}

func (r *verificationTokens) HasVerifiedTx(ctx context.Context, tx bun.IDB, recipient string, purpose Purpose) (bool, error) {
	return tx.NewSelect().
		Model((*VerificationToken)(nil)).
		Where("?TableAlias.recipient = ?", recipient).
		Where("?TableAlias.purpose = ?", purpose).
		Where("?TableAlias.verified = ?", true).
		Where("?TableAlias.used = ?", false).
		Exists(ctx)
}

// UpdateFlagsTx persists the verified/used flags after a state
// transition. Only the state machine should call this.
func (r *verificationTokens) UpdateFlagsTx(ctx context.Context, tx bun.IDB, record *VerificationToken) error {
	now := time.Now()
	record.UpdatedAt = &now

	_, err := tx.NewUpdate().
		Model(record).
		Column("verified", "used", "updated_at").
		WherePK().
		Exec(ctx)

	return err
}
