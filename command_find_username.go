package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// FindUsernameMessage looks up the handle registered under an email or
// phone number. The response is masked so the endpoint cannot be used
// to harvest full handles.
type FindUsernameMessage struct {
	Recipient  string `json:"recipient" example:"pepe.rone@example.com" doc:"Email address or phone number on the account."`
	OnResponse func(resp *FindUsernameResponse)
}

func (p FindUsernameMessage) Type() string { return "user.find_username" }

type FindUsernameResponse struct {
	MaskedUsername string
	Success        bool
}

type FindUsernameHandler struct {
	repo RepositoryManager
}

func NewFindUsernameHandler(repo RepositoryManager) *FindUsernameHandler {
	return &FindUsernameHandler{repo: repo}
}

func (h *FindUsernameHandler) Execute(ctx context.Context, event FindUsernameMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during username lookup",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FindUsernameHandler) execute(ctx context.Context, event FindUsernameMessage) error {
	resp := &FindUsernameResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.Recipient)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up username")
		}

		resp.MaskedUsername = MaskUsername(user.Username)
		return nil
	})
	if err != nil {
		return normalizeCommandError(err, "failed to find username")
	}

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// MaskUsername keeps the first three runes and hides the rest.
func MaskUsername(username string) string {
	runes := []rune(username)
	if len(runes) <= 3 {
		return username
	}
	return string(runes[:3]) + strings.Repeat("*", len(runes)-3)
}
