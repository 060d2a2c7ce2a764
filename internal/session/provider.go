package session

import (
	"context"
	"errors"

	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/model"
)

var ErrProfileMissing = apperr.New(apperr.KindNotFound, "profile", "profile missing")

// Provider is the authentication backend the Store talks to.
type Provider interface {
	SignIn(ctx context.Context, email, password string) (model.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (model.Session, error)
	SignOut(ctx context.Context, token string) error
	GetUser(ctx context.Context, token string) (model.Identity, error)
	// GetProfile returns ErrProfileMissing when the identity has no profile.
	GetProfile(ctx context.Context, token, userID string) (model.Profile, error)
	CreateProfile(ctx context.Context, token string, p model.Profile) (model.Profile, error)
}

// BackendProvider uses the identity service and the profiles table.
type BackendProvider struct {
	auth   backend.Auth
	tables backend.Tables
}

var _ Provider = (*BackendProvider)(nil)

func NewBackendProvider(b backend.Backend) *BackendProvider {
	return &BackendProvider{auth: b.Auth, tables: b.Tables}
}

func (p *BackendProvider) SignIn(ctx context.Context, email, password string) (model.Session, error) {
	return p.auth.SignIn(ctx, email, password)
}

func (p *BackendProvider) SignUp(ctx context.Context, email, password string, data map[string]any) (model.Session, error) {
	return p.auth.SignUp(ctx, email, password, data)
}

func (p *BackendProvider) SignOut(ctx context.Context, token string) error {
	return p.auth.SignOut(ctx, token)
}

func (p *BackendProvider) GetUser(ctx context.Context, token string) (model.Identity, error) {
	return p.auth.GetUser(ctx, token)
}

func (p *BackendProvider) GetProfile(ctx context.Context, token, userID string) (model.Profile, error) {
	row, err := p.tables.Get(ctx, token, model.TableProfiles, userID)
	if errors.Is(err, apperr.NotFound) {
		return model.Profile{}, ErrProfileMissing
	}
	if err != nil {
		return model.Profile{}, err
	}
	return model.FromRow[model.Profile](row)
}

func (p *BackendProvider) CreateProfile(ctx context.Context, token string, profile model.Profile) (model.Profile, error) {
	row, err := model.ToRow(profile)
	if err != nil {
		return model.Profile{}, apperr.Wrap(apperr.KindValidation, "create-profile", err)
	}
	delete(row, "created_at")
	delete(row, "updated_at")
	rows, err := p.tables.Insert(ctx, token, model.TableProfiles, []model.Row{row})
	if err != nil {
		return model.Profile{}, err
	}
	if len(rows) == 0 {
		return model.Profile{}, apperr.New(apperr.KindInternal, "create-profile", "insert returned no row")
	}
	return model.FromRow[model.Profile](rows[0])
}
