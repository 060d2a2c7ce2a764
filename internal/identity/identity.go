// Package identity is the backend's identity service: accounts with bcrypt
// password hashes, HS256 access tokens and logout by token id. Accounts and
// revocations live in internal tables of the row store, which are never
// reachable through the table API.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"youth-mis/internal/apperr"
	"youth-mis/internal/auth"
	"youth-mis/internal/model"
	"youth-mis/internal/store"
	"youth-mis/internal/validation"
)

const (
	usersTable       = "auth_users"
	revocationsTable = "auth_revocations"
)

// Grant is the result of a successful sign-up or sign-in.
type Grant struct {
	Identity    model.Identity
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type Service struct {
	store  store.Tables
	tokens auth.TokenConfig

	// signupMu serializes account creation so emails stay unique.
	signupMu sync.Mutex
	validate *validation.Validator
}

func NewService(tables store.Tables, tokens auth.TokenConfig) *Service {
	return &Service{store: tables, tokens: tokens, validate: validation.New()}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) checkEmail(op, email string) error {
	return s.validate.Var(op, "email", email, "required,email")
}

func (s *Service) findByEmail(ctx context.Context, email string) (model.Row, error) {
	rows, err := s.store.Select(ctx, model.Query{Table: usersTable, Eq: map[string]any{"email": email}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

func identityOf(r model.Row) model.Identity {
	var created int64
	switch v := r["created_at"].(type) {
	case float64:
		created = int64(v)
	case int64:
		created = v
	}
	return model.Identity{ID: r.ID(), Email: r.String("email"), CreatedAt: created}
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (Grant, error) {
	const op = "signup"
	id, err := s.createUser(ctx, op, email, password)
	if err != nil {
		return Grant{}, err
	}
	return s.issue(ctx, id)
}

func (s *Service) createUser(ctx context.Context, op, email, password string) (model.Identity, error) {
	email = normalizeEmail(email)
	if err := s.checkEmail(op, email); err != nil {
		return model.Identity{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return model.Identity{}, apperr.FieldError(op, "password", err.Error())
		}
		return model.Identity{}, apperr.Wrap(apperr.KindInternal, op, err)
	}

	s.signupMu.Lock()
	defer s.signupMu.Unlock()

	if _, err := s.findByEmail(ctx, email); err == nil {
		return model.Identity{}, &apperr.Error{Kind: apperr.KindConflict, Op: op, Field: "email", Message: "email already registered"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Identity{}, apperr.Wrap(apperr.KindInternal, op, err)
	}

	row, err := s.store.Insert(ctx, usersTable, model.Row{"email": email, "password_hash": hash})
	if err != nil {
		return model.Identity{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return identityOf(row), nil
}

// Upsert creates the account or, if the email exists, resets its password.
func (s *Service) Upsert(ctx context.Context, email, password string) (model.Identity, bool, error) {
	const op = "upsert-user"
	existing, err := s.findByEmail(ctx, normalizeEmail(email))
	switch {
	case errors.Is(err, store.ErrNotFound):
		id, err := s.createUser(ctx, op, email, password)
		return id, err == nil, err
	case err != nil:
		return model.Identity{}, false, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return model.Identity{}, false, apperr.FieldError(op, "password", err.Error())
		}
		if existing, err = s.store.Update(ctx, usersTable, existing.ID(), model.Row{"password_hash": hash}); err != nil {
			return model.Identity{}, false, apperr.Wrap(apperr.KindInternal, op, err)
		}
	}
	return identityOf(existing), false, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Grant, error) {
	const op = "signin"
	row, err := s.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Grant{}, apperr.New(apperr.KindAuth, op, auth.ErrPasswordMismatch.Error())
		}
		return Grant{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if err := auth.CheckPassword(row.String("password_hash"), password); err != nil {
		return Grant{}, apperr.New(apperr.KindAuth, op, err.Error())
	}
	return s.issue(ctx, identityOf(row))
}

func (s *Service) issue(ctx context.Context, id model.Identity) (Grant, error) {
	role, _ := s.roleOf(ctx, id.ID)
	token, claims, err := auth.CreateToken(auth.Subject{UserID: id.ID, Email: id.Email, Role: string(role)}, s.tokens)
	if err != nil {
		return Grant{}, apperr.Wrap(apperr.KindInternal, "issue-token", err)
	}
	return Grant{
		Identity:    id,
		AccessToken: token,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Authenticate verifies token and resolves the caller's current role from
// the profiles table. A caller without a profile has no role.
func (s *Service) Authenticate(ctx context.Context, token string) (model.Caller, error) {
	const op = "authenticate"
	claims, err := auth.VerifyToken(token, s.tokens)
	if err != nil {
		return model.Caller{}, apperr.New(apperr.KindAuth, op, "invalid or expired token")
	}
	if _, err := s.store.Get(ctx, revocationsTable, claims.ID); err == nil {
		return model.Caller{}, apperr.New(apperr.KindAuth, op, "token revoked")
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Caller{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	role, err := s.roleOf(ctx, claims.Subject)
	if err != nil {
		return model.Caller{}, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return model.Caller{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

func (s *Service) roleOf(ctx context.Context, userID string) (model.Role, error) {
	p, err := s.store.Get(ctx, model.TableProfiles, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return model.Role(p.String("role")), nil
}

// SignOut revokes token. Revoking an invalid or already revoked token is not
// an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := auth.VerifyToken(token, s.tokens)
	if err != nil {
		return nil
	}
	_, err = s.store.Insert(ctx, revocationsTable, model.Row{
		"id":         claims.ID,
		"user_id":    claims.Subject,
		"expires_at": claims.ExpiresAt.Time.UnixMilli(),
	})
	if err != nil && !apperr.IsKind(err, apperr.KindConflict) {
		return apperr.Wrap(apperr.KindInternal, "signout", err)
	}
	return nil
}

func (s *Service) User(ctx context.Context, userID string) (model.Identity, error) {
	row, err := s.store.Get(ctx, usersTable, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Identity{}, apperr.New(apperr.KindAuth, "user", "user no longer exists")
		}
		return model.Identity{}, apperr.Wrap(apperr.KindInternal, "user", err)
	}
	return identityOf(row), nil
}
