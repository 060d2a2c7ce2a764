package core

import (
	"context"
	"strings"

	"youth-mis/internal/apperr"
	"youth-mis/internal/identity"
	"youth-mis/internal/model"
)

// signupProfile reads the optional profile fields of a sign-up. Admin
// cannot be self-assigned.
func signupProfile(data map[string]any) (displayName string, role model.Role, err error) {
	displayName, _ = data["display_name"].(string)
	raw, _ := data["role"].(string)
	if raw == "" {
		return displayName, "", nil
	}
	role, ok := model.ParseRole(raw)
	if !ok {
		return "", "", apperr.FieldError("signup", "role", "unknown role "+raw)
	}
	if role == model.RoleAdmin {
		return "", "", apperr.New(apperr.KindPermission, "signup", "the admin role cannot be self-assigned")
	}
	return displayName, role, nil
}

// SignUp creates the account and, when data names a role, its profile.
// A profile that cannot be written is logged and left for the client to
// provision.
func (c *Core) SignUp(ctx context.Context, email, password string, data map[string]any) (identity.Grant, error) {
	displayName, role, err := signupProfile(data)
	if err != nil {
		return identity.Grant{}, err
	}
	grant, err := c.Identity.SignUp(ctx, email, password)
	if err != nil {
		return identity.Grant{}, err
	}
	if role == "" {
		return grant, nil
	}
	if displayName == "" {
		displayName, _, _ = strings.Cut(grant.Identity.Email, "@")
	}
	_, err = c.Rows.Elevated().Insert(ctx, model.Caller{}, model.TableProfiles, []model.Row{{
		"id":           grant.Identity.ID,
		"email":        grant.Identity.Email,
		"display_name": displayName,
		"role":         string(role),
	}})
	if err != nil {
		c.log.Warn("signup profile not created", "user", grant.Identity.ID, "error", err)
	}
	return grant, nil
}
