// Package functions implements the backend's RPC-style functions invoked at
// /functions/v1/:name. Each function declares the lowest role allowed to
// call it and receives the raw JSON body.
package functions

import (
	"context"
	"encoding/json"
	"sort"

	"youth-mis/internal/access"
	"youth-mis/internal/apperr"
	"youth-mis/internal/email"
	"youth-mis/internal/identity"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
	"youth-mis/internal/notify"
	"youth-mis/internal/validation"
)

const (
	CreateNotification    = "create-notification"
	SendNotificationEmail = "send-notification-email"
	SendTestEmail         = "send-test-email"
	CreateAdminUser       = "create-admin-user"
	UpsertUserWithProfile = "upsert-user-with-profile"
	SecurityConfig        = "security-config"
	ExportData            = "export-data"
)

type Func func(ctx context.Context, caller model.Caller, body json.RawMessage) (any, error)

type entry struct {
	minRole model.Role
	fn      Func
}

// Security is what security-config reports.
type Security struct {
	TokenExpirySeconds   int64  `json:"token_expiry_seconds"`
	AuthRateLimit        int    `json:"auth_rate_limit_per_minute"`
	ProfileAutoProvision bool   `json:"profile_auto_provision"`
	EmailProvider        string `json:"email_provider"`
	CustomPolicy         bool   `json:"custom_policy"`
	RealtimeRelay        bool   `json:"realtime_relay"`
	Storage              string `json:"storage"`
}

type Deps struct {
	Identity *identity.Service
	Rows     *access.Service
	Notifier *notify.Notifier
	Sender   email.Sender
	Security Security
	AppName  string
	Logger   *logger.Logger
}

type Registry struct {
	deps     Deps
	validate *validation.Validator
	funcs    map[string]entry
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	r := &Registry{deps: deps, validate: validation.New(), funcs: make(map[string]entry)}
	r.register(CreateNotification, model.RoleStaff, r.createNotification)
	r.register(SendNotificationEmail, model.RoleStaff, r.sendNotificationEmail)
	r.register(SendTestEmail, model.RoleAdmin, r.sendTestEmail)
	r.register(CreateAdminUser, model.RoleAdmin, r.createAdminUser)
	r.register(UpsertUserWithProfile, model.RoleAdmin, r.upsertUserWithProfile)
	r.register(SecurityConfig, model.RoleAdmin, r.securityConfig)
	r.register(ExportData, model.RoleStaff, r.exportData)
	return r
}

func (r *Registry) register(name string, minRole model.Role, fn Func) {
	r.funcs[name] = entry{minRole: minRole, fn: fn}
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named function as caller.
func (r *Registry) Invoke(ctx context.Context, caller model.Caller, name string, body json.RawMessage) (any, error) {
	e, ok := r.funcs[name]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, name, "unknown function")
	}
	if caller.Anonymous() {
		return nil, apperr.New(apperr.KindAuth, name, "authentication required")
	}
	if !caller.Role.Valid() || !caller.Role.AtLeast(e.minRole) {
		return nil, apperr.New(apperr.KindPermission, name, "requires role "+string(e.minRole))
	}
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	return e.fn(ctx, caller, body)
}

func decode(op string, body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.New(apperr.KindValidation, op, "invalid JSON body: "+err.Error())
	}
	return nil
}
