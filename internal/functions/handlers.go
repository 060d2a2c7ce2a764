package functions

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sort"

	"youth-mis/internal/apperr"
	"youth-mis/internal/email"
	"youth-mis/internal/model"
	"youth-mis/internal/notify"
	"youth-mis/internal/store"
)

type createNotificationRequest struct {
	Target  notify.Target  `json:"target"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Options notify.Options `json:"options"`
}

type createNotificationResponse struct {
	Count         int                  `json:"count"`
	Notifications []model.Notification `json:"notifications"`
}

func (r *Registry) createNotification(ctx context.Context, _ model.Caller, body json.RawMessage) (any, error) {
	var req createNotificationRequest
	if err := decode(CreateNotification, body, &req); err != nil {
		return nil, err
	}
	res, err := r.deps.Notifier.Notify(ctx, req.Target, req.Title, req.Message, req.Options)
	if err != nil {
		return nil, err
	}
	return createNotificationResponse{Count: res.Count(), Notifications: res.Created}, nil
}

type sendNotificationEmailRequest struct {
	NotificationID string `json:"notification_id" validate:"required"`
}

func (r *Registry) sendNotificationEmail(ctx context.Context, _ model.Caller, body json.RawMessage) (any, error) {
	var req sendNotificationEmailRequest
	if err := decode(SendNotificationEmail, body, &req); err != nil {
		return nil, err
	}
	if err := r.validate.Struct(SendNotificationEmail, req); err != nil {
		return nil, err
	}
	d, err := r.deps.Notifier.EmailNotification(ctx, req.NotificationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "user_id": d.UserID, "address": d.Address}, nil
}

type sendTestEmailRequest struct {
	To string `json:"to" validate:"required,email"`
}

func (r *Registry) sendTestEmail(ctx context.Context, caller model.Caller, body json.RawMessage) (any, error) {
	var req sendTestEmailRequest
	if err := decode(SendTestEmail, body, &req); err != nil {
		return nil, err
	}
	if req.To == "" {
		req.To = caller.Email
	}
	if err := r.validate.Struct(SendTestEmail, req); err != nil {
		return nil, err
	}
	err := r.deps.Sender.Send(ctx, email.Message{
		To:      mail.Address{Address: req.To},
		Subject: "Test email",
		Text:    fmt.Sprintf("This is a test email from %s. Email delivery is configured correctly.", r.deps.AppName),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, SendTestEmail, err)
	}
	return map[string]any{"sent": true, "to": req.To}, nil
}

type upsertUserRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display_name,omitempty" validate:"omitempty,max=120"`
	Role        string `json:"role,omitempty" validate:"omitempty,oneof=student trainer staff admin"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,e164"`
}

type upsertUserResponse struct {
	User    model.Identity `json:"user"`
	Profile model.Profile  `json:"profile"`
	Created bool           `json:"created"`
}

func (r *Registry) createAdminUser(ctx context.Context, _ model.Caller, body json.RawMessage) (any, error) {
	var req upsertUserRequest
	if err := decode(CreateAdminUser, body, &req); err != nil {
		return nil, err
	}
	req.Role = string(model.RoleAdmin)
	if req.Password == "" {
		return nil, apperr.FieldError(CreateAdminUser, "password", "this field is required")
	}
	return r.upsert(ctx, CreateAdminUser, req)
}

func (r *Registry) upsertUserWithProfile(ctx context.Context, _ model.Caller, body json.RawMessage) (any, error) {
	var req upsertUserRequest
	if err := decode(UpsertUserWithProfile, body, &req); err != nil {
		return nil, err
	}
	return r.upsert(ctx, UpsertUserWithProfile, req)
}

// upsert creates or updates the account, then creates or updates its
// profile. A new profile without a role gets the lowest role.
func (r *Registry) upsert(ctx context.Context, op string, req upsertUserRequest) (any, error) {
	if err := r.validate.Struct(op, req); err != nil {
		return nil, err
	}
	id, created, err := r.deps.Identity.Upsert(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	patch := model.Row{"email": id.Email}
	if req.DisplayName != "" {
		patch["display_name"] = req.DisplayName
	}
	if req.Role != "" {
		patch["role"] = req.Role
	}
	if req.Phone != "" {
		patch["phone"] = req.Phone
	}

	rows := r.deps.Rows.Elevated()
	var row model.Row
	if _, err := rows.Get(ctx, model.Caller{}, model.TableProfiles, id.ID); errors.Is(err, store.ErrNotFound) {
		patch["id"] = id.ID
		if _, ok := patch["role"]; !ok {
			patch["role"] = string(model.LowestRole)
		}
		if _, ok := patch["display_name"]; !ok {
			patch["display_name"] = id.Email
		}
		inserted, err := rows.Insert(ctx, model.Caller{}, model.TableProfiles, []model.Row{patch})
		if err != nil {
			return nil, err
		}
		row = inserted[0]
	} else if err != nil {
		return nil, err
	} else if row, err = rows.Update(ctx, model.Caller{}, model.TableProfiles, id.ID, patch); err != nil {
		return nil, err
	}

	profile, err := model.FromRow[model.Profile](row)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	r.deps.Logger.Info("user upserted", "function", op, "user", id.ID, "role", profile.Role, "created", created)
	return upsertUserResponse{User: id, Profile: profile, Created: created}, nil
}

func (r *Registry) securityConfig(context.Context, model.Caller, json.RawMessage) (any, error) {
	return r.deps.Security, nil
}

type exportRequest struct {
	Table  string         `json:"table" validate:"required"`
	Format string         `json:"format,omitempty" validate:"omitempty,oneof=json csv"`
	Eq     map[string]any `json:"eq,omitempty"`
}

type exportResponse struct {
	Table   string      `json:"table"`
	Format  string      `json:"format"`
	Count   int         `json:"count"`
	Rows    []model.Row `json:"rows,omitempty"`
	Content string      `json:"content,omitempty"`
}

// exportData runs as the caller, so the export only contains rows the
// caller could read through the table API.
func (r *Registry) exportData(ctx context.Context, caller model.Caller, body json.RawMessage) (any, error) {
	var req exportRequest
	if err := decode(ExportData, body, &req); err != nil {
		return nil, err
	}
	if err := r.validate.Struct(ExportData, req); err != nil {
		return nil, err
	}
	if req.Format == "" {
		req.Format = "json"
	}

	rows, err := r.deps.Rows.Select(ctx, caller, model.Query{Table: req.Table, Eq: req.Eq, Order: "created_at"})
	if err != nil {
		return nil, err
	}
	resp := exportResponse{Table: req.Table, Format: req.Format, Count: len(rows)}
	if req.Format == "json" {
		resp.Rows = rows
		return resp, nil
	}
	content, err := toCSV(rows)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, ExportData, err)
	}
	resp.Content = content
	return resp, nil
}

// toCSV writes one column per key seen in any row, id first, the rest sorted.
func toCSV(rows []model.Row) (string, error) {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	delete(seen, "id")
	cols := make([]string, 0, len(seen)+1)
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	cols = append([]string{"id"}, cols...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return "", err
	}
	for _, r := range rows {
		record := make([]string, len(cols))
		for i, c := range cols {
			record[i] = cell(r[c])
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64, int64, int, bool:
		return fmt.Sprint(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
