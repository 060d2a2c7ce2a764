// Package backendtest is a behavioural suite every backend.Backend
// implementation must pass.
package backendtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/apperr"
	"youth-mis/internal/backend"
	"youth-mis/internal/model"
	"youth-mis/internal/wire"
)

// Promote grants role to the user directly, bypassing policy.
type Promote func(t *testing.T, userID string, role model.Role)

func Run(t *testing.T, b backend.Backend, promote Promote) {
	t.Run("auth", func(t *testing.T) { testAuth(t, b) })
	t.Run("tables", func(t *testing.T) { testTables(t, b) })
	t.Run("functions", func(t *testing.T) { testFunctions(t, b, promote) })
	t.Run("realtime", func(t *testing.T) { testRealtime(t, b) })
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return c
}

func signUp(t *testing.T, b backend.Backend, email string, role model.Role) model.Session {
	t.Helper()
	s, err := b.Auth.SignUp(ctx(t), email, "correct horse", map[string]any{"role": string(role)})
	require.NoError(t, err)
	require.NotEmpty(t, s.AccessToken)
	return s
}

func testAuth(t *testing.T, b backend.Backend) {
	s := signUp(t, b, "auth@example.com", model.RoleStudent)
	assert.Equal(t, "auth@example.com", s.Identity.Email)
	assert.True(t, s.ExpiresAt.After(time.Now()))

	id, err := b.Auth.GetUser(ctx(t), s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, s.Identity.ID, id.ID)

	_, err = b.Auth.SignIn(ctx(t), "auth@example.com", "wrong password")
	assert.ErrorIs(t, err, apperr.Auth)

	again, err := b.Auth.SignIn(ctx(t), "AUTH@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, s.Identity.ID, again.Identity.ID)

	_, err = b.Auth.SignUp(ctx(t), "auth@example.com", "correct horse", nil)
	assert.ErrorIs(t, err, apperr.Conflict)

	_, err = b.Auth.SignUp(ctx(t), "boss@example.com", "correct horse", map[string]any{"role": "admin"})
	assert.ErrorIs(t, err, apperr.Permission)

	require.NoError(t, b.Auth.SignOut(ctx(t), s.AccessToken))
	_, err = b.Auth.GetUser(ctx(t), s.AccessToken)
	assert.ErrorIs(t, err, apperr.Auth)
}

func testTables(t *testing.T, b backend.Backend) {
	staff := signUp(t, b, "tables-staff@example.com", model.RoleStaff)
	student := signUp(t, b, "tables-student@example.com", model.RoleStudent)

	created, err := b.Tables.Insert(ctx(t), staff.AccessToken, model.TableEmployees, []model.Row{
		{"full_name": "Ada", "position": "Coordinator", "status": "active"},
		{"full_name": "Grace", "position": "Mentor", "status": "inactive"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	id := created[0].ID()

	rows, err := b.Tables.Select(ctx(t), staff.AccessToken, model.Query{Table: model.TableEmployees, Eq: map[string]any{"status": "active"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["full_name"])

	_, err = b.Tables.Insert(ctx(t), student.AccessToken, model.TableEmployees, []model.Row{{"full_name": "Eve"}})
	assert.ErrorIs(t, err, apperr.Permission)

	_, err = b.Tables.Select(ctx(t), student.AccessToken, model.Query{Table: model.TableEmployees})
	assert.ErrorIs(t, err, apperr.Permission)

	updated, err := b.Tables.Update(ctx(t), staff.AccessToken, model.TableEmployees, id, model.Row{"position": "Director"})
	require.NoError(t, err)
	assert.Equal(t, "Director", updated["position"])

	row, err := b.Tables.Get(ctx(t), staff.AccessToken, model.TableEmployees, id)
	require.NoError(t, err)
	assert.Equal(t, "Director", row["position"])

	require.NoError(t, b.Tables.Delete(ctx(t), staff.AccessToken, model.TableEmployees, id))
	_, err = b.Tables.Get(ctx(t), staff.AccessToken, model.TableEmployees, id)
	assert.ErrorIs(t, err, apperr.NotFound)

	_, err = b.Tables.Select(ctx(t), "not-a-token", model.Query{Table: model.TableEmployees})
	assert.ErrorIs(t, err, apperr.Auth)
}

func testFunctions(t *testing.T, b backend.Backend, promote Promote) {
	admin := signUp(t, b, "fn-admin@example.com", model.RoleStaff)
	promote(t, admin.Identity.ID, model.RoleAdmin)
	student := signUp(t, b, "fn-student@example.com", model.RoleStudent)

	data, err := b.Functions.Invoke(ctx(t), admin.AccessToken, "security-config", nil)
	require.NoError(t, err)
	var sec map[string]any
	require.NoError(t, json.Unmarshal(data, &sec))
	assert.Contains(t, sec, "token_expiry_seconds")

	_, err = b.Functions.Invoke(ctx(t), student.AccessToken, "security-config", nil)
	assert.ErrorIs(t, err, apperr.Permission)

	_, err = b.Functions.Invoke(ctx(t), admin.AccessToken, "upsert-user-with-profile", map[string]any{"email": "new@example.com", "role": "wizard", "password": "long enough"})
	assert.Equal(t, "role", apperr.FieldOf(err))

	data, err = b.Functions.Invoke(ctx(t), admin.AccessToken, "create-notification", map[string]any{
		"target":  map[string]any{"user_id": student.Identity.ID},
		"title":   "Hello",
		"message": "Welcome aboard",
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"count":1`)

	rows, err := b.Tables.Select(ctx(t), student.AccessToken, model.Query{Table: model.TableNotifications})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func testRealtime(t *testing.T, b backend.Backend) {
	staff := signUp(t, b, "rt-staff@example.com", model.RoleStaff)

	conn, err := b.Realtime.Dial(ctx(t), staff.AccessToken)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Subscribe(model.TableInventory, model.OpInsert))
	msg, err := conn.Next(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeSubscribed, msg.Type)

	_, err = b.Tables.Insert(ctx(t), staff.AccessToken, model.TableInventory, []model.Row{{"id": "sku-1", "name": "Laptop"}})
	require.NoError(t, err)
	msg, err = conn.Next(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeChange, msg.Type)
	assert.Equal(t, model.TableInventory, msg.Table)
	assert.Equal(t, model.OpInsert, msg.Op)
	assert.Equal(t, "sku-1", msg.ID)

	student := signUp(t, b, "rt-student@example.com", model.RoleStudent)
	sconn, err := b.Realtime.Dial(ctx(t), student.AccessToken)
	require.NoError(t, err)
	defer sconn.Close()
	require.NoError(t, sconn.Subscribe(model.TableInventory))
	msg, err = sconn.Next(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, wire.TypeError, msg.Type)
	assert.Equal(t, model.TableInventory, msg.Table)
	assert.Equal(t, apperr.KindPermission.String(), msg.Code)

	_, err = b.Realtime.Dial(ctx(t), "not-a-token")
	assert.ErrorIs(t, err, apperr.Auth)

	require.NoError(t, b.Auth.SignOut(ctx(t), student.AccessToken))
	_, err = b.Realtime.Dial(ctx(t), student.AccessToken)
	assert.ErrorIs(t, err, apperr.Auth)
	_, err = b.Tables.Select(ctx(t), student.AccessToken, model.Query{Table: model.TablePrograms})
	assert.ErrorIs(t, err, apperr.Auth)
}
