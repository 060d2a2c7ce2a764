package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"youth-mis/internal/app"
	"youth-mis/internal/backend/embedded"
	"youth-mis/internal/model"
	"youth-mis/internal/session"
)

func newCLI(t *testing.T) (*commandLine, *bytes.Buffer, *embedded.Backend) {
	t.Helper()
	b, err := embedded.New(context.Background(), embedded.Options{Secret: "test-secret"})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	a := app.New(app.Options{Backend: b.Backend(), Tokens: &session.MemoryTokenStore{}, AutoProvision: true})
	t.Cleanup(a.Close)
	out := &bytes.Buffer{}
	return &commandLine{app: a, out: out}, out, b
}

func mockPassword(t *testing.T, pwd string, err error) {
	t.Helper()
	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), err }
	t.Cleanup(func() { readPasswordFunc = orig })
}

func run(cli *commandLine, args ...string) error {
	return cli.run(context.Background(), append([]string{"misctl"}, args...))
}

func TestRun_Usage(t *testing.T) {
	cli, out, _ := newCLI(t)
	assert.ErrorIs(t, run(cli), errHelp)
	assert.Contains(t, out.String(), "Usage:")
	assert.ErrorIs(t, run(cli, "launch"), errHelp)
}

func TestSignUpAndWhoami(t *testing.T) {
	cli, out, _ := newCLI(t)
	mockPassword(t, "correct horse", nil)

	require.NoError(t, run(cli, "signup", "-email", "ada@example.com", "-name", "Ada", "-role", "trainer"))
	assert.Contains(t, out.String(), "role trainer")
	assert.Contains(t, out.String(), "view:    trainer")

	out.Reset()
	require.NoError(t, run(cli, "signout"))
	require.NoError(t, run(cli, "whoami"))
	assert.Contains(t, out.String(), "not signed in")

	out.Reset()
	require.NoError(t, run(cli, "signin", "-email", "ada@example.com"))
	assert.Contains(t, out.String(), "ada@example.com")
}

func TestSignInRequiresEmailAndPassword(t *testing.T) {
	cli, _, _ := newCLI(t)
	mockPassword(t, "", nil)
	assert.ErrorIs(t, run(cli, "signin"), errHelp)
	assert.ErrorIs(t, run(cli, "signin", "-email", "ada@example.com"), errHelp)

	boom := errors.New("no tty")
	mockPassword(t, "", boom)
	assert.ErrorIs(t, run(cli, "signin", "-email", "ada@example.com"), boom)
}

func TestTableCommands(t *testing.T) {
	cli, out, _ := newCLI(t)
	mockPassword(t, "correct horse", nil)
	require.NoError(t, run(cli, "signup", "-email", "ops@example.com", "-role", "staff"))

	out.Reset()
	require.NoError(t, run(cli, "create", "-table", "programs", "-data", `{"name":"Robotics","status":"planned","capacity":12}`))
	var created model.Program
	require.NoError(t, json.Unmarshal(out.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	out.Reset()
	require.NoError(t, run(cli, "update", "-table", "programs", "-id", created.ID, "-data", `{"status":"running"}`))
	assert.Contains(t, out.String(), `"running"`)

	out.Reset()
	require.NoError(t, run(cli, "list", "-table", "programs", "-eq", "status=running"))
	var listed []model.Program
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	require.Len(t, listed, 1)

	out.Reset()
	require.NoError(t, run(cli, "delete", "-table", "programs", "-id", created.ID))
	assert.Contains(t, out.String(), "deleted programs/"+created.ID)

	err := run(cli, "list", "-table", "spaceships")
	assert.ErrorContains(t, err, "unknown table")

	err = run(cli, "list", "-table", "programs", "-join", "bad")
	assert.Error(t, err)
}

func TestDashboardCommand(t *testing.T) {
	cli, out, _ := newCLI(t)
	require.NoError(t, run(cli, "dashboard"))
	assert.Contains(t, out.String(), "view: unauthenticated")

	mockPassword(t, "correct horse", nil)
	require.NoError(t, run(cli, "signup", "-email", "kid@example.com"))
	out.Reset()
	require.NoError(t, run(cli, "dashboard"))
	assert.Contains(t, out.String(), "view: student")
	assert.Contains(t, out.String(), "programs")
	assert.NotContains(t, out.String(), "revenue")
}

func TestNotificationsCommand(t *testing.T) {
	cli, out, b := newCLI(t)
	mockPassword(t, "correct horse", nil)
	require.NoError(t, run(cli, "signup", "-email", "kid@example.com"))
	me := cli.app.Session.Snapshot().Session.Identity.ID
	rows, err := b.Core().Rows.Elevated().Insert(context.Background(), model.Caller{}, model.TableNotifications,
		[]model.Row{{"user_id": me, "title": "Welcome", "message": "Hello", "type": "info", "read": false}})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, run(cli, "notifications"))
	assert.True(t, strings.HasPrefix(out.String(), "* "), out.String())

	out.Reset()
	require.NoError(t, run(cli, "notifications", "-read", rows[0].ID()))
	out.Reset()
	require.NoError(t, run(cli, "notifications"))
	assert.True(t, strings.HasPrefix(out.String(), "  "), out.String())
}

func TestInvokeCommand(t *testing.T) {
	cli, _, _ := newCLI(t)
	mockPassword(t, "correct horse", nil)
	require.NoError(t, run(cli, "signup", "-email", "kid@example.com"))

	err := run(cli, "invoke", "-name", "security-config")
	assert.Error(t, err, "students may not read the security configuration")

	assert.Error(t, run(cli, "invoke", "-name", "export-data", "-data", "{"))
	assert.ErrorIs(t, run(cli, "invoke"), errHelp)
}

func TestEqFlags(t *testing.T) {
	eq := eqFlags{}
	require.NoError(t, eq.Set("status=open"))
	require.NoError(t, eq.Set("company=ACME"))
	assert.Equal(t, "company=ACME,status=open", eq.String())
	assert.Error(t, eq.Set("nope"))

	var j joinFlags
	require.NoError(t, j.Set("programs:program_id"))
	assert.Equal(t, "programs:program_id", j.String())
	assert.Error(t, j.Set("programs"))
}
