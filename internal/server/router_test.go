package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"youth-mis/internal/auth"
	"youth-mis/internal/core"
	"youth-mis/internal/email"
	"youth-mis/internal/store"
	"youth-mis/internal/wire"
)

const testPublicKey = "pk-test"

type testEnv struct {
	router *gin.Engine
	core   *core.Core
	sender *email.ConsoleSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sender := email.NewConsoleSender(nil)
	reg := prometheus.NewRegistry()
	c, err := core.New(context.Background(), core.Options{
		Tables:     store.NewMemory(),
		Tokens:     auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"},
		Sender:     sender,
		Registerer: reg,
		AppName:    "Youth MIS",
	})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	t.Cleanup(c.Close)
	r := NewRouter(Deps{Core: c, PublicKey: testPublicKey, AuthRateLimit: 100, Version: "test", Registry: reg})
	return &testEnv{router: r, core: c, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", testPublicKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signUp(t *testing.T, emailAddr, role string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/auth/v1/signup", "", wire.SignUpRequest{
		Email:    emailAddr,
		Password: "correct horse",
		Data:     map[string]any{"role": role},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signup %s: expected 200, got %d: %s", emailAddr, w.Code, w.Body.String())
	}
	var resp wire.AuthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp.AccessToken
}

// promote sets a role directly; sign-up cannot grant admin.
func (e *testEnv) promote(t *testing.T, token, role string) {
	t.Helper()
	caller, err := e.core.Identity.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := e.core.Tables.Update(context.Background(), "profiles", caller.UserID, map[string]any{"role": role}); err != nil {
		t.Fatalf("promote: %v", err)
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) wire.ErrorBody {
	t.Helper()
	var body wire.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/health", "/version"} {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "ada@example.com", "student")

	w := env.do(t, http.MethodGet, "/auth/v1/user", token, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ada@example.com") {
		t.Fatalf("user: got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/auth/v1/token", "", wire.TokenRequest{Email: "ada@example.com", Password: "wrong password"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/auth/v1/token", "", wire.TokenRequest{Email: "ada@example.com", Password: "correct horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("token: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/auth/v1/logout", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/auth/v1/user", token, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", w.Code)
	}
}

func TestSignUp_RejectsAdminAndDuplicates(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/auth/v1/signup", "", wire.SignUpRequest{Email: "x@example.com", Password: "correct horse", Data: map[string]any{"role": "admin"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin signup: expected 403, got %d", w.Code)
	}

	env.signUp(t, "x@example.com", "trainer")
	w = env.do(t, http.MethodPost, "/auth/v1/signup", "", wire.SignUpRequest{Email: "X@example.com", Password: "correct horse"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Field != "email" || body.Code != "conflict" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/v1/token", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestTablesArePoliced(t *testing.T) {
	env := newTestEnv(t)
	staff := env.signUp(t, "staff@example.com", "staff")
	student := env.signUp(t, "kid@example.com", "student")

	w := env.do(t, http.MethodPost, "/rest/v1/students", staff, []map[string]any{
		{"full_name": "Ada", "email": "ada@example.com", "status": "active", "program_id": "p1"},
		{"full_name": "Grace", "email": "grace@example.com", "status": "graduated"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if len(created) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(created))
	}

	w = env.do(t, http.MethodPost, "/rest/v1/students", student, map[string]any{"full_name": "Eve"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("student insert: expected 403, got %d", w.Code)
	}
	if body := decodeError(t, w); body.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", body)
	}

	w = env.do(t, http.MethodGet, "/rest/v1/students?status=eq.active&order=full_name.desc", staff, nil)
	var rows []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &rows)
	if w.Code != http.StatusOK || len(rows) != 1 || rows[0]["full_name"] != "Ada" {
		t.Fatalf("filtered list: got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/rest/v1/students", student, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("student read: expected 403, got %d %s", w.Code, w.Body.String())
	}

	id := created[0]["id"].(string)
	w = env.do(t, http.MethodPatch, "/rest/v1/students/"+id, staff, map[string]any{"status": "graduated"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "graduated") {
		t.Fatalf("update: got %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodDelete, "/rest/v1/students/"+id, staff, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/rest/v1/students/"+id, staff, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", w.Code)
	}

	for _, path := range []string{"/rest/v1/auth_users", "/rest/v1/students?limit=-1", "/rest/v1/students?status=gt.1"} {
		w = env.do(t, http.MethodGet, path, staff, nil)
		if w.Code != http.StatusNotFound && w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 404 or 400, got %d", path, w.Code)
		}
	}
}

func TestTables_Join(t *testing.T) {
	env := newTestEnv(t)
	staff := env.signUp(t, "staff@example.com", "staff")

	w := env.do(t, http.MethodPost, "/rest/v1/programs", staff, map[string]any{"id": "p1", "name": "Robotics", "status": "active"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create program: %d %s", w.Code, w.Body.String())
	}
	env.do(t, http.MethodPost, "/rest/v1/students", staff, map[string]any{"full_name": "Ada", "program_id": "p1"})

	w = env.do(t, http.MethodGet, "/rest/v1/students?join=programs:program_id", staff, nil)
	var rows []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &rows)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %s", w.Body.String())
	}
	program, ok := rows[0]["programs"].(map[string]any)
	if !ok || program["name"] != "Robotics" {
		t.Fatalf("expected joined program, got %v", rows[0]["programs"])
	}
}

func TestFunctions(t *testing.T) {
	env := newTestEnv(t)
	admin := env.signUp(t, "admin@example.com", "staff")
	env.promote(t, admin, "admin")
	student := env.signUp(t, "kid@example.com", "student")

	w := env.do(t, http.MethodPost, "/functions/v1/security-config", admin, nil)
	var res wire.FunctionResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || !res.Success || !strings.Contains(string(res.Data), "token_expiry_seconds") {
		t.Fatalf("security-config: got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/functions/v1/security-config", student, nil)
	res = wire.FunctionResult{}
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusForbidden || res.Success || res.Code != "permission_denied" {
		t.Fatalf("student security-config: got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/functions/v1/create-notification", admin, map[string]any{
		"target":  map[string]any{"role": "student"},
		"title":   "Welcome",
		"message": "Classes start Monday",
		"options": map[string]any{"send_email": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create-notification: got %d %s", w.Code, w.Body.String())
	}
	env.core.Notifier.Wait()
	if sent := env.sender.Sent(); len(sent) != 1 || sent[0].To.Address != "kid@example.com" {
		t.Fatalf("expected one email to the student, got %+v", sent)
	}

	w = env.do(t, http.MethodGet, "/rest/v1/notifications", student, nil)
	var rows []map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0]["title"] != "Welcome" {
		t.Fatalf("student notifications: %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", "", nil)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mis_http_requests_total") {
		t.Fatalf("metrics: got %d", w.Code)
	}
}

func TestAuthRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, err := core.New(context.Background(), core.Options{
		Tables: store.NewMemory(),
		Tokens: auth.TokenConfig{Secret: "secret", Expiry: time.Hour},
	})
	if err != nil {
		t.Fatalf("core.New: %v", err)
	}
	env := &testEnv{router: NewRouter(Deps{Core: c, PublicKey: testPublicKey, AuthRateLimit: 2}), core: c}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, "/auth/v1/token", "", wire.TokenRequest{Email: "a@example.com", Password: "whatever1"})
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be limited, got %v", codes)
	}
}
