package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockDirectory, *echo.Echo) {
	svc, dir, _ := newTestService()
	return NewHandler(svc), dir, echo.New()
}

func authedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID uuid.UUID) echo.Context {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, userID.String())
	ctx = context.WithValue(ctx, auth.UserRoleKey, auth.RoleAdmin)
	return e.NewContext(req.WithContext(ctx), rec)
}

func decodeEnvelope(t *testing.T, body []byte, out interface{}) {
	t.Helper()
	var env struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Status != "success" {
		t.Fatalf("expected success envelope, got %q", env.Status)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func TestHandler_ListUsers(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)
	addUser(dir, "Pat", auth.RolePatient, true)
	addUser(dir, "Paula", auth.RolePatient, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users?role=patient", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)

	if err := h.ListUsers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page struct {
		Items []*user.User `json:"items"`
		Total int          `json:"total"`
	}
	decodeEnvelope(t, rec.Body.Bytes(), &page)
	if page.Total != 2 {
		t.Errorf("expected 2 patients, got %d", page.Total)
	}
}

func TestHandler_ListUsers_BadActive(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users?active=maybe", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)

	expectStatus(t, h.ListUsers(c), 400)
}

func TestHandler_SetRole(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)
	patientID := addUser(dir, "Pat", auth.RolePatient, true)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/users/"+patientID.String()+"/role",
		strings.NewReader(`{"role":"provider"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())

	if err := h.SetRole(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got user.User
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.Role != auth.RoleProvider {
		t.Errorf("expected PROVIDER, got %s", got.Role)
	}
}

func TestHandler_SetRole_InvalidID(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/users/nope/role", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	expectStatus(t, h.SetRole(c), 400)
}

func TestHandler_SetActive(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)
	patientID := addUser(dir, "Pat", auth.RolePatient, true)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/users/"+patientID.String()+"/active",
		strings.NewReader(`{"is_active":false}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())

	if err := h.SetActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got user.User
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.IsActive {
		t.Error("expected account deactivated")
	}
}

func TestHandler_Broadcast(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)
	addUser(dir, "Pat", auth.RolePatient, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/notifications/broadcast",
		strings.NewReader(`{"title":"Maintenance","body":"Sunday night"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)

	if err := h.Broadcast(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got BroadcastResult
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.Sent != 2 {
		t.Errorf("expected 2 sent, got %d", got.Sent)
	}
}

func TestHandler_Overview(t *testing.T) {
	h, dir, e := newTestHandler()
	adminID := addUser(dir, "Ada", auth.RoleAdmin, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, adminID)

	if err := h.Overview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Overview
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.Users.Total != 4 || got.Images != 7 {
		t.Errorf("unexpected overview %+v", got)
	}
}
