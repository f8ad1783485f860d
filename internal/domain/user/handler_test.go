package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

func newTestHandler() (*Handler, *Service, *mockRepo, *echo.Echo) {
	svc, repo, _ := newTestService()
	return NewHandler(svc), svc, repo, echo.New()
}

func authedContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, userID uuid.UUID, role string) echo.Context {
	ctx := context.WithValue(req.Context(), auth.UserIDKey, userID.String())
	ctx = context.WithValue(ctx, auth.UserRoleKey, role)
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
		t.Fatalf("expected success envelope, got %s", body)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHandler_Register(t *testing.T) {
	h, _, _, e := newTestHandler()

	body := `{"email":"new@example.com","password":"supersecret","first_name":"New","last_name":"User"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Register(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var resp AuthResponse
	decodeEnvelope(t, rec.Body.Bytes(), &resp)
	if resp.User.Email != "new@example.com" {
		t.Errorf("unexpected email %s", resp.User.Email)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Error("password hash must never be serialized")
	}
}

func TestHandler_Register_BadBody(t *testing.T) {
	h, _, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.Register(e.NewContext(req, rec))
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 AppError, got %v", err)
	}
}

func TestHandler_Login(t *testing.T) {
	h, svc, _, e := newTestHandler()
	registerPatient(t, svc, "known@example.com")

	body := `{"email":"known@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Login(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Me(t *testing.T) {
	h, svc, _, e := newTestHandler()
	u := registerPatient(t, svc, "me@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, u.ID, u.Role)

	if err := h.Me(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got User
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.ID != u.ID {
		t.Errorf("expected %s, got %s", u.ID, got.ID)
	}
}

func TestHandler_Me_Unauthenticated(t *testing.T) {
	h, _, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()

	err := h.Me(e.NewContext(req, rec))
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 AppError, got %v", err)
	}
}

func TestHandler_GetUser_InvalidID(t *testing.T) {
	h, svc, _, e := newTestHandler()
	u := registerPatient(t, svc, "caller@example.com")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, u.ID, u.Role)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetUser(c)
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 AppError, got %v", err)
	}
}

func TestHandler_UpdateUser(t *testing.T) {
	h, svc, _, e := newTestHandler()
	u := registerPatient(t, svc, "self@example.com")

	body := `{"first_name":"Renamed"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, u.ID, u.Role)
	c.SetParamNames("id")
	c.SetParamValues(u.ID.String())

	if err := h.UpdateUser(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got User
	decodeEnvelope(t, rec.Body.Bytes(), &got)
	if got.FirstName != "Renamed" {
		t.Errorf("expected Renamed, got %s", got.FirstName)
	}
}

func TestHandler_ListUsers_Pagination(t *testing.T) {
	h, svc, repo, e := newTestHandler()
	admin := registerPatient(t, svc, "admin@example.com")
	repo.users[admin.ID].Role = auth.RoleAdmin
	registerPatient(t, svc, "u1@example.com")
	registerPatient(t, svc, "u2@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?limit=2", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, admin.ID, auth.RoleAdmin)

	if err := h.ListUsers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page struct {
		Items []*User `json:"items"`
		Total int     `json:"total"`
	}
	decodeEnvelope(t, rec.Body.Bytes(), &page)
	if len(page.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(page.Items))
	}
	if page.Total != 3 {
		t.Errorf("expected total 3, got %d", page.Total)
	}
}

func TestHandler_ListUsers_BadActiveParam(t *testing.T) {
	h, svc, _, e := newTestHandler()
	u := registerPatient(t, svc, "p@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users?active=maybe", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, u.ID, auth.RoleAdmin)

	err := h.ListUsers(c)
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 AppError, got %v", err)
	}
}

func TestHandler_ListDoctors(t *testing.T) {
	h, svc, repo, e := newTestHandler()
	doc := registerPatient(t, svc, "doc@example.com")
	repo.users[doc.ID].Role = auth.RoleProvider
	patient := registerPatient(t, svc, "pat@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/doctors", nil)
	rec := httptest.NewRecorder()
	c := authedContext(e, req, rec, patient.ID, auth.RolePatient)

	if err := h.ListDoctors(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doctors []*User
	decodeEnvelope(t, rec.Body.Bytes(), &doctors)
	if len(doctors) != 1 || doctors[0].ID != doc.ID {
		t.Errorf("expected only the provider, got %d entries", len(doctors))
	}
}

func TestResolveIdentity_MapsExternalSubject(t *testing.T) {
	_, svc, _, e := newTestHandler()
	u, err := svc.Sync(context.Background(), externalClaims("ext-55", "mapped@example.com", "Mapped User"))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	claims := externalClaims("ext-55", "mapped@example.com", "Mapped User")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/auth/me")

	var seenID string
	mw := ResolveIdentity(svc)(func(c echo.Context) error {
		seenID = auth.UserIDFromContext(c.Request().Context())
		return nil
	})
	if err := mw(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenID != u.ID.String() {
		t.Errorf("expected resolved local id %s, got %s", u.ID, seenID)
	}
}

func TestResolveIdentity_UnprovisionedExternalSubject(t *testing.T) {
	_, svc, _, e := newTestHandler()

	claims := externalClaims("ext-never-synced", "x@example.com", "X")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/images", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/images")

	mw := ResolveIdentity(svc)(func(c echo.Context) error { return nil })
	err := mw(c)
	appErr, ok := respond.AsAppError(err)
	if !ok || appErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 AppError, got %v", err)
	}
}

func TestResolveIdentity_SyncPathExempt(t *testing.T) {
	_, svc, _, e := newTestHandler()

	claims := externalClaims("ext-first-time", "first@example.com", "First Timer")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/sync", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/auth/sync")

	called := false
	mw := ResolveIdentity(svc)(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := mw(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected the sync handler to be reached")
	}
}

func TestResolveIdentity_LocalTokenPassesThrough(t *testing.T) {
	_, svc, _, e := newTestHandler()

	claims := &auth.Claims{}
	claims.Issuer = auth.LocalIssuer
	claims.Subject = uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/auth/me")

	var seenID string
	mw := ResolveIdentity(svc)(func(c echo.Context) error {
		seenID = auth.UserIDFromContext(c.Request().Context())
		return nil
	})
	if err := mw(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seenID != claims.Subject {
		t.Errorf("expected subject untouched, got %s", seenID)
	}
}
