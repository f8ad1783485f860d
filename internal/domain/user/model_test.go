package user

import (
	"testing"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/respond"
)

func TestRegisterRequest_Normalize(t *testing.T) {
	r := RegisterRequest{
		Email:     "  MiXeD@Example.COM ",
		FirstName: " Alice ",
		LastName:  " Smith ",
		Role:      "patient",
	}
	r.Normalize()
	if r.Email != "mixed@example.com" {
		t.Errorf("expected lowercased trimmed email, got %q", r.Email)
	}
	if r.FirstName != "Alice" || r.LastName != "Smith" {
		t.Errorf("expected trimmed names, got %q %q", r.FirstName, r.LastName)
	}
	if r.Role != auth.RolePatient {
		t.Errorf("expected uppercased role, got %q", r.Role)
	}
}

func TestRegisterRequest_NormalizeDefaultsRole(t *testing.T) {
	r := RegisterRequest{Email: "a@b.c"}
	r.Normalize()
	if r.Role != auth.RolePatient {
		t.Errorf("expected PATIENT default, got %q", r.Role)
	}
}

func TestRegisterRequest_Validate(t *testing.T) {
	cases := []struct {
		name string
		req  RegisterRequest
		ok   bool
	}{
		{"valid patient", RegisterRequest{Email: "a@b.c", FirstName: "A", LastName: "B", Role: auth.RolePatient}, true},
		{"valid provider", RegisterRequest{Email: "a@b.c", FirstName: "A", LastName: "B", Role: auth.RoleProvider}, true},
		{"missing email", RegisterRequest{FirstName: "A", LastName: "B", Role: auth.RolePatient}, false},
		{"email without at", RegisterRequest{Email: "nope", FirstName: "A", LastName: "B", Role: auth.RolePatient}, false},
		{"missing first name", RegisterRequest{Email: "a@b.c", LastName: "B", Role: auth.RolePatient}, false},
		{"missing last name", RegisterRequest{Email: "a@b.c", FirstName: "A", Role: auth.RolePatient}, false},
		{"admin rejected", RegisterRequest{Email: "a@b.c", FirstName: "A", LastName: "B", Role: auth.RoleAdmin}, false},
		{"garbage role", RegisterRequest{Email: "a@b.c", FirstName: "A", LastName: "B", Role: "SUPERUSER"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				appErr, isApp := respond.AsAppError(err)
				if !isApp || appErr.Status != 400 {
					t.Fatalf("expected 400 AppError, got %v", err)
				}
			}
		})
	}
}

func TestUser_FullName(t *testing.T) {
	cases := []struct {
		first, last, want string
	}{
		{"Alice", "Smith", "Alice Smith"},
		{"Alice", "", "Alice"},
		{"", "Smith", "Smith"},
		{"", "", ""},
	}
	for _, tc := range cases {
		u := &User{FirstName: tc.first, LastName: tc.last}
		if got := u.FullName(); got != tc.want {
			t.Errorf("FullName(%q, %q) = %q, want %q", tc.first, tc.last, got, tc.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	cases := []struct {
		in, first, last string
	}{
		{"Nina Okafor", "Nina", "Okafor"},
		{"Ana Maria da Silva", "Ana", "Maria da Silva"},
		{"Prince", "Prince", ""},
		{"  spaced   out  ", "spaced", "out"},
		{"", "", ""},
	}
	for _, tc := range cases {
		first, last := splitName(tc.in)
		if first != tc.first || last != tc.last {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tc.in, first, last, tc.first, tc.last)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{auth.RoleAdmin, auth.RoleProvider, auth.RolePatient} {
		if !ValidRole(role) {
			t.Errorf("expected %s to be valid", role)
		}
	}
	for _, role := range []string{"", "admin", "WIZARD"} {
		if ValidRole(role) {
			t.Errorf("expected %q to be invalid", role)
		}
	}
}
