package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/db"
	"github.com/radshare/radshare/internal/platform/mailer"
	"github.com/radshare/radshare/internal/platform/respond"
)

// Service implements registration, login, external-token reconciliation, and
// user management.
type Service struct {
	repo   Repository
	issuer *auth.Issuer
	mail   *mailer.Mailer
	logger zerolog.Logger
}

func NewService(repo Repository, issuer *auth.Issuer, mail *mailer.Mailer, logger zerolog.Logger) *Service {
	return &Service{repo: repo, issuer: issuer, mail: mail, logger: logger}
}

// Register creates a local account and returns it with a signed token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, respond.BadRequest("%s", err)
	}

	u := &User{
		Email:        req.Email,
		PasswordHash: &hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		Specialty:    req.Specialty,
		AuthProvider: ProviderLocal,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, respond.Conflict("email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.issuer.IssueToken(u.ID, u.Role, u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	// Best effort; a failed welcome mail never fails registration.
	if err := s.mail.SendTemplate(ctx, "welcome", map[string]string{"name": u.FullName()}, u.Email); err != nil {
		s.logger.Warn().Err(err).Str("email", u.Email).Msg("welcome email failed")
	}

	return &AuthResponse{User: u, Token: token}, nil
}

// Login verifies a local credential and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if !u.IsActive {
		return nil, respond.Unauthorized("account is deactivated")
	}
	if u.PasswordHash == nil || !auth.CheckPassword(*u.PasswordHash, req.Password) {
		return nil, respond.Unauthorized("invalid email or password")
	}

	if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("last_login update failed")
	}

	token, err := s.issuer.IssueToken(u.ID, u.Role, u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResponse{User: u, Token: token}, nil
}

// Sync reconciles an externally issued token with the local users table,
// keyed on (auth_provider, external_id). A first sync provisions a PATIENT;
// a local account with the same email is linked instead, keeping its role.
func (s *Service) Sync(ctx context.Context, claims *auth.Claims) (*User, error) {
	if claims == nil || claims.Issuer == auth.LocalIssuer {
		return nil, respond.BadRequest("sync requires an externally issued token")
	}
	if claims.Subject == "" {
		return nil, respond.BadRequest("token carries no subject")
	}
	if claims.Email == "" {
		return nil, respond.BadRequest("token carries no email")
	}

	externalID := claims.Subject
	email := strings.ToLower(claims.Email)
	first, last := splitName(claims.Name)

	u, err := s.repo.GetByExternalID(ctx, ProviderOIDC, externalID)
	switch {
	case err == nil:
		s.applyClaims(u, email, first, last, claims.Picture)
	case errors.Is(err, ErrNotFound):
		u, err = s.repo.GetByEmail(ctx, email)
		switch {
		case err == nil:
			// Existing local account: link it, keep its role.
			u.AuthProvider = ProviderOIDC
			u.ExternalID = &externalID
			s.applyClaims(u, email, first, last, claims.Picture)
		case errors.Is(err, ErrNotFound):
			u = &User{
				Email:        email,
				FirstName:    first,
				LastName:     last,
				Role:         auth.RolePatient,
				AuthProvider: ProviderOIDC,
				ExternalID:   &externalID,
				IsActive:     true,
			}
			if claims.Picture != "" {
				pic := claims.Picture
				u.AvatarURL = &pic
			}
			if err := s.repo.Create(ctx, u); err != nil {
				if db.IsUniqueViolation(err) {
					return nil, respond.Conflict("account already linked")
				}
				return nil, fmt.Errorf("provision user: %w", err)
			}
			if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
				s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("last_login update failed")
			}
			return u, nil
		default:
			return nil, fmt.Errorf("look up user by email: %w", err)
		}
	default:
		return nil, fmt.Errorf("look up external user: %w", err)
	}

	if !u.IsActive {
		return nil, respond.Unauthorized("account is deactivated")
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("last_login update failed")
	}
	return u, nil
}

// applyClaims refreshes profile fields the identity provider owns.
func (s *Service) applyClaims(u *User, email, first, last, picture string) {
	u.Email = email
	if first != "" {
		u.FirstName = first
	}
	if last != "" {
		u.LastName = last
	}
	if picture != "" {
		pic := picture
		u.AvatarURL = &pic
	}
}

// Get fetches one user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetAuthorized fetches a user the caller is allowed to see: themselves, any
// user for admins, and patients for providers.
func (s *Service) GetAuthorized(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerID == id || auth.IsAdmin(callerRole) {
		return u, nil
	}
	if callerRole == auth.RoleProvider && u.Role == auth.RolePatient {
		return u, nil
	}
	return nil, respond.Forbidden("not allowed to view this user")
}

// Update applies a partial update. Only admins may change role or active
// state; everyone may edit their own profile.
func (s *Service) Update(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID, req UpdateRequest) (*User, error) {
	if callerID != id && !auth.IsAdmin(callerRole) {
		return nil, respond.Forbidden("not allowed to update this user")
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Role != nil {
		if !auth.IsAdmin(callerRole) {
			return nil, respond.Forbidden("only admins may change roles")
		}
		role := strings.ToUpper(*req.Role)
		if !ValidRole(role) {
			return nil, respond.BadRequest("unknown role %q", *req.Role)
		}
		u.Role = role
	}
	if req.IsActive != nil {
		if !auth.IsAdmin(callerRole) {
			return nil, respond.Forbidden("only admins may change active state")
		}
		u.IsActive = *req.IsActive
	}
	if req.FirstName != nil {
		u.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		u.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Specialty != nil {
		u.Specialty = req.Specialty
	}
	if req.AvatarURL != nil {
		u.AvatarURL = req.AvatarURL
	}

	if err := s.repo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// List returns users matching the filter, with the total count.
func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*User, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Providers returns all active providers for the doctor picker.
func (s *Service) Providers(ctx context.Context) ([]*User, error) {
	return s.repo.ListProviders(ctx)
}

// splitName breaks a display name into first and last parts.
func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
