package admin

import (
	"strings"

	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/respond"
)

// Overview is the platform-wide snapshot served by /admin/stats and
// /analytics/overview.
type Overview struct {
	Users        UserStats        `json:"users"`
	Appointments AppointmentStats `json:"appointments"`
	Images       int64            `json:"images"`
	Messages     int64            `json:"messages"`
}

// UserStats breaks the user base down by role and activity.
type UserStats struct {
	Total  int64            `json:"total"`
	Active int64            `json:"active"`
	ByRole map[string]int64 `json:"by_role"`
}

// AppointmentStats breaks appointments down by status.
type AppointmentStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// RoleRequest is the PATCH /admin/users/:id/role body.
type RoleRequest struct {
	Role string `json:"role"`
}

// Validate normalizes and checks the role.
func (r *RoleRequest) Validate() error {
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	if !user.ValidRole(r.Role) {
		return respond.BadRequest("unknown role %q", r.Role)
	}
	return nil
}

// ActiveRequest is the PATCH /admin/users/:id/active body.
type ActiveRequest struct {
	Active *bool `json:"is_active"`
}

// Validate requires the flag to be present.
func (r ActiveRequest) Validate() error {
	if r.Active == nil {
		return respond.BadRequest("is_active is required")
	}
	return nil
}

// BroadcastRequest is the POST /admin/notifications/broadcast body. An empty
// Role targets every active user.
type BroadcastRequest struct {
	Role  string `json:"role"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Validate normalizes and checks the request.
func (r *BroadcastRequest) Validate() error {
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	r.Title = strings.TrimSpace(r.Title)
	r.Body = strings.TrimSpace(r.Body)
	if r.Role != "" && !user.ValidRole(r.Role) {
		return respond.BadRequest("unknown role %q", r.Role)
	}
	if r.Title == "" {
		return respond.BadRequest("broadcast title is required")
	}
	return nil
}

// BroadcastResult reports how many users a broadcast reached.
type BroadcastResult struct {
	Sent int `json:"sent"`
}
