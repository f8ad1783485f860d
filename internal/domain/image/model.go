package image

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radshare/radshare/internal/platform/respond"
)

// Body types stored in images.body_type.
const (
	BodyTypeXRay       = "xray"
	BodyTypeMRI        = "mri"
	BodyTypeCT         = "ct"
	BodyTypeUltrasound = "ultrasound"
	BodyTypeOther      = "other"
)

// ValidBodyType reports whether t is a known body type.
func ValidBodyType(t string) bool {
	switch t {
	case BodyTypeXRay, BodyTypeMRI, BodyTypeCT, BodyTypeUltrasound, BodyTypeOther:
		return true
	}
	return false
}

// Share permissions.
const (
	PermissionView     = "view"
	PermissionAnnotate = "annotate"
)

// ValidPermission reports whether p is a known share permission.
func ValidPermission(p string) bool {
	return p == PermissionView || p == PermissionAnnotate
}

// Image maps to the images table. Analysis holds the last AI result as raw
// JSON; re-analysis overwrites it.
type Image struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	OwnerID        uuid.UUID       `db:"owner_id" json:"owner_id"`
	FileName       string          `db:"file_name" json:"file_name"`
	ContentType    string          `db:"content_type" json:"content_type"`
	Size           int64           `db:"size" json:"size"`
	Checksum       string          `db:"checksum" json:"checksum"`
	BodyType       string          `db:"body_type" json:"body_type"`
	Notes          string          `db:"notes" json:"notes"`
	Analysis       json.RawMessage `db:"analysis" json:"analysis,omitempty"`
	AnalysisSource *string         `db:"analysis_source" json:"analysis_source,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Share maps to the image_shares table. One row per (image, grantee).
type Share struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ImageID    uuid.UUID `db:"image_id" json:"image_id"`
	OwnerID    uuid.UUID `db:"owner_id" json:"owner_id"`
	GranteeID  uuid.UUID `db:"grantee_id" json:"grantee_id"`
	Permission string    `db:"permission" json:"permission"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// UploadInput is a parsed multipart upload.
type UploadInput struct {
	FileName    string
	ContentType string
	BodyType    string
	Notes       string
	Content     io.Reader
}

func (in *UploadInput) Normalize() {
	in.FileName = strings.TrimSpace(in.FileName)
	in.BodyType = strings.ToLower(strings.TrimSpace(in.BodyType))
	if in.BodyType == "" {
		in.BodyType = BodyTypeOther
	}
}

func (in *UploadInput) Validate() error {
	if in.FileName == "" {
		return respond.BadRequest("file name is required")
	}
	if !ValidBodyType(in.BodyType) {
		return respond.BadRequest("unknown body type %q", in.BodyType)
	}
	if in.Content == nil {
		return respond.BadRequest("file content is required")
	}
	return nil
}

// UpdateRequest edits image metadata.
type UpdateRequest struct {
	BodyType *string `json:"body_type"`
	Notes    *string `json:"notes"`
}

// ShareRequest grants a user access to an image. Permission defaults to view.
type ShareRequest struct {
	GranteeID  uuid.UUID `json:"grantee_id"`
	Permission string    `json:"permission"`
}

func (r *ShareRequest) Normalize() {
	r.Permission = strings.ToLower(strings.TrimSpace(r.Permission))
	if r.Permission == "" {
		r.Permission = PermissionView
	}
}

func (r *ShareRequest) Validate() error {
	if r.GranteeID == uuid.Nil {
		return respond.BadRequest("grantee_id is required")
	}
	if !ValidPermission(r.Permission) {
		return respond.BadRequest("permission must be %s or %s", PermissionView, PermissionAnnotate)
	}
	return nil
}

// List filters.
const (
	FilterAll    = ""
	FilterOwned  = "owned"
	FilterShared = "shared"
)
