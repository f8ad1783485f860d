package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radshare/radshare/internal/domain/notification"
	"github.com/radshare/radshare/internal/domain/user"
	"github.com/radshare/radshare/internal/platform/ai"
	"github.com/radshare/radshare/internal/platform/auth"
	"github.com/radshare/radshare/internal/platform/blobstore"
	"github.com/radshare/radshare/internal/platform/realtime"
	"github.com/radshare/radshare/internal/platform/respond"
)

// DefaultProvider is used when an analysis request names none.
const DefaultProvider = "openai"

// UserLookup resolves owners and grantees.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Notifier delivers share and analysis notifications.
type Notifier interface {
	Notify(ctx context.Context, in notification.CreateInput) (*notification.Notification, error)
}

// Service implements upload, sharing, and AI analysis of medical images.
// Metadata lives in Postgres, content in the blobstore, both keyed by the
// image ID the service assigns at upload.
type Service struct {
	repo      Repository
	blobs     blobstore.Store
	users     UserLookup
	notifier  Notifier
	hub       *realtime.Hub
	analyzers map[string]*ai.Service
	logger    zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, users UserLookup, notifier Notifier,
	hub *realtime.Hub, analyzers map[string]*ai.Service, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		blobs:     blobs,
		users:     users,
		notifier:  notifier,
		hub:       hub,
		analyzers: analyzers,
		logger:    logger,
	}
}

// emitUpdate pings admin dashboards that the image inventory changed.
func (s *Service) emitUpdate() {
	s.hub.EmitRole(auth.RoleAdmin, realtime.EventUpdate, map[string]string{"resource": "images"})
}

// Upload stores the content and the metadata row. The blob goes in first so
// a failed insert can clean it up.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, in UploadInput) (*Image, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	img := &Image{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		BodyType:    in.BodyType,
		Notes:       in.Notes,
	}

	put, err := s.blobs.Put(ctx, img.ID.String(), in.ContentType, in.Content)
	switch {
	case errors.Is(err, blobstore.ErrContentType):
		return nil, respond.BadRequest("content type %q is not allowed", in.ContentType)
	case errors.Is(err, blobstore.ErrTooLarge):
		return nil, respond.NewError(http.StatusRequestEntityTooLarge, "file exceeds the maximum allowed size")
	case err != nil:
		return nil, fmt.Errorf("store image content: %w", err)
	}
	img.Size = put.Size
	img.Checksum = put.Checksum

	if err := s.repo.Create(ctx, img); err != nil {
		if derr := s.blobs.Delete(ctx, img.ID.String()); derr != nil {
			s.logger.Warn().Err(derr).Str("image_id", img.ID.String()).Msg("orphaned blob cleanup failed")
		}
		return nil, fmt.Errorf("create image: %w", err)
	}

	s.hub.EmitUser(ownerID.String(), realtime.EventFileUploadDone, img)
	s.emitUpdate()
	return img, nil
}

// Get returns the metadata to the owner, a grantee, or an admin.
func (s *Service) Get(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Image, error) {
	return s.getViewable(ctx, callerID, callerRole, id)
}

// Content returns the metadata and a reader over the raw bytes. The caller
// must close the reader.
func (s *Service) Content(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Image, io.ReadCloser, error) {
	img, err := s.getViewable(ctx, callerID, callerRole, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Get(ctx, id.String())
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, respond.NotFound("image content not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read image content: %w", err)
	}
	return img, rc, nil
}

// Update edits notes and body type; owner or admin.
func (s *Service) Update(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID, req UpdateRequest) (*Image, error) {
	img, err := s.getOwned(ctx, callerID, callerRole, id)
	if err != nil {
		return nil, err
	}

	if req.BodyType != nil {
		if !ValidBodyType(*req.BodyType) {
			return nil, respond.BadRequest("unknown body type %q", *req.BodyType)
		}
		img.BodyType = *req.BodyType
	}
	if req.Notes != nil {
		img.Notes = *req.Notes
	}

	if err := s.repo.Update(ctx, img); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, respond.NotFound("image not found")
		}
		return nil, fmt.Errorf("update image: %w", err)
	}
	return img, nil
}

// Delete removes the row (shares cascade), then the blob, and tells the file
// room the image is gone. A failed blob delete is logged, not surfaced; the
// row is the source of truth.
func (s *Service) Delete(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) error {
	if _, err := s.getOwned(ctx, callerID, callerRole, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return respond.NotFound("image not found")
		}
		return fmt.Errorf("delete image: %w", err)
	}
	if err := s.blobs.Delete(ctx, id.String()); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Warn().Err(err).Str("image_id", id.String()).Msg("blob delete failed")
	}

	s.hub.EmitFile(id.String(), realtime.EventFileDelete, map[string]string{"image_id": id.String()})
	s.emitUpdate()
	return nil
}

// List returns the caller's images: owned, shared with them, or both.
func (s *Service) List(ctx context.Context, callerID uuid.UUID, filter string, limit, offset int) ([]*Image, int, error) {
	switch filter {
	case FilterAll, FilterOwned, FilterShared:
	default:
		return nil, 0, respond.BadRequest("filter must be %q or %q", FilterOwned, FilterShared)
	}
	return s.repo.List(ctx, callerID, filter, limit, offset)
}

// Share grants a user view or annotate access and notifies them.
func (s *Service) Share(ctx context.Context, callerID uuid.UUID, callerRole string, imageID uuid.UUID, req ShareRequest) (*Share, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	img, err := s.getOwned(ctx, callerID, callerRole, imageID)
	if err != nil {
		return nil, err
	}
	if req.GranteeID == img.OwnerID {
		return nil, respond.BadRequest("image is already visible to its owner")
	}

	grantee, err := s.users.GetByID(ctx, req.GranteeID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, respond.NotFound("grantee not found")
	}
	if err != nil {
		return nil, fmt.Errorf("look up grantee: %w", err)
	}

	sh := &Share{
		ImageID:    imageID,
		OwnerID:    img.OwnerID,
		GranteeID:  req.GranteeID,
		Permission: req.Permission,
	}
	if err := s.repo.CreateShare(ctx, sh); err != nil {
		if errors.Is(err, ErrDuplicateShare) {
			return nil, respond.Conflict("image already shared with this user")
		}
		return nil, fmt.Errorf("create share: %w", err)
	}

	s.notifyShared(ctx, img, grantee)
	return sh, nil
}

// Revoke removes a grant; owner or admin.
func (s *Service) Revoke(ctx context.Context, callerID uuid.UUID, callerRole string, imageID, granteeID uuid.UUID) error {
	if _, err := s.getOwned(ctx, callerID, callerRole, imageID); err != nil {
		return err
	}
	if err := s.repo.DeleteShare(ctx, imageID, granteeID); err != nil {
		if errors.Is(err, ErrShareNotFound) {
			return respond.NotFound("share not found")
		}
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

// Shares lists an image's grants; owner or admin.
func (s *Service) Shares(ctx context.Context, callerID uuid.UUID, callerRole string, imageID uuid.UUID) ([]*Share, error) {
	if _, err := s.getOwned(ctx, callerID, callerRole, imageID); err != nil {
		return nil, err
	}
	shares, err := s.repo.ListShares(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	return shares, nil
}

// Analyze runs the image through the named AI provider, stores the result on
// the row (overwriting any previous run), pushes it to the file room, and
// notifies the owner. Provider failures degrade to a placeholder result
// inside the ai package, so this returns 200 either way.
func (s *Service) Analyze(ctx context.Context, callerID uuid.UUID, callerRole string, imageID uuid.UUID, provider string) (*ai.Result, error) {
	img, err := s.getAnalyzable(ctx, callerID, callerRole, imageID)
	if err != nil {
		return nil, err
	}

	if provider == "" {
		provider = DefaultProvider
	}
	analyzer, ok := s.analyzers[provider]
	if !ok {
		return nil, respond.BadRequest("unknown analysis provider %q", provider)
	}

	rc, err := s.blobs.Get(ctx, imageID.String())
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, respond.NotFound("image content not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read image content: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image content: %w", err)
	}

	result := analyzer.Analyze(ctx, ai.Request{
		ImageID:     imageID.String(),
		ContentType: img.ContentType,
		Checksum:    img.Checksum,
		Data:        data,
		Prompt:      analysisPrompt(img.BodyType),
	})

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode analysis: %w", err)
	}
	if err := s.repo.SetAnalysis(ctx, imageID, result.Source, payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, respond.NotFound("image not found")
		}
		return nil, fmt.Errorf("store analysis: %w", err)
	}

	s.hub.EmitFile(imageID.String(), realtime.EventFileAnalysis, analysisPayload{
		ImageID:  imageID.String(),
		Analysis: result,
	})
	s.notifyAnalyzed(ctx, img, result)
	return result, nil
}

type analysisPayload struct {
	ImageID  string     `json:"image_id"`
	Analysis *ai.Result `json:"analysis"`
}

func analysisPrompt(bodyType string) string {
	label := "a medical image"
	switch bodyType {
	case BodyTypeXRay:
		label = "an X-ray"
	case BodyTypeMRI:
		label = "an MRI scan"
	case BodyTypeCT:
		label = "a CT scan"
	case BodyTypeUltrasound:
		label = "an ultrasound"
	}
	return fmt.Sprintf("You are assisting a radiologist. This is %s. Describe the clinically relevant findings in two or three sentences.", label)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Image, error) {
	img, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, respond.NotFound("image not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

// getViewable returns the image when the caller is the owner, any grantee,
// or an admin.
func (s *Service) getViewable(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Image, error) {
	img, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.OwnerID == callerID || callerRole == auth.RoleAdmin {
		return img, nil
	}
	if _, err := s.repo.GetShare(ctx, id, callerID); err != nil {
		if errors.Is(err, ErrShareNotFound) {
			return nil, respond.Forbidden("no access to this image")
		}
		return nil, fmt.Errorf("check share: %w", err)
	}
	return img, nil
}

// getOwned returns the image when the caller is the owner or an admin.
func (s *Service) getOwned(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Image, error) {
	img, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.OwnerID != callerID && callerRole != auth.RoleAdmin {
		return nil, respond.Forbidden("only the owner can modify this image")
	}
	return img, nil
}

// getAnalyzable returns the image when the caller is the owner, an admin, or
// holds an annotate grant.
func (s *Service) getAnalyzable(ctx context.Context, callerID uuid.UUID, callerRole string, id uuid.UUID) (*Image, error) {
	img, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.OwnerID == callerID || callerRole == auth.RoleAdmin {
		return img, nil
	}
	sh, err := s.repo.GetShare(ctx, id, callerID)
	if err != nil {
		if errors.Is(err, ErrShareNotFound) {
			return nil, respond.Forbidden("no permission to analyze this image")
		}
		return nil, fmt.Errorf("check share: %w", err)
	}
	if sh.Permission != PermissionAnnotate {
		return nil, respond.Forbidden("no permission to analyze this image")
	}
	return img, nil
}

func (s *Service) notifyShared(ctx context.Context, img *Image, grantee *user.User) {
	ownerName := "Someone"
	if owner, err := s.users.GetByID(ctx, img.OwnerID); err == nil {
		ownerName = owner.FullName()
	}
	_, err := s.notifier.Notify(ctx, notification.CreateInput{
		UserID:        grantee.ID,
		Type:          notification.TypeShare,
		Title:         "Image shared with you",
		Body:          fmt.Sprintf("%s shared %s with you", ownerName, img.FileName),
		ResourceID:    img.ID,
		EmailTemplate: "image-shared",
		EmailData: map[string]string{
			"owner_name":   ownerName,
			"grantee_name": grantee.FullName(),
			"file_name":    img.FileName,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("image_id", img.ID.String()).Msg("share notification failed")
	}
}

func (s *Service) notifyAnalyzed(ctx context.Context, img *Image, result *ai.Result) {
	_, err := s.notifier.Notify(ctx, notification.CreateInput{
		UserID:     img.OwnerID,
		Type:       notification.TypeAnalysis,
		Title:      "Image analysis complete",
		Body:       fmt.Sprintf("Analysis of %s finished (%s)", img.FileName, result.Source),
		ResourceID: img.ID,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("image_id", img.ID.String()).Msg("analysis notification failed")
	}
}
