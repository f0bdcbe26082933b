package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
	"github.com/tendant/simple-content/pkg/simplecontent"
)

// ContentService reads inputs from and publishes outputs to an embedded simple-content service
type ContentService struct {
	service simplecontent.Service
}

// NewContentService wraps a simple-content service
func NewContentService(service simplecontent.Service) *ContentService {
	return &ContentService{service: service}
}

// Open looks up the content's details and then opens its body
func (s *ContentService) Open(ctx context.Context, contentID string) (*Object, error) {
	id, err := uuid.Parse(contentID)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID %q: %w", contentID, err)
	}

	details, err := s.service.GetContentDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}

	body, err := s.service.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}

	return &Object{
		ReadCloser:  body,
		ContentType: details.MimeType,
		Size:        details.FileSize,
	}, nil
}

// Publish uploads one output as become_image derived content of its parent
func (s *ContentService) Publish(ctx context.Context, out Output) (string, error) {
	parentID, err := uuid.Parse(out.ParentID)
	if err != nil {
		return "", fmt.Errorf("invalid parent content ID %q: %w", out.ParentID, err)
	}

	parent, err := s.service.GetContent(ctx, parentID)
	if err != nil {
		return "", fmt.Errorf("failed to get parent content: %w", err)
	}

	derived, err := s.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		OwnerID:        parent.OwnerID,
		TenantID:       parent.TenantID,
		DerivationType: pipeline.DerivedTypeBecomeImage,
		Variant:        out.Variant(),
		Reader:         out.Body,
		FileName:       out.fileName(),
		Tags:           out.Tags(),
		Metadata: map[string]interface{}{
			"run_id": out.RunID,
			"index":  out.Index,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}

	return derived.ID.String(), nil
}
