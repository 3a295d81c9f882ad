package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/generate"
)

// GenerateImages runs an image generation (or edit, when req.Source is
// set) and files the results under parentID.
func (c *Controller) GenerateImages(ctx context.Context, parentID string, req generate.ImageRequest) ([]*domain.GalleryItem, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalid)
	}
	if c.generator == nil {
		return nil, fmt.Errorf("%w: generation is not configured", ErrInvalid)
	}
	if _, err := c.Item(parentID); err != nil {
		return nil, err
	}

	images, err := c.generator.Images(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generating images: %w", err)
	}
	now := c.now()
	items := make([]*domain.GalleryItem, len(images))
	for i, img := range images {
		items[i] = generate.ImageItem(img, req.Prompt, now)
	}
	action := "generate.images"
	if req.Source != nil {
		action = "generate.edit"
	}
	if err := c.insert(ctx, parentID, action, items...); err != nil {
		return nil, err
	}
	return items, nil
}

// GenerateProject asks the model for a project plan and files it under
// parentID.
func (c *Controller) GenerateProject(ctx context.Context, parentID, prompt string) (*domain.GalleryItem, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalid)
	}
	if c.generator == nil {
		return nil, fmt.Errorf("%w: generation is not configured", ErrInvalid)
	}
	if _, err := c.Item(parentID); err != nil {
		return nil, err
	}

	project, err := c.generator.Project(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating project: %w", err)
	}
	item := generate.ProjectItem(project, prompt, c.now())
	if err := c.insert(ctx, parentID, "generate.project", item); err != nil {
		return nil, err
	}
	return item, nil
}
