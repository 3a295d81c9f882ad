// Package generate performs one-shot generation requests (images, image
// edits and project scaffolds) against the Gemini API and turns the results
// into gallery items.
package generate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

// ErrMalformedResponse indicates a response without the expected content.
var ErrMalformedResponse = errors.New("malformed generation response")

// Default models.
const (
	DefaultImageModel   = "imagen-4.0-generate-001"
	DefaultEditModel    = "gemini-2.5-flash-image"
	DefaultProjectModel = "gemini-2.5-flash"
)

// Generator issues generation requests through a genai client.
type Generator struct {
	client       *genai.Client
	imageModel   string
	editModel    string
	projectModel string
}

// New returns a Generator. Empty model names select the defaults.
func New(client *genai.Client, imageModel, editModel, projectModel string) *Generator {
	g := &Generator{client: client, imageModel: imageModel, editModel: editModel, projectModel: projectModel}
	if g.imageModel == "" {
		g.imageModel = DefaultImageModel
	}
	if g.editModel == "" {
		g.editModel = DefaultEditModel
	}
	if g.projectModel == "" {
		g.projectModel = DefaultProjectModel
	}
	return g
}

// ImageRequest describes an image generation. When Source is set the
// source image is edited according to Prompt instead.
type ImageRequest struct {
	Prompt      string       `json:"prompt"`
	Count       int          `json:"count,omitempty"`
	AspectRatio string       `json:"aspectRatio,omitempty"`
	Source      *domain.Blob `json:"source,omitempty"`
}

// Images generates or edits images.
func (g *Generator) Images(ctx context.Context, req ImageRequest) ([]domain.Blob, error) {
	if g.client == nil {
		return nil, chat.MissingCredential(domain.ProviderGemini)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	if req.Source != nil {
		return g.edit(ctx, req)
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	slog.Debug("Generating images", "model", g.imageModel, "count", count, "aspectRatio", req.AspectRatio)

	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    req.AspectRatio,
		OutputMIMEType: "image/png",
	})
	if err != nil {
		return nil, &chat.TransportError{Provider: domain.ProviderGemini, Err: err}
	}

	var images []domain.Blob
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		images = append(images, domain.Blob{MIMEType: mime, Data: gi.Image.ImageBytes})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no images returned", ErrMalformedResponse)
	}
	return images, nil
}

func (g *Generator) edit(ctx context.Context, req ImageRequest) ([]domain.Blob, error) {
	slog.Debug("Editing image", "model", g.editModel, "mimeType", req.Source.MIMEType)

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.Source.MIMEType, Data: req.Source.Data}},
			{Text: req.Prompt},
		},
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.editModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		return nil, &chat.TransportError{Provider: domain.ProviderGemini, Err: err}
	}

	var images []domain.Blob
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				images = append(images, domain.Blob{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
			}
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no edited image returned", ErrMalformedResponse)
	}
	return images, nil
}

// Project is a generated project scaffold.
type Project struct {
	Plan  domain.ProjectPlan   `json:"plan"`
	Files []domain.ProjectFile `json:"files"`
}

var projectSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"plan": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":       {Type: genai.TypeString},
				"description": {Type: genai.TypeString},
				"stack":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"steps":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			},
			Required: []string{"title", "description"},
		},
		"files": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"path":     {Type: genai.TypeString},
					"language": {Type: genai.TypeString},
					"content":  {Type: genai.TypeString},
				},
				Required: []string{"path", "content"},
			},
		},
	},
	Required: []string{"plan", "files"},
}

const projectInstruction = "You are a software architect. Produce a concise project plan and the complete source files for the requested project."

// Project generates a project plan and its files.
func (g *Generator) Project(ctx context.Context, prompt string) (Project, error) {
	if g.client == nil {
		return Project{}, chat.MissingCredential(domain.ProviderGemini)
	}
	if strings.TrimSpace(prompt) == "" {
		return Project{}, errors.New("prompt is required")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.projectModel, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(projectInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    projectSchema,
	})
	if err != nil {
		return Project{}, &chat.TransportError{Provider: domain.ProviderGemini, Err: err}
	}
	return ParseProject(resp.Text())
}

// ParseProject decodes and checks a project JSON document.
func ParseProject(raw string) (Project, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(raw, "```")), "```")

	var p Project
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(p.Plan.Title) == "" {
		return Project{}, fmt.Errorf("%w: plan title is missing", ErrMalformedResponse)
	}
	if len(p.Files) == 0 {
		return Project{}, fmt.Errorf("%w: no files", ErrMalformedResponse)
	}
	for _, f := range p.Files {
		if strings.TrimSpace(f.Path) == "" {
			return Project{}, fmt.Errorf("%w: file without path", ErrMalformedResponse)
		}
	}
	return p, nil
}

// ImageItem wraps a generated image as a gallery item.
func ImageItem(img domain.Blob, prompt string, now time.Time) *domain.GalleryItem {
	src := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	return &domain.GalleryItem{
		ID:        uuid.NewString(),
		Type:      domain.ItemImage,
		Name:      itemName(prompt, "Image"),
		CreatedAt: now,
		Src:       src,
		Thumbnail: src,
		Alt:       prompt,
		Prompt:    prompt,
		FileType:  img.MIMEType,
		Size:      HumanSize(len(img.Data)),
	}
}

// ProjectItem wraps a generated project as a gallery item.
func ProjectItem(p Project, prompt string, now time.Time) *domain.GalleryItem {
	plan := p.Plan
	return &domain.GalleryItem{
		ID:           uuid.NewString(),
		Type:         domain.ItemProject,
		Name:         itemName(plan.Title, "Project"),
		CreatedAt:    now,
		Prompt:       prompt,
		ProjectPlan:  &plan,
		ProjectFiles: p.Files,
	}
}

// HumanSize formats a byte count as shown in the gallery.
func HumanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func itemName(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if r := []rune(s); len(r) > 40 {
		return string(r[:40]) + "…"
	}
	return s
}
