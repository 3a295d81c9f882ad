package controller

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
	"github.com/nstogner/studio/pkg/generate"
)

// Gallery returns the current gallery root. The tree is immutable and may
// be read without holding any lock.
func (c *Controller) Gallery() *domain.GalleryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.GalleryRoot
}

// FolderTree returns the folders-only projection used by move pickers.
func (c *Controller) FolderTree() *domain.GalleryItem {
	return gallery.FolderTree(c.Gallery())
}

// Item looks up a single gallery node.
func (c *Controller) Item(id string) (*domain.GalleryItem, error) {
	item, ok := gallery.FindItem(c.Gallery(), id)
	if !ok {
		return nil, fmt.Errorf("item %q: %w", id, gallery.ErrNotFound)
	}
	return item, nil
}

// CreateFolder adds an empty folder under parentID.
func (c *Controller) CreateFolder(ctx context.Context, parentID, name string) (*domain.GalleryItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", ErrInvalid)
	}
	folder := &domain.GalleryItem{
		ID:        uuid.NewString(),
		Type:      domain.ItemFolder,
		Name:      name,
		CreatedAt: c.now(),
	}
	if err := c.insert(ctx, parentID, "gallery.create_folder", folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// Upload stores a user file under parentID. The original bytes stay
// attached to the node for later analysis but are never persisted.
func (c *Controller) Upload(ctx context.Context, parentID, name string, file domain.Blob) (*domain.GalleryItem, error) {
	if len(file.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrInvalid)
	}
	item := &domain.GalleryItem{
		ID:        uuid.NewString(),
		Type:      uploadType(file.MIMEType),
		Name:      strings.TrimSpace(name),
		CreatedAt: c.now(),
		FileType:  file.MIMEType,
		Size:      generate.HumanSize(len(file.Data)),
		File:      &file,
	}
	if item.Name == "" {
		item.Name = "Upload"
	}
	if item.Type == domain.ItemImage {
		item.Src = "data:" + file.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(file.Data)
		item.Thumbnail = item.Src
		item.Alt = item.Name
	}
	if err := c.insert(ctx, parentID, "gallery.upload", item); err != nil {
		return nil, err
	}
	return item, nil
}

func uploadType(mime string) domain.ItemType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.ItemImage
	case strings.HasPrefix(mime, "video/"):
		return domain.ItemVideo
	default:
		return domain.ItemFile
	}
}

// Rename changes the display name of a node.
func (c *Controller) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return c.mutateGallery(ctx, "gallery.rename", fmt.Sprintf("%s -> %q", id, name), func(root *domain.GalleryItem) (*domain.GalleryItem, error) {
		return gallery.RenameItem(root, id, name)
	})
}

// Delete removes the given nodes and their subtrees.
func (c *Controller) Delete(ctx context.Context, ids []string) error {
	return c.mutateGallery(ctx, "gallery.delete", strings.Join(ids, ","), func(root *domain.GalleryItem) (*domain.GalleryItem, error) {
		return gallery.DeleteItems(root, ids)
	})
}

// Move relocates the given nodes under destID.
func (c *Controller) Move(ctx context.Context, ids []string, destID string) error {
	return c.mutateGallery(ctx, "gallery.move", fmt.Sprintf("%s -> %s", strings.Join(ids, ","), destID), func(root *domain.GalleryItem) (*domain.GalleryItem, error) {
		return gallery.MoveItems(root, ids, destID)
	})
}

// insert adds items under parentID in one swap. Items end up in the same
// order they were given.
func (c *Controller) insert(ctx context.Context, parentID, action string, items ...*domain.GalleryItem) error {
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return c.mutateGallery(ctx, action, fmt.Sprintf("%s in %s", strings.Join(names, ", "), parentID), func(root *domain.GalleryItem) (*domain.GalleryItem, error) {
		var err error
		for i := len(items) - 1; i >= 0; i-- {
			if root, err = gallery.CreateItem(root, parentID, items[i]); err != nil {
				return nil, err
			}
		}
		return root, nil
	})
}

// mutateGallery computes a new root from the current one and swaps it in.
// On error the current root stays untouched.
func (c *Controller) mutateGallery(ctx context.Context, action, details string, fn func(*domain.GalleryItem) (*domain.GalleryItem, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	root, err := fn(c.snap.GalleryRoot)
	if err != nil {
		return err
	}
	c.snap.GalleryRoot = root
	c.logLocked(ctx, action, details)
	c.persistLocked(ctx)
	return nil
}
