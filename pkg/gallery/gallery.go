// Package gallery implements the media gallery tree. Every function takes a
// root and returns a new root; nodes of the input tree are never modified.
// Untouched subtrees are shared between the old and the new root.
package gallery

import (
	"errors"
	"fmt"
	"time"

	"github.com/nstogner/studio/pkg/domain"
)

var (
	// ErrNotFound indicates that a referenced id is not in the tree.
	ErrNotFound = errors.New("gallery item not found")
	// ErrNotFolder indicates that a target item cannot hold children.
	ErrNotFolder = errors.New("gallery item is not a folder")
	// ErrCyclicMove indicates a move of a folder into itself or one of its descendants.
	ErrCyclicMove = errors.New("cannot move an item into itself or its descendants")
	// ErrRootImmutable indicates an attempt to delete or move the root.
	ErrRootImmutable = errors.New("gallery root cannot be deleted or moved")
	// ErrDuplicateID indicates an inserted id that already exists in the tree.
	ErrDuplicateID = errors.New("gallery item id already exists")
	// ErrInvalidItem indicates a malformed item.
	ErrInvalidItem = errors.New("invalid gallery item")
)

// NewRoot returns an empty root folder.
func NewRoot(createdAt time.Time) *domain.GalleryItem {
	return &domain.GalleryItem{
		ID:        domain.RootID,
		Type:      domain.ItemFolder,
		Name:      "Gallery",
		CreatedAt: createdAt,
	}
}

// FindItem returns the first node, in depth-first order, whose id matches.
func FindItem(root *domain.GalleryItem, id string) (*domain.GalleryItem, bool) {
	if root == nil {
		return nil, false
	}
	if root.ID == id {
		return root, true
	}
	for _, child := range root.Children {
		if found, ok := FindItem(child, id); ok {
			return found, true
		}
	}
	return nil, false
}

// Path returns the chain of nodes from the root down to the item with the given id.
func Path(root *domain.GalleryItem, id string) ([]*domain.GalleryItem, bool) {
	if root == nil {
		return nil, false
	}
	if root.ID == id {
		return []*domain.GalleryItem{root}, true
	}
	for _, child := range root.Children {
		if rest, ok := Path(child, id); ok {
			return append([]*domain.GalleryItem{root}, rest...), true
		}
	}
	return nil, false
}

// Walk visits every node in pre-order. Returning false from fn skips the
// node's children.
func Walk(root *domain.GalleryItem, fn func(item *domain.GalleryItem, depth int) bool) {
	walk(root, 0, fn)
}

func walk(item *domain.GalleryItem, depth int, fn func(*domain.GalleryItem, int) bool) {
	if item == nil {
		return
	}
	if !fn(item, depth) {
		return
	}
	for _, child := range item.Children {
		walk(child, depth+1, fn)
	}
}

// Count returns the number of nodes in the tree, root included.
func Count(root *domain.GalleryItem) int {
	n := 0
	Walk(root, func(*domain.GalleryItem, int) bool {
		n++
		return true
	})
	return n
}

// Validate checks the structural invariants of a tree: a folder root with
// the reserved id, unique ids, and children only under folders.
func Validate(root *domain.GalleryItem) error {
	if root == nil {
		return fmt.Errorf("%w: nil root", ErrInvalidItem)
	}
	if root.ID != domain.RootID || !root.IsFolder() {
		return fmt.Errorf("%w: root must be a folder with id %q", ErrInvalidItem, domain.RootID)
	}
	seen := make(map[string]bool)
	var err error
	Walk(root, func(item *domain.GalleryItem, _ int) bool {
		if err != nil {
			return false
		}
		err = checkItem(item, seen)
		return err == nil
	})
	return err
}

func checkItem(item *domain.GalleryItem, seen map[string]bool) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if seen[item.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
	}
	seen[item.ID] = true
	if !item.IsFolder() && len(item.Children) > 0 {
		return fmt.Errorf("%w: %s is a %s and cannot have children", ErrInvalidItem, item.ID, item.Type)
	}
	return nil
}

// CreateItem inserts item as the first child of the folder parentID.
func CreateItem(root *domain.GalleryItem, parentID string, item *domain.GalleryItem) (*domain.GalleryItem, error) {
	if item == nil {
		return root, fmt.Errorf("%w: nil item", ErrInvalidItem)
	}

	existing := make(map[string]bool)
	Walk(root, func(n *domain.GalleryItem, _ int) bool {
		existing[n.ID] = true
		return true
	})
	seen := make(map[string]bool)
	var err error
	Walk(item, func(n *domain.GalleryItem, _ int) bool {
		if err != nil {
			return false
		}
		if err = checkItem(n, seen); err != nil {
			return false
		}
		if existing[n.ID] {
			err = fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		return err == nil
	})
	if err != nil {
		return root, err
	}

	parent, ok := FindItem(root, parentID)
	if !ok {
		return root, fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
	}
	if !parent.IsFolder() {
		return root, fmt.Errorf("%w: %s", ErrNotFolder, parentID)
	}

	newRoot, _ := rebuild(root, parentID, func(n *domain.GalleryItem) *domain.GalleryItem {
		c := clone(n)
		c.Children = prepend(n.Children, item)
		return c
	})
	return newRoot, nil
}

// RenameItem replaces the name of the item with the given id.
func RenameItem(root *domain.GalleryItem, id, name string) (*domain.GalleryItem, error) {
	newRoot, ok := rebuild(root, id, func(n *domain.GalleryItem) *domain.GalleryItem {
		c := clone(n)
		c.Name = name
		return c
	})
	if !ok {
		return root, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return newRoot, nil
}

// DeleteItems removes every node whose id is in ids, together with its
// subtree. Ids that are not in the tree are ignored.
func DeleteItems(root *domain.GalleryItem, ids []string) (*domain.GalleryItem, error) {
	set := toSet(ids)
	if root == nil {
		return nil, nil
	}
	if set[root.ID] {
		return root, ErrRootImmutable
	}
	newRoot, _ := extract(root, set, nil)
	return newRoot, nil
}

// MoveItems detaches every node whose id is in ids and prepends them, in
// pre-order of the original tree, to the children of destID. A matched
// node moves with its whole subtree. Ids that are not in the tree are ignored.
func MoveItems(root *domain.GalleryItem, ids []string, destID string) (*domain.GalleryItem, error) {
	set := toSet(ids)
	if root == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, destID)
	}
	if set[root.ID] {
		return root, ErrRootImmutable
	}

	path, ok := Path(root, destID)
	if !ok {
		return root, fmt.Errorf("%w: destination %s", ErrNotFound, destID)
	}
	if !path[len(path)-1].IsFolder() {
		return root, fmt.Errorf("%w: %s", ErrNotFolder, destID)
	}
	for _, ancestor := range path {
		if set[ancestor.ID] {
			return root, fmt.Errorf("%w: %s is inside %s", ErrCyclicMove, destID, ancestor.ID)
		}
	}

	var moved []*domain.GalleryItem
	detached, _ := extract(root, set, &moved)
	if len(moved) == 0 {
		return root, nil
	}

	newRoot, _ := rebuild(detached, destID, func(n *domain.GalleryItem) *domain.GalleryItem {
		c := clone(n)
		c.Children = prepend(n.Children, moved...)
		return c
	})
	return newRoot, nil
}

// FolderTree projects the tree onto its folders, for destination pickers.
// It returns nil when root is not a folder.
func FolderTree(root *domain.GalleryItem) *domain.GalleryItem {
	if !root.IsFolder() {
		return nil
	}
	c := clone(root)
	c.Children = nil
	for _, child := range root.Children {
		if sub := FolderTree(child); sub != nil {
			c.Children = append(c.Children, sub)
		}
	}
	return c
}

// StripFiles returns a deep copy of the tree without session-local file handles.
func StripFiles(root *domain.GalleryItem) *domain.GalleryItem {
	if root == nil {
		return nil
	}
	c := clone(root)
	c.File = nil
	if len(root.Children) > 0 {
		c.Children = make([]*domain.GalleryItem, len(root.Children))
		for i, child := range root.Children {
			c.Children[i] = StripFiles(child)
		}
	}
	return c
}

// rebuild applies fn to the first node with the given id and copies the
// ancestor chain above it.
func rebuild(node *domain.GalleryItem, id string, fn func(*domain.GalleryItem) *domain.GalleryItem) (*domain.GalleryItem, bool) {
	if node == nil {
		return nil, false
	}
	if node.ID == id {
		return fn(node), true
	}
	for i, child := range node.Children {
		updated, ok := rebuild(child, id, fn)
		if !ok {
			continue
		}
		c := clone(node)
		c.Children = make([]*domain.GalleryItem, len(node.Children))
		copy(c.Children, node.Children)
		c.Children[i] = updated
		return c, true
	}
	return node, false
}

// extract drops children whose id is in set, appending them to collected
// when it is non-nil. Matched nodes are not searched further.
func extract(node *domain.GalleryItem, set map[string]bool, collected *[]*domain.GalleryItem) (*domain.GalleryItem, bool) {
	if len(node.Children) == 0 {
		return node, false
	}
	changed := false
	kept := make([]*domain.GalleryItem, 0, len(node.Children))
	for _, child := range node.Children {
		if set[child.ID] {
			changed = true
			if collected != nil {
				*collected = append(*collected, child)
			}
			continue
		}
		updated, childChanged := extract(child, set, collected)
		if childChanged {
			changed = true
		}
		kept = append(kept, updated)
	}
	if !changed {
		return node, false
	}
	c := clone(node)
	c.Children = kept
	return c, true
}

func clone(n *domain.GalleryItem) *domain.GalleryItem {
	c := *n
	return &c
}

func prepend(children []*domain.GalleryItem, items ...*domain.GalleryItem) []*domain.GalleryItem {
	out := make([]*domain.GalleryItem, 0, len(items)+len(children))
	out = append(out, items...)
	return append(out, children...)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
