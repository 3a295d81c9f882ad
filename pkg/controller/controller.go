// Package controller owns the application state: the gallery root, the
// admin data, settings and the live chat conversations. Every mutation
// replaces state atomically, is recorded in the activity log and is then
// persisted through the snapshot store.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/generate"
	"github.com/nstogner/studio/pkg/model"
	"github.com/nstogner/studio/pkg/store"
)

// MaxLogEntries caps the activity log.
const MaxLogEntries = 500

var (
	// ErrNotFound indicates an unknown user, key, model or conversation.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate name or id.
	ErrConflict = errors.New("already exists")
	// ErrInvalid indicates a request that cannot be applied.
	ErrInvalid = errors.New("invalid request")
)

// Generator produces images and projects for the studio.
type Generator interface {
	Images(ctx context.Context, req generate.ImageRequest) ([]domain.Blob, error)
	Project(ctx context.Context, prompt string) (generate.Project, error)
}

// Controller coordinates state, persistence, chat sessions and generation.
type Controller struct {
	store     store.SnapshotStore
	sessions  model.SessionFactory
	generator Generator
	now       func() time.Time

	mu         sync.Mutex
	snap       *domain.Snapshot
	convs      map[string]*conversation
	fileModels []domain.ModelDescriptor
}

// New creates a Controller with a default snapshot. Call Load to read the
// persisted state.
func New(st store.SnapshotStore, sessions model.SessionFactory, generator Generator) *Controller {
	now := func() time.Time { return time.Now().UTC() }
	return &Controller{
		store:     st,
		sessions:  sessions,
		generator: generator,
		now:       now,
		snap:      store.Default(now()),
		convs:     make(map[string]*conversation),
	}
}

// Load replaces the in-memory state with the persisted snapshot.
func (c *Controller) Load(ctx context.Context) error {
	snap, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snap
	c.convs = make(map[string]*conversation)
	slog.Info("State loaded", "users", len(snap.Users), "logs", len(snap.Logs))
	return nil
}

// SetFileModels registers models loaded from a catalog file. They are
// listed after the built-in models and before the admin-managed ones.
func (c *Controller) SetFileModels(models []domain.ModelDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileModels = models
}

// catalogLocked returns every model a session can be built for. c.mu must
// be held.
func (c *Controller) catalogLocked() []domain.ModelDescriptor {
	custom := make([]domain.ModelDescriptor, 0, len(c.fileModels)+len(c.snap.CustomModels))
	custom = append(custom, c.fileModels...)
	custom = append(custom, c.snap.CustomModels...)
	return model.Catalog(custom)
}

// Snapshot returns a copy of the current state suitable for export.
func (c *Controller) Snapshot() *domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copySnapshot()
}

// Restore replaces the whole state, as when importing a backup. Live
// conversations are dropped.
func (c *Controller) Restore(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: empty snapshot", ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := *snap
	if restored.GalleryRoot == nil {
		restored.GalleryRoot = store.Default(c.now()).GalleryRoot
	}
	c.snap = &restored
	c.convs = make(map[string]*conversation)
	c.logLocked(ctx, "backup.restore", fmt.Sprintf("%d users, %d logs", len(snap.Users), len(snap.Logs)))
	c.persistLocked(ctx)
	return nil
}

// Logs returns up to limit activity entries, newest first. A limit of zero
// returns all of them.
func (c *Controller) Logs(limit int) []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs := c.snap.Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return append([]domain.LogEntry(nil), logs...)
}

// copySnapshot copies the top-level slices so callers can't alias state.
// Gallery nodes are immutable and shared.
func (c *Controller) copySnapshot() *domain.Snapshot {
	s := *c.snap
	s.Users = append([]domain.User(nil), s.Users...)
	s.CustomModels = append([]domain.ModelDescriptor(nil), s.CustomModels...)
	s.APIKeys = append([]domain.APIKey(nil), s.APIKeys...)
	s.ConnectedConnectorIDs = append([]string(nil), s.ConnectedConnectorIDs...)
	s.Logs = append([]domain.LogEntry(nil), s.Logs...)
	return &s
}

// logLocked prepends an activity entry. c.mu must be held.
func (c *Controller) logLocked(ctx context.Context, action, details string) {
	entry := domain.LogEntry{
		ID:        uuid.NewString(),
		Timestamp: c.now(),
		UserID:    UserFrom(ctx),
		Action:    action,
		Details:   details,
	}
	logs := make([]domain.LogEntry, 0, len(c.snap.Logs)+1)
	logs = append(logs, entry)
	logs = append(logs, c.snap.Logs...)
	if len(logs) > MaxLogEntries {
		logs = logs[:MaxLogEntries]
	}
	c.snap.Logs = logs
	slog.Debug("Activity", "action", action, "userID", entry.UserID, "details", details)
}

// persistLocked saves the current state. Persistence failures are logged
// and do not undo the in-memory change. c.mu must be held.
func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.store.Save(ctx, c.copySnapshot()); err != nil {
		slog.Error("Failed to persist snapshot", "error", err)
	}
}

type userKey struct{}

// WithUser attaches the acting user id to ctx for the activity log.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the acting user id, if any.
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
