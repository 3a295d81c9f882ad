package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
	"github.com/nstogner/studio/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile := t.TempDir() + "/test.db"
	s, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(tmpFile)
	})
	return s
}

func TestLoadEmpty(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version != domain.SnapshotVersion {
		t.Errorf("Version = %d, want %d", snap.Version, domain.SnapshotVersion)
	}
	if snap.GalleryRoot == nil || snap.GalleryRoot.ID != domain.RootID {
		t.Errorf("GalleryRoot = %+v, want empty root", snap.GalleryRoot)
	}
	if len(snap.Users) != 1 || snap.Users[0].Role != domain.UserRoleAdmin {
		t.Errorf("Users = %+v, want seeded admin", snap.Users)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	snap := store.Default(now)
	root, err := gallery.CreateItem(snap.GalleryRoot, domain.RootID, &domain.GalleryItem{
		ID:   "f1",
		Type: domain.ItemFolder,
		Name: "Trips",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	root, err = gallery.CreateItem(root, "f1", &domain.GalleryItem{
		ID:   "img",
		Type: domain.ItemImage,
		Name: "beach.png",
		File: &domain.Blob{MIMEType: "image/png", Data: []byte{1, 2}},
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	snap.GalleryRoot = root
	snap.Settings.ActiveModelID = "gpt-4o"
	snap.Logs = []domain.LogEntry{
		{ID: "l2", Timestamp: now.Add(time.Minute), Action: "gallery.rename"},
		{ID: "l1", Timestamp: now, Action: "login", UserID: "admin"},
	}

	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Settings.ActiveModelID != "gpt-4o" {
		t.Errorf("ActiveModelID = %q, want %q", got.Settings.ActiveModelID, "gpt-4o")
	}
	img, ok := gallery.FindItem(got.GalleryRoot, "img")
	if !ok {
		t.Fatal("image not found after reload")
	}
	if img.File != nil {
		t.Error("file handle was persisted")
	}
	if len(got.Logs) != 2 || got.Logs[0].ID != "l2" || got.Logs[1].ID != "l1" {
		t.Errorf("Logs = %+v, want l2, l1", got.Logs)
	}
	if got.Logs[1].UserID != "admin" {
		t.Errorf("UserID = %q, want %q", got.Logs[1].UserID, "admin")
	}

	// Saving again replaces the log.
	snap.Logs = snap.Logs[:1]
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Logs) != 1 {
		t.Errorf("Logs len = %d, want 1", len(got.Logs))
	}
}

func TestLoadMalformedField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := store.Default(time.Now().UTC())
	snap.APIKeys = []domain.APIKey{{ID: "k", Provider: domain.ProviderDeepseek, Key: "secret"}}
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE snapshot_fields SET value = ? WHERE name = ?`, `{broken`, store.FieldGalleryRoot); err != nil {
		t.Fatalf("corrupt field: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.GalleryRoot == nil || got.GalleryRoot.ID != domain.RootID {
		t.Errorf("GalleryRoot = %+v, want default root", got.GalleryRoot)
	}
	if len(got.APIKeys) != 1 || got.APIKeys[0].Key != "secret" {
		t.Errorf("APIKeys = %+v, want the saved key", got.APIKeys)
	}
}
