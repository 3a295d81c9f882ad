package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
)

// SnapshotStore persists the application snapshot.
type SnapshotStore interface {
	// Load returns the stored snapshot. When nothing has been saved yet it
	// returns Default. Fields that are missing or malformed are replaced by
	// their defaults independently of each other.
	Load(ctx context.Context) (*domain.Snapshot, error)

	// Save replaces the stored snapshot. Session-local file handles in the
	// gallery are never written.
	Save(ctx context.Context, snap *domain.Snapshot) error
}

// ErrNotConnected is returned by remote stores used before connecting.
var ErrNotConnected = errors.New("store is not connected")

// Snapshot field names, as they appear in the JSON document.
const (
	FieldVersion      = "version"
	FieldUsers        = "users"
	FieldCustomModels = "customModels"
	FieldAPIKeys      = "apiKeys"
	FieldSettings     = "settings"
	FieldGalleryRoot  = "galleryRoot"
	FieldConnectors   = "connectedConnectorIds"
	FieldLogs         = "logs"
)

// DefaultAdminID is the id of the account seeded into a fresh snapshot.
const DefaultAdminID = "admin"

// Default returns the snapshot of a fresh installation.
func Default(now time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		Version:               domain.SnapshotVersion,
		Users:                 defaultUsers(now),
		CustomModels:          []domain.ModelDescriptor{},
		APIKeys:               []domain.APIKey{},
		Settings:              defaultSettings(),
		GalleryRoot:           gallery.NewRoot(now),
		ConnectedConnectorIDs: []string{},
		Logs:                  []domain.LogEntry{},
	}
}

func defaultUsers(now time.Time) []domain.User {
	return []domain.User{{ID: DefaultAdminID, Username: "admin", Role: domain.UserRoleAdmin, CreatedAt: now}}
}

func defaultSettings() domain.Settings {
	return domain.Settings{ActiveModelID: domain.DefaultModelID, Language: "en"}
}

// Fields splits a snapshot into its top-level JSON fields, with file
// handles stripped from the gallery.
func Fields(snap *domain.Snapshot) (map[string]json.RawMessage, error) {
	c := *snap
	c.Version = domain.SnapshotVersion
	c.GalleryRoot = gallery.StripFiles(snap.GalleryRoot)

	values := map[string]any{
		FieldVersion:      c.Version,
		FieldUsers:        c.Users,
		FieldCustomModels: c.CustomModels,
		FieldAPIKeys:      c.APIKeys,
		FieldSettings:     c.Settings,
		FieldGalleryRoot:  c.GalleryRoot,
		FieldConnectors:   c.ConnectedConnectorIDs,
		FieldLogs:         c.Logs,
	}
	fields := make(map[string]json.RawMessage, len(values))
	for name, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		fields[name] = b
	}
	return fields, nil
}

// Encode serializes a snapshot as an indented JSON document.
func Encode(snap *domain.Snapshot) ([]byte, error) {
	c := *snap
	c.Version = domain.SnapshotVersion
	c.GalleryRoot = gallery.StripFiles(snap.GalleryRoot)
	return json.MarshalIndent(&c, "", "  ")
}

// DecodeJSON parses a snapshot document. It fails only when data is not a
// JSON object; problems with single fields fall back to defaults.
func DecodeJSON(data []byte, now time.Time) (*domain.Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, errors.New("snapshot is not a JSON object")
	}
	return Decode(fields, now), nil
}

// Decode builds a snapshot from its top-level fields. Each field is decoded
// on its own; an absent, null or malformed field takes its default value.
func Decode(fields map[string]json.RawMessage, now time.Time) *domain.Snapshot {
	snap := Default(now)

	var version int
	if decodeField(fields, FieldVersion, &version) && version > domain.SnapshotVersion {
		slog.Warn("Snapshot was written by a newer version", "version", version, "supported", domain.SnapshotVersion)
	}

	var users []domain.User
	if decodeField(fields, FieldUsers, &users) && len(users) > 0 {
		snap.Users = users
	}

	var models []domain.ModelDescriptor
	if decodeField(fields, FieldCustomModels, &models) {
		for i := range models {
			models[i].Custom = true
		}
		snap.CustomModels = models
	}

	var keys []domain.APIKey
	if decodeField(fields, FieldAPIKeys, &keys) {
		snap.APIKeys = keys
	}

	settings := defaultSettings()
	if decodeField(fields, FieldSettings, &settings) {
		if settings.ActiveModelID == "" {
			settings.ActiveModelID = domain.DefaultModelID
		}
		snap.Settings = settings
	}

	var root *domain.GalleryItem
	if decodeField(fields, FieldGalleryRoot, &root) {
		if err := gallery.Validate(root); err != nil {
			slog.Warn("Ignoring invalid gallery in snapshot", "error", err)
		} else {
			snap.GalleryRoot = root
		}
	}

	var connectors []string
	if decodeField(fields, FieldConnectors, &connectors) {
		snap.ConnectedConnectorIDs = connectors
	}

	var logs []domain.LogEntry
	if decodeField(fields, FieldLogs, &logs) {
		snap.Logs = logs
	}
	return snap
}

// decodeField unmarshals fields[name] into v and reports whether it held a
// usable value.
func decodeField(fields map[string]json.RawMessage, name string, v any) bool {
	raw, ok := fields[name]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Warn("Ignoring malformed snapshot field", "field", name, "error", err)
		return false
	}
	return true
}
