package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/gallery"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleSnapshot(t *testing.T) *domain.Snapshot {
	t.Helper()
	snap := Default(now)
	root, err := gallery.CreateItem(snap.GalleryRoot, domain.RootID, &domain.GalleryItem{
		ID:   "img1",
		Type: domain.ItemImage,
		Name: "cat.png",
		Src:  "data:image/png;base64,AA==",
		File: &domain.Blob{MIMEType: "image/png", Data: []byte{0}},
	})
	require.NoError(t, err)
	snap.GalleryRoot = root
	snap.APIKeys = []domain.APIKey{{ID: "k1", Provider: domain.ProviderOpenAI, Key: "sk-123456789"}}
	snap.Settings.SystemInstruction = "be helpful"
	snap.ConnectedConnectorIDs = []string{"drive"}
	snap.Logs = []domain.LogEntry{{ID: "l1", Timestamp: now, Action: "login"}}
	return snap
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := sampleSnapshot(t)

	data, err := Encode(snap)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"file"`)

	got, err := DecodeJSON(data, now)
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotVersion, got.Version)
	assert.Equal(t, snap.APIKeys, got.APIKeys)
	assert.Equal(t, snap.Settings, got.Settings)
	assert.Equal(t, snap.ConnectedConnectorIDs, got.ConnectedConnectorIDs)

	img, ok := gallery.FindItem(got.GalleryRoot, "img1")
	require.True(t, ok)
	assert.Nil(t, img.File)
	assert.Equal(t, "cat.png", img.Name)

	orig, _ := gallery.FindItem(snap.GalleryRoot, "img1")
	assert.NotNil(t, orig.File, "encoding must not strip the live tree")
}

func TestDecodeDefaultsFieldsIndependently(t *testing.T) {
	fields := map[string]json.RawMessage{
		FieldUsers:       json.RawMessage(`"not a list"`),
		FieldAPIKeys:     json.RawMessage(`[{"id":"k1","provider":"anthropic","key":"x"}]`),
		FieldSettings:    json.RawMessage(`{"systemInstruction":"hi"}`),
		FieldGalleryRoot: json.RawMessage(`{"id":"other","type":"folder"}`),
		FieldLogs:        json.RawMessage(`null`),
	}

	snap := Decode(fields, now)
	def := Default(now)

	assert.Equal(t, def.Users, snap.Users)
	require.Len(t, snap.APIKeys, 1)
	assert.Equal(t, domain.ProviderAnthropic, snap.APIKeys[0].Provider)
	assert.Equal(t, "hi", snap.Settings.SystemInstruction)
	assert.Equal(t, domain.DefaultModelID, snap.Settings.ActiveModelID)
	assert.Equal(t, domain.RootID, snap.GalleryRoot.ID)
	assert.Empty(t, snap.GalleryRoot.Children)
	assert.NotNil(t, snap.Logs)
	assert.NotNil(t, snap.CustomModels)
}

func TestDecodeMarksCustomModels(t *testing.T) {
	snap, err := DecodeJSON([]byte(`{"customModels":[{"id":"m","provider":"openai","model":"x"}]}`), now)
	require.NoError(t, err)
	require.Len(t, snap.CustomModels, 1)
	assert.True(t, snap.CustomModels[0].Custom)
}

func TestDecodeJSONRejectsNonObjects(t *testing.T) {
	for _, doc := range []string{`[]`, `"x"`, `null`, `{`} {
		_, err := DecodeJSON([]byte(doc), now)
		assert.Error(t, err, doc)
	}
}

func TestFields(t *testing.T) {
	fields, err := Fields(sampleSnapshot(t))
	require.NoError(t, err)
	assert.Len(t, fields, 8)
	assert.JSONEq(t, `1`, string(fields[FieldVersion]))

	snap := Decode(fields, now)
	_, ok := gallery.FindItem(snap.GalleryRoot, "img1")
	assert.True(t, ok)
}
