package generate

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  srv.Client(),
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)
	return New(client, "", "", "")
}

func TestEditImage(t *testing.T) {
	png := []byte("\x89PNG edited")
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, DefaultEditModel+":generateContent"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "image/jpeg", gjson.GetBytes(body, "contents.0.parts.0.inlineData.mimeType").String())
		assert.Equal(t, "make it blue", gjson.GetBytes(body, "contents.0.parts.1.text").String())

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Here you go"},{"inlineData":{"mimeType":"image/png","data":%q}}]}}]}`,
			base64.StdEncoding.EncodeToString(png))
	})

	images, err := g.Images(context.Background(), ImageRequest{
		Prompt: "make it blue",
		Source: &domain.Blob{MIMEType: "image/jpeg", Data: []byte("jpeg")},
	})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "image/png", images[0].MIMEType)
	assert.Equal(t, png, images[0].Data)
}

func TestEditImageWithoutImage(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I cannot edit this"}]}}]}`)
	})

	_, err := g.Images(context.Background(), ImageRequest{
		Prompt: "make it blue",
		Source: &domain.Blob{MIMEType: "image/jpeg", Data: []byte("jpeg")},
	})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestProject(t *testing.T) {
	doc := `{"plan":{"title":"Todo API","description":"A small REST API","stack":["Go"],"steps":["scaffold","test"]},"files":[{"path":"main.go","language":"go","content":"package main"}]}`
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/json", gjson.GetBytes(body, "generationConfig.responseMimeType").String())
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, doc)
	})

	p, err := g.Project(context.Background(), "a todo api")
	require.NoError(t, err)
	assert.Equal(t, "Todo API", p.Plan.Title)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "main.go", p.Files[0].Path)
}

func TestProjectTransportError(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`)
	})

	_, err := g.Project(context.Background(), "a todo api")
	var te *chat.TransportError
	require.ErrorAs(t, err, &te)
}

func TestNoClient(t *testing.T) {
	g := New(nil, "", "", "")
	_, err := g.Images(context.Background(), ImageRequest{Prompt: "cat"})
	require.ErrorIs(t, err, chat.ErrMissingCredential)
	_, err = g.Project(context.Background(), "x")
	require.ErrorIs(t, err, chat.ErrMissingCredential)
}

func TestParseProject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "plain", raw: `{"plan":{"title":"T"},"files":[{"path":"a","content":"b"}]}`},
		{name: "fenced", raw: "```json\n{\"plan\":{\"title\":\"T\"},\"files\":[{\"path\":\"a\",\"content\":\"b\"}]}\n```"},
		{name: "not json", raw: "sorry", wantErr: true},
		{name: "no title", raw: `{"plan":{},"files":[{"path":"a"}]}`, wantErr: true},
		{name: "no files", raw: `{"plan":{"title":"T"},"files":[]}`, wantErr: true},
		{name: "file without path", raw: `{"plan":{"title":"T"},"files":[{"content":"x"}]}`, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseProject(tc.raw)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestItems(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	img := ImageItem(domain.Blob{MIMEType: "image/png", Data: make([]byte, 2048)}, "a red fox in the snow", now)
	assert.Equal(t, domain.ItemImage, img.Type)
	assert.True(t, strings.HasPrefix(img.Src, "data:image/png;base64,"))
	assert.Equal(t, "2.0 KB", img.Size)
	assert.Equal(t, "a red fox in the snow", img.Name)
	assert.NotEmpty(t, img.ID)

	proj := ProjectItem(Project{Plan: domain.ProjectPlan{Title: "Todo"}, Files: []domain.ProjectFile{{Path: "a"}}}, "todo", now)
	assert.Equal(t, domain.ItemProject, proj.Type)
	assert.Equal(t, "Todo", proj.Name)
	assert.Len(t, proj.ProjectFiles, 1)

	assert.Equal(t, "Image", ImageItem(domain.Blob{}, " ", now).Name)
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "1.5 MB", HumanSize(3<<19))
}
