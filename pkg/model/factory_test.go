package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model/gemini"
	"github.com/nstogner/studio/pkg/model/sse"
)

func ptr[T any](v T) *T { return &v }

func TestNewSessionDispatch(t *testing.T) {
	f := &Factory{}
	for _, desc := range Builtin() {
		s, err := f.NewSession(desc, "key", domain.GenerationConfig{}, "")
		require.NoError(t, err, desc.ID)
		assert.Equal(t, desc, s.Model())

		switch desc.Provider {
		case domain.ProviderGemini:
			assert.IsType(t, &gemini.Session{}, s)
		default:
			assert.IsType(t, &sse.Session{}, s)
		}
	}
}

func TestNewSessionUnsupportedProvider(t *testing.T) {
	f := &Factory{}
	_, err := f.NewSession(domain.ModelDescriptor{ID: "x", Provider: "mistral", Model: "x"}, "key", domain.GenerationConfig{}, "")
	require.ErrorIs(t, err, chat.ErrUnsupportedProvider)
}

func TestNewSessionSystemOverride(t *testing.T) {
	var systems []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		systems = append(systems, gjson.GetBytes(body, "system").String())
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	f := &Factory{BaseURLs: map[domain.Provider]string{domain.ProviderAnthropic: srv.URL}}
	desc := domain.ModelDescriptor{ID: "c", Provider: domain.ProviderAnthropic, Model: "claude", SystemInstruction: "default"}

	for _, override := range []string{"", "override"} {
		s, err := f.NewSession(desc, "key", domain.GenerationConfig{}, override)
		require.NoError(t, err)
		stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
		require.NoError(t, err)
		_, err = stream.ReadAll()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"default", "override"}, systems)
}

func TestNewSessionMissingCredential(t *testing.T) {
	f := &Factory{}
	for _, p := range []domain.Provider{domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderDeepseek} {
		s, err := f.NewSession(domain.ModelDescriptor{ID: "m", Provider: p, Model: "m"}, "", domain.GenerationConfig{}, "")
		require.NoError(t, err)
		_, err = s.SendMessageStream(context.Background(), chat.Input{Text: "hello"})
		require.ErrorIs(t, err, chat.ErrMissingCredential, p)
		assert.Empty(t, s.History())
	}
}

func TestSanitize(t *testing.T) {
	gen := domain.GenerationConfig{Temperature: ptr(0.7), TopK: ptr(10), ThinkingBudget: ptr(256)}

	flash := Sanitize(domain.ModelDescriptor{Provider: domain.ProviderGemini, Model: gemini.ThinkingModel}, gen)
	assert.NotNil(t, flash.ThinkingBudget)
	assert.NotNil(t, flash.TopK)

	pro := Sanitize(domain.ModelDescriptor{Provider: domain.ProviderGemini, Model: "gemini-2.5-pro"}, gen)
	assert.Nil(t, pro.ThinkingBudget)

	gpt := Sanitize(domain.ModelDescriptor{Provider: domain.ProviderOpenAI, Model: "gpt-4o"}, gen)
	assert.Nil(t, gpt.ThinkingBudget)
	assert.Nil(t, gpt.TopK)
	assert.Equal(t, gen.Temperature, gpt.Temperature)

	claude := Sanitize(domain.ModelDescriptor{Provider: domain.ProviderAnthropic, Model: "claude"}, gen)
	assert.NotNil(t, claude.TopK)

	assert.NotNil(t, gen.ThinkingBudget, "input is not modified")
}

func TestCatalog(t *testing.T) {
	models := Catalog([]domain.ModelDescriptor{
		{ID: "gpt-4o", Name: "Company GPT", Provider: domain.ProviderOpenAI, Model: "gpt-4o-2024-08-06"},
		{ID: "local", Name: "Local", Provider: domain.ProviderOpenAI, Model: "llama"},
	})
	assert.Len(t, models, len(Builtin())+1)

	gpt, ok := Find(models, "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "Company GPT", gpt.Name)
	assert.True(t, gpt.Custom)

	local, ok := Find(models, "local")
	require.True(t, ok)
	assert.True(t, local.Custom)

	_, ok = Find(models, DefaultModelID)
	assert.True(t, ok)
}

func TestLoadCatalog(t *testing.T) {
	models, err := LoadCatalog(strings.NewReader(`
models:
  - id: local-llama
    provider: openai
    model: llama-3.1-70b
    system_instruction: Be concise.
  - id: haiku
    name: Claude Haiku
    provider: anthropic
    model: claude-3-5-haiku-latest
`))
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "local-llama", models[0].Name)
	assert.Equal(t, "Be concise.", models[0].SystemInstruction)
	assert.Equal(t, domain.ProviderAnthropic, models[1].Provider)
	assert.True(t, models[1].Custom)

	_, err = LoadCatalog(strings.NewReader("models:\n  - id: bad\n    provider: mistral\n    model: x\n"))
	require.ErrorContains(t, err, `provider "mistral" is not supported`)

	models, err = LoadCatalog(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, models)
}
