package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nstogner/studio/pkg/domain"
)

// DefaultModelID is selected when settings name no model.
const DefaultModelID = domain.DefaultModelID

var builtin = []domain.ModelDescriptor{
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: domain.ProviderGemini, Model: "gemini-2.5-flash", Description: "Fast multimodal model with adjustable thinking."},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: domain.ProviderGemini, Model: "gemini-2.5-pro", Description: "Most capable Gemini model for complex reasoning."},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: domain.ProviderOpenAI, Model: "gpt-4o", Description: "OpenAI flagship multimodal model."},
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: domain.ProviderOpenAI, Model: "gpt-4o-mini", Description: "Small, fast OpenAI model."},
	{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Provider: domain.ProviderAnthropic, Model: "claude-sonnet-4-20250514", Description: "Anthropic model balancing speed and quality."},
	{ID: "deepseek-chat", Name: "DeepSeek Chat", Provider: domain.ProviderDeepseek, Model: "deepseek-chat", Description: "DeepSeek general chat model."},
	{ID: "deepseek-reasoner", Name: "DeepSeek Reasoner", Provider: domain.ProviderDeepseek, Model: "deepseek-reasoner", Description: "DeepSeek reasoning model."},
}

// Builtin returns a copy of the built-in model catalog.
func Builtin() []domain.ModelDescriptor {
	return append([]domain.ModelDescriptor(nil), builtin...)
}

// Catalog returns the built-in models followed by custom ones. A custom
// model with the id of a built-in one replaces it in place.
func Catalog(custom []domain.ModelDescriptor) []domain.ModelDescriptor {
	models := Builtin()
	index := make(map[string]int, len(models))
	for i, m := range models {
		index[m.ID] = i
	}
	for _, m := range custom {
		m.Custom = true
		if i, ok := index[m.ID]; ok {
			models[i] = m
			continue
		}
		index[m.ID] = len(models)
		models = append(models, m)
	}
	return models
}

// Find returns the model with the given id.
func Find(models []domain.ModelDescriptor, id string) (domain.ModelDescriptor, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return domain.ModelDescriptor{}, false
}

// Validate checks that a custom model can be served.
func Validate(m domain.ModelDescriptor) error {
	var errs []error
	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(m.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	switch m.Provider {
	case domain.ProviderGemini, domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderDeepseek:
	default:
		errs = append(errs, fmt.Errorf("provider %q is not supported", m.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid model %q: %w", m.ID, errors.Join(errs...))
	}
	return nil
}

type catalogFile struct {
	Models []domain.ModelDescriptor `yaml:"models"`
}

// LoadCatalog decodes custom models from YAML:
//
//	models:
//	  - id: local-llama
//	    name: Llama via OpenAI-compatible API
//	    provider: openai
//	    model: llama-3.1-70b
func LoadCatalog(r io.Reader) ([]domain.ModelDescriptor, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding model catalog: %w", err)
	}
	for i := range f.Models {
		if f.Models[i].Name == "" {
			f.Models[i].Name = f.Models[i].ID
		}
		if err := Validate(f.Models[i]); err != nil {
			return nil, err
		}
		f.Models[i].Custom = true
	}
	return f.Models, nil
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) ([]domain.ModelDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCatalog(f)
}
