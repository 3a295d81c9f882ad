// Package model selects and builds chat sessions for the configured model
// providers and holds the model catalog.
package model

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model/anthropic"
	"github.com/nstogner/studio/pkg/model/deepseek"
	"github.com/nstogner/studio/pkg/model/gemini"
	"github.com/nstogner/studio/pkg/model/openai"
	"github.com/nstogner/studio/pkg/model/sse"
)

// SessionFactory builds a chat session for a model.
type SessionFactory interface {
	NewSession(desc domain.ModelDescriptor, credential string, gen domain.GenerationConfig, systemOverride string) (chat.Session, error)
}

// Factory is the SessionFactory for the built-in providers.
type Factory struct {
	// Gemini is the process-level native client. It may be nil when no
	// Gemini key is configured.
	Gemini *genai.Client
	// HTTPClient is shared by the HTTP providers.
	HTTPClient *http.Client
	// BaseURLs overrides the API root per provider.
	BaseURLs map[domain.Provider]string
	// Timeout bounds each HTTP send. Zero means none.
	Timeout time.Duration
	Retry   sse.RetryPolicy
}

var _ SessionFactory = (*Factory)(nil)

// NewSession dispatches on the descriptor's provider. A non-empty
// systemOverride replaces the descriptor's default system instruction.
func (f *Factory) NewSession(desc domain.ModelDescriptor, credential string, gen domain.GenerationConfig, systemOverride string) (chat.Session, error) {
	system := desc.SystemInstruction
	if strings.TrimSpace(systemOverride) != "" {
		system = systemOverride
	}
	gen = Sanitize(desc, gen)

	opts := sse.Options{
		HTTPClient: f.HTTPClient,
		BaseURL:    f.BaseURLs[desc.Provider],
		Timeout:    f.Timeout,
		Retry:      f.Retry,
	}

	switch desc.Provider {
	case domain.ProviderGemini:
		return gemini.NewSession(f.Gemini, desc, system, gen), nil
	case domain.ProviderOpenAI:
		return openai.New(desc, credential, system, gen, opts), nil
	case domain.ProviderAnthropic:
		return anthropic.New(desc, credential, system, gen, opts), nil
	case domain.ProviderDeepseek:
		return deepseek.New(desc, credential, system, gen, opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", chat.ErrUnsupportedProvider, desc.Provider)
	}
}

// Sanitize drops the generation fields a provider does not understand. The
// thinking budget only applies to one Gemini model; top-k only to Gemini and
// Anthropic.
func Sanitize(desc domain.ModelDescriptor, gen domain.GenerationConfig) domain.GenerationConfig {
	if desc.Provider != domain.ProviderGemini || desc.Model != gemini.ThinkingModel {
		gen.ThinkingBudget = nil
	}
	switch desc.Provider {
	case domain.ProviderOpenAI, domain.ProviderDeepseek:
		gen.TopK = nil
	}
	return gen
}
