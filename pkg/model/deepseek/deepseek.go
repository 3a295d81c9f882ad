// Package deepseek implements the Deepseek chat dialect, which follows the
// OpenAI chat completions wire format.
package deepseek

import (
	"net/http"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model/openai"
	"github.com/nstogner/studio/pkg/model/sse"
)

// DefaultBaseURL is the public Deepseek API root.
const DefaultBaseURL = "https://api.deepseek.com"

// Dialect is the Deepseek wire format.
type Dialect struct{}

var _ sse.Dialect = Dialect{}

// New returns a streaming session for a Deepseek model.
func New(desc domain.ModelDescriptor, credential, system string, gen domain.GenerationConfig, opts sse.Options) *sse.Session {
	return sse.NewSession(Dialect{}, desc, credential, system, gen, opts)
}

func (Dialect) Provider() domain.Provider { return domain.ProviderDeepseek }
func (Dialect) DefaultBaseURL() string    { return DefaultBaseURL }
func (Dialect) Path() string              { return "/chat/completions" }

func (Dialect) SetHeaders(h http.Header, credential string) {
	h.Set("Authorization", "Bearer "+credential)
}

func (Dialect) Body(req sse.Request) ([]byte, error) {
	return openai.Dialect{}.Body(req)
}

// Delta returns only the answer text; reasoning_content of reasoner models
// is not part of the reply.
func (d Dialect) Delta(payload []byte) (string, bool, error) {
	return openai.ParseDelta(d.Provider(), payload)
}
