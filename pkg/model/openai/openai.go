// Package openai implements the OpenAI chat completions streaming dialect.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model/sse"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Dialect encodes chat completions requests and decodes their deltas.
// Other OpenAI-compatible providers reuse it with their own tag and URL.
type Dialect struct{}

var _ sse.Dialect = Dialect{}

// New returns a streaming session for an OpenAI model.
func New(desc domain.ModelDescriptor, credential, system string, gen domain.GenerationConfig, opts sse.Options) *sse.Session {
	return sse.NewSession(Dialect{}, desc, credential, system, gen, opts)
}

func (Dialect) Provider() domain.Provider { return domain.ProviderOpenAI }
func (Dialect) DefaultBaseURL() string    { return DefaultBaseURL }
func (Dialect) Path() string              { return "/chat/completions" }

func (Dialect) SetHeaders(h http.Header, credential string) {
	h.Set("Authorization", "Bearer "+credential)
}

// Message is one entry of the messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the streaming request body. Top-k has no equivalent and is
// never sent.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// BuildRequest converts a session request into the wire body.
func BuildRequest(req sse.Request) ChatRequest {
	out := ChatRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: req.Generation.Temperature,
		TopP:        req.Generation.TopP,
		MaxTokens:   req.Generation.MaxOutputTokens,
		Messages:    make([]Message, 0, len(req.Messages)+1),
	}
	if req.System != "" {
		out.Messages = append(out.Messages, Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (Dialect) Body(req sse.Request) ([]byte, error) {
	return json.Marshal(BuildRequest(req))
}

func (d Dialect) Delta(payload []byte) (string, bool, error) {
	return ParseDelta(d.Provider(), payload)
}

// ParseDelta extracts choices[0].delta.content. Payloads that are not JSON
// are skipped.
func ParseDelta(p domain.Provider, payload []byte) (string, bool, error) {
	if !gjson.ValidBytes(payload) {
		return "", false, nil
	}
	if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
		return "", false, fmt.Errorf("%s stream error: %s", p, msg.String())
	}
	return gjson.GetBytes(payload, "choices.0.delta.content").String(), false, nil
}
