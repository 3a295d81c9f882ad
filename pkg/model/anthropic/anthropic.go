// Package anthropic implements the Anthropic Messages API streaming dialect.
package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model/sse"
)

const (
	// DefaultBaseURL is the public Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com/v1"
	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"
	// DefaultMaxTokens is used when the generation config leaves it unset,
	// because the API requires it.
	DefaultMaxTokens = 4096
)

// Dialect is the Anthropic wire format.
type Dialect struct{}

var _ sse.Dialect = Dialect{}

// New returns a streaming session for an Anthropic model.
func New(desc domain.ModelDescriptor, credential, system string, gen domain.GenerationConfig, opts sse.Options) *sse.Session {
	return sse.NewSession(Dialect{}, desc, credential, system, gen, opts)
}

func (Dialect) Provider() domain.Provider { return domain.ProviderAnthropic }
func (Dialect) DefaultBaseURL() string    { return DefaultBaseURL }
func (Dialect) Path() string              { return "/messages" }

func (Dialect) SetHeaders(h http.Header, credential string) {
	h.Set("x-api-key", credential)
	h.Set("anthropic-version", APIVersion)
}

// Message is one entry of the messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is the streaming request body.
type MessagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
}

// BuildRequest converts a session request into the wire body. The API
// requires alternating roles, so consecutive turns of the same role are
// merged and empty turns dropped.
func BuildRequest(req sse.Request) MessagesRequest {
	out := MessagesRequest{
		Model:       req.Model,
		System:      req.System,
		MaxTokens:   DefaultMaxTokens,
		Stream:      true,
		Temperature: req.Generation.Temperature,
		TopP:        req.Generation.TopP,
		TopK:        req.Generation.TopK,
	}
	if req.Generation.MaxOutputTokens != nil && *req.Generation.MaxOutputTokens > 0 {
		out.MaxTokens = *req.Generation.MaxOutputTokens
	}
	for _, m := range req.Messages {
		if m.Content == "" || m.Role == domain.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == role {
			out.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		out.Messages = append(out.Messages, Message{Role: role, Content: m.Content})
	}
	return out
}

func (Dialect) Body(req sse.Request) ([]byte, error) {
	return json.Marshal(BuildRequest(req))
}

// Delta handles the typed events of the Messages stream: text deltas are
// returned, message_stop ends the stream and error events fail it.
func (Dialect) Delta(payload []byte) (string, bool, error) {
	if !gjson.ValidBytes(payload) {
		return "", false, nil
	}
	event := gjson.ParseBytes(payload)
	switch event.Get("type").String() {
	case "content_block_delta":
		if event.Get("delta.type").String() == "text_delta" {
			return event.Get("delta.text").String(), false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		return "", false, fmt.Errorf("anthropic stream error: %s: %s",
			event.Get("error.type").String(), event.Get("error.message").String())
	}
	return "", false, nil
}
