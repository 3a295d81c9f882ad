package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

// ThinkingModel is the only model the thinking budget is forwarded to.
const ThinkingModel = "gemini-2.5-flash"

// NewClient creates a genai client for the Gemini API. baseURL may be empty.
func NewClient(ctx context.Context, apiKey, baseURL string, httpClient *http.Client) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// List returns the Gemini models that support content generation.
func List(ctx context.Context, client *genai.Client) ([]domain.ModelDescriptor, error) {
	var models []domain.ModelDescriptor
	for m, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		// Filter for models that support generateContent.
		supportsGenerate := false
		if !strings.Contains(strings.ToLower(m.Name), "gemma") {
			for _, action := range m.SupportedActions {
				if action == "generateContent" {
					supportsGenerate = true
					break
				}
			}
		}

		if supportsGenerate {
			id := strings.TrimPrefix(m.Name, "models/")
			models = append(models, domain.ModelDescriptor{
				ID:          id,
				Name:        m.DisplayName,
				Provider:    domain.ProviderGemini,
				Model:       id,
				Description: m.Description,
			})
		}
	}
	return models, nil
}

// Session implements chat.Session on the native SDK. It supports inline
// attachments and non-streaming sends.
type Session struct {
	client     *genai.Client
	desc       domain.ModelDescriptor
	config     *genai.GenerateContentConfig
	transcript *chat.Transcript
}

// Verify interface compliance.
var _ chat.Session = (*Session)(nil)

// NewSession creates a session. A nil client means the process has no
// Gemini key, and every send fails with chat.ErrMissingCredential.
func NewSession(client *genai.Client, desc domain.ModelDescriptor, system string, gen domain.GenerationConfig) *Session {
	return &Session{
		client:     client,
		desc:       desc,
		config:     BuildConfig(desc.Model, system, gen),
		transcript: chat.NewTranscript(),
	}
}

// BuildConfig maps a generation config onto the SDK config.
func BuildConfig(model, system string, gen domain.GenerationConfig) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if gen.Temperature != nil {
		config.Temperature = ptr(float32(*gen.Temperature))
	}
	if gen.TopP != nil {
		config.TopP = ptr(float32(*gen.TopP))
	}
	if gen.TopK != nil {
		config.TopK = ptr(float32(*gen.TopK))
	}
	if gen.MaxOutputTokens != nil {
		config.MaxOutputTokens = int32(*gen.MaxOutputTokens)
	}
	if gen.ThinkingBudget != nil && model == ThinkingModel {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: ptr(int32(*gen.ThinkingBudget))}
	}
	return config
}

func (s *Session) Model() domain.ModelDescriptor { return s.desc }

func (s *Session) History() []chat.Message { return s.transcript.History() }

// SendMessageStream sends in and returns the reply stream. The first
// response is fetched before returning, so request failures surface here.
func (s *Session) SendMessageStream(ctx context.Context, in chat.Input) (*chat.Stream, error) {
	if s.client == nil {
		return nil, chat.MissingCredential(domain.ProviderGemini)
	}

	turn, err := s.transcript.Begin(chat.UserMessage(in))
	if err != nil {
		return nil, err
	}

	slog.Debug("Gemini.SendMessageStream", "model", s.desc.Model, "messageCount", s.transcript.Len())

	streamCtx, cancel := context.WithCancel(ctx)
	seq := s.client.Models.GenerateContentStream(streamCtx, s.desc.Model, toContents(turn.Messages()), s.config)
	next, stop := iter.Pull2(seq)

	src := &source{ctx: streamCtx, next: next, stop: stop, cancel: cancel}
	src.first, src.firstErr, src.firstOK = next()
	if src.firstOK && src.firstErr != nil {
		err := transportError(streamCtx, src.firstErr)
		src.Close()
		turn.Discard()
		return nil, err
	}
	src.primed = true
	return chat.NewStream(turn, src), nil
}

// SendMessage sends in and waits for the whole reply.
func (s *Session) SendMessage(ctx context.Context, in chat.Input) (string, error) {
	if s.client == nil {
		return "", chat.MissingCredential(domain.ProviderGemini)
	}

	turn, err := s.transcript.Begin(chat.UserMessage(in))
	if err != nil {
		return "", err
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.desc.Model, toContents(turn.Messages()), s.config)
	if err != nil {
		turn.Discard()
		return "", transportError(ctx, err)
	}
	text := responseText(resp)
	turn.Commit(text)
	return text, nil
}

func transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &chat.TransportError{Provider: domain.ProviderGemini, Err: err}
}

// toContents converts the transcript to SDK contents.
func toContents(msgs []chat.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == domain.RoleSystem {
			continue
		}

		var parts []*genai.Part
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for _, a := range msg.Attachments {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: a.MIMEType, Data: a.Data}})
		}
		if len(parts) == 0 {
			continue
		}

		role := genai.RoleUser
		if msg.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// responseText concatenates the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// source pulls responses from the SDK stream iterator.
type source struct {
	ctx    context.Context
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc

	primed   bool
	first    *genai.GenerateContentResponse
	firstErr error
	firstOK  bool
}

func (s *source) Next() (string, error) {
	for {
		var (
			resp *genai.GenerateContentResponse
			err  error
			ok   bool
		)
		if s.primed {
			resp, err, ok = s.first, s.firstErr, s.firstOK
			s.primed, s.first = false, nil
		} else {
			resp, err, ok = s.next()
		}
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", transportError(s.ctx, err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *source) Close() error {
	s.stop()
	s.cancel()
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
