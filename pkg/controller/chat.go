package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model"
)

// conversation binds a conversation id to the session serving it and the
// settings that session was built from.
type conversation struct {
	session chat.Session
	key     sessionKey
}

// sessionKey identifies the inputs of a session. A conversation whose key
// no longer matches the current settings gets a fresh session.
type sessionKey struct {
	modelID    string
	system     string
	credential string
	generation string
}

// Models returns the built-in catalog merged with the custom models.
func (c *Controller) Models() []domain.ModelDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalogLocked()
}

// Send sends a user message on the conversation and returns the reply
// stream. The session is created on first use and rebuilt when the active
// model, generation config, system instruction or credential changed.
func (c *Controller) Send(ctx context.Context, conversationID string, in chat.Input) (*chat.Stream, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalid)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalid)
	}

	session, desc, err := c.session(conversationID)
	if err != nil {
		return nil, err
	}
	stream, err := session.SendMessageStream(ctx, in)
	if err != nil {
		slog.Warn("Chat send failed", "conversationID", conversationID, "model", desc.ID, "provider", desc.Provider, "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.logLocked(ctx, "chat.send", fmt.Sprintf("%s via %s", conversationID, desc.ID))
	c.persistLocked(ctx)
	c.mu.Unlock()
	return stream, nil
}

// History returns the committed transcript of a conversation.
func (c *Controller) History(conversationID string) ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	return conv.session.History(), nil
}

// ClearConversation drops the conversation's session so the next send
// starts from an empty transcript.
func (c *Controller) ClearConversation(ctx context.Context, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.convs[conversationID]; !ok {
		return
	}
	delete(c.convs, conversationID)
	c.logLocked(ctx, "chat.clear", conversationID)
	c.persistLocked(ctx)
}

// session returns the conversation's session, building a new one when the
// current settings no longer match.
func (c *Controller) session(conversationID string) (chat.Session, domain.ModelDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := c.snap.Settings
	desc, ok := model.Find(c.catalogLocked(), settings.ActiveModelID)
	if !ok {
		return nil, desc, fmt.Errorf("model %q: %w", settings.ActiveModelID, ErrNotFound)
	}
	credential := c.credentialLocked(desc.Provider)
	gen, err := json.Marshal(settings.Generation)
	if err != nil {
		return nil, desc, fmt.Errorf("encoding generation config: %w", err)
	}
	key := sessionKey{
		modelID:    desc.ID,
		system:     settings.SystemInstruction,
		credential: credential,
		generation: string(gen),
	}

	if conv, ok := c.convs[conversationID]; ok && conv.key == key {
		return conv.session, desc, nil
	}
	session, err := c.sessions.NewSession(desc, credential, settings.Generation, settings.SystemInstruction)
	if err != nil {
		return nil, desc, err
	}
	slog.Debug("Session created", "conversationID", conversationID, "model", desc.ID, "provider", desc.Provider)
	c.convs[conversationID] = &conversation{session: session, key: key}
	return session, desc, nil
}

// credentialLocked returns the newest stored key for the provider, or ""
// when there is none. The native provider is authorized at process level.
func (c *Controller) credentialLocked(p domain.Provider) string {
	if !p.RequiresCredential() {
		return ""
	}
	var newest *domain.APIKey
	for i := range c.snap.APIKeys {
		k := &c.snap.APIKeys[i]
		if k.Provider == p && (newest == nil || k.CreatedAt.After(newest.CreatedAt)) {
			newest = k
		}
	}
	if newest == nil {
		return ""
	}
	return newest.Key
}
