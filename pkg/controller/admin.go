package controller

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/model"
)

// Users lists the application accounts.
func (c *Controller) Users() []domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snap.Users)
}

// CreateUser adds an account. Usernames are unique, case-insensitively.
func (c *Controller) CreateUser(ctx context.Context, username string, role domain.UserRole) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if role != domain.UserRoleAdmin && role != domain.UserRoleMember {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.snap.Users {
		if strings.EqualFold(u.Username, username) {
			return domain.User{}, fmt.Errorf("user %q: %w", username, ErrConflict)
		}
	}
	u := domain.User{ID: uuid.NewString(), Username: username, Role: role, CreatedAt: c.now()}
	c.snap.Users = append(slices.Clone(c.snap.Users), u)
	c.logLocked(ctx, "admin.create_user", fmt.Sprintf("%s (%s)", username, role))
	c.persistLocked(ctx)
	return u, nil
}

// DeleteUser removes an account. The last admin can't be removed.
func (c *Controller) DeleteUser(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.IndexFunc(c.snap.Users, func(u domain.User) bool { return u.ID == id })
	if i < 0 {
		return fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	if c.snap.Users[i].Role == domain.UserRoleAdmin {
		admins := 0
		for _, u := range c.snap.Users {
			if u.Role == domain.UserRoleAdmin {
				admins++
			}
		}
		if admins == 1 {
			return fmt.Errorf("%w: cannot delete the last admin", ErrInvalid)
		}
	}
	username := c.snap.Users[i].Username
	c.snap.Users = slices.Delete(slices.Clone(c.snap.Users), i, i+1)
	c.logLocked(ctx, "admin.delete_user", username)
	c.persistLocked(ctx)
	return nil
}

// APIKeys lists the stored keys with their secrets masked.
func (c *Controller) APIKeys() []domain.APIKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]domain.APIKey, len(c.snap.APIKeys))
	for i, k := range c.snap.APIKeys {
		keys[i] = k.Masked()
	}
	return keys
}

// AddAPIKey stores a provider credential and returns it masked.
func (c *Controller) AddAPIKey(ctx context.Context, provider domain.Provider, label, key string) (domain.APIKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.APIKey{}, fmt.Errorf("%w: key is required", ErrInvalid)
	}
	if err := model.Validate(domain.ModelDescriptor{ID: "key", Model: "key", Provider: provider}); err != nil {
		return domain.APIKey{}, fmt.Errorf("%w: unknown provider %q", ErrInvalid, provider)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	k := domain.APIKey{
		ID:        uuid.NewString(),
		Provider:  provider,
		Label:     strings.TrimSpace(label),
		Key:       key,
		CreatedAt: c.now(),
	}
	c.snap.APIKeys = append(slices.Clone(c.snap.APIKeys), k)
	c.logLocked(ctx, "admin.add_api_key", fmt.Sprintf("%s %s", provider, k.Label))
	c.persistLocked(ctx)
	return k.Masked(), nil
}

// DeleteAPIKey removes a stored credential.
func (c *Controller) DeleteAPIKey(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.snap.APIKeys, func(k domain.APIKey) bool { return k.ID == id })
	if i < 0 {
		return fmt.Errorf("api key %q: %w", id, ErrNotFound)
	}
	provider := c.snap.APIKeys[i].Provider
	c.snap.APIKeys = slices.Delete(slices.Clone(c.snap.APIKeys), i, i+1)
	c.logLocked(ctx, "admin.delete_api_key", string(provider))
	c.persistLocked(ctx)
	return nil
}

// AddCustomModel registers a model descriptor. A custom model may shadow a
// built-in one but not another custom model.
func (c *Controller) AddCustomModel(ctx context.Context, m domain.ModelDescriptor) (domain.ModelDescriptor, error) {
	if err := model.Validate(m); err != nil {
		return domain.ModelDescriptor{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	m.Custom = true

	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.ContainsFunc(c.snap.CustomModels, func(x domain.ModelDescriptor) bool { return x.ID == m.ID }) {
		return domain.ModelDescriptor{}, fmt.Errorf("model %q: %w", m.ID, ErrConflict)
	}
	c.snap.CustomModels = append(slices.Clone(c.snap.CustomModels), m)
	c.logLocked(ctx, "admin.add_model", fmt.Sprintf("%s (%s)", m.ID, m.Provider))
	c.persistLocked(ctx)
	return m, nil
}

// DeleteCustomModel removes a custom model. If it was active, the settings
// fall back to the default model.
func (c *Controller) DeleteCustomModel(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.snap.CustomModels, func(m domain.ModelDescriptor) bool { return m.ID == id })
	if i < 0 {
		return fmt.Errorf("model %q: %w", id, ErrNotFound)
	}
	c.snap.CustomModels = slices.Delete(slices.Clone(c.snap.CustomModels), i, i+1)
	if _, ok := model.Find(c.catalogLocked(), c.snap.Settings.ActiveModelID); !ok {
		c.snap.Settings.ActiveModelID = model.DefaultModelID
	}
	c.logLocked(ctx, "admin.delete_model", id)
	c.persistLocked(ctx)
	return nil
}

// Settings returns the current settings.
func (c *Controller) Settings() domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Settings
}

// UpdateSettings replaces the settings. The active model must exist.
func (c *Controller) UpdateSettings(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.ActiveModelID == "" {
		s.ActiveModelID = model.DefaultModelID
	}
	if _, ok := model.Find(c.catalogLocked(), s.ActiveModelID); !ok {
		return domain.Settings{}, fmt.Errorf("model %q: %w", s.ActiveModelID, ErrNotFound)
	}
	c.snap.Settings = s
	c.logLocked(ctx, "settings.update", s.ActiveModelID)
	c.persistLocked(ctx)
	return s, nil
}

// Connectors lists the connected connector ids.
func (c *Controller) Connectors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.snap.ConnectedConnectorIDs)
}

// SetConnector marks a connector as connected or disconnected.
func (c *Controller) SetConnector(ctx context.Context, id string, connected bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: connector id is required", ErrInvalid)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Clone(c.snap.ConnectedConnectorIDs)
	i := slices.Index(ids, id)
	switch {
	case connected && i < 0:
		ids = append(ids, id)
		c.logLocked(ctx, "connector.connect", id)
	case !connected && i >= 0:
		ids = slices.Delete(ids, i, i+1)
		c.logLocked(ctx, "connector.disconnect", id)
	default:
		return nil
	}
	c.snap.ConnectedConnectorIDs = ids
	c.persistLocked(ctx)
	return nil
}
