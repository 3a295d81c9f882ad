package domain

// Role defines the sender of a chat message.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the model/assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates a system instruction.
	RoleSystem Role = "system"
)

// UserRole defines what an application user may do.
type UserRole string

const (
	// UserRoleAdmin may manage users, api keys and custom models.
	UserRoleAdmin UserRole = "admin"
	// UserRoleMember may chat, generate and manage the gallery.
	UserRoleMember UserRole = "user"
)

// Provider tags a model backend.
type Provider string

const (
	// ProviderGemini is the native SDK provider, authorized at process level.
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is reached over HTTP/SSE with a bearer key.
	ProviderOpenAI Provider = "openai"
	// ProviderAnthropic is reached over HTTP/SSE with an x-api-key header.
	ProviderAnthropic Provider = "anthropic"
	// ProviderDeepseek is reached over HTTP/SSE with a bearer key.
	ProviderDeepseek Provider = "deepseek"
)

// RequiresCredential reports whether sessions for p need a per-session API key.
func (p Provider) RequiresCredential() bool {
	return p != ProviderGemini
}
