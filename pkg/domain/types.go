package domain

import "time"

// RootID is the reserved id of the gallery root folder.
const RootID = "root"

// ItemType is the kind of a gallery node.
type ItemType string

// Gallery item kinds.
const (
	ItemFolder  ItemType = "folder"
	ItemImage   ItemType = "image"
	ItemVideo   ItemType = "video"
	ItemFile    ItemType = "file"
	ItemProject ItemType = "generated-project"
)

// Blob is raw binary content with its MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// GalleryItem is a node of the gallery tree. Only folders carry children.
// Nodes are treated as immutable once they are part of a tree; mutations
// build new nodes along the affected path.
type GalleryItem struct {
	ID        string    `json:"id"`
	Type      ItemType  `json:"type"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`

	Src       string `json:"src,omitempty"`
	Alt       string `json:"alt,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	FileType  string `json:"fileType,omitempty"`
	Size      string `json:"size,omitempty"`

	Children []*GalleryItem `json:"children,omitempty"`

	// File is a session-local handle to the original upload, kept for
	// re-analysis. It never leaves the process.
	File *Blob `json:"-"`

	ProjectPlan  *ProjectPlan  `json:"projectPlan,omitempty"`
	ProjectFiles []ProjectFile `json:"projectFiles,omitempty"`
}

// IsFolder reports whether the item may hold children.
func (i *GalleryItem) IsFolder() bool {
	return i != nil && i.Type == ItemFolder
}

// ProjectPlan is the structured plan of a generated project.
type ProjectPlan struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Stack       []string `json:"stack,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// ProjectFile is one generated source file.
type ProjectFile struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content"`
}

// ModelDescriptor identifies a chat model and the provider that serves it.
type ModelDescriptor struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	Provider          Provider `json:"provider" yaml:"provider"`
	Model             string   `json:"model" yaml:"model"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	SystemInstruction string   `json:"systemInstruction,omitempty" yaml:"system_instruction,omitempty"`
	Custom            bool     `json:"custom,omitempty" yaml:"-"`
}

// GenerationConfig holds optional generation parameters. Nil fields are
// left to the provider's defaults.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty" yaml:"top_p,omitempty"`
	TopK            *int     `json:"topK,omitempty" yaml:"top_k,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty" yaml:"max_output_tokens,omitempty"`
	ThinkingBudget  *int     `json:"thinkingBudget,omitempty" yaml:"thinking_budget,omitempty"`
}

// User is an application account managed from the admin panel.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// APIKey is a provider credential stored by an admin.
type APIKey struct {
	ID        string    `json:"id"`
	Provider  Provider  `json:"provider"`
	Label     string    `json:"label,omitempty"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// Masked returns a copy of the key safe to show in listings.
func (k APIKey) Masked() APIKey {
	if len(k.Key) > 8 {
		k.Key = k.Key[:4] + "…" + k.Key[len(k.Key)-4:]
	} else if k.Key != "" {
		k.Key = "…"
	}
	return k
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
}

// Settings are the user-adjustable application settings.
type Settings struct {
	ActiveModelID     string           `json:"activeModelId"`
	SystemInstruction string           `json:"systemInstruction,omitempty"`
	Generation        GenerationConfig `json:"generation"`
	Language          string           `json:"language,omitempty"`
}

// SnapshotVersion is the schema version written into every snapshot.
const SnapshotVersion = 1

// DefaultModelID is the model selected when settings name none.
const DefaultModelID = "gemini-2.5-flash"

// Snapshot is the persisted application state.
type Snapshot struct {
	Version               int               `json:"version"`
	Users                 []User            `json:"users"`
	CustomModels          []ModelDescriptor `json:"customModels"`
	APIKeys               []APIKey          `json:"apiKeys"`
	Settings              Settings          `json:"settings"`
	GalleryRoot           *GalleryItem      `json:"galleryRoot"`
	ConnectedConnectorIDs []string          `json:"connectedConnectorIds"`
	Logs                  []LogEntry        `json:"logs"`
}
