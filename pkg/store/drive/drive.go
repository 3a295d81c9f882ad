// Package drive stores the snapshot as a JSON file in the application data
// folder of a Google Drive account.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/nstogner/studio/pkg/domain"
	"github.com/nstogner/studio/pkg/store"
)

// State is the connection state of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// DefaultFileName is the snapshot file name inside the app data folder.
const DefaultFileName = "studio-snapshot.json"

const appDataFolder = "appDataFolder"

// Client is a SnapshotStore backed by Drive. It starts disconnected;
// Connect must succeed before Load or Save.
type Client struct {
	fileName string
	opts     []option.ClientOption

	mu     sync.Mutex
	state  State
	err    error
	svc    *drivev3.Service
	fileID string
}

var _ store.SnapshotStore = (*Client)(nil)

// New returns a disconnected client. opts configure authentication and,
// in tests, the endpoint.
func New(fileName string, opts ...option.ClientOption) *Client {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &Client{fileName: fileName, opts: opts, state: StateDisconnected}
}

// TokenOption authenticates with a fixed OAuth access token.
func TokenOption(accessToken string) option.ClientOption {
	return option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// State returns the connection state and the error that caused StateError.
func (c *Client) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// Connect creates the Drive service and locates an existing snapshot file.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state, c.err = StateConnecting, nil
	c.mu.Unlock()

	svc, fileID, err := c.connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state, c.err = StateError, err
		slog.Error("Drive connection failed", "error", err)
		return err
	}
	c.state, c.svc, c.fileID = StateConnected, svc, fileID
	slog.Info("Drive connected", "fileID", fileID)
	return nil
}

func (c *Client) connect(ctx context.Context) (*drivev3.Service, string, error) {
	svc, err := drivev3.NewService(ctx, c.opts...)
	if err != nil {
		return nil, "", fmt.Errorf("create drive service: %w", err)
	}
	list, err := svc.Files.List().
		Spaces(appDataFolder).
		Q(fmt.Sprintf("name = '%s' and trashed = false", c.fileName)).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, "", fmt.Errorf("list drive files: %w", err)
	}
	var fileID string
	if len(list.Files) > 0 {
		fileID = list.Files[0].Id
	}
	return svc, fileID, nil
}

// Disconnect drops the service. A later Connect starts over.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.err, c.svc, c.fileID = StateDisconnected, nil, nil, ""
}

// service returns the Drive service when a connection has been made. A
// client in StateError after a failed call keeps its service and may retry.
func (c *Client) service() (*drivev3.Service, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc == nil {
		return nil, "", store.ErrNotConnected
	}
	return c.svc, c.fileID, nil
}

func (c *Client) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc == nil {
		return
	}
	if err != nil {
		c.state, c.err = StateError, err
		return
	}
	c.state, c.err = StateConnected, nil
}

// Load downloads the snapshot, or returns the default when none exists yet.
func (c *Client) Load(ctx context.Context) (*domain.Snapshot, error) {
	svc, fileID, err := c.service()
	if err != nil {
		return nil, err
	}
	if fileID == "" {
		return store.Default(time.Now().UTC()), nil
	}

	resp, err := svc.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		err = fmt.Errorf("download snapshot: %w", err)
		c.record(err)
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(err)
		return nil, err
	}
	c.record(nil)

	snap, err := store.DecodeJSON(b, time.Now().UTC())
	if err != nil {
		slog.Warn("Drive snapshot is unreadable, starting from defaults", "error", err)
		return store.Default(time.Now().UTC()), nil
	}
	return snap, nil
}

// Save uploads the snapshot, creating the file on first use.
func (c *Client) Save(ctx context.Context, snap *domain.Snapshot) error {
	svc, fileID, err := c.service()
	if err != nil {
		return err
	}
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}

	if fileID == "" {
		f, err := svc.Files.Create(&drivev3.File{
			Name:     c.fileName,
			Parents:  []string{appDataFolder},
			MimeType: "application/json",
		}).Media(bytes.NewReader(b)).Fields("id").Context(ctx).Do()
		if err != nil {
			err = fmt.Errorf("create snapshot file: %w", err)
			c.record(err)
			return err
		}
		if f.Id == "" {
			err := errors.New("create snapshot file: no id returned")
			c.record(err)
			return err
		}
		c.mu.Lock()
		c.fileID = f.Id
		c.mu.Unlock()
		c.record(nil)
		return nil
	}

	_, err = svc.Files.Update(fileID, &drivev3.File{}).Media(bytes.NewReader(b)).Fields("id").Context(ctx).Do()
	if err != nil {
		err = fmt.Errorf("update snapshot file: %w", err)
	}
	c.record(err)
	return err
}
