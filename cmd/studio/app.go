package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/viper"
	"google.golang.org/genai"

	"github.com/nstogner/studio/pkg/config"
	"github.com/nstogner/studio/pkg/controller"
	"github.com/nstogner/studio/pkg/generate"
	"github.com/nstogner/studio/pkg/model"
	"github.com/nstogner/studio/pkg/model/gemini"
	"github.com/nstogner/studio/pkg/model/sse"
	"github.com/nstogner/studio/pkg/store"
	"github.com/nstogner/studio/pkg/store/drive"
	"github.com/nstogner/studio/pkg/store/file"
	"github.com/nstogner/studio/pkg/store/sqlite"
)

// app holds what every command needs once flags are parsed.
type app struct {
	v   *viper.Viper
	cfg config.Config
}

func (a *app) init(cfgFile string) error {
	cfg, err := config.Load(a.v, cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.setLogger(os.Stderr)
	return nil
}

func (a *app) setLogger(w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: a.cfg.LogLevel})
	slog.SetDefault(slog.New(handler))
}

// openStore returns the configured snapshot store and a func releasing it.
func (a *app) openStore(ctx context.Context) (store.SnapshotStore, func(), error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating data dir: %w", err)
	}

	switch a.cfg.Store {
	case config.StoreFile:
		return file.New(a.cfg.SnapshotPath()), func() {}, nil
	case config.StoreDrive:
		c := drive.New(a.cfg.DriveFile, drive.TokenOption(a.cfg.DriveToken))
		if err := c.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("connecting to drive: %w", err)
		}
		return c, c.Disconnect, nil
	default:
		s, err := sqlite.New(a.cfg.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("Failed to close database", "error", err)
			}
		}, nil
	}
}

// geminiClient returns the process-level native client, or nil when no
// key is configured.
func (a *app) geminiClient(ctx context.Context, httpClient *http.Client) (*genai.Client, error) {
	if a.cfg.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, Gemini models and generation are unavailable")
		return nil, nil
	}
	client, err := gemini.NewClient(ctx, a.cfg.GeminiAPIKey, "", httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return client, nil
}

// newController wires store, providers and generation into a loaded
// controller.
func (a *app) newController(ctx context.Context) (*controller.Controller, func(), error) {
	st, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Transport: sse.NewLoggingTransport(http.DefaultTransport)}
	gc, err := a.geminiClient(ctx, httpClient)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	factory := &model.Factory{
		Gemini:     gc,
		HTTPClient: httpClient,
		Timeout:    a.cfg.RequestTimeout,
		Retry:      sse.RetryPolicy{MaxRetries: a.cfg.Retries},
	}
	var generator controller.Generator
	if gc != nil {
		generator = generate.New(gc, a.cfg.ImageModel, a.cfg.EditModel, a.cfg.ProjectModel)
	}

	ctrl := controller.New(st, factory, generator)
	if a.cfg.ModelsFile != "" {
		models, err := model.LoadCatalogFile(a.cfg.ModelsFile)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		ctrl.SetFileModels(models)
		slog.Info("Loaded model catalog", "path", a.cfg.ModelsFile, "models", len(models))
	}
	if err := ctrl.Load(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return ctrl, closeStore, nil
}
