// Package config loads the studio configuration from flags, STUDIO_*
// environment variables and an optional studio.yaml file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nstogner/studio/pkg/model/sse"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreDrive  = "drive"
)

// Keys understood by viper. Each maps to STUDIO_<KEY> in the environment.
const (
	KeyAddr           = "addr"
	KeyDataDir        = "data_dir"
	KeyStore          = "store"
	KeyLogLevel       = "log_level"
	KeyRequestTimeout = "request_timeout"
	KeyRetries        = "retries"
	KeyDriveToken     = "drive_token"
	KeyDriveFile      = "drive_file"
	KeyGeminiAPIKey   = "gemini_api_key"
	KeyModelsFile     = "models_file"
	KeyImageModel     = "image_model"
	KeyEditModel      = "edit_model"
	KeyProjectModel   = "project_model"
)

// Config is the resolved configuration.
type Config struct {
	Addr           string
	DataDir        string
	Store          string
	LogLevel       slog.Level
	RequestTimeout time.Duration
	Retries        int
	DriveToken     string
	DriveFile      string
	GeminiAPIKey   string
	ModelsFile     string
	ImageModel     string
	EditModel      string
	ProjectModel   string
}

// SQLitePath is the database used by the sqlite store.
func (c Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "studio.db")
}

// SnapshotPath is the JSON document used by the file store.
func (c Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "snapshot.json")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// The native provider key keeps its conventional name.
	_ = v.BindEnv(KeyGeminiAPIKey, "STUDIO_GEMINI_API_KEY", "GEMINI_API_KEY")

	v.SetDefault(KeyAddr, ":8080")
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyStore, StoreSQLite)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
	v.SetDefault(KeyRetries, 2)
	v.SetDefault(KeyDriveFile, "studio-snapshot.json")
	return v
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".studio"
	}
	return filepath.Join(home, ".local", "share", "studio")
}

// AddFlags registers the persistent flags shared by every command and binds
// them to v.
func AddFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	f.String("config", "", "config file (default is ./studio.yaml or <data-dir>/studio.yaml)")
	f.String("data-dir", v.GetString(KeyDataDir), "directory holding the local database and snapshots")
	f.String("store", v.GetString(KeyStore), "snapshot store: sqlite, file or drive")
	f.String("log-level", v.GetString(KeyLogLevel), "log level: trace, debug, info, warn or error")
	f.String("models-file", "", "YAML file with additional model descriptors")

	_ = v.BindPFlag(KeyDataDir, f.Lookup("data-dir"))
	_ = v.BindPFlag(KeyStore, f.Lookup("store"))
	_ = v.BindPFlag(KeyLogLevel, f.Lookup("log-level"))
	_ = v.BindPFlag(KeyModelsFile, f.Lookup("models-file"))
}

// Load reads the optional config file and resolves the configuration. An
// empty cfgFile looks for studio.yaml in the working directory and then in
// the data directory; a missing file is not an error.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("studio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString(KeyDataDir))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	level, err := ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Addr:           v.GetString(KeyAddr),
		DataDir:        v.GetString(KeyDataDir),
		Store:          strings.ToLower(v.GetString(KeyStore)),
		LogLevel:       level,
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		Retries:        v.GetInt(KeyRetries),
		DriveToken:     v.GetString(KeyDriveToken),
		DriveFile:      v.GetString(KeyDriveFile),
		GeminiAPIKey:   v.GetString(KeyGeminiAPIKey),
		ModelsFile:     v.GetString(KeyModelsFile),
		ImageModel:     v.GetString(KeyImageModel),
		EditModel:      v.GetString(KeyEditModel),
		ProjectModel:   v.GetString(KeyProjectModel),
	}
	return cfg, cfg.Validate()
}

// Validate checks values that viper can't type-check.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreSQLite, StoreFile:
	case StoreDrive:
		if c.DriveToken == "" {
			errs = append(errs, errors.New("drive store requires STUDIO_DRIVE_TOKEN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout must not be negative"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is required"))
	}
	return errors.Join(errs...)
}

// ParseLevel parses a log level name, including "trace".
func ParseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(strings.TrimSpace(s), "trace") {
		return sse.LevelTrace, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}
