package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"decisionsupport/internal/blob"
	"decisionsupport/internal/config"
	"decisionsupport/internal/db"
	"decisionsupport/internal/engine"
	"decisionsupport/internal/migrate"
	"decisionsupport/internal/repo"
)

// App holds the wired collaborators behind the CLI and the HTTP server.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Repo   repo.Repo
	Engine engine.Engine
	Logger *slog.Logger
}

// Open connects the database, applies migrations and builds the engine.
func Open(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		Workspace: cfg.Database.Workspace,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	blobCfg := blob.Config{
		Driver: cfg.Blob.Driver,
		Root:   cfg.Blob.Root,
		S3: blob.S3Config{
			Bucket:    cfg.Blob.S3.Bucket,
			Region:    cfg.Blob.S3.Region,
			Endpoint:  cfg.Blob.S3.Endpoint,
			PathStyle: cfg.Blob.S3.PathStyle,
		},
	}
	if blobCfg.Driver == blob.DriverFS && !filepath.IsAbs(blobCfg.Root) {
		blobCfg.Root = filepath.Join(cfg.Database.Workspace, blobCfg.Root)
	}
	blobs, err := blob.Open(ctx, blobCfg, fsys)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	store := repo.New(conn, dialect)
	logger.Debug("opened workspace", "driver", dialect, "blob_driver", cfg.Blob.Driver)
	return &App{
		Config: cfg,
		DB:     conn,
		Repo:   store,
		Engine: engine.New(store, blobs, logger),
		Logger: logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
