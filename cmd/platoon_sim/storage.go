package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/OCAP2/platoon/internal/config"
	"github.com/OCAP2/platoon/internal/geo"
	"github.com/OCAP2/platoon/internal/storage"
	"github.com/OCAP2/platoon/internal/storage/memory"
	pgstorage "github.com/OCAP2/platoon/internal/storage/postgres"
	sqlitestorage "github.com/OCAP2/platoon/internal/storage/sqlite"
	wsstorage "github.com/OCAP2/platoon/internal/storage/websocket"
	"github.com/OCAP2/platoon/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var ErrUnknownStorage = errors.New("unknown storage type")

// storageDeps is what the backends need besides their own config section.
type storageDeps struct {
	Session   *core.Session
	Logger    *slog.Logger
	DBLogger  zerolog.Logger
	Projector *geo.Projector
}

func createStorageBackend(cfg config.StorageConfig, deps storageDeps) (storage.Backend, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Type {
	case "postgres":
		logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			Config:   config.GetDatabaseConfig(),
			Logger:   logger,
			DBLogger: deps.DBLogger,
		}), nil

	case "sqlite":
		if err := os.MkdirAll(cfg.SQLite.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite output dir: %w", err)
		}
		path := filepath.Join(cfg.SQLite.OutputDir,
			fmt.Sprintf("%s_%s.db", AppName, deps.Session.StartTime.Format("20060102_150405")))
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: cfg.SQLite.DumpInterval,
			DumpPath:     path,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "path", path)
		return backend, nil

	case "websocket":
		wsURL := httpToWS(viper.GetString("api.serverUrl")) + "/api"
		logger.Info("WebSocket storage backend selected", "url", wsURL)
		return wsstorage.New(wsstorage.Config{
			URL:    wsURL,
			Secret: viper.GetString("api.apiKey"),
		}, logger), nil

	case "memory", "":
		logger.Info("Memory storage backend selected", "dir", cfg.Memory.OutputDir)
		b := memory.New(cfg.Memory)
		if deps.Projector != nil {
			b.SetProjector(deps.Projector)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, cfg.Type)
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
