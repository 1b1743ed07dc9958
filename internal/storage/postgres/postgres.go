// Package postgres implements storage.Backend on a PostgreSQL/PostGIS
// database through the queued GORM writer.
package postgres

import (
	"log/slog"
	"time"

	"github.com/OCAP2/platoon/internal/database"
	gormstorage "github.com/OCAP2/platoon/internal/storage/gorm"
	"github.com/rs/zerolog"
)

// Dependencies holds what the Postgres backend needs to connect.
type Dependencies struct {
	Config        database.Config
	WriteInterval time.Duration
	Logger        *slog.Logger
	DBLogger      zerolog.Logger
}

// Backend connects on Init and delegates everything else to the GORM backend.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
	deps    Dependencies
}

// New creates a Postgres backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			Logger:        deps.Logger,
			WriteInterval: deps.WriteInterval,
		}),
		manager: database.NewManager(deps.DBLogger),
		deps:    deps,
	}
}

// Init connects, migrates and starts the writer.
func (b *Backend) Init() error {
	if err := b.manager.ConnectPostgres(b.deps.Config); err != nil {
		return err
	}
	b.SetDB(b.manager.DB)
	return b.Backend.Init()
}

// Close flushes pending rows and closes the connection pool.
func (b *Backend) Close() error {
	err := b.Backend.Close()
	if b.manager.SqlDB != nil {
		if cerr := b.manager.SqlDB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
