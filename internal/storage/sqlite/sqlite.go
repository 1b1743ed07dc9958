// Package sqlitestorage implements storage.Backend on an in-memory SQLite
// database that is dumped to disk with VACUUM INTO, periodically and once more
// when the session ends.
package sqlitestorage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OCAP2/platoon/internal/database"
	gormstorage "github.com/OCAP2/platoon/internal/storage/gorm"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval  time.Duration
	DumpPath      string
	WriteInterval time.Duration
}

// Backend wraps the GORM backend with the in-memory DB and its disk dumps.
type Backend struct {
	*gormstorage.Backend
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    Config
	logger *slog.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New opens a private in-memory database and wraps it.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps the writer and the dump from locking each other out
	sqlDB.SetMaxOpenConns(1)

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:            db,
			Logger:        logger,
			WriteInterval: cfg.WriteInterval,
		}),
		db:       db,
		sqlDB:    sqlDB,
		cfg:      cfg,
		logger:   logger.With("component", "sqlite"),
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// EndSession flushes the queues and writes the final dump.
func (b *Backend) EndSession() error {
	if err := b.Backend.EndSession(); err != nil {
		return err
	}
	return b.Dump()
}

// Close stops the dump goroutine, flushes, dumps and releases the database.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()

	err := b.Backend.Close()
	if err == nil && b.cfg.DumpPath != "" {
		err = b.Dump()
	}
	if cerr := b.sqlDB.Close(); err == nil {
		err = cerr
	}
	return err
}

// Dump writes a point-in-time copy of the database to DumpPath.
func (b *Backend) Dump() error {
	if b.cfg.DumpPath == "" {
		return nil
	}
	start := time.Now()
	if err := database.DumpToDisk(b.db, b.cfg.DumpPath); err != nil {
		return err
	}
	b.logger.Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
	return nil
}

func (b *Backend) dumpLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.logger.Error("Error dumping to disk", "error", err)
			}
		}
	}
}
