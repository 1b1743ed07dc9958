package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OCAP2/platoon/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN is the shared in-memory SQLite database dumped to disk by the
// sqlite backend.
const MemoryDSN = "file::memory:?cache=shared"

// ErrNoDumpPath is returned by DumpMemoryToDisk when no target path is set.
var ErrNoDumpPath = errors.New("sqlite file path not set")

// Config holds the Postgres connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN returns the libpq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// Manager handles database connections and operations.
type Manager struct {
	DB             *gorm.DB
	SqlDB          *sql.DB
	IsValid        bool
	IsSQLite       bool
	SqliteFilePath string
	Logger         zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		Logger: log.With().Str("component", "database").Logger(),
	}
}

// ConnectPostgres opens and pings a Postgres connection.
func (m *Manager) ConnectPostgres(cfg Config) error {
	m.Logger.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := m.use(db); err != nil {
		return err
	}
	m.SqlDB.SetMaxOpenConns(10)
	m.Logger.Info().Msg("Connected to database")
	return nil
}

// ConnectSQLite opens a SQLite database at path, or the shared in-memory
// database when path is empty.
func (m *Manager) ConnectSQLite(path string) error {
	db, err := OpenSQLite(path)
	if err != nil {
		return err
	}
	if err := m.use(db); err != nil {
		return err
	}
	m.IsSQLite = true
	if path == "" {
		m.Logger.Info().Msg("Using local SQLite DB in memory with periodic disk dump")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}
	return nil
}

func (m *Manager) use(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	m.DB = db
	m.SqlDB = sqlDB
	m.IsValid = true
	return nil
}

// OpenSQLite opens a SQLite database with the recorder PRAGMAs applied.
// An empty path opens the shared in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Setup migrates every recording table. On Postgres the PostGIS extension is
// created first so geometry columns resolve.
func (m *Manager) Setup() error {
	if err := Migrate(m.DB); err != nil {
		m.IsValid = false
		return err
	}
	m.Logger.Info().Msg("Database setup complete")
	return nil
}

// Migrate creates the PostGIS extension when needed and migrates the schema.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS extension: %w", err)
		}
	}
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DumpMemoryToDisk vacuums the database into SqliteFilePath.
func (m *Manager) DumpMemoryToDisk() error {
	start := time.Now()
	if err := DumpToDisk(m.DB, m.SqliteFilePath); err != nil {
		return err
	}
	m.Logger.Debug().Dur("duration", time.Since(start)).Str("path", m.SqliteFilePath).Msg("Dumped memory DB to disk")
	return nil
}

// DumpToDisk vacuums db into path, replacing any existing file.
func DumpToDisk(db *gorm.DB, path string) error {
	if path == "" {
		return ErrNoDumpPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing existing DB file: %w", err)
	}
	if err := db.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	return nil
}

// GetBackupDBPaths returns the .db files in dir.
func GetBackupDBPaths(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var dbPaths []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".db") {
			dbPaths = append(dbPaths, filepath.Join(dir, file.Name()))
		}
	}
	return dbPaths, nil
}
