package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d-kessler/CountertopDarkMatter/internal/conf"
	"github.com/d-kessler/CountertopDarkMatter/internal/datastore/entities"
	"github.com/d-kessler/CountertopDarkMatter/internal/errors"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// slowQueryThreshold raises SQL statements slower than this to WARN
const slowQueryThreshold = 200 * time.Millisecond

// Stores groups the record stores of one backend.
type Stores struct {
	Classifications RecordStore[entities.Classification]
	Users           RecordStore[entities.User]
	Subjects        RecordStore[entities.Subject]
	Promotions      RecordStore[entities.PromotionRecord]
	Markings        RecordStore[entities.Marking]
	SwapSubjects    RecordStore[entities.SwapSubject]

	// MarkingLookup resolves markings by classification id
	MarkingLookup MarkingRepository

	db *gorm.DB
}

// Open connects to the configured backend, migrates the schema when the
// backend is a database, and returns its record stores.
func Open(settings *conf.DatastoreSettings, log logger.Logger) (*Stores, error) {
	switch settings.Backend {
	case conf.BackendSQLite:
		if err := ensureDir(settings.SQLite.Path); err != nil {
			return nil, err
		}
		dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", settings.SQLite.Path)
		return openGorm(sqlite.Open(dsn), conf.BackendSQLite, log)

	case conf.BackendMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			settings.MySQL.Username, settings.MySQL.Password,
			settings.MySQL.Host, settings.MySQL.Port,
			settings.MySQL.Database)
		return openGorm(mysql.Open(dsn), conf.BackendMySQL, log)

	case conf.BackendFile:
		return OpenFileStores(settings.File.Dir), nil

	default:
		return nil, errors.New(ErrUnsupportedBackend).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("backend", settings.Backend).
			Build()
	}
}

// OpenDB wraps an existing gorm connection, migrating the schema first.
func OpenDB(db *gorm.DB) (*Stores, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}

	return gormStores(db), nil
}

// gormStores binds every store to db, which may be a transaction
func gormStores(db *gorm.DB) *Stores {
	return &Stores{
		Classifications: NewGormStore[entities.Classification](db),
		Users:           NewGormStore[entities.User](db),
		Subjects:        NewGormStore[entities.Subject](db),
		Promotions:      NewGormStore[entities.PromotionRecord](db),
		Markings:        NewGormStore[entities.Marking](db),
		SwapSubjects:    NewGormStore[entities.SwapSubject](db),
		MarkingLookup:   NewGormMarkingRepository(db),
		db:              db,
	}
}

// OpenFileStores returns YAML file stores under dir, one file per collection.
func OpenFileStores(dir string) *Stores {
	markings := NewFileStore[entities.Marking](filepath.Join(dir, "markings.yaml"))
	return &Stores{
		Classifications: NewFileStore[entities.Classification](filepath.Join(dir, "classifications.yaml")),
		Users:           NewFileStore[entities.User](filepath.Join(dir, "users.yaml")),
		Subjects:        NewFileStore[entities.Subject](filepath.Join(dir, "subjects.yaml")),
		Promotions:      NewFileStore[entities.PromotionRecord](filepath.Join(dir, "promotion_records.yaml")),
		Markings:        markings,
		SwapSubjects:    NewFileStore[entities.SwapSubject](filepath.Join(dir, "swap_subjects.yaml")),
		MarkingLookup:   NewStoreMarkingRepository(markings),
	}
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.Classification{},
		&entities.User{},
		&entities.Subject{},
		&entities.Marking{},
		&entities.SwapSubject{},
		&entities.PromotionRecord{},
	)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

func openGorm(dialector gorm.Dialector, backend string, log logger.Logger) (*Stores, error) {
	var dbLogger logger.Logger
	if log != nil {
		dbLogger = log.Module("datastore")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(dbLogger, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("backend", backend).
			Context("operation", "open").
			Build()
	}

	if dbLogger != nil {
		dbLogger.Info("database opened", logger.String("backend", backend))
	}
	return OpenDB(db)
}

// DB returns the gorm connection, or nil for the file backend.
func (s *Stores) DB() *gorm.DB {
	return s.db
}

// Close releases the database connection. It is a no-op for the file backend.
func (s *Stores) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	s.db = nil
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	return nil
}
