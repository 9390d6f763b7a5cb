package datastore

import (
	"context"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// OperationObserver receives the outcome of every repository call.
type OperationObserver interface {
	ObserveOperation(operation string, duration time.Duration, err error)
}

// Store owns the database handle shared by the repositories. Each repository
// call runs in its own gorm session bound to the caller's context.
type Store struct {
	db       *gorm.DB
	dialect  string
	log      logger.Logger
	observer OperationObserver
}

// Option configures a Store.
type Option func(*Store)

// WithObserver reports repository call outcomes to o.
func WithObserver(o OperationObserver) Option {
	return func(s *Store) { s.observer = o }
}

// Open connects to the database configured in settings and migrates the schema.
func Open(ctx context.Context, settings *conf.DatabaseSettings, log logger.Logger, opts ...Option) (*Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("datastore")

	target, err := settings.Target()
	if err != nil {
		return nil, err
	}

	dialector := getDialector(target)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, settings.SlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open", "dialect", target.Dialect)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open", "dialect", target.Dialect)
	}
	if target.Dialect == conf.DialectSQLite {
		// single writer, and pragmas apply per connection
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			_ = sqlDB.Close()
			return nil, dbError(err, "enable-foreign-keys")
		}
	} else if settings.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(settings.MaxOpenConns)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, dbError(err, "ping", "dialect", target.Dialect)
	}

	store := New(db, target.Dialect, log, opts...)
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	log.Info("database opened", logger.String("dialect", target.Dialect))
	return store, nil
}

// New wraps an existing gorm handle. The schema is not migrated.
func New(db *gorm.DB, dialect string, log logger.Logger, opts ...Option) *Store {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	s := &Store{db: db, dialect: dialect, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// getDialector returns the gorm dialector for a parsed database URL.
func getDialector(target conf.DatabaseTarget) gorm.Dialector {
	switch target.Dialect {
	case conf.DialectPostgres:
		return postgres.New(postgres.Config{
			DriverName: "pgx",
			DSN:        target.DSN,
		})
	case conf.DialectMySQL:
		return mysql.Open(target.DSN)
	default:
		return sqlite.Open(target.DSN)
	}
}

// Migrate creates or updates the recordings and detections tables.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	if err := s.db.WithContext(ctx).AutoMigrate(&Recording{}, &Detection{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("dialect", s.dialect).
			Timing("auto-migrate", time.Since(start)).
			Build()
	}
	s.log.Debug("schema migrated", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Dialect returns the database dialect name.
func (s *Store) Dialect() string { return s.dialect }

// Recordings returns the recording repository.
func (s *Store) Recordings() *RecordingRepository {
	return &RecordingRepository{store: s}
}

// Detections returns the detection repository.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{store: s}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "ping")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(err, "ping")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	return nil
}

// session returns a gorm session bound to ctx.
func (s *Store) session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// observe reports a finished repository call.
func (s *Store) observe(operation string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveOperation(operation, time.Since(start), err)
	}
}
