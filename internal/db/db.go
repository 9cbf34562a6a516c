package db

import (
	"context"
	"fmt"
	"time"

	"remind/internal/auth"
	"remind/internal/jobs"
	"remind/internal/logging"
	"remind/internal/notification"
	"remind/internal/subject"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Connect opens PostgreSQL when dsn is set and falls back to a local SQLite
// file otherwise.
func Connect(dsn, sqlitePath string, log zerolog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logging.Gorm(log),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	if dsn != "" {
		gdb, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dialect", "postgres").Msg("database connected")
		return gdb, nil
	}

	gdb, err := gorm.Open(sqlite.Open(sqlitePath+"?_busy_timeout=5000&_journal_mode=WAL"), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; keep gorm from racing itself into SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	log.Info().Str("dialect", "sqlite").Str("path", sqlitePath).Msg("database connected")
	return gdb, nil
}

// IsPostgres reports whether gdb talks to PostgreSQL.
func IsPostgres(gdb *gorm.DB) bool {
	return gdb.Dialector.Name() == "postgres"
}

func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&subject.Subject{},
		&notification.Reminder{},
		&jobs.Job{},
		&auth.Operator{},
	); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_notifications_due on notifications(status, next_run_at);`,
		`create index if not exists idx_dispatch_jobs_due on dispatch_jobs(status, run_at);`,
		`create index if not exists idx_dispatch_jobs_lock on dispatch_jobs(status, locked_at);`,
		`create index if not exists idx_dispatch_jobs_finished on dispatch_jobs(status, finished_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
