// Package migrate applies the SQL files under db/migrations.
package migrate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Up applies all pending migrations from dir. A database already at the
// latest version is not an error.
func Up(dbURL, dir string, log *zap.Logger) error {
	m, err := open(dbURL, dir, log)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Info("running database migrations", zap.String("dir", dir))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database migration: no change needed")
			return nil
		}
		log.Error("database migration failed", zap.Error(err))
		return err
	}
	v, dirty, _ := m.Version()
	log.Info("database migrated", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

// Down rolls back the given number of migrations.
func Down(dbURL, dir string, steps int, log *zap.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be > 0")
	}
	m, err := open(dbURL, dir, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Steps(-steps)
}

func open(dbURL, dir string, log *zap.Logger) (*migrate.Migrate, error) {
	if dbURL == "" {
		return nil, errors.New("database url is not set")
	}
	src, err := SourceURL(dir)
	if err != nil {
		return nil, err
	}
	m, err := migrate.New(src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m.Log = NewLogger(log, false)
	return m, nil
}

// SourceURL turns a directory into a file:// source URL.
func SourceURL(dir string) (string, error) {
	if strings.HasPrefix(dir, "file://") {
		return dir, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Logger adapts zap to migrate.Logger.
type Logger struct {
	logger  *zap.Logger
	verbose bool
}

func NewLogger(logger *zap.Logger, verbose bool) *Logger {
	return &Logger{logger: logger, verbose: verbose}
}

func (l *Logger) Printf(format string, v ...any) {
	l.logger.Sugar().Infof("db migration: "+strings.TrimSuffix(format, "\n"), v...)
}

func (l *Logger) Verbose() bool { return l.verbose }
