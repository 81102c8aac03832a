package commands

import (
	"database/sql"
	"fmt"

	"github.com/paperbase/paperbase/internal/config"
	"github.com/paperbase/paperbase/internal/convert"
	"github.com/paperbase/paperbase/internal/observability"
	"github.com/paperbase/paperbase/internal/storage"
)

// env holds everything a command needs after setup.
type env struct {
	cfg    *config.Config
	logger *observability.Logger
	db     *sql.DB
	repos  *storage.Repositories
}

// setup loads configuration, builds the logger, and opens the store.
// Callers must close the returned env.
func setup() (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "paperbase",
	})

	db, err := storage.OpenWithOptions(cfg.Storage.DatabasePath, storage.Options{
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		JournalMode:  cfg.Storage.JournalMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		db:     db,
		repos:  storage.NewRepositories(db),
	}, nil
}

func (e *env) close() {
	_ = e.db.Close()
}

// newConverter returns a factory for OCR converters built from the
// conversion configuration. Tasks use one converter per attempt.
func (e *env) newConverter() func() convert.PageConverter {
	cfg := convert.OCRConverterConfig{
		JPEGQuality: e.cfg.Conversion.JPEGQuality,
		Language:    e.cfg.Conversion.Language,
	}
	return func() convert.PageConverter {
		return convert.NewOCRConverter(cfg)
	}
}
