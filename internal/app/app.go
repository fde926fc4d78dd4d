// Package app aggregates configuration and shared dependencies for the CLI
// commands and implements one method per subcommand.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/camarigor/sentinel/internal/alerts"
	"github.com/camarigor/sentinel/internal/config"
	"github.com/camarigor/sentinel/internal/pricing"
	"github.com/camarigor/sentinel/internal/storage"
)

// App holds what every command needs.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger}
}

// openStore opens the shared SQLite file, creating its parent directory when
// needed. The returned closer logs instead of failing; commands defer it.
func (a *App) openStore() (*storage.SQLiteStorage, func(), error) {
	dbDir := filepath.Dir(a.Config.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(a.Config.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	return store, closer, nil
}

func (a *App) newAlertEngine(store *storage.SQLiteStorage) *alerts.Engine {
	return alerts.NewEngine(alerts.Config{
		WebhookURL:      a.Config.Alerts.WebhookURL,
		HashrateDropPct: a.Config.Alerts.HashrateDropPct,
		Cooldown:        a.Config.Alerts.Cooldown,
	}, store, a.Logger)
}

// newPricing returns nil when fiat conversion is disabled; callers treat nil
// as "no fiat shown".
func (a *App) newPricing() *pricing.Service {
	if !a.Config.Pricing.Enabled {
		return nil
	}
	return pricing.NewService(a.Config.Pricing.Currency, a.Config.Pricing.TTL)
}

// TestAlert sends a connectivity test to the configured webhook.
func (a *App) TestAlert() error {
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	return a.newAlertEngine(store).SendTestAlert()
}
