package app

import (
	"context"
	"fmt"
	"os"
)

// Cleanup deletes history older than the retention window and compacts the
// database file. days <= 0 uses the configured retention.
func (a *App) Cleanup(ctx context.Context, days int) error {
	if days <= 0 {
		days = a.Config.RetentionDays
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := store.PurgeOldData(days)
	if err != nil {
		return fmt.Errorf("purge history older than %d days: %w", days, err)
	}
	fmt.Fprintf(os.Stdout, "removed %d history row(s) older than %d days\n", deleted, days)

	if err := store.Vacuum(); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	fmt.Fprintln(os.Stdout, "database compacted")
	return nil
}
