package app

import (
	"context"

	"github.com/camarigor/sentinel/internal/export"
)

// Export writes a history slice as CSV or PNG per opts.
func (a *App) Export(ctx context.Context, opts export.Options) error {
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	return export.NewExporter(store, a.Logger).Export(opts)
}
