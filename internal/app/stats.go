package app

import (
	"context"
	"os"

	"github.com/camarigor/sentinel/internal/stats"
)

// Stats prints the fleet overview to stdout.
func (a *App) Stats(ctx context.Context) error {
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	reporter := stats.NewReporter(store, a.Config.DBPath)

	if svc := a.newPricing(); svc != nil {
		price, err := svc.XMRPrice(ctx)
		if err != nil {
			a.Logger.Debug().Err(err).Msg("xmr price unavailable, skipping fiat lines")
		} else {
			reporter.SetFiatRate(price, svc.Currency())
		}
	}

	return reporter.Render(os.Stdout)
}
