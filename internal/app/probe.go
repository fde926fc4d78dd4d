package app

import (
	"context"

	"github.com/camarigor/sentinel/internal/probe"
)

// Probe runs one polling cycle and returns. Degraded upstreams and dropped
// writes are handled inside the cycle; an error here means setup failed or
// the store itself is broken.
func (a *App) Probe(ctx context.Context) error {
	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := probe.New(a.Config, store, a.newAlertEngine(store), a.Logger)
	if err != nil {
		return err
	}

	return p.RunCycle(ctx)
}
