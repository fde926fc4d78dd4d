package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/scanner"
	"github.com/camarigor/sentinel/internal/storage"
)

// Scan sweeps the configured CIDR (or every detected local subnet when none
// is set) and records a snapshot for each responding rig. Discovery never
// marks hosts Offline and never removes rows; silent addresses are skipped.
func (a *App) Scan(ctx context.Context) error {
	var subnets []string
	if a.Config.Scan.CIDR != "" {
		subnets = []string{a.Config.Scan.CIDR}
	} else {
		subnets = scanner.DetectAllSubnets()
		if len(subnets) == 0 {
			return errors.New("no scannable subnets detected, pass --cidr")
		}
		a.Logger.Info().Strs("subnets", subnets).Msg("auto-detected local subnets")
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	sc := scanner.NewScanner(
		a.Config.Miner.Port,
		a.Config.Miner.Token,
		a.Config.Miner.Timeout,
		a.Config.Scan.Concurrency,
	)

	var results []scanner.Result
	for _, subnet := range subnets {
		a.Logger.Info().Str("subnet", subnet).Msg("scanning")
		found, err := sc.Scan(ctx, subnet)
		if err != nil {
			return fmt.Errorf("scan %s: %w", subnet, err)
		}
		results = append(results, found...)
	}

	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no rigs found")
		return nil
	}

	now := time.Now().UTC()
	recorded := 0
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tHASHRATE\tNOTE")
	for _, r := range results {
		note := "recorded"
		rate := miner.FormatHashrate(r.Hashrate)

		if r.Protected {
			// Answered but rejected the token. Leave it untracked rather
			// than write an Offline row for a rig that is clearly alive.
			note = "auth required, skipped"
			rate = "-"
		} else {
			hashrate := r.Hashrate
			err := store.WriteMinerSnapshot(&storage.MinerSnapshot{
				Host:     r.Host,
				Hashrate: &hashrate,
				Status:   storage.StatusOnline,
				LastSeen: now,
			})
			switch {
			case errors.Is(err, storage.ErrStoreContention):
				a.Logger.Warn().Str("host", r.Host).Msg("store busy, dropping discovered snapshot")
				note = "store busy, skipped"
			case err != nil:
				return fmt.Errorf("persist discovered rig %s: %w", r.Host, err)
			default:
				recorded++
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Host, rate, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\n%d address(es) answered, %d recorded\n", len(results), recorded)

	if recorded > 0 {
		a.sweep(store)
	}
	return nil
}

// sweep runs the opportunistic retention pass that follows any write.
func (a *App) sweep(store *storage.SQLiteStorage) {
	deleted, err := store.PurgeOldData(a.Config.RetentionDays)
	if err != nil {
		if errors.Is(err, storage.ErrStoreContention) {
			a.Logger.Debug().Msg("store busy, skipping retention sweep")
			return
		}
		a.Logger.Warn().Err(err).Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		a.Logger.Info().Int64("rows", deleted).Msg("purged expired history")
	}
}
