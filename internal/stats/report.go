// Package stats renders a plain-text overview of the fleet, the pool wallet,
// and the database itself. Everything here is a read; nothing is mutated.
package stats

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hako/durafmt"

	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/p2pool"
	"github.com/camarigor/sentinel/internal/storage"
)

// Reporter reads the store and writes the overview.
type Reporter struct {
	store    *storage.SQLiteStorage
	dbPath   string
	fiatRate float64
	currency string
}

// NewReporter creates a reporter. dbPath is only used to report the file
// size and may be empty.
func NewReporter(store *storage.SQLiteStorage, dbPath string) *Reporter {
	return &Reporter{store: store, dbPath: dbPath}
}

// SetFiatRate supplies a spot price used to value payout totals. The caller
// fetches the rate; the reporter never touches the network. A zero rate
// leaves fiat lines out of the report.
func (r *Reporter) SetFiatRate(price float64, currency string) {
	r.fiatRate = price
	r.currency = strings.ToUpper(currency)
}

// Render writes the full report.
func (r *Reporter) Render(w io.Writer) error {
	miners, err := r.store.GetMiners()
	if err != nil {
		return fmt.Errorf("read miners: %w", err)
	}
	pools, err := r.store.GetP2PoolStats()
	if err != nil {
		return fmt.Errorf("read pool stats: %w", err)
	}
	dbStats, err := r.store.DatabaseStats()
	if err != nil {
		return fmt.Errorf("read database stats: %w", err)
	}
	alerts, err := r.store.GetAlerts(time.Now().Add(-24*time.Hour), 5)
	if err != nil {
		return fmt.Errorf("read alerts: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	fmt.Fprintln(tw, "MINERS")
	if len(miners) == 0 {
		fmt.Fprintln(tw, "  no miners recorded yet, run a probe first")
	} else {
		fmt.Fprintln(tw, "  HOST\tSTATUS\tHASHRATE\tCPU\tRAM\tLAST SEEN")
		for _, m := range miners {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
				m.Host, m.Status, hashrateCell(m.Hashrate),
				pctCell(m.CPUUsage), pctCell(m.RAMUsage), agoCell(m.LastSeen))
		}
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "P2POOL")
	if len(pools) == 0 {
		fmt.Fprintln(tw, "  no wallet tracked, set p2pool.address to enable")
	} else {
		fmt.Fprintln(tw, "  WALLET\tWINDOW\tHELD\tTOTAL\tBLOCKS\tPAYOUTS\tLAST PAYOUT\tTOTAL PAID")
		var totalPaidPico int64
		for _, p := range pools {
			window := fmt.Sprintf("%d+%du", p.ActiveShares, p.ActiveUncles)
			last := "-"
			if p.LastPayoutPico != nil {
				last = storage.XMR(*p.LastPayoutPico).String() + " XMR"
				if p.LastPayoutTime != nil {
					last += " (" + agoCell(*p.LastPayoutTime) + ")"
				}
			}
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\t%s\t%s XMR\n",
				p2pool.ShortAddr(p.MinerAddress), window, p.SharesHeld, p.TotalShares,
				p.BlocksFound, p.PayoutsSent, last, storage.XMR(p.TotalPayoutPico))
			totalPaidPico += p.TotalPayoutPico
		}
		if r.fiatRate > 0 {
			fiat := storage.XMR(totalPaidPico).InexactFloat64() * r.fiatRate
			fmt.Fprintf(tw, "  total paid\t%.2f %s (@ %.2f/XMR)\n", fiat, r.currency, r.fiatRate)
		}
	}
	fmt.Fprintln(tw)

	if len(alerts) > 0 {
		fmt.Fprintln(tw, "RECENT ALERTS")
		for _, a := range alerts {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", agoCell(a.Timestamp), a.Kind, a.Subject, a.Message)
		}
		fmt.Fprintln(tw)
	}

	fmt.Fprintln(tw, "DATABASE")
	fmt.Fprintf(tw, "  miners\t%d (%d online)\n", dbStats.TotalMiners, dbStats.OnlineMiners)
	fmt.Fprintf(tw, "  p2pool wallets\t%d\n", dbStats.P2PoolMiners)
	fmt.Fprintf(tw, "  history rows\t%d\n", dbStats.HistoryRecords)
	if r.dbPath != "" {
		if fi, err := os.Stat(r.dbPath); err == nil {
			fmt.Fprintf(tw, "  file size\t%s\n", humanBytes(fi.Size()))
		}
	}

	return tw.Flush()
}

func hashrateCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return miner.FormatHashrate(*v)
}

func pctCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func agoCell(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	since := time.Since(t)
	if since < time.Second {
		since = time.Second
	}
	return durafmt.Parse(since.Round(time.Second)).LimitFirstN(2).String() + " ago"
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return strconv.FormatFloat(float64(n)/(1<<30), 'f', 2, 64) + " GiB"
	case n >= 1<<20:
		return strconv.FormatFloat(float64(n)/(1<<20), 'f', 2, 64) + " MiB"
	case n >= 1<<10:
		return strconv.FormatFloat(float64(n)/(1<<10), 'f', 1, 64) + " KiB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}
