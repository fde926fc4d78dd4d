// Package probe runs one collection cycle: poll the XMRig API and the
// p2pool observer, reconcile the share window, and persist the snapshots.
// Scheduling belongs to cron or a systemd timer, so one invocation does one
// cycle and exits.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camarigor/sentinel/internal/alerts"
	"github.com/camarigor/sentinel/internal/config"
	"github.com/camarigor/sentinel/internal/fetch"
	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/p2pool"
	"github.com/camarigor/sentinel/internal/storage"
)

// Prober collects one snapshot of the rig and the pool wallet.
type Prober struct {
	cfg    *config.Config
	store  *storage.SQLiteStorage
	miner  *miner.Client
	pool   *p2pool.Client
	alerts *alerts.Engine
	logger zerolog.Logger

	identity string
	local    bool
}

// New wires a prober from configuration. The pool client is only built when
// a wallet address is configured; the alert engine may be nil.
func New(cfg *config.Config, store *storage.SQLiteStorage, engine *alerts.Engine, logger zerolog.Logger) (*Prober, error) {
	identity, err := cfg.ResolveIdentity()
	if err != nil {
		return nil, err
	}

	p := &Prober{
		cfg:      cfg,
		store:    store,
		miner:    miner.NewClient(cfg.Miner.Timeout, cfg.Miner.Token),
		alerts:   engine,
		logger:   logger.With().Str("component", "probe").Logger(),
		identity: identity,
		local:    config.IsLoopback(cfg.Miner.Host),
	}
	if cfg.P2Pool.Address != "" {
		p.pool = p2pool.NewClient(cfg.ObserverBaseURL(), cfg.P2Pool.Timeout)
	}
	return p, nil
}

// Identity returns the host key the rig's snapshots are stored under.
func (p *Prober) Identity() string {
	return p.identity
}

// RunCycle performs one full collection pass. The miner and pool sources are
// polled in parallel since neither depends on the other. Store contention
// drops the affected snapshot with a warning; the next scheduled cycle
// supersedes it anyway.
func (p *Prober) RunCycle(ctx context.Context) error {
	start := time.Now()

	var (
		wg        sync.WaitGroup
		minerSnap *storage.MinerSnapshot
		poolSnap  *storage.P2PoolSnapshot
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		minerSnap = p.collectMiner(ctx)
	}()

	if p.pool != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			poolSnap = p.collectPool(ctx)
		}()
	}
	wg.Wait()

	// Previous state is read before writing so the alert checks see the
	// transition.
	prevMiner, err := p.store.GetMiner(p.identity)
	if err != nil {
		return fmt.Errorf("read previous miner state: %w", err)
	}
	var prevPool *storage.P2PoolSnapshot
	if p.pool != nil {
		prevPool, err = p.store.GetP2PoolStat(p.cfg.P2Pool.Address)
		if err != nil {
			return fmt.Errorf("read previous pool state: %w", err)
		}
	}

	if err := p.writeMiner(minerSnap); err != nil {
		return err
	}
	if poolSnap != nil {
		if err := p.writePool(poolSnap); err != nil {
			return err
		}
	}

	if p.alerts != nil {
		p.alerts.CheckMiner(prevMiner, minerSnap)
		if poolSnap != nil {
			// Re-read so the payout check compares against the clamped
			// counters the store actually kept.
			curPool, err := p.store.GetP2PoolStat(p.cfg.P2Pool.Address)
			if err == nil && curPool != nil {
				p.alerts.CheckPayout(prevPool, curPool)
			}
		}
	}

	p.sweep()

	evt := p.logger.Info().
		Str("host", p.identity).
		Str("status", minerSnap.Status).
		Dur("took", time.Since(start))
	if minerSnap.Hashrate != nil {
		evt = evt.Float64("hashrate", *minerSnap.Hashrate)
	}
	if poolSnap != nil {
		evt = evt.Int64("active_shares", poolSnap.ActiveShares)
	}
	evt.Msg("cycle complete")

	return nil
}

// collectMiner polls the XMRig HTTP API. The snapshot defaults to offline,
// and system metrics are sampled whenever the rig is this machine, no matter
// what the miner API said.
func (p *Prober) collectMiner(ctx context.Context) *storage.MinerSnapshot {
	snap := &storage.MinerSnapshot{
		Host:     p.identity,
		Status:   storage.StatusOffline,
		LastSeen: time.Now().UTC(),
	}

	summary, err := p.miner.Summary(ctx, p.cfg.Miner.Host, p.cfg.Miner.Port)
	switch {
	case err == nil:
		hashrate := summary.Hashrate
		snap.Status = storage.StatusOnline
		snap.Hashrate = &hashrate
	case errors.Is(err, fetch.ErrAuthFailed):
		p.logger.Error().Err(err).Msg("miner API rejected access token")
	case errors.Is(err, fetch.ErrMalformedResponse):
		p.logger.Warn().Err(err).Msg("miner API response malformed")
	default:
		p.logger.Warn().Err(err).Str("host", p.cfg.Miner.Host).Msg("miner unreachable")
	}

	if p.local {
		cpuPct, ramPct, err := sampleSystem(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("system sampling failed")
		} else {
			snap.CPUUsage = &cpuPct
			snap.RAMUsage = &ramPct
		}
	}

	return snap
}

// collectPool builds the wallet snapshot from the observer. The share list
// and the chain tip are both required to place shares in the PPLNS window;
// when either is missing the cycle records nothing, which keeps the previous
// counts intact. The remaining observer endpoints only enrich the snapshot,
// so their failures degrade it instead of discarding it.
func (p *Prober) collectPool(ctx context.Context) *storage.P2PoolSnapshot {
	addr := p.cfg.P2Pool.Address
	lg := p.logger.With().Str("wallet", p2pool.ShortAddr(addr)).Logger()

	shares, err := p.pool.Shares(ctx, addr)
	if err != nil {
		lg.Warn().Err(err).Msg("share lookup failed, window state indeterminate")
		return nil
	}
	tip, err := p.pool.Tip(ctx)
	if err != nil {
		lg.Warn().Err(err).Msg("tip lookup failed, window state indeterminate")
		return nil
	}

	tally, err := p2pool.Reconcile(shares, tip, p.cfg.P2Pool.WindowSize)
	if err != nil {
		lg.Warn().Err(err).Msg("window reconciliation failed")
		return nil
	}
	if tally.Clamped > 0 {
		lg.Warn().Int64("count", tally.Clamped).Uint64("tip", tip).
			Msg("shares above the observed tip, counted as active")
	}

	snap := &storage.P2PoolSnapshot{
		MinerAddress: addr,
		ActiveShares: tally.ActiveShares,
		ActiveUncles: tally.ActiveUncles,
		SharesHeld:   tally.ActiveShares,
		TotalShares:  tally.TotalShares,
		LastSeen:     time.Now().UTC(),
	}

	// The observer's own window estimate and lifetime totals go further back
	// than one page of shares.
	if info, err := p.pool.MinerInfo(ctx, addr); err != nil {
		lg.Debug().Err(err).Msg("miner info unavailable")
	} else {
		snap.SharesHeld = info.WindowShares
		if info.TotalShares > snap.TotalShares {
			snap.TotalShares = info.TotalShares
		}
	}

	if payouts, err := p.pool.Payouts(ctx, addr); err != nil {
		lg.Debug().Err(err).Msg("payout lookup unavailable")
	} else if len(payouts) > 0 {
		var total int64
		latest := payouts[0]
		for _, pay := range payouts {
			total += pay.AmountPico
			if pay.Timestamp.After(latest.Timestamp) {
				latest = pay
			}
		}
		amount := latest.AmountPico
		when := latest.Timestamp
		snap.PayoutsSent = int64(len(payouts))
		snap.TotalPayoutPico = total
		snap.LastPayoutPico = &amount
		snap.LastPayoutTime = &when
	}

	if blocks, err := p.pool.FoundBlocks(ctx, addr); err != nil {
		lg.Debug().Err(err).Msg("found block lookup unavailable")
	} else {
		snap.BlocksFound = int64(blocks)
	}

	return snap
}

func (p *Prober) writeMiner(snap *storage.MinerSnapshot) error {
	err := p.store.WriteMinerSnapshot(snap)
	if errors.Is(err, storage.ErrStoreContention) {
		p.logger.Warn().Err(err).Msg("store busy, dropping miner snapshot")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist miner snapshot: %w", err)
	}
	return nil
}

func (p *Prober) writePool(snap *storage.P2PoolSnapshot) error {
	err := p.store.WriteP2PoolSnapshot(snap)
	if errors.Is(err, storage.ErrStoreContention) {
		p.logger.Warn().Err(err).Msg("store busy, dropping pool snapshot")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist pool snapshot: %w", err)
	}
	return nil
}

// sweep enforces the retention window. It runs every cycle and deletes
// nothing when nothing has expired.
func (p *Prober) sweep() {
	deleted, err := p.store.PurgeOldData(p.cfg.RetentionDays)
	if errors.Is(err, storage.ErrStoreContention) {
		p.logger.Debug().Msg("store busy, skipping retention sweep")
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		p.logger.Info().Int64("rows", deleted).Msg("purged expired history")
	}
}
