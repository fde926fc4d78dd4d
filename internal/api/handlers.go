package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/storage"
)

// FleetStats aggregates the latest stored state of every rig and wallet.
type FleetStats struct {
	TotalMiners   int     `json:"totalMiners"`
	OnlineMiners  int     `json:"onlineMiners"`
	TotalHashrate float64 `json:"totalHashrate"` // H/s
	HashrateHuman string  `json:"hashrateHuman"`
	ActiveShares  int64   `json:"activeShares"`
	ActiveUncles  int64   `json:"activeUncles"`
	BlocksFound   int64   `json:"blocksFound"`
	TotalPaidXMR  string  `json:"totalPaidXmr"`
	XMRPrice      float64 `json:"xmrPrice,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	TotalPaidFiat float64 `json:"totalPaidFiat,omitempty"`
}

// FleetState is the payload pushed to WebSocket clients on each refresh.
type FleetState struct {
	Miners []*storage.MinerSnapshot  `json:"miners"`
	P2Pool []*storage.P2PoolSnapshot `json:"p2pool"`
	Stats  *FleetStats               `json:"stats"`
}

// handleGetMiners returns the current state of all tracked rigs
// GET /api/miners
func (s *Server) handleGetMiners(w http.ResponseWriter, r *http.Request) {
	miners, err := s.storage.GetMiners()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if miners == nil {
		miners = []*storage.MinerSnapshot{}
	}

	s.jsonResponse(w, miners)
}

// handleGetMiner returns a single rig by host
// GET /api/miners/{host}
func (s *Server) handleGetMiner(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")

	m, err := s.storage.GetMiner(host)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, "miner not found", http.StatusNotFound)
		return
	}

	s.jsonResponse(w, m)
}

// handleGetMinerHistory returns history rows for a rig
// GET /api/miners/{host}/history
// Query params: hours (default 24), limit (default 1000)
func (s *Server) handleGetMinerHistory(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	hours, limit := historyWindow(r, 24, 1000)

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	points, err := s.storage.GetMinerHistory(host, since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if points == nil {
		points = []*storage.MinerHistoryPoint{}
	}

	s.jsonResponse(w, points)
}

// handleGetP2Pool returns the current state of all tracked wallets
// GET /api/p2pool
func (s *Server) handleGetP2Pool(w http.ResponseWriter, r *http.Request) {
	stats, err := s.storage.GetP2PoolStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if stats == nil {
		stats = []*storage.P2PoolSnapshot{}
	}

	s.jsonResponse(w, stats)
}

// handleGetP2PoolStat returns a single wallet by address
// GET /api/p2pool/{address}
func (s *Server) handleGetP2PoolStat(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	snap, err := s.storage.GetP2PoolStat(address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "wallet not found", http.StatusNotFound)
		return
	}

	s.jsonResponse(w, snap)
}

// handleGetP2PoolHistory returns history rows for a wallet
// GET /api/p2pool/{address}/history
// Query params: hours (default 24), limit (default 1000)
func (s *Server) handleGetP2PoolHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	hours, limit := historyWindow(r, 24, 1000)

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	points, err := s.storage.GetP2PoolHistory(address, since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if points == nil {
		points = []*storage.P2PoolHistoryPoint{}
	}

	s.jsonResponse(w, points)
}

// handleGetStats returns fleet aggregate stats
// GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	miners, err := s.storage.GetMiners()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pool, err := s.storage.GetP2PoolStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, s.fleetStats(r.Context(), miners, pool))
}

// handleGetAlerts returns recently dispatched alerts
// GET /api/alerts
// Query params: hours (default 24), limit (default 100)
func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	hours, limit := historyWindow(r, 24, 100)

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	alerts, err := s.storage.GetAlerts(since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if alerts == nil {
		alerts = []*storage.AlertRecord{}
	}

	s.jsonResponse(w, alerts)
}

// handleCleanup deletes history older than the retention window and compacts
// the database file
// POST /api/cleanup
// Query params: days (default retention_days from config)
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.RetentionDays
	if d := r.URL.Query().Get("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
			days = parsed
		}
	}

	deleted, err := s.storage.PurgeOldData(days)
	if err != nil {
		if errors.Is(err, storage.ErrStoreContention) {
			http.Error(w, "store busy, try again", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.storage.Vacuum(); err != nil {
		s.logger.Warn().Err(err).Msg("vacuum after cleanup failed")
	}

	s.jsonResponse(w, map[string]interface{}{
		"success": true,
		"deleted": deleted,
		"days":    days,
	})
}

// handleGetDBSize returns the database file size
// GET /api/dbsize
func (s *Server) handleGetDBSize(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(s.cfg.DBPath)
	if err != nil {
		s.jsonResponse(w, map[string]interface{}{
			"size":      0,
			"sizeHuman": "Unknown",
		})
		return
	}

	size := info.Size()
	var sizeHuman string
	switch {
	case size >= 1<<30:
		sizeHuman = fmt.Sprintf("%.2f GB", float64(size)/(1<<30))
	case size >= 1<<20:
		sizeHuman = fmt.Sprintf("%.2f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		sizeHuman = fmt.Sprintf("%.2f KB", float64(size)/(1<<10))
	default:
		sizeHuman = fmt.Sprintf("%d B", size)
	}

	s.jsonResponse(w, map[string]interface{}{
		"size":      size,
		"sizeHuman": sizeHuman,
	})
}

// fleetState assembles the full broadcast payload: per-rig rows, per-wallet
// rows, and the aggregate.
func (s *Server) fleetState(ctx context.Context) (*FleetState, error) {
	miners, err := s.storage.GetMiners()
	if err != nil {
		return nil, err
	}

	pool, err := s.storage.GetP2PoolStats()
	if err != nil {
		return nil, err
	}

	if miners == nil {
		miners = []*storage.MinerSnapshot{}
	}
	if pool == nil {
		pool = []*storage.P2PoolSnapshot{}
	}

	return &FleetState{
		Miners: miners,
		P2Pool: pool,
		Stats:  s.fleetStats(ctx, miners, pool),
	}, nil
}

func (s *Server) fleetStats(ctx context.Context, miners []*storage.MinerSnapshot, pool []*storage.P2PoolSnapshot) *FleetStats {
	stats := &FleetStats{TotalMiners: len(miners)}

	for _, m := range miners {
		if m.Status != storage.StatusOnline {
			continue
		}
		stats.OnlineMiners++
		if m.Hashrate != nil {
			stats.TotalHashrate += *m.Hashrate
		}
	}
	stats.HashrateHuman = miner.FormatHashrate(stats.TotalHashrate)

	var totalPaid int64
	for _, p := range pool {
		stats.ActiveShares += p.ActiveShares
		stats.ActiveUncles += p.ActiveUncles
		stats.BlocksFound += p.BlocksFound
		totalPaid += p.TotalPayoutPico
	}
	paid := storage.XMR(totalPaid)
	stats.TotalPaidXMR = paid.String()

	if s.pricing != nil {
		price, err := s.pricing.XMRPrice(ctx)
		if err != nil {
			s.logger.Debug().Err(err).Msg("xmr price unavailable")
		} else {
			stats.XMRPrice = price
			stats.Currency = s.pricing.Currency()
			stats.TotalPaidFiat = paid.InexactFloat64() * price
		}
	}

	return stats
}

// historyWindow parses the shared hours/limit query params with defaults.
func historyWindow(r *http.Request, defaultHours, defaultLimit int) (hours, limit int) {
	hours = defaultHours
	if h := r.URL.Query().Get("hours"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil && parsed > 0 {
			hours = parsed
		}
	}

	limit = defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	return hours, limit
}

// jsonResponse sends a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}
