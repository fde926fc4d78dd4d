package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status values stored in the status column.
const (
	StatusOnline  = "Online"
	StatusOffline = "Offline"
)

// piconeroPerXMR is the atomic unit scale of Monero (1 XMR = 1e12 piconero).
var piconeroPerXMR = decimal.New(1, 12)

// XMR converts an amount in piconero to XMR for display.
func XMR(pico int64) decimal.Decimal {
	return decimal.NewFromInt(pico).Div(piconeroPerXMR)
}

// MinerSnapshot is one observation of a single rig. Nil metric fields mean
// the value was not observed this cycle and are stored as NULL, never zero.
type MinerSnapshot struct {
	Host     string    `json:"host"`
	Hashrate *float64  `json:"hashrate,omitempty"` // H/s
	CPUUsage *float64  `json:"cpuUsage,omitempty"` // percent, local polls only
	RAMUsage *float64  `json:"ramUsage,omitempty"` // percent, local polls only
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// MinerHistoryPoint is one appended time-series row for a rig.
type MinerHistoryPoint struct {
	ID        int64     `json:"id"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
	Hashrate  *float64  `json:"hashrate,omitempty"`
	CPUUsage  *float64  `json:"cpuUsage,omitempty"`
	RAMUsage  *float64  `json:"ramUsage,omitempty"`
	Status    string    `json:"status"`
}

// P2PoolSnapshot is the aggregated sidechain view of one wallet. Monetary
// amounts are piconero. SharesHeld is the observer's own window estimate;
// ActiveShares and ActiveUncles are reconciled locally against the chain tip.
type P2PoolSnapshot struct {
	MinerAddress    string     `json:"minerAddress"`
	ActiveShares    int64      `json:"activeShares"`
	ActiveUncles    int64      `json:"activeUncles"`
	SharesHeld      int64      `json:"sharesHeld"`
	TotalShares     int64      `json:"totalShares"`
	BlocksFound     int64      `json:"blocksFound"`
	PayoutsSent     int64      `json:"payoutsSent"`
	LastPayoutPico  *int64     `json:"lastPayoutPico,omitempty"`
	LastPayoutTime  *time.Time `json:"lastPayoutTime,omitempty"`
	TotalPayoutPico int64      `json:"totalPayoutPico"`
	LastSeen        time.Time  `json:"lastSeen"`
}

// P2PoolHistoryPoint is one appended time-series row for a wallet.
type P2PoolHistoryPoint struct {
	ID           int64     `json:"id"`
	MinerAddress string    `json:"minerAddress"`
	Timestamp    time.Time `json:"timestamp"`
	ActiveShares int64     `json:"activeShares"`
	ActiveUncles int64     `json:"activeUncles"`
	TotalShares  int64     `json:"totalShares"`
}

// AlertRecord is one dispatched notification. The table doubles as the
// cooldown state: probes are short-lived processes, so suppression windows
// must survive in the store, not in memory.
type AlertRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"` // host or wallet address
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// DatabaseStats summarises table sizes for the stats report and the API.
type DatabaseStats struct {
	TotalMiners    int `json:"totalMiners"`
	OnlineMiners   int `json:"onlineMiners"`
	HistoryRecords int `json:"historyRecords"`
	P2PoolMiners   int `json:"p2poolMiners"`
}
