// Package p2pool reads wallet and sidechain state from a P2Pool observer
// instance and reconciles share activity against the PPLNS window.
package p2pool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/camarigor/sentinel/internal/fetch"
)

// sharesPageLimit bounds the share page fetched per cycle. The PPLNS window
// is ~6 hours of sidechain blocks; a home fleet lands well under this many
// shares in that span.
const sharesPageLimit = 500

// Share is one sidechain block found by the tracked wallet.
type Share struct {
	Height    uint64
	Timestamp time.Time
	IsUncle   bool
}

// Payout is one historical payout to the tracked wallet. Amounts are
// piconero.
type Payout struct {
	AmountPico int64
	Timestamp  time.Time
}

// MinerInfo is the observer's own aggregate view of a wallet.
type MinerInfo struct {
	Address      string
	WindowShares int64 // observer's current-window estimate
	WindowUncles int64
	TotalShares  int64 // all-time
	TotalUncles  int64
}

type minerInfoResponse struct {
	Address string `json:"address"`
	Shares  []struct {
		Shares int64 `json:"shares"`
		Uncles int64 `json:"uncles"`
	} `json:"shares"`
}

type shareEntry struct {
	SideHeight uint64 `json:"side_height"`
	Timestamp  int64  `json:"timestamp"`
	Uncle      bool   `json:"uncle"`
}

type poolStatsResponse struct {
	PoolStatistics struct {
		SideChainHeight uint64  `json:"sideChainHeight"`
		HashRate        float64 `json:"hashRate"`
		Miners          int64   `json:"miners"`
	} `json:"pool_statistics"`
}

type payoutEntry struct {
	Value     int64 `json:"value"`
	Timestamp int64 `json:"timestamp"`
}

// Client queries one observer instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the given observer base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: fetch.NewClient(timeout),
	}
}

// MinerInfo fetches the observer's aggregate view of the wallet. The shares
// array carries the window estimate at index 0 and the all-time totals in
// the last entry.
func (c *Client) MinerInfo(ctx context.Context, address string) (*MinerInfo, error) {
	endpoint := fmt.Sprintf("%s/api/miner_info/%s", c.baseURL, url.PathEscape(address))

	var resp minerInfoResponse
	if err := fetch.GetJSON(ctx, c.httpClient, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Shares) == 0 {
		return nil, fmt.Errorf("%w: miner_info without shares array", fetch.ErrMalformedResponse)
	}

	window := resp.Shares[0]
	total := resp.Shares[len(resp.Shares)-1]
	return &MinerInfo{
		Address:      resp.Address,
		WindowShares: window.Shares,
		WindowUncles: window.Uncles,
		TotalShares:  total.Shares,
		TotalUncles:  total.Uncles,
	}, nil
}

// Shares fetches the wallet's recent sidechain shares.
func (c *Client) Shares(ctx context.Context, address string) ([]Share, error) {
	endpoint := fmt.Sprintf("%s/api/shares?miner=%s&limit=%d", c.baseURL, url.QueryEscape(address), sharesPageLimit)

	var entries []shareEntry
	if err := fetch.GetJSON(ctx, c.httpClient, endpoint, nil, &entries); err != nil {
		return nil, err
	}

	shares := make([]Share, 0, len(entries))
	for _, e := range entries {
		shares = append(shares, Share{
			Height:    e.SideHeight,
			Timestamp: time.Unix(e.Timestamp, 0).UTC(),
			IsUncle:   e.Uncle,
		})
	}
	return shares, nil
}

// Tip fetches the current sidechain height from the pool statistics.
func (c *Client) Tip(ctx context.Context) (uint64, error) {
	endpoint := c.baseURL + "/api/pool/stats"

	var resp poolStatsResponse
	if err := fetch.GetJSON(ctx, c.httpClient, endpoint, nil, &resp); err != nil {
		return 0, err
	}
	if resp.PoolStatistics.SideChainHeight == 0 {
		return 0, fmt.Errorf("%w: pool stats without sidechain height", fetch.ErrMalformedResponse)
	}
	return resp.PoolStatistics.SideChainHeight, nil
}

// Payouts fetches the wallet's payout page, newest first.
func (c *Client) Payouts(ctx context.Context, address string) ([]Payout, error) {
	endpoint := fmt.Sprintf("%s/api/payouts?miner=%s", c.baseURL, url.QueryEscape(address))

	var entries []payoutEntry
	if err := fetch.GetJSON(ctx, c.httpClient, endpoint, nil, &entries); err != nil {
		return nil, err
	}

	payouts := make([]Payout, 0, len(entries))
	for _, e := range entries {
		payouts = append(payouts, Payout{
			AmountPico: e.Value,
			Timestamp:  time.Unix(e.Timestamp, 0).UTC(),
		})
	}
	return payouts, nil
}

// FoundBlocks counts mainchain blocks attributed to the wallet.
func (c *Client) FoundBlocks(ctx context.Context, address string) (int, error) {
	endpoint := fmt.Sprintf("%s/api/found_blocks?miner=%s", c.baseURL, url.QueryEscape(address))

	var entries []json.RawMessage
	if err := fetch.GetJSON(ctx, c.httpClient, endpoint, nil, &entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// ShortAddr truncates a wallet address for logs and display. Monero
// addresses are 95 characters; the first 12 identify the wallet well enough.
func ShortAddr(addr string) string {
	if len(addr) <= 15 {
		return addr
	}
	return addr[:12] + "..."
}
