// Package miner queries the XMRig HTTP API.
package miner

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/camarigor/sentinel/internal/fetch"
)

// Summary is the slice of the XMRig /2/summary payload Sentinel consumes.
type Summary struct {
	Hashrate float64 // current H/s
}

type summaryResponse struct {
	Hashrate struct {
		Total []*float64 `json:"total"`
	} `json:"hashrate"`
}

// Client polls XMRig miners. One client serves any number of hosts; the
// timeout and access token are shared.
type Client struct {
	httpClient *http.Client
	token      string
}

// NewClient builds a client with the given per-request timeout. The token,
// when set, is sent as a bearer Authorization header.
func NewClient(timeout time.Duration, token string) *Client {
	return &Client{
		httpClient: fetch.NewClient(timeout),
		token:      token,
	}
}

// Summary polls one miner for its current summary. XMRig reports
// hashrate.total as [current, 1m, 15m] and the entries stay null until the
// miner has computed a rate; a null or missing current entry is treated as
// malformed so the caller records the rig Offline rather than at zero.
func (c *Client) Summary(ctx context.Context, host string, port int) (*Summary, error) {
	url := fmt.Sprintf("http://%s/2/summary", net.JoinHostPort(host, strconv.Itoa(port)))

	var header http.Header
	if c.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	var resp summaryResponse
	if err := fetch.GetJSON(ctx, c.httpClient, url, header, &resp); err != nil {
		return nil, err
	}

	total := resp.Hashrate.Total
	if len(total) == 0 || total[0] == nil {
		return nil, fmt.Errorf("%w: no current hashrate", fetch.ErrMalformedResponse)
	}
	if *total[0] < 0 {
		return nil, fmt.Errorf("%w: negative hashrate", fetch.ErrMalformedResponse)
	}

	return &Summary{Hashrate: *total[0]}, nil
}
