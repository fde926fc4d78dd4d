package p2pool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camarigor/sentinel/internal/fetch"
)

const testAddr = "46gsz9vGDeVo2rK6kHkbSnmDQTUkNHzxb3pjCz8SbprG"

func newObserverStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/miner_info/"+testAddr, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": 4242,
			"address": "` + testAddr + `",
			"shares": [
				{"shares": 3, "uncles": 1},
				{"shares": 121, "uncles": 40}
			],
			"last_share_height": 2300,
			"last_share_timestamp": 1712000000
		}`))
	})
	mux.HandleFunc("/api/shares", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("miner"); got != testAddr {
			t.Errorf("shares: unexpected miner param %q", got)
		}
		if got := r.URL.Query().Get("limit"); got == "" {
			t.Error("shares: missing limit param")
		}
		w.Write([]byte(`[
			{"main_height": 3100000, "side_height": 2300, "timestamp": 1712000000, "uncle": false},
			{"main_height": 3099900, "side_height": 2000, "timestamp": 1711990000, "uncle": true},
			{"main_height": 3090000, "side_height": 100, "timestamp": 1711900000, "uncle": false}
		]`))
	})
	mux.HandleFunc("/api/pool/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pool_statistics": {"sideChainHeight": 2200, "hashRate": 1520000000, "miners": 911, "totalHashes": 99}}`))
	})
	mux.HandleFunc("/api/payouts", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"value": 600000000, "timestamp": 1712000500, "height": 3100010},
			{"value": 29400000000, "timestamp": 1711900500, "height": 3090010}
		]`))
	})
	mux.HandleFunc("/api/found_blocks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"main_height": 3099000}, {"main_height": 3050000}]`))
	})

	return httptest.NewServer(mux)
}

func TestClientMinerInfo(t *testing.T) {
	srv := newObserverStub(t)
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	info, err := client.MinerInfo(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("MinerInfo failed: %v", err)
	}

	if info.Address != testAddr {
		t.Errorf("unexpected address %s", info.Address)
	}
	if info.WindowShares != 3 || info.WindowUncles != 1 {
		t.Errorf("window estimate: got %d/%d, want 3/1", info.WindowShares, info.WindowUncles)
	}
	if info.TotalShares != 121 || info.TotalUncles != 40 {
		t.Errorf("totals: got %d/%d, want 121/40", info.TotalShares, info.TotalUncles)
	}
}

func TestClientShares(t *testing.T) {
	srv := newObserverStub(t)
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	shares, err := client.Shares(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("Shares failed: %v", err)
	}

	if len(shares) != 3 {
		t.Fatalf("expected 3 shares, got %d", len(shares))
	}
	if shares[0].Height != 2300 || shares[0].IsUncle {
		t.Errorf("unexpected first share %+v", shares[0])
	}
	if !shares[1].IsUncle {
		t.Error("expected second share to be an uncle")
	}
	if shares[0].Timestamp != time.Unix(1712000000, 0).UTC() {
		t.Errorf("timestamp not converted to UTC: %v", shares[0].Timestamp)
	}
}

func TestClientTip(t *testing.T) {
	srv := newObserverStub(t)
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	tip, err := client.Tip(context.Background())
	if err != nil {
		t.Fatalf("Tip failed: %v", err)
	}
	if tip != 2200 {
		t.Errorf("expected tip 2200, got %d", tip)
	}
}

func TestClientTipMissingHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pool_statistics": {"hashRate": 1520000000}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.Tip(context.Background())
	if !errors.Is(err, fetch.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClientPayouts(t *testing.T) {
	srv := newObserverStub(t)
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	payouts, err := client.Payouts(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("Payouts failed: %v", err)
	}

	if len(payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(payouts))
	}
	if payouts[0].AmountPico != 600000000 {
		t.Errorf("expected newest payout first, got %d", payouts[0].AmountPico)
	}
	var sum int64
	for _, p := range payouts {
		sum += p.AmountPico
	}
	if sum != 30000000000 {
		t.Errorf("expected payout sum 30000000000 piconero, got %d", sum)
	}
}

func TestClientFoundBlocks(t *testing.T) {
	srv := newObserverStub(t)
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	n, err := client.FoundBlocks(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("FoundBlocks failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 found blocks, got %d", n)
	}
}

func TestClientMinerInfoMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address": "x", "shares": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	_, err := client.MinerInfo(context.Background(), testAddr)
	if !errors.Is(err, fetch.ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := NewClient(base, 500*time.Millisecond)
	_, err := client.Tip(context.Background())
	if !errors.Is(err, fetch.ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}
