package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/camarigor/sentinel/internal/config"
	"github.com/camarigor/sentinel/internal/storage"
)

const testAddr = "48fjkLmN3pQr7sTuVwXyZ1aBcDeFgHiJkLmN3pQr7sTuVwXyZ1aBcDeFgHiJkLmN3pQr7sTuVwXyZ1aBcDeFgHiJkLmN3pQ"

func setupServer(t *testing.T) (*Server, *storage.SQLiteStorage) {
	t.Helper()

	dir, err := os.MkdirTemp("", "sentinel-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	dbPath := filepath.Join(dir, "sentinel.db")
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		DBPath:        dbPath,
		RetentionDays: 30,
		Serve:         config.ServeConfig{Listen: "127.0.0.1:0", Refresh: time.Minute},
	}

	return NewServer(cfg, store, nil, zerolog.Nop()), store
}

func seedMiner(t *testing.T, store *storage.SQLiteStorage, host string, hashrate float64) {
	t.Helper()
	snap := &storage.MinerSnapshot{
		Host:     host,
		Status:   storage.StatusOnline,
		Hashrate: &hashrate,
		LastSeen: time.Now(),
	}
	if err := store.WriteMinerSnapshot(snap); err != nil {
		t.Fatalf("failed to seed miner %s: %v", host, err)
	}
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestGetMinersEmptyReturnsArray(t *testing.T) {
	s, _ := setupServer(t)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/miners")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var miners []*storage.MinerSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&miners); err != nil {
		t.Fatalf("expected a JSON array even when empty: %v", err)
	}
	if len(miners) != 0 {
		t.Errorf("expected no miners, got %d", len(miners))
	}
}

func TestGetMinerByHost(t *testing.T) {
	s, store := setupServer(t)
	seedMiner(t, store, "rig-a", 5230.5)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var m storage.MinerSnapshot
	resp := getJSON(t, srv.URL+"/api/miners/rig-a", &m)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if m.Host != "rig-a" || m.Hashrate == nil || *m.Hashrate != 5230.5 {
		t.Errorf("unexpected miner payload: %+v", m)
	}

	resp = getJSON(t, srv.URL+"/api/miners/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown host, got %d", resp.StatusCode)
	}
}

func TestGetMinerHistoryLimit(t *testing.T) {
	s, store := setupServer(t)
	for i := 0; i < 3; i++ {
		seedMiner(t, store, "rig-a", 5000+float64(i))
	}

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var points []*storage.MinerHistoryPoint
	getJSON(t, srv.URL+"/api/miners/rig-a/history?hours=48&limit=2", &points)
	if len(points) != 2 {
		t.Errorf("expected limit to cap history at 2, got %d", len(points))
	}

	getJSON(t, srv.URL+"/api/miners/rig-a/history", &points)
	if len(points) != 3 {
		t.Errorf("expected 3 history rows, got %d", len(points))
	}
}

func TestGetStatsAggregation(t *testing.T) {
	s, store := setupServer(t)
	seedMiner(t, store, "rig-a", 5000)
	if err := store.WriteMinerSnapshot(&storage.MinerSnapshot{
		Host:     "rig-b",
		Status:   storage.StatusOffline,
		LastSeen: time.Now(),
	}); err != nil {
		t.Fatalf("failed to seed offline miner: %v", err)
	}
	if err := store.WriteP2PoolSnapshot(&storage.P2PoolSnapshot{
		MinerAddress:    testAddr,
		ActiveShares:    3,
		ActiveUncles:    1,
		BlocksFound:     2,
		TotalPayoutPico: 630000000000,
		LastSeen:        time.Now(),
	}); err != nil {
		t.Fatalf("failed to seed pool stats: %v", err)
	}

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var stats FleetStats
	getJSON(t, srv.URL+"/api/stats", &stats)

	if stats.TotalMiners != 2 || stats.OnlineMiners != 1 {
		t.Errorf("expected 2 miners / 1 online, got %d / %d", stats.TotalMiners, stats.OnlineMiners)
	}
	if stats.TotalHashrate != 5000 {
		t.Errorf("offline rigs must not contribute hashrate, got %f", stats.TotalHashrate)
	}
	if stats.HashrateHuman != "5.00 kH/s" {
		t.Errorf("unexpected humanized hashrate %q", stats.HashrateHuman)
	}
	if stats.ActiveShares != 3 || stats.ActiveUncles != 1 || stats.BlocksFound != 2 {
		t.Errorf("unexpected pool aggregate: %+v", stats)
	}
	if stats.TotalPaidXMR != "0.63" {
		t.Errorf("expected total paid 0.63 XMR, got %q", stats.TotalPaidXMR)
	}
	if stats.XMRPrice != 0 || stats.Currency != "" {
		t.Errorf("fiat fields must stay empty without a pricing service: %+v", stats)
	}
}

func TestGetAlerts(t *testing.T) {
	s, store := setupServer(t)
	if err := store.RecordAlert(&storage.AlertRecord{
		Timestamp: time.Now(),
		Subject:   "rig-a",
		Kind:      "miner_offline",
		Message:   "rig-a stopped responding to status probes",
	}); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var alerts []*storage.AlertRecord
	getJSON(t, srv.URL+"/api/alerts", &alerts)
	if len(alerts) != 1 || alerts[0].Kind != "miner_offline" {
		t.Errorf("unexpected alerts payload: %+v", alerts)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	s, store := setupServer(t)
	seedMiner(t, store, "rig-a", 5000)

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/cleanup?days=5", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Success bool  `json:"success"`
		Deleted int64 `json:"deleted"`
		Days    int   `json:"days"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if !result.Success || result.Days != 5 {
		t.Errorf("unexpected cleanup response: %+v", result)
	}
	if result.Deleted != 0 {
		t.Errorf("fresh rows must survive the sweep, deleted %d", result.Deleted)
	}

	// The current-state row is never touched by cleanup.
	m, err := store.GetMiner("rig-a")
	if err != nil || m == nil {
		t.Fatalf("current-state row missing after cleanup: %v", err)
	}
}

func TestGetDBSize(t *testing.T) {
	s, _ := setupServer(t)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var result struct {
		Size      int64  `json:"size"`
		SizeHuman string `json:"sizeHuman"`
	}
	getJSON(t, srv.URL+"/api/dbsize", &result)
	if result.Size <= 0 {
		t.Errorf("expected a non-empty database file, got %d", result.Size)
	}
	if result.SizeHuman == "" || result.SizeHuman == "Unknown" {
		t.Errorf("unexpected human size %q", result.SizeHuman)
	}
}

func TestFleetStateSnapshot(t *testing.T) {
	s, store := setupServer(t)
	seedMiner(t, store, "rig-a", 5000)

	state, err := s.fleetState(context.Background())
	if err != nil {
		t.Fatalf("fleetState failed: %v", err)
	}
	if len(state.Miners) != 1 || len(state.P2Pool) != 0 || state.Stats == nil {
		t.Errorf("unexpected fleet state: %+v", state)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, _ := setupServer(t)
	go s.hub.Run()
	defer s.hub.Stop()

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// Registration races the dial; wait for the hub to pick the client up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.hub.clientsMu.RLock()
		n := len(s.hub.clients)
		s.hub.clientsMu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.hub.Broadcast(Message{Type: "fleet", Data: map[string]int{"totalMiners": 1}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if msg.Type != "fleet" {
		t.Errorf("expected fleet message, got %q", msg.Type)
	}
}
