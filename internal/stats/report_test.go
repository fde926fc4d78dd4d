package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/camarigor/sentinel/internal/storage"
)

const testAddr = "48fjkLmN3pQr7sTuVwXyZ1aBcDeFgHiJkLmN3pQr7sTuVwXyZ1aBcDeFgHiJ"

func setupStore(t *testing.T) (*storage.SQLiteStorage, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "sentinel-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	dbPath := filepath.Join(dir, "test.db")
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, dbPath
}

func TestRenderReport(t *testing.T) {
	store, dbPath := setupStore(t)

	hashrate := 5230.5
	cpu := 42.5
	ram := 61.0
	if err := store.WriteMinerSnapshot(&storage.MinerSnapshot{
		Host:     "rig-a",
		Status:   storage.StatusOnline,
		Hashrate: &hashrate,
		CPUUsage: &cpu,
		RAMUsage: &ram,
		LastSeen: time.Now(),
	}); err != nil {
		t.Fatalf("failed to seed miner: %v", err)
	}

	lastPayout := int64(29400000000)
	lastPayoutAt := time.Now().Add(-2 * time.Hour)
	if err := store.WriteP2PoolSnapshot(&storage.P2PoolSnapshot{
		MinerAddress:    testAddr,
		ActiveShares:    3,
		ActiveUncles:    1,
		SharesHeld:      3,
		TotalShares:     121,
		BlocksFound:     1,
		PayoutsSent:     15,
		LastPayoutPico:  &lastPayout,
		LastPayoutTime:  &lastPayoutAt,
		TotalPayoutPico: 630000000000,
		LastSeen:        time.Now(),
	}); err != nil {
		t.Fatalf("failed to seed pool stats: %v", err)
	}

	if err := store.RecordAlert(&storage.AlertRecord{
		Timestamp: time.Now(),
		Subject:   "rig-a",
		Kind:      "miner_offline",
		Message:   "rig-a stopped responding to status probes",
	}); err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}

	var buf bytes.Buffer
	if err := NewReporter(store, dbPath).Render(&buf); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"rig-a",
		"Online",
		"5.23 kH/s",
		"42.5%",
		"48fjkLmN3pQr...",
		"3+1u",
		"121",
		"0.0294 XMR",
		"0.63 XMR",
		"miner_offline",
		"1 (1 online)",
		"file size",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderFiatLine(t *testing.T) {
	store, dbPath := setupStore(t)

	if err := store.WriteP2PoolSnapshot(&storage.P2PoolSnapshot{
		MinerAddress:    testAddr,
		TotalPayoutPico: 630000000000,
		LastSeen:        time.Now(),
	}); err != nil {
		t.Fatalf("failed to seed pool stats: %v", err)
	}

	r := NewReporter(store, dbPath)
	r.SetFiatRate(165.40, "usd")

	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "104.20 USD") {
		t.Errorf("report missing fiat valuation:\n%s", out)
	}
	if !strings.Contains(out, "@ 165.40/XMR") {
		t.Errorf("report missing fiat rate:\n%s", out)
	}
}

func TestRenderEmptyStore(t *testing.T) {
	store, dbPath := setupStore(t)

	var buf bytes.Buffer
	if err := NewReporter(store, dbPath).Render(&buf); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "no miners recorded") {
		t.Errorf("report missing empty miners notice:\n%s", out)
	}
	if !strings.Contains(out, "no wallet tracked") {
		t.Errorf("report missing empty wallet notice:\n%s", out)
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 << 20, "5.00 MiB"},
		{3 << 30, "3.00 GiB"},
	}
	for _, tt := range tests {
		if got := humanBytes(tt.n); got != tt.want {
			t.Errorf("humanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
