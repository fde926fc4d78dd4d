package scanner

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestExpandSubnet(t *testing.T) {
	tests := []struct {
		name      string
		subnet    string
		wantCount int
		wantFirst string
		wantLast  string
		wantErr   bool
	}{
		{
			name:      "standard /24 network",
			subnet:    "192.168.1.0/24",
			wantCount: 254,
			wantFirst: "192.168.1.1",
			wantLast:  "192.168.1.254",
		},
		{
			name:      "10.x.x.x /24 network",
			subnet:    "10.7.7.0/24",
			wantCount: 254,
			wantFirst: "10.7.7.1",
			wantLast:  "10.7.7.254",
		},
		{
			name:      "smaller /28 network",
			subnet:    "192.168.1.0/28",
			wantCount: 14, // 16 - 2 (network and broadcast)
			wantFirst: "192.168.1.1",
			wantLast:  "192.168.1.14",
		},
		{
			name:    "invalid CIDR",
			subnet:  "invalid",
			wantErr: true,
		},
		{
			name:    "missing mask",
			subnet:  "192.168.1.0",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ips, err := expandSubnet(tt.subnet)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expandSubnet(%q) expected error, got nil", tt.subnet)
				}
				return
			}
			if err != nil {
				t.Errorf("expandSubnet(%q) unexpected error: %v", tt.subnet, err)
				return
			}

			if len(ips) != tt.wantCount {
				t.Errorf("expandSubnet(%q) got %d IPs, want %d", tt.subnet, len(ips), tt.wantCount)
			}
			if len(ips) > 0 {
				if ips[0] != tt.wantFirst {
					t.Errorf("expandSubnet(%q) first IP = %q, want %q", tt.subnet, ips[0], tt.wantFirst)
				}
				if ips[len(ips)-1] != tt.wantLast {
					t.Errorf("expandSubnet(%q) last IP = %q, want %q", tt.subnet, ips[len(ips)-1], tt.wantLast)
				}
			}
		})
	}
}

func TestExpandSubnetExcludesNetworkAndBroadcast(t *testing.T) {
	ips, err := expandSubnet("192.168.1.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ip := range ips {
		if strings.HasSuffix(ip, ".0") {
			t.Errorf("network address found in list: %s", ip)
		}
		if strings.HasSuffix(ip, ".255") {
			t.Errorf("broadcast address found in list: %s", ip)
		}
	}
}

func TestIncIP(t *testing.T) {
	tests := []struct {
		name     string
		startIP  string
		expected string
	}{
		{
			name:     "simple increment",
			startIP:  "192.168.1.1",
			expected: "192.168.1.2",
		},
		{
			name:     "octet rollover",
			startIP:  "192.168.1.255",
			expected: "192.168.2.0",
		},
		{
			name:     "multiple octet rollover",
			startIP:  "192.168.255.255",
			expected: "192.169.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := net.ParseIP(tt.startIP).To4()
			incIP(ip)
			if ip.String() != tt.expected {
				t.Errorf("incIP(%s) = %s, want %s", tt.startIP, ip.String(), tt.expected)
			}
		})
	}
}

func TestDetectAllSubnets(t *testing.T) {
	subnets := DetectAllSubnets()

	// In a container or CI environment there may be no usable interface,
	// which is acceptable - we just verify the format of what we got.
	if len(subnets) == 0 {
		t.Skip("no usable network interface found")
	}

	for _, subnet := range subnets {
		if !strings.HasSuffix(subnet, "/24") {
			t.Errorf("DetectAllSubnets() returned %q, want suffix /24", subnet)
		}
		if _, err := expandSubnet(subnet); err != nil {
			t.Errorf("DetectAllSubnets() returned invalid CIDR %q: %v", subnet, err)
		}
	}
}

func stubPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse stub URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("failed to parse stub port: %v", err)
	}
	return port
}

func TestScanFindsRespondingRig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/summary" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"hashrate":{"total":[4120.0,0.0,0.0]}}`)
	}))
	defer srv.Close()

	s := NewScanner(stubPort(t, srv), "", 2*time.Second, 4)

	// 127.0.0.0/30 expands to .1 (the stub) and .2 (nothing listening)
	results, err := s.Scan(context.Background(), "127.0.0.0/30")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 rig, got %d: %+v", len(results), results)
	}
	if results[0].Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", results[0].Host)
	}
	if results[0].Hashrate != 4120.0 {
		t.Errorf("expected hashrate 4120, got %f", results[0].Hashrate)
	}
	if results[0].Protected {
		t.Error("open rig reported as protected")
	}
}

func TestScanReportsProtectedRig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewScanner(stubPort(t, srv), "wrong-token", 2*time.Second, 4)

	results, err := s.Scan(context.Background(), "127.0.0.0/30")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 rig, got %d", len(results))
	}
	if !results[0].Protected {
		t.Error("expected the rig to be reported as protected")
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	port := stubPort(t, srv)
	srv.Close()

	s := NewScanner(port, "", 500*time.Millisecond, 4)
	if _, err := s.Probe(context.Background(), "127.0.0.1"); err == nil {
		t.Fatal("expected error probing a closed port")
	}
}
