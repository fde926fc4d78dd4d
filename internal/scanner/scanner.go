// Package scanner sweeps local subnets for rigs exposing the XMRig HTTP API.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/camarigor/sentinel/internal/fetch"
	"github.com/camarigor/sentinel/internal/miner"
)

// Result is one responding rig. Protected marks a rig that answered but
// rejected the access token; it exists, we just cannot read it.
type Result struct {
	Host      string
	Hashrate  float64
	Protected bool
}

// Scanner probes addresses for the XMRig summary endpoint.
type Scanner struct {
	client      *miner.Client
	port        int
	concurrency int
}

// NewScanner creates a scanner probing the given API port. The timeout
// applies per address.
func NewScanner(port int, token string, timeout time.Duration, concurrency int) *Scanner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 64
	}
	return &Scanner{
		client:      miner.NewClient(timeout, token),
		port:        port,
		concurrency: concurrency,
	}
}

// Scan probes every usable address in the subnet and returns the rigs that
// answered, ordered by address.
func (s *Scanner) Scan(ctx context.Context, subnet string) ([]Result, error) {
	ips, err := expandSubnet(subnet)
	if err != nil {
		return nil, fmt.Errorf("failed to expand subnet: %w", err)
	}

	var (
		results []Result
		mu      sync.Mutex
	)

	swg := sizedwaitgroup.New(s.concurrency)
	for _, ip := range ips {
		if err := swg.AddWithContext(ctx); err != nil {
			swg.Wait()
			return results, err
		}

		go func(ip string) {
			defer swg.Done()

			result, err := s.Probe(ctx, ip)
			if err != nil {
				return
			}
			mu.Lock()
			results = append(results, *result)
			mu.Unlock()
		}(ip)
	}
	swg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return bytes.Compare(net.ParseIP(results[i].Host).To4(), net.ParseIP(results[j].Host).To4()) < 0
	})
	return results, nil
}

// Probe checks a single address for an XMRig API.
func (s *Scanner) Probe(ctx context.Context, host string) (*Result, error) {
	summary, err := s.client.Summary(ctx, host, s.port)
	if errors.Is(err, fetch.ErrAuthFailed) {
		return &Result{Host: host, Protected: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Result{Host: host, Hashrate: summary.Hashrate}, nil
}

// DetectAllSubnets returns the /24 networks of every usable local interface.
func DetectAllSubnets() []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var subnets []string

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}

			// Skip link-local addresses (169.254.x.x)
			if ip[0] == 169 && ip[1] == 254 {
				continue
			}

			// Skip Docker bridge networks (172.16-31.x.x)
			if ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31 {
				continue
			}

			mask := net.CIDRMask(24, 32)
			network := ip.Mask(mask)
			subnet := fmt.Sprintf("%s/24", network.String())

			if !seen[subnet] {
				seen[subnet] = true
				subnets = append(subnets, subnet)
			}
		}
	}

	return subnets
}

// expandSubnet converts a CIDR to the list of host IPs, excluding the
// network and broadcast addresses.
func expandSubnet(subnet string) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet CIDR: %w", err)
	}

	ip := ipNet.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("only IPv4 subnets are supported")
	}

	mask := ipNet.Mask
	broadcastAddr := make(net.IP, len(ip))
	for i := 0; i < len(ip); i++ {
		broadcastAddr[i] = ip[i] | ^mask[i]
	}

	var ips []string
	currentIP := make(net.IP, len(ip))
	copy(currentIP, ip)
	incIP(currentIP) // skip the network address

	for ipNet.Contains(currentIP) {
		if currentIP.Equal(broadcastAddr) {
			break
		}
		ips = append(ips, currentIP.String())
		incIP(currentIP)
	}

	return ips, nil
}

// incIP increments an IP address by 1
func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}
