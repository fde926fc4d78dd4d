// Package pricing fetches the XMR exchange rate from CoinGecko, cached so
// repeated reads do not hammer the API.
package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/camarigor/sentinel/internal/fetch"
)

const defaultBaseURL = "https://api.coingecko.com"

// Service fetches and caches the Monero spot price.
type Service struct {
	client   *http.Client
	baseURL  string
	currency string
	ttl      time.Duration

	mu      sync.Mutex
	price   float64
	fetched time.Time
}

// NewService creates a price service quoting in the given currency.
func NewService(currency string, ttl time.Duration) *Service {
	if currency == "" {
		currency = "usd"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		client:   fetch.NewClient(30 * time.Second),
		baseURL:  defaultBaseURL,
		currency: strings.ToLower(currency),
		ttl:      ttl,
	}
}

// Currency returns the quote currency prices are reported in.
func (s *Service) Currency() string {
	return s.currency
}

// XMRPrice returns the cached exchange rate, refreshing it once the TTL has
// passed. A failed refresh falls back to the stale value if one exists.
func (s *Service) XMRPrice(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.price > 0 && time.Since(s.fetched) < s.ttl {
		return s.price, nil
	}

	price, err := s.fetchPrice(ctx)
	if err != nil {
		if s.price > 0 {
			return s.price, nil
		}
		return 0, err
	}

	s.price = price
	s.fetched = time.Now()
	return price, nil
}

func (s *Service) fetchPrice(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/simple/price?ids=monero&vs_currencies=%s",
		s.baseURL, url.QueryEscape(s.currency))

	var data map[string]map[string]float64
	if err := fetch.GetJSON(ctx, s.client, endpoint, nil, &data); err != nil {
		return 0, err
	}

	price, ok := data["monero"][s.currency]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: no %s quote for monero", fetch.ErrMalformedResponse, s.currency)
	}
	return price, nil
}
