package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/p2pool"
	"github.com/camarigor/sentinel/internal/storage"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindMinerOffline   Kind = "miner_offline"
	KindHashrateDrop   Kind = "hashrate_drop"
	KindPayoutReceived Kind = "payout_received"
)

// kindDisplay holds the visual representation for each alert kind
type kindDisplay struct {
	Emoji string
	Title string
	Color int
}

var kindDisplayMap = map[Kind]kindDisplay{
	KindMinerOffline:   {Emoji: "🔴", Title: "Miner Offline", Color: 0xFF4444},
	KindHashrateDrop:   {Emoji: "📉", Title: "Hashrate Drop", Color: 0xFFAA00},
	KindPayoutReceived: {Emoji: "💰", Title: "Payout Received", Color: 0x00FF88},
}

func getKindDisplay(k Kind) kindDisplay {
	if d, ok := kindDisplayMap[k]; ok {
		return d
	}
	return kindDisplay{Emoji: "⚠️", Title: string(k), Color: 0x00D4FF}
}

// Config holds alerting thresholds and the webhook destination.
type Config struct {
	WebhookURL      string
	HashrateDropPct float64
	Cooldown        time.Duration
}

// Alert represents a triggered notification.
type Alert struct {
	Kind      Kind
	Subject   string // host or wallet address
	Message   string
	Fields    []map[string]interface{}
	Timestamp time.Time
}

// Engine compares consecutive snapshots and dispatches Discord
// notifications. Cooldown state lives in the store, not in memory: probe
// runs are separate short-lived processes, so suppression windows have to
// survive between invocations.
type Engine struct {
	cfg    Config
	store  *storage.SQLiteStorage
	client *http.Client
	logger zerolog.Logger
}

// NewEngine creates an alert engine backed by the given store.
func NewEngine(cfg Config, store *storage.SQLiteStorage, logger zerolog.Logger) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "alerts").Logger(),
	}
}

// CheckMiner compares a rig's previous and current snapshot and raises
// offline and hashrate-drop notifications.
func (e *Engine) CheckMiner(prev, cur *storage.MinerSnapshot) {
	if prev == nil || cur == nil {
		return
	}

	if prev.Status == storage.StatusOnline && cur.Status == storage.StatusOffline {
		e.sendAlert(Alert{
			Kind:      KindMinerOffline,
			Subject:   cur.Host,
			Message:   fmt.Sprintf("%s stopped responding to status probes", cur.Host),
			Timestamp: cur.LastSeen,
		})
	}

	if e.cfg.HashrateDropPct > 0 && prev.Hashrate != nil && cur.Hashrate != nil && *prev.Hashrate > 0 {
		dropPercent := ((*prev.Hashrate - *cur.Hashrate) / *prev.Hashrate) * 100
		if dropPercent >= e.cfg.HashrateDropPct {
			e.sendAlert(Alert{
				Kind:    KindHashrateDrop,
				Subject: cur.Host,
				Message: fmt.Sprintf("Hashrate dropped %.1f%% (%s -> %s)",
					dropPercent, miner.FormatHashrate(*prev.Hashrate), miner.FormatHashrate(*cur.Hashrate)),
				Timestamp: cur.LastSeen,
			})
		}
	}
}

// CheckPayout raises a notification when the wallet's recorded payout total
// grows. No cooldown: payouts are rare events, and the monotonic total in
// the store already dedupes repeat observations.
func (e *Engine) CheckPayout(prev, cur *storage.P2PoolSnapshot) {
	if prev == nil || cur == nil || cur.TotalPayoutPico <= prev.TotalPayoutPico {
		return
	}

	delta := cur.TotalPayoutPico - prev.TotalPayoutPico
	alert := Alert{
		Kind:      KindPayoutReceived,
		Subject:   cur.MinerAddress,
		Message:   fmt.Sprintf("Payout of %s XMR received", storage.XMR(delta)),
		Timestamp: cur.LastSeen,
		Fields: []map[string]interface{}{
			{"name": "Wallet", "value": p2pool.ShortAddr(cur.MinerAddress), "inline": true},
			{"name": "Amount", "value": fmt.Sprintf("%s XMR", storage.XMR(delta)), "inline": true},
			{"name": "Total Paid", "value": fmt.Sprintf("%s XMR", storage.XMR(cur.TotalPayoutPico)), "inline": true},
		},
	}

	e.record(alert)
	e.deliver(alert)
}

// sendAlert records and delivers an alert unless a notification of the same
// kind for the same subject was sent inside the cooldown window. A failed
// cooldown lookup counts as no prior alert.
func (e *Engine) sendAlert(alert Alert) {
	last, err := e.store.LastAlertTime(alert.Subject, string(alert.Kind))
	if err != nil {
		e.logger.Warn().Err(err).Msg("cooldown lookup failed")
	} else if !last.IsZero() && time.Since(last) < e.cfg.Cooldown {
		return
	}

	e.record(alert)
	e.deliver(alert)
}

func (e *Engine) record(alert Alert) {
	rec := &storage.AlertRecord{
		Timestamp: alert.Timestamp,
		Subject:   alert.Subject,
		Kind:      string(alert.Kind),
		Message:   alert.Message,
	}
	if err := e.store.RecordAlert(rec); err != nil {
		e.logger.Warn().Err(err).Str("kind", string(alert.Kind)).Msg("failed to record alert")
	}
}

// deliver logs the alert and posts it to the webhook. The post is
// synchronous: probe processes exit right after the cycle finishes, which
// would kill a background goroutine mid-flight.
func (e *Engine) deliver(alert Alert) {
	e.logger.Info().
		Str("kind", string(alert.Kind)).
		Str("subject", alert.Subject).
		Msg(alert.Message)

	if e.cfg.WebhookURL == "" {
		return
	}

	body, err := buildDiscordPayload(alert)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to marshal Discord payload")
		return
	}
	e.postWebhook(e.cfg.WebhookURL, body)
}

func buildDiscordPayload(alert Alert) ([]byte, error) {
	d := getKindDisplay(alert.Kind)

	// Use custom fields if provided, otherwise a single Host field
	fields := alert.Fields
	if fields == nil {
		fields = []map[string]interface{}{
			{"name": "Host", "value": alert.Subject, "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       fmt.Sprintf("%s %s", d.Emoji, d.Title),
				"description": alert.Message,
				"color":       d.Color,
				"fields":      fields,
				"timestamp":   alert.Timestamp.Format(time.RFC3339),
				"footer": map[string]string{
					"text": "Sentinel Alerts",
				},
			},
		},
	}

	return json.Marshal(payload)
}

// postWebhook posts a payload to the given webhook URL
func (e *Engine) postWebhook(url string, body []byte) {
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to send Discord webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		e.logger.Error().Int("status", resp.StatusCode).Msg("Discord webhook rejected payload")
	}
}

// SendTestAlert sends a test message to the configured Discord webhook.
// It bypasses cooldown and recording so the caller gets immediate feedback.
func (e *Engine) SendTestAlert() error {
	if e.cfg.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       "✅ Test Alert",
				"description": "This is a test alert from Sentinel. If you see this message, your Discord webhook is configured correctly!",
				"color":       0x00FF88,
				"timestamp":   time.Now().Format(time.RFC3339),
				"footer": map[string]string{
					"text": "Sentinel Alerts",
				},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := e.client.Post(e.cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status %d", resp.StatusCode)
	}

	return nil
}
