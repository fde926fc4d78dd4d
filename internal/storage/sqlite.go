package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrStoreContention reports that the write lock was not acquired within the
// busy timeout. The caller drops the snapshot and logs; the next poll cycle
// supersedes it anyway. Snapshots are never queued or retried.
var ErrStoreContention = errors.New("store contention")

// SQLiteStorage provides SQLite-based storage for miner and sidechain data.
// The file may sit on a shared mount with several probes writing to it, so
// every write goes through WAL mode with a bounded busy timeout.
type SQLiteStorage struct {
	db *sql.DB
}

// parseTimestamp parses a timestamp string from SQLite in multiple formats.
// All timestamps are stored in UTC.
func parseTimestamp(s string) time.Time {
	// Try RFC3339 first (modernc/sqlite driver converts DATETIME columns to this format)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Fallback to simple format (stored as UTC)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// NewSQLiteStorage opens a SQLite database at the given path,
// runs migrations, and enables WAL mode
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit to single connection to avoid SQLite locking issues
	db.SetMaxOpenConns(1)

	// Set busy timeout to 5 seconds to handle concurrent writers
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// NORMAL is durable enough for monitoring data and much faster in WAL mode
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables and indexes
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS miners (
		host TEXT PRIMARY KEY,
		last_seen DATETIME NOT NULL,
		hashrate REAL,
		cpu_usage REAL,
		ram_usage REAL,
		status TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS miner_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		hashrate REAL,
		cpu_usage REAL,
		ram_usage REAL,
		status TEXT NOT NULL,
		FOREIGN KEY (host) REFERENCES miners(host)
	);

	CREATE INDEX IF NOT EXISTS idx_miner_history_host_time ON miner_history(host, timestamp DESC);

	CREATE TABLE IF NOT EXISTS p2pool_stats (
		miner_address TEXT PRIMARY KEY,
		last_seen DATETIME NOT NULL,
		active_shares INTEGER NOT NULL DEFAULT 0,
		active_uncles INTEGER NOT NULL DEFAULT 0,
		shares_held INTEGER NOT NULL DEFAULT 0,
		total_shares INTEGER NOT NULL DEFAULT 0,
		blocks_found INTEGER NOT NULL DEFAULT 0,
		payouts_sent INTEGER NOT NULL DEFAULT 0,
		last_payout_pico INTEGER,
		last_payout_time DATETIME,
		total_payout_pico INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS p2pool_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		miner_address TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		active_shares INTEGER NOT NULL DEFAULT 0,
		active_uncles INTEGER NOT NULL DEFAULT 0,
		total_shares INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (miner_address) REFERENCES p2pool_stats(miner_address)
	);

	CREATE INDEX IF NOT EXISTS idx_p2pool_history_address_time ON p2pool_history(miner_address, timestamp DESC);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		subject TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_subject_kind_time ON alerts(subject, kind, timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Migration: earlier builds tracked uncle counts in current state only
	_, _ = s.db.Exec("ALTER TABLE p2pool_history ADD COLUMN active_uncles INTEGER NOT NULL DEFAULT 0")

	// Migration: payout tracking columns
	_, _ = s.db.Exec("ALTER TABLE p2pool_stats ADD COLUMN payouts_sent INTEGER NOT NULL DEFAULT 0")
	_, _ = s.db.Exec("ALTER TABLE p2pool_stats ADD COLUMN last_payout_pico INTEGER")
	_, _ = s.db.Exec("ALTER TABLE p2pool_stats ADD COLUMN last_payout_time DATETIME")
	_, _ = s.db.Exec("ALTER TABLE p2pool_stats ADD COLUMN total_payout_pico INTEGER NOT NULL DEFAULT 0")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// wrapWriteErr classifies a write failure. Lock-wait exhaustion becomes
// ErrStoreContention so callers can drop the snapshot instead of failing
// the whole cycle.
func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s: %v", ErrStoreContention, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WriteMinerSnapshot upserts the current-state row and appends the history
// row in one transaction, so readers never observe one side without the
// other. No network I/O happens while the transaction is open.
func (s *SQLiteStorage) WriteMinerSnapshot(snap *MinerSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapWriteErr("begin miner snapshot", err)
	}
	defer tx.Rollback()

	ts := snap.LastSeen.UTC().Format("2006-01-02 15:04:05")

	upsert := `
	INSERT INTO miners (host, last_seen, hashrate, cpu_usage, ram_usage, status)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(host) DO UPDATE SET
		last_seen = excluded.last_seen,
		hashrate = excluded.hashrate,
		cpu_usage = excluded.cpu_usage,
		ram_usage = excluded.ram_usage,
		status = excluded.status
	`
	if _, err := tx.Exec(upsert, snap.Host, ts, snap.Hashrate, snap.CPUUsage, snap.RAMUsage, snap.Status); err != nil {
		return wrapWriteErr("upsert miner", err)
	}

	history := `
	INSERT INTO miner_history (host, timestamp, hashrate, cpu_usage, ram_usage, status)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(history, snap.Host, ts, snap.Hashrate, snap.CPUUsage, snap.RAMUsage, snap.Status); err != nil {
		return wrapWriteErr("append miner history", err)
	}

	return wrapWriteErr("commit miner snapshot", tx.Commit())
}

// WriteP2PoolSnapshot upserts the wallet's current-state row and appends the
// history row in one transaction. Lifetime counters (total shares, blocks
// found, payout totals) only move forward: a short payout page or an
// observer regression must not erase recorded progress, so the upsert clamps
// them with MAX against the stored value. Active window counts legitimately
// shrink as shares age out and are overwritten as-is.
func (s *SQLiteStorage) WriteP2PoolSnapshot(snap *P2PoolSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapWriteErr("begin p2pool snapshot", err)
	}
	defer tx.Rollback()

	ts := snap.LastSeen.UTC().Format("2006-01-02 15:04:05")

	var lastPayoutTime any
	if snap.LastPayoutTime != nil {
		lastPayoutTime = snap.LastPayoutTime.UTC().Format("2006-01-02 15:04:05")
	}

	upsert := `
	INSERT INTO p2pool_stats (
		miner_address, last_seen, active_shares, active_uncles, shares_held,
		total_shares, blocks_found, payouts_sent,
		last_payout_pico, last_payout_time, total_payout_pico
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(miner_address) DO UPDATE SET
		last_seen = excluded.last_seen,
		active_shares = excluded.active_shares,
		active_uncles = excluded.active_uncles,
		shares_held = excluded.shares_held,
		total_shares = MAX(excluded.total_shares, total_shares),
		blocks_found = MAX(excluded.blocks_found, blocks_found),
		payouts_sent = MAX(excluded.payouts_sent, payouts_sent),
		last_payout_pico = COALESCE(excluded.last_payout_pico, last_payout_pico),
		last_payout_time = COALESCE(excluded.last_payout_time, last_payout_time),
		total_payout_pico = MAX(excluded.total_payout_pico, total_payout_pico)
	`
	if _, err := tx.Exec(upsert,
		snap.MinerAddress, ts, snap.ActiveShares, snap.ActiveUncles, snap.SharesHeld,
		snap.TotalShares, snap.BlocksFound, snap.PayoutsSent,
		snap.LastPayoutPico, lastPayoutTime, snap.TotalPayoutPico,
	); err != nil {
		return wrapWriteErr("upsert p2pool stats", err)
	}

	history := `
	INSERT INTO p2pool_history (miner_address, timestamp, active_shares, active_uncles, total_shares)
	VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.Exec(history, snap.MinerAddress, ts, snap.ActiveShares, snap.ActiveUncles, snap.TotalShares); err != nil {
		return wrapWriteErr("append p2pool history", err)
	}

	return wrapWriteErr("commit p2pool snapshot", tx.Commit())
}

// GetMiners returns all known miners, most recently seen first.
func (s *SQLiteStorage) GetMiners() ([]*MinerSnapshot, error) {
	query := `
	SELECT host, last_seen, hashrate, cpu_usage, ram_usage, status
	FROM miners
	ORDER BY last_seen DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var miners []*MinerSnapshot
	for rows.Next() {
		m := &MinerSnapshot{}
		var lastSeen string
		var hashrate, cpu, ram sql.NullFloat64
		if err := rows.Scan(&m.Host, &lastSeen, &hashrate, &cpu, &ram, &m.Status); err != nil {
			return nil, err
		}
		m.LastSeen = parseTimestamp(lastSeen)
		m.Hashrate = nullFloat(hashrate)
		m.CPUUsage = nullFloat(cpu)
		m.RAMUsage = nullFloat(ram)
		miners = append(miners, m)
	}

	return miners, rows.Err()
}

// GetMiner returns the current state of one host, or nil if unknown.
func (s *SQLiteStorage) GetMiner(host string) (*MinerSnapshot, error) {
	query := `
	SELECT host, last_seen, hashrate, cpu_usage, ram_usage, status
	FROM miners
	WHERE host = ?
	`

	m := &MinerSnapshot{}
	var lastSeen string
	var hashrate, cpu, ram sql.NullFloat64
	err := s.db.QueryRow(query, host).Scan(&m.Host, &lastSeen, &hashrate, &cpu, &ram, &m.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.LastSeen = parseTimestamp(lastSeen)
	m.Hashrate = nullFloat(hashrate)
	m.CPUUsage = nullFloat(cpu)
	m.RAMUsage = nullFloat(ram)
	return m, nil
}

// GetMinerHistory retrieves history rows for a host since a given time,
// oldest first.
func (s *SQLiteStorage) GetMinerHistory(host string, since time.Time, limit int) ([]*MinerHistoryPoint, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := `
	SELECT id, host, timestamp, hashrate, cpu_usage, ram_usage, status
	FROM miner_history
	WHERE host = ? AND timestamp >= ?
	ORDER BY timestamp ASC
	LIMIT ?
	`

	rows, err := s.db.Query(query, host, since.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*MinerHistoryPoint
	for rows.Next() {
		p := &MinerHistoryPoint{}
		var timestamp string
		var hashrate, cpu, ram sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.Host, &timestamp, &hashrate, &cpu, &ram, &p.Status); err != nil {
			return nil, err
		}
		p.Timestamp = parseTimestamp(timestamp)
		p.Hashrate = nullFloat(hashrate)
		p.CPUUsage = nullFloat(cpu)
		p.RAMUsage = nullFloat(ram)
		points = append(points, p)
	}

	return points, rows.Err()
}

// GetP2PoolStats returns the current state of all tracked wallets.
func (s *SQLiteStorage) GetP2PoolStats() ([]*P2PoolSnapshot, error) {
	query := `
	SELECT miner_address, last_seen, active_shares, active_uncles, shares_held,
		total_shares, blocks_found, payouts_sent,
		last_payout_pico, last_payout_time, total_payout_pico
	FROM p2pool_stats
	ORDER BY last_seen DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*P2PoolSnapshot
	for rows.Next() {
		snap, err := scanP2PoolRow(rows)
		if err != nil {
			return nil, err
		}
		stats = append(stats, snap)
	}

	return stats, rows.Err()
}

// GetP2PoolStat returns the current state of one wallet, or nil if unknown.
func (s *SQLiteStorage) GetP2PoolStat(address string) (*P2PoolSnapshot, error) {
	query := `
	SELECT miner_address, last_seen, active_shares, active_uncles, shares_held,
		total_shares, blocks_found, payouts_sent,
		last_payout_pico, last_payout_time, total_payout_pico
	FROM p2pool_stats
	WHERE miner_address = ?
	`

	rows, err := s.db.Query(query, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanP2PoolRow(rows)
}

func scanP2PoolRow(rows *sql.Rows) (*P2PoolSnapshot, error) {
	snap := &P2PoolSnapshot{}
	var lastSeen string
	var lastPayoutPico sql.NullInt64
	var lastPayoutTime sql.NullString
	if err := rows.Scan(
		&snap.MinerAddress, &lastSeen, &snap.ActiveShares, &snap.ActiveUncles, &snap.SharesHeld,
		&snap.TotalShares, &snap.BlocksFound, &snap.PayoutsSent,
		&lastPayoutPico, &lastPayoutTime, &snap.TotalPayoutPico,
	); err != nil {
		return nil, err
	}

	snap.LastSeen = parseTimestamp(lastSeen)
	if lastPayoutPico.Valid {
		v := lastPayoutPico.Int64
		snap.LastPayoutPico = &v
	}
	if lastPayoutTime.Valid && lastPayoutTime.String != "" {
		t := parseTimestamp(lastPayoutTime.String)
		snap.LastPayoutTime = &t
	}
	return snap, nil
}

// GetP2PoolHistory retrieves history rows for a wallet since a given time,
// oldest first.
func (s *SQLiteStorage) GetP2PoolHistory(address string, since time.Time, limit int) ([]*P2PoolHistoryPoint, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := `
	SELECT id, miner_address, timestamp, active_shares, active_uncles, total_shares
	FROM p2pool_history
	WHERE miner_address = ? AND timestamp >= ?
	ORDER BY timestamp ASC
	LIMIT ?
	`

	rows, err := s.db.Query(query, address, since.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*P2PoolHistoryPoint
	for rows.Next() {
		p := &P2PoolHistoryPoint{}
		var timestamp string
		if err := rows.Scan(&p.ID, &p.MinerAddress, &timestamp, &p.ActiveShares, &p.ActiveUncles, &p.TotalShares); err != nil {
			return nil, err
		}
		p.Timestamp = parseTimestamp(timestamp)
		points = append(points, p)
	}

	return points, rows.Err()
}

// PurgeOldData removes history rows older than the retention period from
// both history tables. Current-state rows are never touched. Returns the
// number of rows deleted; running it twice in a row deletes nothing the
// second time.
func (s *SQLiteStorage) PurgeOldData(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format("2006-01-02 15:04:05")

	var deleted int64

	res, err := s.db.Exec("DELETE FROM miner_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, wrapWriteErr("purge miner history", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	res, err = s.db.Exec("DELETE FROM p2pool_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return deleted, wrapWriteErr("purge p2pool history", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	res, err = s.db.Exec("DELETE FROM alerts WHERE timestamp < ?", cutoff)
	if err != nil {
		return deleted, wrapWriteErr("purge alerts", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted += n
	}

	return deleted, nil
}

// RecordAlert appends a dispatched notification.
func (s *SQLiteStorage) RecordAlert(a *AlertRecord) error {
	ts := a.Timestamp.UTC().Format("2006-01-02 15:04:05")
	_, err := s.db.Exec(
		"INSERT INTO alerts (timestamp, subject, kind, message) VALUES (?, ?, ?, ?)",
		ts, a.Subject, a.Kind, a.Message,
	)
	return wrapWriteErr("record alert", err)
}

// LastAlertTime returns when a notification for this subject and kind was
// last sent, or the zero time when none was.
func (s *SQLiteStorage) LastAlertTime(subject, kind string) (time.Time, error) {
	var ts string
	err := s.db.QueryRow(
		"SELECT timestamp FROM alerts WHERE subject = ? AND kind = ? ORDER BY timestamp DESC LIMIT 1",
		subject, kind,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTimestamp(ts), nil
}

// GetAlerts retrieves dispatched notifications since a given time, newest
// first.
func (s *SQLiteStorage) GetAlerts(since time.Time, limit int) ([]*AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
	SELECT id, timestamp, subject, kind, message
	FROM alerts
	WHERE timestamp >= ?
	ORDER BY timestamp DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, since.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*AlertRecord
	for rows.Next() {
		a := &AlertRecord{}
		var timestamp string
		if err := rows.Scan(&a.ID, &timestamp, &a.Subject, &a.Kind, &a.Message); err != nil {
			return nil, err
		}
		a.Timestamp = parseTimestamp(timestamp)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// Vacuum compacts the database file to reclaim disk space after deletions
func (s *SQLiteStorage) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}

// DatabaseStats reports row counts for the stats command and the API.
func (s *SQLiteStorage) DatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM miners").Scan(&stats.TotalMiners); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM miners WHERE status = ?", StatusOnline).Scan(&stats.OnlineMiners); err != nil {
		return nil, err
	}
	query := `
	SELECT (SELECT COUNT(*) FROM miner_history) + (SELECT COUNT(*) FROM p2pool_history)
	`
	if err := s.db.QueryRow(query).Scan(&stats.HistoryRecords); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM p2pool_stats").Scan(&stats.P2PoolMiners); err != nil {
		return nil, err
	}

	return stats, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
