// Package export renders stored history as CSV files and PNG charts.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/camarigor/sentinel/internal/miner"
	"github.com/camarigor/sentinel/internal/storage"
)

const defaultMaxPoints = 1000

// Options selects what to export and where. Exactly one of Host and Address
// must be set.
type Options struct {
	Host      string
	Address   string
	Since     time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// Exporter reads history from the store and writes export files.
type Exporter struct {
	store  *storage.SQLiteStorage
	logger zerolog.Logger
}

// NewExporter creates an exporter.
func NewExporter(store *storage.SQLiteStorage, logger zerolog.Logger) *Exporter {
	return &Exporter{store: store, logger: logger.With().Str("component", "export").Logger()}
}

// Export renders the selected history.
func (e *Exporter) Export(opts Options) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("no output path set")
	}
	if (opts.Host == "") == (opts.Address == "") {
		return errors.New("exactly one of --host or --address must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultMaxPoints
	}
	if opts.Since.IsZero() {
		opts.Since = time.Now().AddDate(0, 0, -7)
	}

	if opts.Host != "" {
		return e.exportMiner(opts)
	}
	return e.exportPool(opts)
}

func (e *Exporter) exportMiner(opts Options) error {
	points, err := e.store.GetMinerHistory(opts.Host, opts.Since, 0)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		e.logger.Info().Str("host", opts.Host).Msg("no history in export window")
		return nil
	}

	points = downsample(points, opts.MaxPoints)
	e.logger.Info().Int("points", len(points)).Str("host", opts.Host).Msg("exporting miner history")

	if opts.CSVPath != "" {
		if err := writeMinerCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeMinerPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) exportPool(opts Options) error {
	points, err := e.store.GetP2PoolHistory(opts.Address, opts.Since, 0)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		e.logger.Info().Str("wallet", opts.Address).Msg("no history in export window")
		return nil
	}

	points = downsample(points, opts.MaxPoints)
	e.logger.Info().Int("points", len(points)).Msg("exporting pool history")

	if opts.CSVPath != "" {
		if err := writePoolCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePoolPNG(opts.PNGPath, points); err != nil {
			return err
		}
	}
	return nil
}

// downsample picks evenly spaced points, always keeping the first and last.
func downsample[T any](points []T, max int) []T {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]T, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeMinerCSV(path string, points []*storage.MinerHistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "hashrate", "cpu_usage", "ram_usage", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			floatField(p.Hashrate),
			floatField(p.CPUUsage),
			floatField(p.RAMUsage),
			p.Status,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePoolCSV(path string, points []*storage.P2PoolHistoryPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "active_shares", "active_uncles", "total_shares"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(p.ActiveShares, 10),
			strconv.FormatInt(p.ActiveUncles, 10),
			strconv.FormatInt(p.TotalShares, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeMinerPNG(path string, points []*storage.MinerHistoryPoint) error {
	if len(points) < 2 {
		return fmt.Errorf("need at least two points to render a chart, have %d", len(points))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	hashrate := make([]float64, len(points))
	cpu := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Timestamp
		if p.Hashrate != nil {
			hashrate[i] = *p.Hashrate
		}
		if p.CPUUsage != nil {
			cpu[i] = *p.CPUUsage
		}
	}

	hashFormatter := func(v interface{}) string {
		if f, ok := v.(float64); ok {
			return miner.FormatHashrate(f)
		}
		return ""
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Hashrate",
			ValueFormatter: hashFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "CPU",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Hashrate",
				XValues: x,
				YValues: hashrate,
			},
			chart.TimeSeries{
				Name:    "CPU %",
				XValues: x,
				YValues: cpu,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writePoolPNG(path string, points []*storage.P2PoolHistoryPoint) error {
	if len(points) < 2 {
		return fmt.Errorf("need at least two points to render a chart, have %d", len(points))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	active := make([]float64, len(points))
	uncles := make([]float64, len(points))
	total := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Timestamp
		active[i] = float64(p.ActiveShares)
		uncles[i] = float64(p.ActiveUncles)
		total[i] = float64(p.TotalShares)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Shares in window",
			ValueFormatter: countFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Lifetime total",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Active shares",
				XValues: x,
				YValues: active,
			},
			chart.TimeSeries{
				Name:    "Active uncles",
				XValues: x,
				YValues: uncles,
			},
			chart.TimeSeries{
				Name:    "Total shares",
				XValues: x,
				YValues: total,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func floatField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
