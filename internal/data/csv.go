package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/backtester/internal/models"
)

// Accepted timestamp layouts, tried in order.
var csvTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// CSVSource reads bars from a file with the header
// timestamp,symbol,open,high,low,close,volume.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source for the given file path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Name implements Source.
func (s *CSVSource) Name() string { return "csv" }

// Load reads and validates the full series. Rows must already be in feed
// order; the loader never reorders data.
func (s *CSVSource) Load(ctx context.Context) ([]models.Bar, error) {
	f, err := os.Open(s.path) // #nosec G304 -- path comes from the user's config
	if err != nil {
		return nil, fmt.Errorf("opening bar file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var bars []models.Bar
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	if err := models.ValidateSeries(bars); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return bars, nil
}

type columns struct {
	ts, symbol, open, high, low, close, volume int
}

func columnIndex(header []string) (columns, error) {
	col := columns{ts: -1, symbol: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "date", "datetime":
			col.ts = i
		case "symbol":
			col.symbol = i
		case "open":
			col.open = i
		case "high":
			col.high = i
		case "low":
			col.low = i
		case "close":
			col.close = i
		case "volume":
			col.volume = i
		}
	}
	if col.ts < 0 || col.symbol < 0 || col.open < 0 || col.high < 0 || col.low < 0 || col.close < 0 {
		return col, fmt.Errorf("header must contain timestamp,symbol,open,high,low,close")
	}
	return col, nil
}

func parseRow(rec []string, col columns) (models.Bar, error) {
	ts, err := parseTime(rec[col.ts])
	if err != nil {
		return models.Bar{}, err
	}
	bar := models.Bar{Symbol: strings.TrimSpace(rec[col.symbol]), Timestamp: ts}

	fields := []struct {
		idx int
		dst *float64
	}{
		{col.open, &bar.Open},
		{col.high, &bar.High},
		{col.low, &bar.Low},
		{col.close, &bar.Close},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[f.idx]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("bad price %q", rec[f.idx])
		}
		*f.dst = v
	}
	if col.volume >= 0 && col.volume < len(rec) && strings.TrimSpace(rec[col.volume]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[col.volume]), 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("bad volume %q", rec[col.volume])
		}
		bar.Volume = v
	}
	return bar, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
}
