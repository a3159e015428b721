// Package report turns finished runs into artifacts: CSV exports on disk
// and a read-only HTTP API over the run history.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/quantfold/backtester/internal/models"
)

// WriteTrades writes the trade ledger as CSV.
func WriteTrades(w io.Writer, trades []models.ClosedTrade) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "symbol", "side", "entry_time", "exit_time", "entry_price",
		"exit_price", "quantity", "exit_reason", "gross_pnl", "costs",
		"net_pnl", "return_pct",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			t.Symbol,
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			string(t.ExitReason),
			formatFloat(t.GrossPnL),
			formatFloat(t.Costs),
			formatFloat(t.NetPnL),
			formatFloat(t.ReturnPct),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCurve writes the per-bar equity marks as CSV.
func WriteEquityCurve(w io.Writer, curve []models.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity", "cash", "position_value", "open_positions"}); err != nil {
		return err
	}
	for _, pt := range curve {
		row := []string{
			pt.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(pt.Equity),
			formatFloat(pt.Cash),
			formatFloat(pt.PositionValue),
			strconv.Itoa(pt.OpenPositions),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRunArtifacts writes trades.csv and equity.csv for a run into dir,
// creating it if needed.
func WriteRunArtifacts(dir string, trades []models.ClosedTrade, curve []models.EquityPoint) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if err := writeFile(filepath.Join(dir, "trades.csv"), func(w io.Writer) error {
		return WriteTrades(w, trades)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, "equity.csv"), func(w io.Writer) error {
		return WriteEquityCurve(w, curve)
	})
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path) // #nosec G304 -- path is derived from the user's output dir
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
