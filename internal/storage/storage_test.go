package storage

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/backtester/internal/metrics"
	"github.com/quantfold/backtester/internal/models"
)

func record(id string, finalEquity float64) RunRecord {
	return RunRecord{
		ID:             id,
		Strategy:       "structure-breakout",
		Symbols:        []string{"ES"},
		Start:          time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100_000,
		FinalEquity:    finalEquity,
		Trades: []models.ClosedTrade{
			{ID: id + "-t1", Symbol: "ES", NetPnL: finalEquity - 100_000, ExitReason: models.ExitTakeProfit},
		},
	}
}

func TestStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s, err := NewStorage(path)
	require.NoError(t, err)

	require.NoError(t, s.SaveRun(record("run-1", 112_000)))
	require.NoError(t, s.SaveRun(record("run-2", 95_000)))

	// Reopen from disk.
	s2, err := NewStorage(path)
	require.NoError(t, err)

	runs := s2.ListRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.InDelta(t, 112_000.0, runs[0].FinalEquity, 1e-9)
	require.Len(t, runs[1].Trades, 1)
	assert.Equal(t, models.ExitTakeProfit, runs[1].Trades[0].ExitReason)

	got, ok := s2.GetRun("run-2")
	require.True(t, ok)
	assert.InDelta(t, 95_000.0, got.FinalEquity, 1e-9)

	_, ok = s2.GetRun("run-3")
	assert.False(t, ok)
}

func TestStorageReplacesSameID(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, err)

	require.NoError(t, s.SaveRun(record("run-1", 100_500)))
	require.NoError(t, s.SaveRun(record("run-1", 101_000)))

	runs := s.ListRuns()
	require.Len(t, runs, 1)
	assert.InDelta(t, 101_000.0, runs[0].FinalEquity, 1e-9)
}

func TestStorageDeleteRun(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, err)

	require.NoError(t, s.SaveRun(record("run-1", 100_000)))
	require.NoError(t, s.DeleteRun("run-1"))
	assert.Empty(t, s.ListRuns())
	require.Error(t, s.DeleteRun("run-1"))
}

func TestStorageRejectsEmptyID(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, err)
	require.Error(t, s.SaveRun(RunRecord{}))
}

func TestStorageInfiniteProfitFactorSurvivesDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	s, err := NewStorage(path)
	require.NoError(t, err)

	rec := record("run-1", 120_000)
	rec.Report = metrics.Report{ProfitFactor: metrics.Ratio(math.Inf(1))}
	require.NoError(t, s.SaveRun(rec))

	s2, err := NewStorage(path)
	require.NoError(t, err)
	got, ok := s2.GetRun("run-1")
	require.True(t, ok)
	assert.True(t, math.IsInf(float64(got.Report.ProfitFactor), 1))
}
