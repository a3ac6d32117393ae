package analytics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rkhandelwal/futures-exec-engine/internal/storage"
)

func makeClosedPosition(strategyID, symbol string, entryPrice, exitPrice float64, qty int, holdHours int) storage.Position {
	opened := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Duration(holdHours) * time.Hour)
	pnl := float64(qty) * (exitPrice - entryPrice)
	return storage.Position{
		ID:            symbol,
		StrategyID:    strategyID,
		Symbol:        symbol,
		Direction:     storage.PositionLong,
		NetQty:        qty,
		AvgEntryPrice: entryPrice,
		RealizedPnL:   pnl,
		Status:        storage.PositionStatusClosed,
		CloseReason:   storage.CloseReasonTakeProfit,
		OpenedAt:      opened,
		ClosedAt:      &closed,
	}
}

func TestAnalyze_EmptyPositions(t *testing.T) {
	report := Analyze(nil, 500000)
	if report == nil {
		t.Fatal("expected non-nil report")
	}
	if report.TotalTrades != 0 {
		t.Errorf("expected 0 trades, got %d", report.TotalTrades)
	}
	if report.WinRate != 0 {
		t.Errorf("expected 0 win rate, got %.2f", report.WinRate)
	}
}

func TestAnalyze_AllWins(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("trend_follow_v1", "ES", 100, 110, 10, 5),
		makeClosedPosition("trend_follow_v1", "NQ", 200, 220, 5, 3),
		makeClosedPosition("trend_follow_v1", "CL", 150, 160, 8, 7),
	}

	report := Analyze(positions, 500000)

	if report.TotalTrades != 3 {
		t.Errorf("expected 3 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 3 {
		t.Errorf("expected 3 winning trades, got %d", report.WinningTrades)
	}
	if report.LosingTrades != 0 {
		t.Errorf("expected 0 losing trades, got %d", report.LosingTrades)
	}
	if report.WinRate != 100 {
		t.Errorf("expected 100%% win rate, got %.2f%%", report.WinRate)
	}
	// 10*(110-100) + 5*(220-200) + 8*(160-150) = 100 + 100 + 80 = 280
	if report.TotalPnL != 280 {
		t.Errorf("expected TotalPnL=280, got %.2f", report.TotalPnL)
	}
	if report.MaxDrawdown != 0 {
		t.Errorf("expected 0 drawdown for all wins, got %.2f", report.MaxDrawdown)
	}
}

func TestAnalyze_AllLosses(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("trend_follow_v1", "ES", 100, 90, 10, 5),
		makeClosedPosition("trend_follow_v1", "NQ", 200, 180, 5, 3),
	}

	report := Analyze(positions, 500000)

	if report.WinRate != 0 {
		t.Errorf("expected 0%% win rate, got %.2f%%", report.WinRate)
	}
	// 10*(90-100) + 5*(180-200) = -100 + -100 = -200
	if report.TotalPnL != -200 {
		t.Errorf("expected TotalPnL=-200, got %.2f", report.TotalPnL)
	}
	if report.MaxDrawdown != 200 {
		t.Errorf("expected MaxDrawdown=200, got %.2f", report.MaxDrawdown)
	}
	if report.ProfitFactor != 0 {
		t.Errorf("expected ProfitFactor=0 (no profits), got %.2f", report.ProfitFactor)
	}
}

func TestAnalyze_MixedPositions(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("trend_follow_v1", "WIN1", 100, 120, 10, 5),  // +200
		makeClosedPosition("trend_follow_v1", "LOSS1", 100, 90, 10, 3),  // -100
		makeClosedPosition("trend_follow_v1", "WIN2", 100, 115, 10, 7),  // +150
		makeClosedPosition("trend_follow_v1", "LOSS2", 100, 85, 10, 2),  // -150
	}

	report := Analyze(positions, 500000)

	if report.TotalTrades != 4 {
		t.Errorf("expected 4 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 2 {
		t.Errorf("expected 2 wins, got %d", report.WinningTrades)
	}
	if report.WinRate != 50 {
		t.Errorf("expected 50%% win rate, got %.2f%%", report.WinRate)
	}
	// Total PnL = 200 - 100 + 150 - 150 = 100
	if report.TotalPnL != 100 {
		t.Errorf("expected TotalPnL=100, got %.2f", report.TotalPnL)
	}
	if report.GrossProfit != 350 {
		t.Errorf("expected GrossProfit=350, got %.2f", report.GrossProfit)
	}
	if report.GrossLoss != 250 {
		t.Errorf("expected GrossLoss=250, got %.2f", report.GrossLoss)
	}
	if math.Abs(report.ProfitFactor-1.4) > 0.01 {
		t.Errorf("expected ProfitFactor=1.4, got %.2f", report.ProfitFactor)
	}
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	// Sequence: +100, -200, -100, +500
	// Equity: 500000 → 500100 → 499900 → 499800 → 500300
	// Peak = 500100, lowest after = 499800, drawdown = 300
	positions := []storage.Position{
		makeClosedPosition("s1", "A", 100, 110, 10, 1), // +100
		makeClosedPosition("s1", "B", 100, 80, 10, 2),  // -200
		makeClosedPosition("s1", "C", 100, 90, 10, 3),  // -100
		makeClosedPosition("s1", "D", 100, 150, 10, 4), // +500
	}

	report := Analyze(positions, 500000)

	if report.MaxDrawdown != 300 {
		t.Errorf("expected MaxDrawdown=300, got %.2f", report.MaxDrawdown)
	}
}

func TestAnalyze_SharpeRatio_ZeroStdDev(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("s1", "A", 100, 110, 10, 1),
		makeClosedPosition("s1", "B", 100, 110, 10, 2),
		makeClosedPosition("s1", "C", 100, 110, 10, 3),
	}

	report := Analyze(positions, 500000)

	if report.SharpeRatio != 0 {
		t.Errorf("expected Sharpe=0 for zero stddev, got %.2f", report.SharpeRatio)
	}
}

func TestAnalyze_SharpeRatio_Varied(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("s1", "A", 100, 120, 10, 1), // +200
		makeClosedPosition("s1", "B", 100, 90, 10, 2),  // -100
		makeClosedPosition("s1", "C", 100, 130, 10, 3), // +300
		makeClosedPosition("s1", "D", 100, 95, 10, 4),  // -50
	}

	report := Analyze(positions, 500000)

	if report.SharpeRatio <= 0 {
		t.Errorf("expected positive Sharpe for net positive returns, got %.2f", report.SharpeRatio)
	}
}

func TestAnalyze_StrategyBreakdown(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("trend_follow_v1", "A", 100, 110, 10, 5),
		makeClosedPosition("trend_follow_v1", "B", 100, 120, 10, 3),
		makeClosedPosition("mean_reversion_v1", "C", 100, 105, 10, 7),
		makeClosedPosition("mean_reversion_v1", "D", 100, 90, 10, 4),
	}

	report := Analyze(positions, 500000)

	if len(report.StrategyReports) != 2 {
		t.Errorf("expected 2 strategy reports, got %d", len(report.StrategyReports))
	}

	tf := report.StrategyReports["trend_follow_v1"]
	if tf == nil {
		t.Fatal("missing trend_follow_v1 report")
	}
	if tf.TotalTrades != 2 {
		t.Errorf("expected 2 trend follow trades, got %d", tf.TotalTrades)
	}
	if tf.WinRate != 100 {
		t.Errorf("expected 100%% win rate for trend follow, got %.2f%%", tf.WinRate)
	}

	mr := report.StrategyReports["mean_reversion_v1"]
	if mr == nil {
		t.Fatal("missing mean_reversion_v1 report")
	}
	if mr.TotalTrades != 2 {
		t.Errorf("expected 2 mean reversion trades, got %d", mr.TotalTrades)
	}
	if mr.WinRate != 50 {
		t.Errorf("expected 50%% win rate for mean reversion, got %.2f%%", mr.WinRate)
	}
}

func TestAnalyze_AverageHoldTime(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("s1", "A", 100, 110, 10, 4),
		makeClosedPosition("s1", "B", 100, 120, 10, 6),
		makeClosedPosition("s1", "C", 100, 105, 10, 8),
	}

	report := Analyze(positions, 500000)

	if math.Abs(report.AverageHoldHours-6.0) > 0.1 {
		t.Errorf("expected AverageHoldHours=6.0, got %.1f", report.AverageHoldHours)
	}
	if report.MinHoldHours != 4 {
		t.Errorf("expected MinHoldHours=4, got %.1f", report.MinHoldHours)
	}
	if report.MaxHoldHours != 8 {
		t.Errorf("expected MaxHoldHours=8, got %.1f", report.MaxHoldHours)
	}
}

func TestEquityCurve(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("s1", "A", 100, 110, 10, 1), // +100
		makeClosedPosition("s1", "B", 100, 90, 10, 2),  // -100
		makeClosedPosition("s1", "C", 100, 120, 10, 3), // +200
	}

	curve := EquityCurve(positions, 500000)
	if len(curve) == 0 {
		t.Fatal("expected non-empty equity curve")
	}

	if curve[0].Equity != 500000 {
		t.Errorf("expected first point equity=500000, got %.2f", curve[0].Equity)
	}

	// Last point equity = 500000 + 100 - 100 + 200 = 500200
	last := curve[len(curve)-1]
	if last.Equity != 500200 {
		t.Errorf("expected last equity=500200, got %.2f", last.Equity)
	}
}

func TestFormatReport_EmptyPositions(t *testing.T) {
	report := Analyze(nil, 500000)
	formatted := FormatReport(report)
	if !strings.Contains(formatted, "No closed positions") {
		t.Errorf("expected 'No closed positions' message, got: %s", formatted)
	}
}

func TestFormatReport_WithPositions(t *testing.T) {
	positions := []storage.Position{
		makeClosedPosition("trend_follow_v1", "A", 100, 110, 10, 5),
		makeClosedPosition("mean_reversion_v1", "B", 100, 90, 10, 3),
	}

	report := Analyze(positions, 500000)
	formatted := FormatReport(report)

	if !strings.Contains(formatted, "PERFORMANCE REPORT") {
		t.Error("expected report header")
	}
	if !strings.Contains(formatted, "Total trades") {
		t.Error("expected total trades in report")
	}
	if !strings.Contains(formatted, "STRATEGY BREAKDOWN") {
		t.Error("expected strategy breakdown for multi-strategy report")
	}
}
