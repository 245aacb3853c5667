package simulator

import (
	"github.com/atlas-desktop/strategy-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// CalculateMetrics aggregates a trade ledger and equity curve into
// summary metrics. Empty runs yield zero-valued metrics, never an error.
func CalculateMetrics(trades []types.Trade, equityCurve []types.EquityPoint, initialCapital decimal.Decimal) *types.SummaryMetrics {
	m := &types.SummaryMetrics{TradeCount: len(trades)}

	var totalWins, totalLosses decimal.Decimal
	for _, trade := range trades {
		switch {
		case trade.NetPnL.IsPositive():
			m.WinningCount++
			totalWins = totalWins.Add(trade.NetPnL)
			if trade.NetPnL.GreaterThan(m.LargestWin) {
				m.LargestWin = trade.NetPnL
			}
		case trade.NetPnL.IsNegative():
			m.LosingCount++
			loss := trade.NetPnL.Abs()
			totalLosses = totalLosses.Add(loss)
			if loss.GreaterThan(m.LargestLoss) {
				m.LargestLoss = loss
			}
		}
	}

	if m.TradeCount > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningCount)).Div(decimal.NewFromInt(int64(m.TradeCount)))
	}
	if m.WinningCount > 0 {
		m.AvgWin = totalWins.Div(decimal.NewFromInt(int64(m.WinningCount)))
	}
	if m.LosingCount > 0 {
		m.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(m.LosingCount)))
	}
	if !totalLosses.IsZero() {
		m.ProfitFactor = totalWins.Div(totalLosses)
	}

	// Expectancy: (Win% * AvgWin) - (Loss% * AvgLoss)
	if m.TradeCount > 0 {
		lossPct := one.Sub(m.WinRate)
		m.Expectancy = m.WinRate.Mul(m.AvgWin).Sub(lossPct.Mul(m.AvgLoss))
	}

	if len(equityCurve) > 0 && !initialCapital.IsZero() {
		final := equityCurve[len(equityCurve)-1].Equity
		m.TotalReturn = final.Sub(initialCapital).Div(initialCapital)
	}

	m.MaxDrawdown = maxDrawdown(equityCurve)
	return m
}

func maxDrawdown(equityCurve []types.EquityPoint) decimal.Decimal {
	var maxDD decimal.Decimal
	if len(equityCurve) == 0 {
		return maxDD
	}

	peak := equityCurve[0].Equity
	for _, point := range equityCurve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(point.Equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}
