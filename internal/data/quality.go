package data

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/strategy-engine/pkg/types"
)

// Issue flags one data quality problem in a stored series
type Issue struct {
	Kind     string    `json:"kind"`
	Critical bool      `json:"critical"`
	BarIndex int       `json:"barIndex"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
}

// QualityReport summarizes the checks over one series. Critical issues
// (ordering, duplicates, non-positive prices, OHLC violations) make the
// series unusable for simulation; gaps only warn.
type QualityReport struct {
	Symbol    string  `json:"symbol"`
	TotalBars int     `json:"totalBars"`
	Issues    []Issue `json:"issues"`
	GapCount  int     `json:"gapCount"`
	Usable    bool    `json:"usable"`
}

// CheckQuality validates a bar series before it is stored or simulated
func CheckQuality(symbol string, bars []types.Bar) *QualityReport {
	report := &QualityReport{Symbol: symbol, TotalBars: len(bars), Usable: true}
	if len(bars) == 0 {
		report.add(Issue{Kind: "empty", Critical: true, Message: "series has no bars"})
		return report
	}

	interval := medianInterval(bars)
	for i, bar := range bars {
		if i > 0 {
			prev := bars[i-1]
			switch {
			case !bar.Timestamp.After(prev.Timestamp):
				kind := "out_of_order"
				if bar.Timestamp.Equal(prev.Timestamp) {
					kind = "duplicate_timestamp"
				}
				report.add(Issue{
					Kind: kind, Critical: true, BarIndex: i, At: bar.Timestamp,
					Message: fmt.Sprintf("bar %d at %s does not advance past %s", i, bar.Timestamp, prev.Timestamp),
				})
			case interval > 0 && bar.Timestamp.Sub(prev.Timestamp) > interval+interval/2:
				report.GapCount++
				report.add(Issue{
					Kind: "gap", BarIndex: i, At: bar.Timestamp,
					Message: fmt.Sprintf("gap of %s before bar %d", bar.Timestamp.Sub(prev.Timestamp), i),
				})
			}
		}

		if !bar.Open.IsPositive() || !bar.High.IsPositive() || !bar.Low.IsPositive() || !bar.Close.IsPositive() {
			report.add(Issue{
				Kind: "non_positive_price", Critical: true, BarIndex: i, At: bar.Timestamp,
				Message: fmt.Sprintf("bar %d has a non-positive price", i),
			})
			continue
		}
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) ||
			bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) ||
			bar.High.LessThan(bar.Low) {
			report.add(Issue{
				Kind: "ohlc_inconsistent", Critical: true, BarIndex: i, At: bar.Timestamp,
				Message: fmt.Sprintf("bar %d violates high >= open,close >= low", i),
			})
		}
		if bar.Volume.IsNegative() {
			report.add(Issue{
				Kind: "negative_volume", Critical: true, BarIndex: i, At: bar.Timestamp,
				Message: fmt.Sprintf("bar %d has negative volume", i),
			})
		}
	}
	return report
}

func (r *QualityReport) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	if issue.Critical {
		r.Usable = false
	}
}

// medianInterval estimates the bar interval from the first intervals so
// gap detection tolerates a ragged start
func medianInterval(bars []types.Bar) time.Duration {
	n := len(bars) - 1
	if n > 10 {
		n = 10
	}
	if n < 1 {
		return 0
	}
	intervals := make([]time.Duration, 0, n)
	for i := 1; i <= n; i++ {
		intervals = append(intervals, bars[i].Timestamp.Sub(bars[i-1].Timestamp))
	}
	for i := 1; i < len(intervals); i++ {
		for j := i; j > 0 && intervals[j] < intervals[j-1]; j-- {
			intervals[j], intervals[j-1] = intervals[j-1], intervals[j]
		}
	}
	return intervals[len(intervals)/2]
}
