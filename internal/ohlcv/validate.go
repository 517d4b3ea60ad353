package ohlcv

import (
	"math"
	"sort"
	"time"

	"github.com/ktrdr/ktrdr/internal/kerrors"
	"github.com/ktrdr/ktrdr/pkg/types"
	"github.com/shopspring/decimal"
)

// Validate enforces the OHLCV invariants at ingestion time: low <= min(open,
// close) <= max(open, close) <= high, volume >= 0, and strictly increasing
// timestamps. Any violation is fatal and reports the offending bar index,
// unlike the teacher's quality validator, which only ever lowered a score.
func Validate(bars []types.OHLCV, symbol string) error {
	for i, bar := range bars {
		if bar.Volume.LessThan(decimal.Zero) {
			return &kerrors.DataError{Symbol: symbol, BarIndex: i, Message: "negative volume"}
		}
		lo := decimal.Min(bar.Open, bar.Close)
		hi := decimal.Max(bar.Open, bar.Close)
		if bar.Low.GreaterThan(lo) {
			return &kerrors.DataError{Symbol: symbol, BarIndex: i, Message: "low exceeds min(open, close)"}
		}
		if bar.High.LessThan(hi) {
			return &kerrors.DataError{Symbol: symbol, BarIndex: i, Message: "high below max(open, close)"}
		}
		if bar.Low.GreaterThan(bar.High) {
			return &kerrors.DataError{Symbol: symbol, BarIndex: i, Message: "low exceeds high"}
		}
		if i > 0 && !bar.Timestamp.After(bars[i-1].Timestamp) {
			return &kerrors.DataError{Symbol: symbol, BarIndex: i, Message: "timestamp not strictly increasing"}
		}
	}
	return nil
}

// Issue is a non-fatal data-quality observation: an anomaly that passes the
// hard invariants in Validate but looks suspicious — a volume spike, an
// unusually large gap between bars. Kept from the teacher's scored report as
// a diagnostic a caller can log or surface, separate from the fatal path.
type Issue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	BarIndex  int       `json:"barIndex"`
	Message   string    `json:"message"`
}

// Report summarizes non-fatal anomalies found in an already-Validate'd
// series.
type Report struct {
	Symbol string  `json:"symbol"`
	Issues []Issue `json:"issues"`
	Score  int     `json:"score"` // 0-100, informational only
}

// Inspect runs the non-fatal anomaly checks (gaps, volume spikes, extreme
// moves) over a series already known to satisfy Validate. It never returns
// an error; callers that want a hard failure should call Validate.
func Inspect(bars []types.OHLCV, symbol string) Report {
	var issues []Issue
	issues = append(issues, checkGaps(bars)...)
	issues = append(issues, checkVolumeSpikes(bars)...)
	issues = append(issues, checkExtremeMoves(bars)...)

	penalty := 0.0
	for _, iss := range issues {
		switch iss.Severity {
		case "high":
			penalty += 5
		case "medium":
			penalty += 2
		default:
			penalty += 0.5
		}
	}
	normalized := penalty / math.Max(1, float64(len(bars))/100) * 10
	score := int(math.Max(0, math.Min(100, 100-normalized)))

	return Report{Symbol: symbol, Issues: issues, Score: score}
}

func checkGaps(bars []types.OHLCV) []Issue {
	if len(bars) < 2 {
		return nil
	}
	limit := len(bars)
	if limit > 10 {
		limit = 10
	}
	intervals := make([]time.Duration, 0, limit-1)
	for i := 1; i < limit; i++ {
		intervals = append(intervals, bars[i].Timestamp.Sub(bars[i-1].Timestamp))
	}
	sort.Slice(intervals, func(i, j int) bool { return intervals[i] < intervals[j] })
	var expected time.Duration
	if len(intervals) > 0 {
		expected = intervals[len(intervals)/2]
	}

	var issues []Issue
	for i := 1; i < len(bars); i++ {
		actual := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		max := expected + expected/2
		if expected > 0 && actual > max*3 {
			severity := "medium"
			if actual > max*10 {
				severity = "high"
			}
			issues = append(issues, Issue{
				Type: "gap", Severity: severity, Timestamp: bars[i-1].Timestamp,
				BarIndex: i - 1, Message: "gap of " + actual.String() + " (expected ~" + expected.String() + ")",
			})
		}
	}
	return issues
}

func checkVolumeSpikes(bars []types.OHLCV) []Issue {
	var total decimal.Decimal
	nonZero := 0
	for _, bar := range bars {
		if bar.Volume.GreaterThan(decimal.Zero) {
			total = total.Add(bar.Volume)
			nonZero++
		}
	}
	if nonZero == 0 {
		return nil
	}
	avg, _ := total.Div(decimal.NewFromInt(int64(nonZero))).Float64()

	var issues []Issue
	for i, bar := range bars {
		vol, _ := bar.Volume.Float64()
		if avg > 0 && vol > avg*20 {
			issues = append(issues, Issue{
				Type: "volume_spike", Severity: "low", Timestamp: bar.Timestamp,
				BarIndex: i, Message: "volume spike: above 20x average",
			})
		}
	}
	return issues
}

func checkExtremeMoves(bars []types.OHLCV) []Issue {
	var issues []Issue
	for i, bar := range bars {
		if bar.Low.IsZero() {
			continue
		}
		move, _ := bar.High.Sub(bar.Low).Div(bar.Low).Float64()
		if move > 0.30 {
			issues = append(issues, Issue{
				Type: "extreme_move", Severity: "high", Timestamp: bar.Timestamp,
				BarIndex: i, Message: "intraday move above 30%",
			})
		}
	}
	return issues
}
