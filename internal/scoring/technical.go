package scoring

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	talib "github.com/markcheno/go-talib"
)

// PriceSeries is a daily close history for one asset, ordered by date.
type PriceSeries struct {
	Dates  []time.Time
	Closes []float64
}

// minBars is the history needed for the slowest indicator (SMA 20 plus
// RSI warmup).
const minBars = 35

// TalibAnalyzer is a reference TechnicalAnalyzer built on go-talib: a blend
// of RSI(14), 10-day rate of change, and price-vs-SMA(20) trend, each mapped
// into [0,1].
type TalibAnalyzer struct {
	mu     sync.RWMutex
	series map[string]PriceSeries
}

// NewTalibAnalyzer creates an analyzer over the given price histories.
func NewTalibAnalyzer(series map[string]PriceSeries) *TalibAnalyzer {
	if series == nil {
		series = make(map[string]PriceSeries)
	}
	return &TalibAnalyzer{series: series}
}

// SetSeries installs or replaces the history for one asset.
func (a *TalibAnalyzer) SetSeries(asset string, s PriceSeries) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.series[asset] = s
}

// Score implements domain.TechnicalAnalyzer.
func (a *TalibAnalyzer) Score(asset string, date time.Time) (float64, error) {
	a.mu.RLock()
	s, ok := a.series[asset]
	a.mu.RUnlock()
	if !ok {
		return 0, domain.ErrNoData
	}

	// Use only bars at or before the rebalance date
	end := sort.Search(len(s.Dates), func(i int) bool { return s.Dates[i].After(date) })
	if end < minBars {
		return 0, domain.ErrNoData
	}
	closes := s.Closes[:end]

	rsi := talib.Rsi(closes, 14)
	roc := talib.Roc(closes, 10)
	sma := talib.Sma(closes, 20)

	last := len(closes) - 1

	// RSI in [0,100]: 0.5 is neutral, momentum extremes saturate
	rsiScore := rsi[last] / 100.0

	// ROC as percent: map [-10%, +10%] onto [0,1]
	rocScore := clamp01(0.5 + roc[last]/20.0)

	// Trend: price above SMA20 scores high, below scores low
	trendScore := 0.5
	if sma[last] > 0 {
		trendScore = clamp01(0.5 + (closes[last]-sma[last])/sma[last]*5.0)
	}

	return clamp01(0.4*rsiScore + 0.3*rocScore + 0.3*trendScore), nil
}

// StaticFundamentals is a reference FundamentalAnalyzer over fixed quality
// scores, tilted by the regime's confidence. Used by the CLI and tests;
// production deployments inject a real analyzer.
type StaticFundamentals struct {
	Scores map[string]float64
}

// Score implements domain.FundamentalAnalyzer.
func (f *StaticFundamentals) Score(asset string, _ time.Time, regime domain.Regime) (float64, error) {
	score, ok := f.Scores[asset]
	if !ok {
		return 0, domain.ErrNoData
	}
	// Low-confidence regimes pull fundamentals toward neutral
	return clamp01(0.5 + (score-0.5)*regime.Confidence), nil
}
