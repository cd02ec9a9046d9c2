package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// SeriesPrices is a PriceProvider backed by the same daily close histories
// the technical analyzer consumes.
type SeriesPrices struct {
	series map[string]PriceSeries
}

// NewSeriesPrices creates a price provider over the given histories.
func NewSeriesPrices(series map[string]PriceSeries) *SeriesPrices {
	if series == nil {
		series = make(map[string]PriceSeries)
	}
	return &SeriesPrices{series: series}
}

// Return implements domain.PriceProvider: the fractional return between the
// last closes at or before each boundary date.
func (p *SeriesPrices) Return(asset string, from, to time.Time) (float64, error) {
	s, ok := p.series[asset]
	if !ok {
		return 0, domain.ErrNoData
	}

	start, ok := closeAtOrBefore(s, from)
	if !ok {
		return 0, domain.ErrNoData
	}
	end, ok := closeAtOrBefore(s, to)
	if !ok {
		return 0, domain.ErrNoData
	}
	if start == 0 {
		return 0, fmt.Errorf("zero price for %s at %s", asset, from.Format("2006-01-02"))
	}
	return end/start - 1, nil
}

func closeAtOrBefore(s PriceSeries, date time.Time) (float64, bool) {
	idx := sort.Search(len(s.Dates), func(i int) bool { return s.Dates[i].After(date) })
	if idx == 0 {
		return 0, false
	}
	return s.Closes[idx-1], true
}
