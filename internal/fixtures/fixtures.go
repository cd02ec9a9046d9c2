// Package fixtures loads market data files: holdings, bucket membership,
// the active regime, trending candidates, price histories, and fundamental
// scores. The daemon and the one-shot CLI both feed the engine from these.
package fixtures

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/scoring"
	"github.com/aristath/helmsman/internal/universe"
	"gopkg.in/yaml.v3"
)

// Bar is one daily close.
type Bar struct {
	Date  string  `yaml:"date"`
	Close float64 `yaml:"close"`
}

// Trending is one scanner candidate.
type Trending struct {
	Asset      string  `yaml:"asset"`
	Confidence float64 `yaml:"confidence"`
}

// Regime describes the market regime in the data file.
type Regime struct {
	Name             string   `yaml:"name"`
	Confidence       float64  `yaml:"confidence"`
	Severity         string   `yaml:"severity"`
	PreferredBuckets []string `yaml:"preferred_buckets"`
}

// File is the on-disk market data format.
type File struct {
	Holdings     map[string]float64  `yaml:"holdings"`
	Buckets      map[string][]string `yaml:"buckets"`
	Regime       Regime              `yaml:"regime"`
	Trending     []Trending          `yaml:"trending"`
	Prices       map[string][]Bar    `yaml:"prices"`
	Fundamentals map[string]float64  `yaml:"fundamentals"`
}

// Load reads and parses a market data file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read market data file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse market data file %s: %w", path, err)
	}
	return &f, nil
}

// Catalog builds the bucket catalog.
func (f *File) Catalog() *universe.StaticCatalog {
	return universe.NewStaticCatalog(f.Buckets)
}

// Regimes builds the regime provider.
func (f *File) Regimes() *universe.StaticRegimes {
	trend := make([]universe.TrendingEntry, 0, len(f.Trending))
	for _, t := range f.Trending {
		trend = append(trend, universe.TrendingEntry{Asset: t.Asset, Confidence: t.Confidence})
	}
	severity := domain.RegimeSeverity(f.Regime.Severity)
	if severity == "" {
		severity = domain.SeverityNormal
	}
	return &universe.StaticRegimes{
		Current: domain.Regime{
			Name:             f.Regime.Name,
			Confidence:       f.Regime.Confidence,
			Severity:         severity,
			PreferredBuckets: f.Regime.PreferredBuckets,
		},
		Trend: trend,
	}
}

// PriceSeries converts the price tables to the analyzer's series form.
func (f *File) PriceSeries() (map[string]scoring.PriceSeries, error) {
	out := make(map[string]scoring.PriceSeries, len(f.Prices))
	for asset, bars := range f.Prices {
		sorted := append([]Bar(nil), bars...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

		series := scoring.PriceSeries{
			Dates:  make([]time.Time, 0, len(sorted)),
			Closes: make([]float64, 0, len(sorted)),
		}
		for _, bar := range sorted {
			date, err := time.Parse("2006-01-02", bar.Date)
			if err != nil {
				return nil, fmt.Errorf("bad date %q for %s: %w", bar.Date, asset, err)
			}
			series.Dates = append(series.Dates, date)
			series.Closes = append(series.Closes, bar.Close)
		}
		out[asset] = series
	}
	return out, nil
}
