package domain

import (
	"errors"
	"time"
)

// ErrNoData is returned by analyzers and price providers when no usable data
// exists for an asset on a date. The engine treats it as a per-asset skip,
// never as a fatal error.
var ErrNoData = errors.New("no data available")

// RegimeProvider supplies the market regime and trending candidates for a
// rebalance date. Implementations are queried read-only by the engine.
type RegimeProvider interface {
	// Regime returns the regime classification for the given date.
	Regime(date time.Time) (Regime, error)

	// Trending returns candidate assets whose trend confidence meets
	// minConfidence on the given date.
	Trending(date time.Time, minConfidence float64) ([]string, error)
}

// BucketCatalog maps assets to named buckets and back. Bucket membership is
// total: unclassified assets resolve to UnknownBucket.
type BucketCatalog interface {
	// Assets returns the members of a bucket.
	Assets(bucket string) []string

	// Bucket returns the bucket an asset belongs to, or UnknownBucket.
	Bucket(asset string) string

	// Buckets returns all known bucket names.
	Buckets() []string
}

// TechnicalAnalyzer produces a technical sub-score in [0,1] for an asset.
// A nil analyzer disables the channel; an ErrNoData result disables it for
// that asset only.
type TechnicalAnalyzer interface {
	Score(asset string, date time.Time) (float64, error)
}

// FundamentalAnalyzer produces a fundamental sub-score in [0,1] for an asset,
// optionally tilted by the prevailing regime.
type FundamentalAnalyzer interface {
	Score(asset string, date time.Time, regime Regime) (float64, error)
}

// PriceProvider supplies realized returns, used by the core-asset
// underperformance check.
type PriceProvider interface {
	// Return reports the fractional return of the asset between from and to.
	Return(asset string, from, to time.Time) (float64, error)
}
