package universe

import (
	"sort"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// StaticCatalog is a fixed asset-to-bucket classification. Assets not listed
// fall into the reserved Unknown bucket.
type StaticCatalog struct {
	byBucket map[string][]string
	byAsset  map[string]string
}

// NewStaticCatalog builds a catalog from bucket membership lists.
func NewStaticCatalog(buckets map[string][]string) *StaticCatalog {
	c := &StaticCatalog{
		byBucket: make(map[string][]string, len(buckets)),
		byAsset:  make(map[string]string),
	}
	for bucket, assets := range buckets {
		members := append([]string(nil), assets...)
		sort.Strings(members)
		c.byBucket[bucket] = members
		for _, asset := range members {
			c.byAsset[asset] = bucket
		}
	}
	return c
}

// Assets implements domain.BucketCatalog.
func (c *StaticCatalog) Assets(bucket string) []string {
	return append([]string(nil), c.byBucket[bucket]...)
}

// Bucket implements domain.BucketCatalog.
func (c *StaticCatalog) Bucket(asset string) string {
	if bucket, ok := c.byAsset[asset]; ok {
		return bucket
	}
	return domain.UnknownBucket
}

// Buckets implements domain.BucketCatalog.
func (c *StaticCatalog) Buckets() []string {
	out := make([]string, 0, len(c.byBucket))
	for bucket := range c.byBucket {
		out = append(out, bucket)
	}
	sort.Strings(out)
	return out
}

// TrendingEntry is one trending candidate with its scanner confidence.
type TrendingEntry struct {
	Asset      string
	Confidence float64
}

// StaticRegimes is a fixed regime provider: one regime and one trending list
// for all dates. Used by the CLI and tests; live deployments inject a real
// provider.
type StaticRegimes struct {
	Current domain.Regime
	Trend   []TrendingEntry
}

// Regime implements domain.RegimeProvider.
func (s *StaticRegimes) Regime(time.Time) (domain.Regime, error) {
	return s.Current, nil
}

// Trending implements domain.RegimeProvider.
func (s *StaticRegimes) Trending(_ time.Time, minConfidence float64) ([]string, error) {
	var out []string
	for _, e := range s.Trend {
		if e.Confidence >= minConfidence {
			out = append(out, e.Asset)
		}
	}
	sort.Strings(out)
	return out, nil
}
