// Package coreasset implements core asset management: exceptional assets get
// a time-bounded designation granting immunity from closure and bucket-cap
// enforcement, monitored against their bucket and auto-revoked on expiry or
// sustained underperformance.
package coreasset

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Info is the record kept per designated core asset.
type Info struct {
	Asset                  string    `json:"asset" msgpack:"asset"`
	DesignationDate        time.Time `json:"designation_date" msgpack:"designation_date"`
	ExpiryDate             time.Time `json:"expiry_date" msgpack:"expiry_date"`
	DesignationScore       float64   `json:"designation_score" msgpack:"designation_score"`
	Bucket                 string    `json:"bucket" msgpack:"bucket"`
	ExtensionCount         int       `json:"extension_count" msgpack:"extension_count"`
	PerformanceWarnings    []string  `json:"performance_warnings" msgpack:"performance_warnings"`
	BucketAvgAtDesignation float64   `json:"bucket_avg_at_designation" msgpack:"bucket_avg_at_designation"`
	LastCheck              time.Time `json:"last_check" msgpack:"last_check"`
}

// RevokeReason classifies why a core designation was removed.
type RevokeReason string

const (
	RevokeExpiry           RevokeReason = "expiry"
	RevokeUnderperformance RevokeReason = "underperformance"
	RevokeManual           RevokeReason = "manual"
)

// Revocation describes one auto-revoked designation from a lifecycle check.
type Revocation struct {
	Asset  string
	Reason RevokeReason
	Detail string
}

// Config holds core asset management tuning.
type Config struct {
	Enabled                   bool
	OverrideThreshold         float64
	ExpiryDays                int
	UnderperformanceThreshold float64
	UnderperformancePeriod    int // days
	MaxCoreAssets             int
	ExtensionLimit            int
	CheckFrequencyDays        int
}

// Manager tracks core designations for one engine instance.
type Manager struct {
	cfg     Config
	catalog domain.BucketCatalog
	prices  domain.PriceProvider
	log     zerolog.Logger

	mu     sync.RWMutex
	assets map[string]*Info
}

// NewManager creates a core asset manager. The price provider may be nil, in
// which case underperformance checks are skipped.
func NewManager(cfg Config, catalog domain.BucketCatalog, prices domain.PriceProvider, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		catalog: catalog,
		prices:  prices,
		log:     log.With().Str("component", "core_asset_manager").Logger(),
		assets:  make(map[string]*Info),
	}
}

// MarkAsCore designates an asset as core. Fails when the active count is at
// MaxCoreAssets or the asset is already designated.
func (m *Manager) MarkAsCore(asset string, date time.Time, reason string, score float64) error {
	if !m.cfg.Enabled {
		return fmt.Errorf("core asset management is disabled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[asset]; exists {
		return fmt.Errorf("asset %s is already designated core", asset)
	}
	if len(m.assets) >= m.cfg.MaxCoreAssets {
		return fmt.Errorf("core asset limit reached (%d)", m.cfg.MaxCoreAssets)
	}

	bucket := domain.UnknownBucket
	if m.catalog != nil {
		bucket = m.catalog.Bucket(asset)
	}

	info := &Info{
		Asset:                  asset,
		DesignationDate:        date,
		ExpiryDate:             date.AddDate(0, 0, m.cfg.ExpiryDays),
		DesignationScore:       score,
		Bucket:                 bucket,
		BucketAvgAtDesignation: m.bucketAverageReturn(asset, bucket, date),
		LastCheck:              date,
	}
	m.assets[asset] = info

	m.log.Info().
		Str("asset", asset).
		Str("bucket", bucket).
		Float64("score", score).
		Time("expiry", info.ExpiryDate).
		Str("reason", reason).
		Msg("Asset marked as core")
	return nil
}

// IsCore reports whether an active, unexpired designation exists on the date.
func (m *Manager) IsCore(asset string, date time.Time) bool {
	if !m.cfg.Enabled {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.assets[asset]
	return ok && !date.After(info.ExpiryDate)
}

// ExtendCoreStatus shifts the expiry by the given days. Fails once the
// extension limit is reached.
func (m *Manager) ExtendCoreStatus(asset string, days int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.assets[asset]
	if !ok {
		return fmt.Errorf("asset %s is not designated core", asset)
	}
	if info.ExtensionCount >= m.cfg.ExtensionLimit {
		return fmt.Errorf("extension limit reached (%d) for %s", m.cfg.ExtensionLimit, asset)
	}

	info.ExpiryDate = info.ExpiryDate.AddDate(0, 0, days)
	info.ExtensionCount++
	m.log.Info().
		Str("asset", asset).
		Int("extension_count", info.ExtensionCount).
		Time("new_expiry", info.ExpiryDate).
		Str("reason", reason).
		Msg("Core status extended")
	return nil
}

// PerformLifecycleCheck expires and underperformance-revokes designations.
// Called at the start of every rebalance so revocations free slots before
// new designations count against the limit.
func (m *Manager) PerformLifecycleCheck(date time.Time) []Revocation {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var revocations []Revocation
	for asset, info := range m.assets {
		if date.After(info.ExpiryDate) {
			revocations = append(revocations, Revocation{
				Asset:  asset,
				Reason: RevokeExpiry,
				Detail: fmt.Sprintf("designation expired %s", info.ExpiryDate.Format("2006-01-02")),
			})
			delete(m.assets, asset)
			continue
		}

		if daysBetween(info.LastCheck, date) < m.cfg.CheckFrequencyDays {
			continue
		}
		info.LastCheck = date

		warning, ok := m.underperformance(asset, info, date)
		if !ok {
			// A clean check breaks the consecutive-warning streak
			info.PerformanceWarnings = nil
			continue
		}
		info.PerformanceWarnings = append(info.PerformanceWarnings, warning)
		m.log.Warn().Str("asset", asset).Str("warning", warning).Msg("Core asset underperformance warning")

		// Two consecutive warnings revoke the designation
		if n := len(info.PerformanceWarnings); n >= 2 {
			revocations = append(revocations, Revocation{
				Asset:  asset,
				Reason: RevokeUnderperformance,
				Detail: warning,
			})
			delete(m.assets, asset)
		}
	}

	sort.Slice(revocations, func(i, j int) bool { return revocations[i].Asset < revocations[j].Asset })
	return revocations
}

// underperformance compares the asset's return against its bucket peers over
// the underperformance period. Returns a warning when the shortfall exceeds
// the threshold.
func (m *Manager) underperformance(asset string, info *Info, date time.Time) (string, bool) {
	if m.prices == nil {
		return "", false
	}

	from := date.AddDate(0, 0, -m.cfg.UnderperformancePeriod)
	assetReturn, err := m.prices.Return(asset, from, date)
	if err != nil {
		// Missing data is not evidence of underperformance
		m.log.Debug().Err(err).Str("asset", asset).Msg("No return data for underperformance check")
		return "", false
	}

	bucketAvg := m.bucketAverageReturnSince(asset, info.Bucket, from, date)
	shortfall := bucketAvg - assetReturn
	if shortfall <= m.cfg.UnderperformanceThreshold {
		return "", false
	}

	return fmt.Sprintf("return %.4f trails bucket average %.4f by %.4f over %dd",
		assetReturn, bucketAvg, shortfall, m.cfg.UnderperformancePeriod), true
}

// bucketAverageReturn computes the bucket peer average over the configured
// period ending at date.
func (m *Manager) bucketAverageReturn(asset, bucket string, date time.Time) float64 {
	return m.bucketAverageReturnSince(asset, bucket, date.AddDate(0, 0, -m.cfg.UnderperformancePeriod), date)
}

// bucketAverageReturnSince computes the mean return of the bucket's members
// excluding the asset itself.
func (m *Manager) bucketAverageReturnSince(asset, bucket string, from, to time.Time) float64 {
	if m.catalog == nil || m.prices == nil {
		return 0
	}

	var returns []float64
	for _, peer := range m.catalog.Assets(bucket) {
		if peer == asset {
			continue
		}
		r, err := m.prices.Return(peer, from, to)
		if err != nil {
			continue
		}
		returns = append(returns, r)
	}
	if len(returns) == 0 {
		return 0
	}
	return stat.Mean(returns, nil)
}

// Revoke removes a designation manually.
func (m *Manager) Revoke(asset string, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[asset]; !ok {
		return false
	}
	delete(m.assets, asset)
	m.log.Info().Str("asset", asset).Str("reason", reason).Msg("Core status revoked")
	return true
}

// ActiveCount returns the number of active designations.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assets)
}

// Get returns a copy of the designation record for an asset.
func (m *Manager) Get(asset string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.assets[asset]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Snapshot returns copies of all designation records.
func (m *Manager) Snapshot() map[string]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Info, len(m.assets))
	for k, v := range m.assets {
		info := *v
		info.PerformanceWarnings = append([]string(nil), v.PerformanceWarnings...)
		out[k] = info
	}
	return out
}

// Restore replaces designation state from a snapshot.
func (m *Manager) Restore(assets map[string]Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assets = make(map[string]*Info, len(assets))
	for k, v := range assets {
		info := v
		m.assets[k] = &info
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
