// Package usage computes per-tenant storage usage from the object store
// listing, for an external quota policy to act on.
package usage

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

// DefaultWarnRatio is the quota fraction at which status becomes near_limit.
const DefaultWarnRatio = 0.8

// Lister lists object summaries under a prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]objstore.ObjectSummary, error)
}

// TenantPrefixer returns a tenant's current-layout prefix.
type TenantPrefixer interface {
	TenantPrefix(ctx context.Context, tenantID string) (string, error)
}

// Calculator computes usage snapshots. It never enforces quotas.
type Calculator struct {
	store     Lister
	prefixes  TenantPrefixer
	warnRatio float64
	now       func() time.Time
}

// NewCalculator creates a Calculator. A warnRatio outside (0, 1] falls back
// to DefaultWarnRatio.
func NewCalculator(store Lister, prefixes TenantPrefixer, warnRatio float64) *Calculator {
	if warnRatio <= 0 || warnRatio > 1 {
		warnRatio = DefaultWarnRatio
	}
	return &Calculator{store: store, prefixes: prefixes, warnRatio: warnRatio, now: time.Now}
}

// ComputeUsage sums the tenant's stored bytes by category. The current
// prefix is tried first, then each legacy prefix in order; the first that
// lists anything is used. quotaBytes of 0 means unlimited.
func (c *Calculator) ComputeUsage(ctx context.Context, tenantID string, quotaBytes int64) (*models.UsageSnapshot, error) {
	start := time.Now()
	defer func() { metrics.RecordUsageCompute(time.Since(start)) }()

	current, err := c.prefixes.TenantPrefix(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var prefix string
	var listing []objstore.ObjectSummary
	for _, p := range append([]string{current}, keys.LegacyTenantPrefixes(tenantID)...) {
		listing, err = c.store.List(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		if len(listing) > 0 {
			prefix = p
			break
		}
	}
	if prefix == "" {
		prefix = current
	}

	// The flat thumbnail tree mirrors primary keys under its own root.
	thumbs, err := c.store.List(ctx, keys.ThumbPrefix+prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", keys.ThumbPrefix+prefix, err)
	}

	snap := &models.UsageSnapshot{
		TenantID:        tenantID,
		ByCategoryBytes: make(map[models.Category]int64),
		ComputedAt:      c.now().UTC(),
		SourcePrefix:    prefix,
		QuotaBytes:      quotaBytes,
	}
	for _, o := range append(listing, thumbs...) {
		if keys.IsManifest(o.Key) {
			continue
		}
		category, ok := keys.CategoryFromKey(o.Key)
		if !ok {
			category = models.CategoryForExtension(o.Key)
		}
		snap.ByCategoryBytes[category] += o.Size
		snap.TotalBytes += o.Size
		snap.FileCount++
	}
	c.classify(snap)

	logging.Debug("usage computed",
		logging.Tenant(tenantID),
		zap.String("prefix", prefix),
		zap.Int64("bytes", snap.TotalBytes),
		zap.Int("files", snap.FileCount),
		zap.String("status", snap.Status))
	return snap, nil
}

func (c *Calculator) classify(s *models.UsageSnapshot) {
	if s.QuotaBytes <= 0 {
		s.Status = models.UsageUnlimited
		return
	}
	ratio := float64(s.TotalBytes) / float64(s.QuotaBytes)
	s.PercentUsed = math.Round(ratio*10000) / 100
	switch {
	case ratio >= 1:
		s.Status = models.UsageOverLimit
	case ratio >= c.warnRatio:
		s.Status = models.UsageNearLimit
	default:
		s.Status = models.UsageOK
	}
}
