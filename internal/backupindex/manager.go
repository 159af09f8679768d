package backupindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

// ErrCorrupt is returned by Get when the stored manifest cannot be decoded.
var ErrCorrupt = errors.New("backup index corrupt")

// Locator maps a session to its manifest key and listing prefix.
type Locator interface {
	ManifestKey(ctx context.Context, tenantID, sessionID string) (string, error)
	SessionPrefix(ctx context.Context, tenantID, sessionID string) (string, error)
}

// Assets lists the catalogued assets of a session.
type Assets interface {
	ListAssets(ctx context.Context, sessionID string) ([]models.Asset, error)
}

// Manager reads and writes session manifests.
//
// Writes are whole-document overwrites with no concurrency token: two
// writers racing on the same session can lose an update. Rebuild repairs it.
type Manager struct {
	store   objstore.Store
	locator Locator
	assets  Assets
	now     func() time.Time
}

// NewManager creates a Manager. assets may be nil; rebuilds then treat every
// {stem}_{size}.jpg next to a {stem} primary as a derivative.
func NewManager(store objstore.Store, locator Locator, assets Assets) *Manager {
	return &Manager{store: store, locator: locator, assets: assets, now: time.Now}
}

// Get returns the session manifest. A missing document is an empty
// manifest, not an error.
func (m *Manager) Get(ctx context.Context, tenantID, sessionID string) (*Manifest, error) {
	key, err := m.locator.ManifestKey(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	obj, err := m.store.Get(ctx, key)
	if errors.Is(err, objstore.ErrNotFound) {
		return empty(tenantID, sessionID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup index %s: %w", key, err)
	}

	man := empty(tenantID, sessionID)
	if err := json.Unmarshal(obj.Body, man); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if man.Files == nil {
		man.Files = []models.AssetSummary{}
	}
	man.recompute()
	return man, nil
}

// Add upserts summary by filename and persists the manifest.
func (m *Manager) Add(ctx context.Context, tenantID, sessionID string, summary models.AssetSummary) error {
	return m.mutate(ctx, "add", tenantID, sessionID, func(man *Manifest) bool {
		man.upsert(summary)
		return true
	})
}

// Remove drops filename and persists the manifest. Nothing is written when
// the entry is absent.
func (m *Manager) Remove(ctx context.Context, tenantID, sessionID, filename string) error {
	return m.RemoveAll(ctx, tenantID, sessionID, []string{filename})
}

// RemoveAll drops every listed filename in one write.
func (m *Manager) RemoveAll(ctx context.Context, tenantID, sessionID string, filenames []string) error {
	names := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		names[f] = true
	}
	return m.mutate(ctx, "remove", tenantID, sessionID, func(man *Manifest) bool {
		return man.drop(names)
	})
}

// Rebuild replaces the manifest with one reconstructed from listing,
// discarding whatever was stored before.
func (m *Manager) Rebuild(ctx context.Context, tenantID, sessionID string, listing []objstore.ObjectSummary) (*Manifest, error) {
	man, err := m.fromStore(ctx, tenantID, sessionID, listing)
	if err != nil {
		return nil, err
	}
	if err := m.put(ctx, "rebuild", man); err != nil {
		return nil, err
	}
	metrics.RecordManifestRebuild()
	logging.Info("backup index rebuilt",
		logging.Tenant(tenantID),
		logging.Session(sessionID),
		zap.Int("files", man.TotalFiles),
		zap.Int64("bytes", man.TotalSizeBytes))
	return man, nil
}

// RebuildFromStore lists the session under both key layouts and rebuilds
// from the result. A filename present under both is taken from the current
// layout.
func (m *Manager) RebuildFromStore(ctx context.Context, tenantID, sessionID string) (*Manifest, error) {
	listing, err := m.listSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return m.Rebuild(ctx, tenantID, sessionID, listing)
}

// listSession returns the current prefix listing followed by the legacy one.
func (m *Manager) listSession(ctx context.Context, tenantID, sessionID string) ([]objstore.ObjectSummary, error) {
	prefix, err := m.locator.SessionPrefix(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	var listing []objstore.ObjectSummary
	for _, p := range []string{prefix, keys.LegacySessionPrefix(tenantID, sessionID)} {
		objs, err := m.store.List(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		listing = append(listing, objs...)
	}
	return listing, nil
}

func (m *Manager) fromStore(ctx context.Context, tenantID, sessionID string, listing []objstore.ObjectSummary) (*Manifest, error) {
	var catalogued map[string]bool
	if m.assets != nil {
		assets, err := m.assets.ListAssets(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("list assets: %w", err)
		}
		catalogued = make(map[string]bool, len(assets))
		for _, a := range assets {
			catalogued[a.StorageKey] = true
		}
	}
	man := empty(tenantID, sessionID)
	man.Files = fromListing(listing, catalogued)
	man.recompute()
	return man, nil
}

// mutate is the read-modify-write cycle. A corrupt manifest is replaced by
// one rebuilt from the store before fn runs.
func (m *Manager) mutate(ctx context.Context, op, tenantID, sessionID string, fn func(*Manifest) bool) error {
	man, err := m.Get(ctx, tenantID, sessionID)
	if errors.Is(err, ErrCorrupt) {
		logging.Warn("backup index corrupt, rebuilding from store",
			logging.Tenant(tenantID), logging.Session(sessionID), zap.Error(err))
		listing, lerr := m.listSession(ctx, tenantID, sessionID)
		if lerr != nil {
			return lerr
		}
		if man, err = m.fromStore(ctx, tenantID, sessionID, listing); err != nil {
			return err
		}
		fn(man)
		return m.put(ctx, op, man)
	}
	if err != nil {
		return err
	}
	if !fn(man) {
		return nil
	}
	return m.put(ctx, op, man)
}

func (m *Manager) put(ctx context.Context, op string, man *Manifest) error {
	key, err := m.locator.ManifestKey(ctx, man.TenantID, man.SessionID)
	if err != nil {
		return err
	}
	man.LastUpdated = m.now().UTC()

	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal backup index: %w", err)
	}
	meta := map[string]string{
		objstore.MetaTenantID:  man.TenantID,
		objstore.MetaSessionID: man.SessionID,
	}
	if _, err := m.store.Put(ctx, key, data, "application/json", meta); err != nil {
		metrics.RecordManifestWrite(op, false)
		return fmt.Errorf("write backup index %s: %w", key, err)
	}
	metrics.RecordManifestWrite(op, true)
	return nil
}
