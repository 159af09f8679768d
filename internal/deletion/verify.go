package deletion

import (
	"context"
	"errors"
	"fmt"

	"github.com/fruitsalade/studiovault/internal/backupindex"
	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/models"
)

// Trace is one place an asset is still referenced.
type Trace struct {
	Location string
	Detail   string
}

// Report is the outcome of Verify.
type Report struct {
	TenantID  string
	SessionID string
	Filename  string
	Traces    []Trace
	// Skipped lists optional tables absent from this deployment.
	Skipped []string
}

// Clean reports whether no trace was found.
func (r *Report) Clean() bool { return len(r.Traces) == 0 }

// Verifier probes every location a deletion is supposed to clear. It is
// diagnostic only; the deletion path never calls it.
type Verifier struct {
	catalog   catalog.Store
	store     ObjectStore
	manifests interface {
		Get(ctx context.Context, tenantID, sessionID string) (*backupindex.Manifest, error)
	}
	resolver *keys.Resolver
	rules    []catalog.CleanupRule
}

// NewVerifier creates a Verifier.
func NewVerifier(cat catalog.Store, store ObjectStore, manifests *backupindex.Manager, resolver *keys.Resolver, rules []catalog.CleanupRule) *Verifier {
	if rules == nil {
		rules = catalog.DefaultCleanupRules()
	}
	return &Verifier{catalog: cat, store: store, manifests: manifests, resolver: resolver, rules: rules}
}

// Verify reports every trace of filename in the session.
func (v *Verifier) Verify(ctx context.Context, tenantID, sessionID, filename string) (*Report, error) {
	rep := &Report{TenantID: tenantID, SessionID: sessionID, Filename: filename}
	add := func(loc, detail string) {
		rep.Traces = append(rep.Traces, Trace{Location: loc, Detail: detail})
	}

	category := models.CategoryForExtension(filename)
	var knownKeys []string

	a, err := v.catalog.GetAsset(ctx, sessionID, filename)
	switch {
	case err == nil:
		add("assets", a.StorageKey)
		category = a.Category
		knownKeys = append(knownKeys, a.StorageKey)
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, fmt.Errorf("asset row: %w", err)
	default:
		if rec, err := v.catalog.LatestDeletion(ctx, sessionID, filename); err == nil {
			category = rec.Category
			knownKeys = append(knownKeys, rec.StorageKey)
		}
	}

	target := catalog.Target{TenantID: tenantID, SessionID: sessionID, Filename: filename}
	if len(knownKeys) > 0 {
		target.StorageKey = knownKeys[0]
	}
	for _, rule := range v.rules {
		n, err := v.catalog.CountMatches(ctx, rule, target)
		if errors.Is(err, catalog.ErrTableMissing) && !rule.Required {
			rep.Skipped = append(rep.Skipped, rule.Table)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", rule.Table, err)
		}
		if n > 0 {
			add(rule.Table, fmt.Sprintf("%d rows", n))
		}
	}

	order, err := v.catalog.Collection(ctx, sessionID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("collection: %w", err)
	}
	for _, f := range order {
		if f == filename {
			add("collection", sessionID)
			break
		}
	}

	current, err := v.resolver.ResolveWriteKey(ctx, tenantID, sessionID, filename, category)
	if err != nil {
		return nil, err
	}
	knownKeys = append(knownKeys, current.String(), keys.NewLegacy(tenantID, sessionID, category, filename).String())

	live, err := liveKeys(ctx, v.catalog, sessionID)
	if err != nil {
		return nil, err
	}
	checked := make(map[string]bool)
	for _, primary := range knownKeys {
		for _, key := range append([]string{primary}, keys.DerivativeKeys(primary)...) {
			if checked[key] {
				continue
			}
			// Another asset stored where an old layout put a variant.
			if key != primary && live[key] {
				continue
			}
			checked[key] = true
			ok, err := v.store.Head(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("head %s: %w", key, err)
			}
			if ok {
				add("store", key)
			}
		}
	}

	man, err := v.manifests.Get(ctx, tenantID, sessionID)
	if err != nil && !errors.Is(err, backupindex.ErrCorrupt) {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err != nil {
		add("manifest", "corrupt")
	} else if _, ok := man.Find(filename); ok {
		add("manifest", sessionID)
	}

	return rep, nil
}
