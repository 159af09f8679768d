// Package deletion removes assets and every trace of them: the stored
// object, its derivatives, the manifest entry and all relational rows.
//
// The object store delete is irreversible, so it runs first and gates the
// rest. The relational changes then run in one transaction and either all
// commit or all roll back.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

// ObjectStore is the part of the object store client deletion needs.
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (bool, error)
	// Durable reports whether calls reach the primary store.
	Durable() bool
}

// Manifests is the backup index manager.
type Manifests interface {
	Remove(ctx context.Context, tenantID, sessionID, filename string) error
	RemoveAll(ctx context.Context, tenantID, sessionID string, filenames []string) error
}

// Options configure an Orchestrator.
type Options struct {
	// Rules are the ancillary-table cleanups applied to every deletion.
	Rules []catalog.CleanupRule
	// Concurrency bounds batch workers. Defaults to 30.
	Concurrency int
}

// DefaultConcurrency is the batch worker limit when none is configured.
const DefaultConcurrency = 30

// Orchestrator runs single and batch deletions.
type Orchestrator struct {
	catalog     catalog.Store
	store       ObjectStore
	manifests   Manifests
	rules       []catalog.CleanupRule
	concurrency int
	now         func() time.Time
}

// New creates an Orchestrator.
func New(cat catalog.Store, store ObjectStore, manifests Manifests, opts Options) *Orchestrator {
	if opts.Rules == nil {
		opts.Rules = catalog.DefaultCleanupRules()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		catalog:     cat,
		store:       store,
		manifests:   manifests,
		rules:       opts.Rules,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}
}

// Result describes a committed deletion.
type Result struct {
	TenantID      string
	SessionID     string
	Filename      string
	StorageKey    string
	Category      models.Category
	SizeReclaimed int64
	// Replayed is set when the asset row was already gone and the
	// deletion was re-run from its audit record.
	Replayed bool
	AuditID  string
	Warnings []Warning
}

// target is the asset being deleted as resolved by the lookup step.
type target struct {
	tenantID   string
	sessionID  string
	filename   string
	storageKey string
	category   models.Category
	size       int64
	replayed   bool
}

// Delete removes one asset. The caller has already verified that tenantID
// owns sessionID. Deleting an already-deleted filename succeeds again and
// adds one audit record.
func (o *Orchestrator) Delete(ctx context.Context, tenantID, sessionID, filename string) (*Result, error) {
	return o.deleteOne(ctx, tenantID, sessionID, filename, models.MethodSingle)
}

func (o *Orchestrator) deleteOne(ctx context.Context, tenantID, sessionID, filename, method string) (res *Result, err error) {
	start := time.Now()
	log := logging.WithContext(ctx).With(
		logging.Tenant(tenantID), logging.Session(sessionID),
		zap.String("filename", filename), zap.String("method", method))

	var completed []Step
	rolledBack := false
	fail := func(step Step, cause error) error {
		return &Failure{
			Filename:   filename,
			Step:       step,
			Completed:  append([]Step(nil), completed...),
			RolledBack: rolledBack,
			Err:        cause,
		}
	}
	defer func() {
		var reclaimed int64
		if res != nil {
			reclaimed = res.SizeReclaimed
		}
		metrics.RecordDeletion(method, reclaimed, err == nil)
		if err != nil {
			log.Warn("deletion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		}
	}()

	// 1. Lookup.
	t, err := o.lookup(ctx, tenantID, sessionID, filename)
	if err != nil {
		return nil, fail(StepLookup, err)
	}
	completed = append(completed, StepLookup)

	// 2. Primary object. Absence is success; anything else stops before
	// any relational change.
	if !o.store.Durable() {
		return nil, fail(StepStoreDelete, fmt.Errorf("%w: primary store degraded", objstore.ErrUnavailable))
	}
	if err := o.store.Delete(ctx, t.storageKey); err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return nil, fail(StepStoreDelete, err)
	}
	completed = append(completed, StepStoreDelete)

	res = &Result{
		TenantID:      tenantID,
		SessionID:     sessionID,
		Filename:      filename,
		StorageKey:    t.storageKey,
		Category:      t.category,
		SizeReclaimed: t.size,
		Replayed:      t.replayed,
	}

	// 3. Derivatives, best effort. Older layouts put variants next to
	// primaries, so a candidate that is itself a catalogued asset is kept.
	live, listErr := liveKeys(ctx, o.catalog, sessionID)
	if listErr != nil {
		res.Warnings = append(res.Warnings, o.warn(log, Warning{Step: StepDerivatives, Target: sessionID, Err: listErr}))
	}
	for _, key := range keys.DerivativeKeys(t.storageKey) {
		if !deletable(key, live) {
			continue
		}
		if err := o.store.Delete(ctx, key); err != nil && !errors.Is(err, objstore.ErrNotFound) {
			res.Warnings = append(res.Warnings, o.warn(log, Warning{Step: StepDerivatives, Target: key, Err: err}))
		}
	}
	completed = append(completed, StepDerivatives)

	// 4-9 in one transaction.
	tx, err := o.catalog.Begin(ctx)
	if err != nil {
		return nil, fail(StepDeleteRow, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("rollback failed", zap.Error(rbErr))
			}
		}
	}()
	abort := func(step Step, cause error) error {
		rolledBack = true
		return fail(step, cause)
	}

	existed, err := tx.DeleteAsset(ctx, sessionID, filename)
	if err != nil {
		return nil, abort(StepDeleteRow, err)
	}
	completed = append(completed, StepDeleteRow)
	if !existed {
		res.SizeReclaimed = 0
	}

	if res.SizeReclaimed > 0 {
		if err := tx.AdjustUsage(ctx, tenantID, t.category, -res.SizeReclaimed); err != nil {
			return nil, abort(StepUsage, err)
		}
	}
	completed = append(completed, StepUsage)

	ruleTarget := catalog.Target{
		TenantID:   tenantID,
		SessionID:  sessionID,
		Filename:   filename,
		StorageKey: t.storageKey,
	}
	for _, rule := range o.rules {
		n, err := tx.ApplyCleanupRule(ctx, rule, ruleTarget)
		switch {
		case err == nil:
			if n > 0 {
				log.Debug("cleanup rule applied", zap.String("table", rule.Table), zap.Int64("rows", n))
			}
		case rule.Required:
			return nil, abort(StepCleanup, fmt.Errorf("required table %s: %w", rule.Table, err))
		case errors.Is(err, catalog.ErrTableMissing):
			log.Debug("optional cleanup table absent", zap.String("table", rule.Table))
		default:
			res.Warnings = append(res.Warnings, o.warn(log, Warning{Step: StepCleanup, Target: rule.Table, Err: err}))
		}
	}
	completed = append(completed, StepCleanup)

	if method == models.MethodSingle {
		if err := removeFromCollection(ctx, tx, sessionID, filename); err != nil {
			return nil, abort(StepCollection, err)
		}
		completed = append(completed, StepCollection)
	}

	if err := o.manifests.Remove(ctx, tenantID, sessionID, filename); err != nil {
		return nil, abort(StepManifest, err)
	}
	completed = append(completed, StepManifest)

	rec := &models.DeletionAuditRecord{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		SessionID:     sessionID,
		Filename:      filename,
		SizeReclaimed: res.SizeReclaimed,
		Category:      t.category,
		StorageKey:    t.storageKey,
		DeletedAt:     o.now().UTC(),
		Method:        method,
	}
	if err := tx.AppendAudit(ctx, rec); err != nil {
		return nil, abort(StepAudit, err)
	}
	completed = append(completed, StepAudit)

	if err := tx.Commit(); err != nil {
		return nil, abort(StepCommit, err)
	}
	res.AuditID = rec.ID

	log.Info("asset deleted",
		zap.String("key", t.storageKey),
		zap.Int64("reclaimed", res.SizeReclaimed),
		zap.Bool("replayed", t.replayed),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// lookup finds the asset row, falling back to the latest audit record so a
// repeated deletion replays against the same key.
func (o *Orchestrator) lookup(ctx context.Context, tenantID, sessionID, filename string) (*target, error) {
	a, err := o.catalog.GetAsset(ctx, sessionID, filename)
	if err == nil && a.TenantID == tenantID {
		return &target{
			tenantID:   tenantID,
			sessionID:  sessionID,
			filename:   filename,
			storageKey: a.StorageKey,
			category:   a.Category,
			size:       a.SizeBytes,
		}, nil
	}
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	rec, err := o.catalog.LatestDeletion(ctx, sessionID, filename)
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && rec.TenantID != tenantID) {
		return nil, fmt.Errorf("%s/%s: %w", sessionID, filename, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &target{
		tenantID:   tenantID,
		sessionID:  sessionID,
		filename:   filename,
		storageKey: rec.StorageKey,
		category:   rec.Category,
		replayed:   true,
	}, nil
}

func (o *Orchestrator) warn(log *zap.Logger, w Warning) Warning {
	metrics.RecordCleanupWarning(w.Step.String())
	log.Warn("partial cleanup", zap.String("step", w.Step.String()),
		zap.String("target", w.Target), zap.Error(w.Err))
	return w
}

// removeFromCollection filters filename out of the session's ordered
// collection, writing only when it was present.
func removeFromCollection(ctx context.Context, tx catalog.Tx, sessionID, filename string) error {
	order, err := tx.Collection(ctx, sessionID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(order))
	for _, f := range order {
		if f != filename {
			kept = append(kept, f)
		}
	}
	if len(kept) == len(order) {
		return nil
	}
	return tx.SetCollection(ctx, sessionID, kept)
}

// liveKeys returns the storage keys of every catalogued asset of a session.
func liveKeys(ctx context.Context, cat catalog.Store, sessionID string) (map[string]bool, error) {
	assets, err := cat.ListAssets(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	live := make(map[string]bool, len(assets))
	for _, a := range assets {
		live[a.StorageKey] = true
	}
	return live, nil
}

// deletable reports whether a derivative candidate may be removed. A nil
// live set means the catalog could not be read; then only keys in
// derivative-only locations qualify.
func deletable(key string, live map[string]bool) bool {
	if live == nil {
		return keys.IsDerivative(key)
	}
	return !live[key]
}
