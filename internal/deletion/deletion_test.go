package deletion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/studiovault/internal/backupindex"
	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/catalog/memcatalog"
	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
	"github.com/fruitsalade/studiovault/internal/objstore/objstoretest"
	"github.com/fruitsalade/studiovault/internal/retry"
)

const (
	tenantID  = "t1"
	sessionID = "s1"
	// sessionRoot is the current-layout prefix for "Jane Doe" / "Beach Day".
	sessionRoot = "tenant-jane-doe/session-beach-day/"
)

type fixture struct {
	t         *testing.T
	ctx       context.Context
	primary   *objstoretest.FaultStore
	client    *objstore.Client
	cat       *memcatalog.Catalog
	resolver  *keys.Resolver
	manifests *backupindex.Manager
	orch      *Orchestrator
	verifier  *Verifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := objstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	fallback, err := objstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	primary := objstoretest.Wrap(local)
	client := objstore.NewClient(primary, objstore.ClientOptions{Fallback: fallback, RetryBackoff: time.Millisecond})
	require.NoError(t, client.Probe(context.Background()))

	cat := memcatalog.New()
	cat.AddTenant(tenantID, "Jane Doe", 10<<30)
	cat.AddSession(tenantID, sessionID, "Beach Day")
	cat.CreateTable("download_entitlements")
	cat.CreateTable("download_history")
	cat.CreateTable("access_tokens")

	resolver := keys.NewResolver(client, cat)
	manifests := backupindex.NewManager(client, resolver, cat)
	return &fixture{
		t:         t,
		ctx:       context.Background(),
		primary:   primary,
		client:    client,
		cat:       cat,
		resolver:  resolver,
		manifests: manifests,
		orch:      New(cat, client, manifests, Options{Concurrency: 30}),
		verifier:  NewVerifier(cat, client, manifests, resolver, nil),
	}
}

// seed stores an asset with derivatives and every relational trace.
func (f *fixture) seed(filename string, size int64) string {
	f.t.Helper()
	ctx := f.ctx
	category := models.CategoryForExtension(filename)
	k, err := f.resolver.ResolveWriteKey(ctx, tenantID, sessionID, filename, category)
	require.NoError(f.t, err)
	key := k.String()

	_, err = f.client.Put(ctx, key, make([]byte, size), models.ContentTypeFor(filename), nil)
	require.NoError(f.t, err)
	_, err = f.client.Put(ctx, keys.DerivativeKey(key, keys.Sizes[0]), []byte("thumb"), "image/jpeg", nil)
	require.NoError(f.t, err)
	_, err = f.client.Put(ctx, keys.DerivativeKeys(key)[len(keys.Sizes)], []byte("old thumb"), "image/jpeg", nil)
	require.NoError(f.t, err)

	asset := &models.Asset{
		TenantID: tenantID, SessionID: sessionID, Filename: filename, Category: category,
		SizeBytes: size, ContentType: models.ContentTypeFor(filename), StorageKey: key,
		UploadedAt: time.Now().UTC(),
	}
	tx, err := f.cat.Begin(ctx)
	require.NoError(f.t, err)
	require.NoError(f.t, tx.InsertAsset(ctx, asset))
	require.NoError(f.t, tx.AdjustUsage(ctx, tenantID, category, size))
	order, err := tx.Collection(ctx, sessionID)
	require.NoError(f.t, err)
	require.NoError(f.t, tx.SetCollection(ctx, sessionID, append(order, filename)))
	require.NoError(f.t, tx.Commit())

	require.NoError(f.t, f.manifests.Add(ctx, tenantID, sessionID, asset.Summary()))

	row := memcatalog.Row{"session_id": sessionID, "filename": filename}
	require.NoError(f.t, f.cat.InsertRow("download_entitlements", row))
	require.NoError(f.t, f.cat.InsertRow("download_history", row))
	require.NoError(f.t, f.cat.InsertRow("access_tokens", row))
	return key
}

func (f *fixture) exists(key string) bool {
	f.t.Helper()
	ok, err := f.client.Head(f.ctx, key)
	require.NoError(f.t, err)
	return ok
}

func (f *fixture) manifest() *backupindex.Manifest {
	f.t.Helper()
	m, err := f.manifests.Get(f.ctx, tenantID, sessionID)
	require.NoError(f.t, err)
	require.True(f.t, m.Consistent())
	return m
}

func (f *fixture) usage() int64 {
	f.t.Helper()
	u, err := f.cat.Usage(f.ctx, tenantID)
	require.NoError(f.t, err)
	var total int64
	for _, n := range u {
		total += n
	}
	return total
}

func (f *fixture) collection() []string {
	f.t.Helper()
	c, err := f.cat.Collection(f.ctx, sessionID)
	require.NoError(f.t, err)
	return c
}

func TestDeleteThenRedelete(t *testing.T) {
	f := newFixture(t)
	key := f.seed("sunset.jpg", 2097152)

	m := f.manifest()
	assert.Equal(t, 1, m.TotalFiles)
	assert.Equal(t, int64(2097152), m.TotalSizeBytes)

	res, err := f.orch.Delete(f.ctx, tenantID, sessionID, "sunset.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(2097152), res.SizeReclaimed)
	assert.Equal(t, key, res.StorageKey)
	assert.False(t, res.Replayed)
	assert.Empty(t, res.Warnings)

	assert.False(t, f.exists(key))
	for _, d := range keys.DerivativeKeys(key) {
		assert.False(t, f.exists(d), d)
	}
	assert.Equal(t, 0, f.manifest().TotalFiles)
	_, err = f.cat.GetAsset(f.ctx, sessionID, "sunset.jpg")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Zero(t, f.usage())
	assert.Empty(t, f.collection())
	assert.Empty(t, f.cat.Rows("download_entitlements"))

	audit := f.cat.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, int64(2097152), audit[0].SizeReclaimed)
	assert.Equal(t, models.MethodSingle, audit[0].Method)
	assert.Equal(t, res.AuditID, audit[0].ID)

	rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, "sunset.jpg")
	require.NoError(t, err)
	assert.True(t, rep.Clean(), "traces: %+v", rep.Traces)

	// Re-delete: success, only a new audit row.
	setCalls := f.cat.Calls(memcatalog.OpSetCollection)
	usageCalls := f.cat.Calls(memcatalog.OpAdjustUsage)
	manifestPuts := f.primary.Calls("put")

	res2, err := f.orch.Delete(f.ctx, tenantID, sessionID, "sunset.jpg")
	require.NoError(t, err)
	assert.True(t, res2.Replayed)
	assert.Zero(t, res2.SizeReclaimed)
	assert.Equal(t, key, res2.StorageKey)

	assert.Equal(t, setCalls, f.cat.Calls(memcatalog.OpSetCollection))
	assert.Equal(t, usageCalls, f.cat.Calls(memcatalog.OpAdjustUsage))
	assert.Equal(t, manifestPuts, f.primary.Calls("put"))
	assert.Zero(t, f.usage())
	audit = f.cat.Audit()
	require.Len(t, audit, 2)
	assert.Zero(t, audit[1].SizeReclaimed)
}

func TestDeleteUnknownAssetIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "ghost.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	var fail *Failure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, StepLookup, fail.Step)
	assert.Empty(t, fail.Completed)
	assert.Zero(t, f.primary.Calls("delete"))
	assert.Empty(t, f.cat.Audit())
}

func TestDeleteScopedToTenant(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 10)

	_, err := f.orch.Delete(f.ctx, "someone-else", sessionID, "a.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, f.exists(key))
}

func TestDerivativeCleanupSparesLiveAssets(t *testing.T) {
	f := newFixture(t)
	f.seed("beach.jpg", 100)
	other := f.seed("beach_small.jpg", 40)
	require.Equal(t, other, keys.DerivativeKeys(sessionRoot+"gallery/beach.jpg")[len(keys.Sizes)])

	man, err := f.manifests.RebuildFromStore(f.ctx, tenantID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, man.TotalFiles)

	_, err = f.orch.Delete(f.ctx, tenantID, sessionID, "beach.jpg")
	require.NoError(t, err)

	assert.True(t, f.exists(other))
	_, err = f.cat.GetAsset(f.ctx, sessionID, "beach_small.jpg")
	require.NoError(t, err)
	_, ok := f.manifest().Find("beach_small.jpg")
	assert.True(t, ok)
	assert.Equal(t, int64(40), f.usage())
	assert.Equal(t, []string{"beach_small.jpg"}, f.collection())

	rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, "beach.jpg")
	require.NoError(t, err)
	assert.True(t, rep.Clean(), "traces: %+v", rep.Traces)
}

func TestDerivativeCleanupWithoutCatalogListing(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 100)
	suffixed := keys.DerivativeKeys(key)[len(keys.Sizes)]
	f.cat.FailOn(memcatalog.OpListAssets, errors.New("timeout"))

	res, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, StepDerivatives, res.Warnings[0].Step)

	assert.False(t, f.exists(keys.DerivativeKey(key, keys.Sizes[0])))
	assert.True(t, f.exists(suffixed), "in-category variants need the catalog to be told apart")
}

func TestStoreFailureLeavesRelationalStateUntouched(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 100)
	f.primary.FailOn("delete", key, errors.New("internal error"))

	_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	var fail *Failure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, StepStoreDelete, fail.Step)
	assert.Equal(t, []Step{StepLookup}, fail.Completed)
	assert.False(t, fail.RolledBack)

	_, err = f.cat.GetAsset(f.ctx, sessionID, "a.jpg")
	assert.NoError(t, err)
	assert.Equal(t, int64(100), f.usage())
	assert.Zero(t, f.cat.Calls(memcatalog.OpDeleteAsset))
	assert.Equal(t, 1, f.manifest().TotalFiles)
}

func TestTransientStoreErrorIsRetriedOnce(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 100)
	f.primary.FailTimes("delete", 1, errTransient())

	_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	assert.False(t, f.exists(key))
}

func errTransient() error {
	return retry.Retryable(fmt.Errorf("delete: %w", objstore.ErrTransient))
}

func TestDegradedStoreRefusesDeletion(t *testing.T) {
	f := newFixture(t)
	f.seed("a.jpg", 100)
	f.primary.SetProbeError(fmt.Errorf("dial: %w", objstore.ErrTransient))
	require.NoError(t, f.client.Probe(f.ctx))
	require.Equal(t, objstore.Degraded, f.client.Health())

	_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	assert.ErrorIs(t, err, objstore.ErrUnavailable)
	_, err = f.cat.GetAsset(f.ctx, sessionID, "a.jpg")
	assert.NoError(t, err)
}

func TestAtomicityAtEveryRelationalStep(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		step   Step
		inject func(f *fixture)
	}{
		{"delete row", StepDeleteRow, func(f *fixture) { f.cat.FailOn(memcatalog.OpDeleteAsset, boom) }},
		{"usage", StepUsage, func(f *fixture) { f.cat.FailOn(memcatalog.OpAdjustUsage, boom) }},
		{"required cleanup", StepCleanup, func(f *fixture) {
			f.cat.FailOn(memcatalog.CleanupOp("download_entitlements"), boom)
		}},
		{"collection", StepCollection, func(f *fixture) { f.cat.FailOn(memcatalog.OpSetCollection, boom) }},
		{"manifest", StepManifest, func(f *fixture) {
			f.primary.FailOn("put", sessionRoot+keys.ManifestName, boom)
		}},
		{"audit", StepAudit, func(f *fixture) { f.cat.FailOn(memcatalog.OpAppendAudit, boom) }},
		{"commit", StepCommit, func(f *fixture) { f.cat.FailOn(memcatalog.OpCommit, boom) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := f.seed("a.jpg", 500)
			f.seed("b.jpg", 300)
			tt.inject(f)

			_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
			var fail *Failure
			require.ErrorAs(t, err, &fail)
			assert.Equal(t, tt.step, fail.Step)
			assert.True(t, fail.RolledBack)
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, fail.Completed, StepStoreDelete)

			// The object is gone but nothing relational committed.
			assert.False(t, f.exists(key))
			_, err = f.cat.GetAsset(f.ctx, sessionID, "a.jpg")
			assert.NoError(t, err)
			assert.Equal(t, int64(800), f.usage())
			assert.Len(t, f.cat.Rows("download_entitlements"), 2)
			assert.Len(t, f.cat.Rows("download_history"), 2)
			assert.Equal(t, []string{"a.jpg", "b.jpg"}, f.collection())
			assert.Empty(t, f.cat.Audit())

			// Retrying after the fault clears converges.
			f.cat.FailOn(memcatalog.OpDeleteAsset, nil)
			f.cat.FailOn(memcatalog.OpAdjustUsage, nil)
			f.cat.FailOn(memcatalog.CleanupOp("download_entitlements"), nil)
			f.cat.FailOn(memcatalog.OpSetCollection, nil)
			f.cat.FailOn(memcatalog.OpAppendAudit, nil)
			f.cat.FailOn(memcatalog.OpCommit, nil)
			f.primary.Reset()

			res, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
			require.NoError(t, err)
			assert.Equal(t, int64(500), res.SizeReclaimed)
			assert.Equal(t, int64(300), f.usage())
			assert.Equal(t, []string{"b.jpg"}, f.collection())

			rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, "a.jpg")
			require.NoError(t, err)
			assert.True(t, rep.Clean(), "traces: %+v", rep.Traces)
		})
	}
}

func TestOptionalFailuresBecomeWarnings(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 100)
	f.cat.FailOn(memcatalog.CleanupOp("download_history"), errors.New("lock timeout"))
	f.primary.FailOn("delete", sessionRoot+"thumbnails/", errors.New("forbidden by policy"))

	res, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	assert.False(t, f.exists(key))

	var derivative, cleanup int
	for _, w := range res.Warnings {
		switch w.Step {
		case StepDerivatives:
			derivative++
		case StepCleanup:
			cleanup++
			assert.Equal(t, "download_history", w.Target)
		}
	}
	assert.Equal(t, len(keys.Sizes), derivative)
	assert.Equal(t, 1, cleanup)
	assert.Empty(t, f.cat.Rows("download_entitlements"))
}

func TestMissingOptionalTableIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed("a.jpg", 100)
	// asset_transactions is never created in the fixture.
	res, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"asset_transactions"}, rep.Skipped)
}

func TestMissingRequiredTableAborts(t *testing.T) {
	f := newFixture(t)
	f.seed("a.jpg", 100)
	f.orch.rules = append(f.orch.rules, catalog.CleanupRule{
		Table: "print_orders", MatchColumns: []string{"session_id", "filename"}, Required: true,
	})

	_, err := f.orch.Delete(f.ctx, tenantID, sessionID, "a.jpg")
	var fail *Failure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, StepCleanup, fail.Step)
	assert.ErrorIs(t, err, catalog.ErrTableMissing)
	_, err = f.cat.GetAsset(f.ctx, sessionID, "a.jpg")
	assert.NoError(t, err)
}

func TestVerifyFindsTraces(t *testing.T) {
	f := newFixture(t)
	key := f.seed("a.jpg", 100)

	rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, "a.jpg")
	require.NoError(t, err)
	assert.False(t, rep.Clean())

	locations := map[string]bool{}
	for _, tr := range rep.Traces {
		locations[tr.Location] = true
	}
	for _, want := range []string{"assets", "download_entitlements", "download_history", "access_tokens", "collection", "store", "manifest"} {
		assert.True(t, locations[want], want)
	}

	var stored []string
	for _, tr := range rep.Traces {
		if tr.Location == "store" {
			stored = append(stored, tr.Detail)
		}
	}
	assert.Contains(t, stored, key)
	assert.Len(t, stored, 3)
}

// gauge wraps the client and records peak concurrent primary deletes.
type gauge struct {
	ObjectStore
	inflight atomic.Int32
	mu       sync.Mutex
	peak     int32
}

func (g *gauge) Delete(ctx context.Context, key string) error {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	g.mu.Lock()
	if n > g.peak {
		g.peak = n
	}
	g.mu.Unlock()
	if !keys.IsDerivative(key) {
		time.Sleep(5 * time.Millisecond)
	}
	return g.ObjectStore.Delete(ctx, key)
}

func TestBatchDeleteBoundedWorkers(t *testing.T) {
	f := newFixture(t)
	var all, doomed, survivors []string
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("img_%03d.jpg", i)
		f.seed(name, int64(1000+i))
		all = append(all, name)
		if i%4 == 3 {
			survivors = append(survivors, name)
		} else {
			doomed = append(doomed, name)
		}
	}
	require.Len(t, doomed, 75)
	require.Equal(t, all, f.collection())

	g := &gauge{ObjectStore: f.client}
	orch := New(f.cat, g, f.manifests, Options{Concurrency: 30})
	setCalls := f.cat.Calls(memcatalog.OpSetCollection)

	batch, err := orch.DeleteBatch(f.ctx, tenantID, sessionID, doomed)
	require.NoError(t, err)
	assert.Equal(t, 75, batch.Succeeded)
	assert.Zero(t, batch.Failed)
	for _, it := range batch.Items {
		assert.NoError(t, it.Err, it.Filename)
	}

	assert.Equal(t, survivors, f.collection())
	assert.Equal(t, survivors, batch.Collection)
	assert.Equal(t, setCalls+1, f.cat.Calls(memcatalog.OpSetCollection), "exactly one resync write")

	m := f.manifest()
	assert.Equal(t, 25, m.TotalFiles)
	for _, name := range doomed {
		_, ok := m.Find(name)
		assert.False(t, ok, name)
	}

	audit := f.cat.Audit()
	require.Len(t, audit, 75)
	for _, r := range audit {
		assert.Equal(t, models.MethodBatch, r.Method)
	}

	g.mu.Lock()
	peak := g.peak
	g.mu.Unlock()
	assert.LessOrEqual(t, peak, int32(30))
	assert.Greater(t, peak, int32(1))

	for _, name := range doomed[:5] {
		rep, err := f.verifier.Verify(f.ctx, tenantID, sessionID, name)
		require.NoError(t, err)
		assert.True(t, rep.Clean(), "%s traces: %+v", name, rep.Traces)
	}
}

func TestBatchReportsPerItemFailures(t *testing.T) {
	f := newFixture(t)
	f.seed("a.jpg", 10)
	f.seed("b.jpg", 20)
	f.seed("c.jpg", 30)
	setCalls := f.cat.Calls(memcatalog.OpSetCollection)

	batch, err := f.orch.DeleteBatch(f.ctx, tenantID, sessionID, []string{"a.jpg", "ghost.jpg", "a.jpg", "c.jpg"})
	require.NoError(t, err)
	require.Len(t, batch.Items, 3)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.ElementsMatch(t, []string{"a.jpg", "c.jpg"}, batch.Deleted())
	for _, it := range batch.Items {
		if it.Filename == "ghost.jpg" {
			assert.ErrorIs(t, it.Err, ErrNotFound)
		}
	}
	assert.Equal(t, []string{"b.jpg"}, f.collection())
	assert.Equal(t, setCalls+1, f.cat.Calls(memcatalog.OpSetCollection))
	assert.Equal(t, int64(20), f.usage())
}
