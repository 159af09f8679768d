// Package memcatalog is an in-memory catalog.Store with real transaction
// semantics: a transaction works on a private copy that replaces the
// committed state on Commit. Transactions are serialized. Faults can be
// injected per operation to exercise rollback paths.
package memcatalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/models"
)

// Operation names accepted by FailOn. Cleanup rules use "cleanup:<table>".
const (
	OpInsertAsset   = "insert_asset"
	OpDeleteAsset   = "delete_asset"
	OpAdjustUsage   = "adjust_usage"
	OpSetCollection = "set_collection"
	OpAppendAudit   = "append_audit"
	OpCommit        = "commit"
	OpListAssets    = "list_assets"
)

// CleanupOp is the fault name for rule table.
func CleanupOp(table string) string { return "cleanup:" + table }

type assetKey struct {
	sessionID, filename string
}

type tenant struct {
	name  string
	quota int64
}

type session struct {
	tenantID   string
	label      string
	collection []string
}

// Row is one ancillary-table row, column to value.
type Row map[string]string

type state struct {
	tenants  map[string]tenant
	sessions map[string]session
	assets   map[assetKey]models.Asset
	usage    map[string]map[models.Category]int64
	tables   map[string][]Row
	audit    []models.DeletionAuditRecord
}

func (s *state) clone() *state {
	c := &state{
		tenants:  make(map[string]tenant, len(s.tenants)),
		sessions: make(map[string]session, len(s.sessions)),
		assets:   make(map[assetKey]models.Asset, len(s.assets)),
		usage:    make(map[string]map[models.Category]int64, len(s.usage)),
		tables:   make(map[string][]Row, len(s.tables)),
		audit:    append([]models.DeletionAuditRecord(nil), s.audit...),
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.sessions {
		v.collection = append([]string(nil), v.collection...)
		c.sessions[k] = v
	}
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.usage {
		m := make(map[models.Category]int64, len(v))
		for cat, n := range v {
			m[cat] = n
		}
		c.usage[k] = m
	}
	for k, rows := range s.tables {
		c.tables[k] = append([]Row{}, rows...)
	}
	return c
}

// Catalog is the in-memory store.
type Catalog struct {
	txMu sync.Mutex // held for the life of a transaction

	mu     sync.RWMutex
	state  *state
	faults map[string]error
	counts map[string]int
}

var _ catalog.Store = (*Catalog)(nil)

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		state: &state{
			tenants:  make(map[string]tenant),
			sessions: make(map[string]session),
			assets:   make(map[assetKey]models.Asset),
			usage:    make(map[string]map[models.Category]int64),
			tables:   make(map[string][]Row),
		},
		faults: make(map[string]error),
		counts: make(map[string]int),
	}
}

// AddTenant registers a tenant.
func (c *Catalog) AddTenant(id, name string, quota int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.tenants[id] = tenant{name: name, quota: quota}
}

// AddSession registers a session with an empty collection.
func (c *Catalog) AddSession(tenantID, id, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.sessions[id] = session{tenantID: tenantID, label: label}
}

// CreateTable declares an ancillary table. Rules naming undeclared tables
// fail with catalog.ErrTableMissing.
func (c *Catalog) CreateTable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.tables[name]; !ok {
		c.state.tables[name] = []Row{}
	}
}

// InsertRow adds a row to a declared table.
func (c *Catalog) InsertRow(table string, row Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.state.tables[table]
	if !ok {
		return fmt.Errorf("%s: %w", table, catalog.ErrTableMissing)
	}
	c.state.tables[table] = append(rows, row)
	return nil
}

// Rows returns a copy of a table's committed rows.
func (c *Catalog) Rows(table string) []Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Row(nil), c.state.tables[table]...)
}

// Audit returns the committed audit trail.
func (c *Catalog) Audit() []models.DeletionAuditRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.DeletionAuditRecord(nil), c.state.audit...)
}

// FailOn makes every subsequent call of op fail with err. A nil err clears it.
func (c *Catalog) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.faults, op)
		return
	}
	c.faults[op] = err
}

// Calls returns how many times op ran, failed or not.
func (c *Catalog) Calls(op string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[op]
}

func (c *Catalog) hit(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op]++
	if err := c.faults[op]; err != nil {
		return &catalog.RelationalError{Op: op, Err: err}
	}
	return nil
}

// Begin starts a transaction, blocking while another is open.
func (c *Catalog) Begin(ctx context.Context) (catalog.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.txMu.Lock()
	c.mu.RLock()
	work := c.state.clone()
	c.mu.RUnlock()
	return &tx{c: c, work: work}, nil
}

func (c *Catalog) GetAsset(_ context.Context, sessionID, filename string) (*models.Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.state.assets[assetKey{sessionID, filename}]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &a, nil
}

func (c *Catalog) ListAssets(_ context.Context, sessionID string) ([]models.Asset, error) {
	if err := c.hit(OpListAssets); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Asset
	for k, a := range c.state.assets {
		if k.sessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (c *Catalog) LatestDeletion(_ context.Context, sessionID, filename string) (*models.DeletionAuditRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.state.audit) - 1; i >= 0; i-- {
		r := c.state.audit[i]
		if r.SessionID == sessionID && r.Filename == filename {
			return &r, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (c *Catalog) Collection(_ context.Context, sessionID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.state.sessions[sessionID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return append([]string(nil), s.collection...), nil
}

func (c *Catalog) Usage(_ context.Context, tenantID string) (map[models.Category]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.Category]int64)
	for cat, n := range c.state.usage[tenantID] {
		out[cat] = n
	}
	return out, nil
}

func (c *Catalog) TenantQuota(_ context.Context, tenantID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.state.tenants[tenantID]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	return t.quota, nil
}

func (c *Catalog) CountMatches(_ context.Context, rule catalog.CleanupRule, target catalog.Target) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, ok := c.state.tables[rule.Table]
	if !ok {
		return 0, fmt.Errorf("%s: %w", rule.Table, catalog.ErrTableMissing)
	}
	n := 0
	for _, r := range rows {
		if matches(r, rule, target) {
			n++
		}
	}
	return n, nil
}

func (c *Catalog) ListSessions(_ context.Context) ([]catalog.SessionRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.SessionRef, 0, len(c.state.sessions))
	for id, s := range c.state.sessions {
		out = append(out, catalog.SessionRef{TenantID: s.tenantID, SessionID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (c *Catalog) TenantName(_ context.Context, tenantID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.state.tenants[tenantID]
	if !ok {
		return "", fmt.Errorf("tenant %s: %w", tenantID, catalog.ErrNotFound)
	}
	return t.name, nil
}

func (c *Catalog) SessionName(_ context.Context, tenantID, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.state.sessions[sessionID]
	if !ok || s.tenantID != tenantID {
		return "", fmt.Errorf("session %s: %w", sessionID, catalog.ErrNotFound)
	}
	return s.label, nil
}

func matches(r Row, rule catalog.CleanupRule, target catalog.Target) bool {
	for _, col := range rule.MatchColumns {
		want, _ := target.Value(col)
		if r[col] != want {
			return false
		}
	}
	return true
}

type tx struct {
	c    *Catalog
	work *state
	done bool
}

var errTxDone = errors.New("memcatalog: transaction already finished")

func (t *tx) check(op string) error {
	if t.done {
		return errTxDone
	}
	return t.c.hit(op)
}

func (t *tx) InsertAsset(_ context.Context, a *models.Asset) error {
	if err := t.check(OpInsertAsset); err != nil {
		return err
	}
	k := assetKey{a.SessionID, a.Filename}
	if _, ok := t.work.assets[k]; ok {
		return fmt.Errorf("%s/%s: %w", a.SessionID, a.Filename, catalog.ErrDuplicate)
	}
	t.work.assets[k] = *a
	return nil
}

func (t *tx) DeleteAsset(_ context.Context, sessionID, filename string) (bool, error) {
	if err := t.check(OpDeleteAsset); err != nil {
		return false, err
	}
	k := assetKey{sessionID, filename}
	_, ok := t.work.assets[k]
	delete(t.work.assets, k)
	return ok, nil
}

func (t *tx) AdjustUsage(_ context.Context, tenantID string, category models.Category, delta int64) error {
	if err := t.check(OpAdjustUsage); err != nil {
		return err
	}
	m, ok := t.work.usage[tenantID]
	if !ok {
		m = make(map[models.Category]int64)
		t.work.usage[tenantID] = m
	}
	n := m[category] + delta
	if n < 0 {
		n = 0
	}
	m[category] = n
	return nil
}

func (t *tx) ApplyCleanupRule(_ context.Context, rule catalog.CleanupRule, target catalog.Target) (int64, error) {
	if err := t.check(CleanupOp(rule.Table)); err != nil {
		return 0, err
	}
	rows, ok := t.work.tables[rule.Table]
	if !ok {
		return 0, fmt.Errorf("%s: %w", rule.Table, catalog.ErrTableMissing)
	}
	kept := rows[:0:0]
	var n int64
	for _, r := range rows {
		if matches(r, rule, target) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.work.tables[rule.Table] = kept
	return n, nil
}

func (t *tx) Collection(_ context.Context, sessionID string) ([]string, error) {
	if t.done {
		return nil, errTxDone
	}
	s, ok := t.work.sessions[sessionID]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return append([]string(nil), s.collection...), nil
}

func (t *tx) SetCollection(_ context.Context, sessionID string, filenames []string) error {
	if err := t.check(OpSetCollection); err != nil {
		return err
	}
	s, ok := t.work.sessions[sessionID]
	if !ok {
		return catalog.ErrNotFound
	}
	s.collection = append([]string(nil), filenames...)
	t.work.sessions[sessionID] = s
	return nil
}

func (t *tx) AppendAudit(_ context.Context, rec *models.DeletionAuditRecord) error {
	if err := t.check(OpAppendAudit); err != nil {
		return err
	}
	t.work.audit = append(t.work.audit, *rec)
	return nil
}

func (t *tx) Commit() error {
	if err := t.check(OpCommit); err != nil {
		return err
	}
	t.c.mu.Lock()
	t.c.state = t.work
	t.c.mu.Unlock()
	t.finish()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.c.txMu.Unlock()
}
