// Package postgres provides a PostgreSQL-backed catalog with metrics.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store is a PostgreSQL catalog.
type Store struct {
	db *sql.DB
}

var _ catalog.Store = (*Store)(nil)

// New opens the database and checks connectivity.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in name order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

func observe(query string) func() {
	start := time.Now()
	return func() { metrics.RecordDBQuery(query, time.Since(start)) }
}

func isCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// matchClause renders "a = $n AND b = $n+1" for rule, starting at $start.
func matchClause(rule catalog.CleanupRule, target catalog.Target, start int) (string, []any) {
	parts := make([]string, 0, len(rule.MatchColumns))
	args := make([]any, 0, len(rule.MatchColumns))
	for i, col := range rule.MatchColumns {
		v, _ := target.Value(col)
		parts = append(parts, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), start+i))
		args = append(args, v)
	}
	return strings.Join(parts, " AND "), args
}

const assetColumns = `tenant_id, session_id, filename, category, size_bytes, content_type, storage_key, uploaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*models.Asset, error) {
	var a models.Asset
	var category string
	if err := row.Scan(&a.TenantID, &a.SessionID, &a.Filename, &category,
		&a.SizeBytes, &a.ContentType, &a.StorageKey, &a.UploadedAt); err != nil {
		return nil, err
	}
	a.Category = models.Category(category)
	return &a, nil
}

// GetAsset returns the asset row for (session, filename).
func (s *Store) GetAsset(ctx context.Context, sessionID, filename string) (*models.Asset, error) {
	defer observe("get_asset")()

	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE session_id = $1 AND filename = $2`,
		sessionID, filename))
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, catalog.Wrap("get_asset", err)
	}
	return a, nil
}

// ListAssets returns every asset of a session ordered by filename.
func (s *Store) ListAssets(ctx context.Context, sessionID string) ([]models.Asset, error) {
	defer observe("list_assets")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE session_id = $1 ORDER BY filename`, sessionID)
	if err != nil {
		return nil, catalog.Wrap("list_assets", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, catalog.Wrap("list_assets", err)
		}
		out = append(out, *a)
	}
	return out, catalog.Wrap("list_assets", rows.Err())
}

// LatestDeletion returns the most recent audit record for (session, filename).
func (s *Store) LatestDeletion(ctx context.Context, sessionID, filename string) (*models.DeletionAuditRecord, error) {
	defer observe("latest_deletion")()

	var r models.DeletionAuditRecord
	var category string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, session_id, filename, size_reclaimed, category, storage_key, deleted_at, method
		 FROM deletion_audit WHERE session_id = $1 AND filename = $2
		 ORDER BY deleted_at DESC LIMIT 1`, sessionID, filename).
		Scan(&r.ID, &r.TenantID, &r.SessionID, &r.Filename, &r.SizeReclaimed,
			&category, &r.StorageKey, &r.DeletedAt, &r.Method)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, catalog.Wrap("latest_deletion", err)
	}
	r.Category = models.Category(category)
	return &r, nil
}

// Collection returns the session's ordered photo list.
func (s *Store) Collection(ctx context.Context, sessionID string) ([]string, error) {
	defer observe("get_collection")()
	return collection(ctx, s.db, sessionID, false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func collection(ctx context.Context, q querier, sessionID string, forUpdate bool) ([]string, error) {
	query := `SELECT photo_order FROM sessions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var order pq.StringArray
	err := q.QueryRowContext(ctx, query, sessionID).Scan(&order)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, catalog.Wrap("get_collection", err)
	}
	return []string(order), nil
}

// Usage returns the tenant's per-category usage counters.
func (s *Store) Usage(ctx context.Context, tenantID string) (map[models.Category]int64, error) {
	defer observe("get_usage")()

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, bytes FROM tenant_usage WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, catalog.Wrap("get_usage", err)
	}
	defer rows.Close()

	out := make(map[models.Category]int64)
	for rows.Next() {
		var category string
		var n int64
		if err := rows.Scan(&category, &n); err != nil {
			return nil, catalog.Wrap("get_usage", err)
		}
		out[models.Category(category)] = n
	}
	return out, catalog.Wrap("get_usage", rows.Err())
}

// TenantQuota returns the tenant's quota in bytes; 0 means unlimited.
func (s *Store) TenantQuota(ctx context.Context, tenantID string) (int64, error) {
	defer observe("get_quota")()

	var quota int64
	err := s.db.QueryRowContext(ctx,
		`SELECT quota_bytes FROM tenants WHERE id = $1`, tenantID).Scan(&quota)
	if err == sql.ErrNoRows {
		return 0, catalog.ErrNotFound
	}
	return quota, catalog.Wrap("get_quota", err)
}

// CountMatches counts rows in rule.Table matching target.
func (s *Store) CountMatches(ctx context.Context, rule catalog.CleanupRule, target catalog.Target) (int, error) {
	defer observe("count_matches")()

	where, args := matchClause(rule, target, 1)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+pq.QuoteIdentifier(rule.Table)+` WHERE `+where, args...).Scan(&n)
	if isCode(err, undefinedTable) {
		return 0, fmt.Errorf("%s: %w", rule.Table, catalog.ErrTableMissing)
	}
	return n, catalog.Wrap("count_matches", err)
}

// ListSessions returns every session.
func (s *Store) ListSessions(ctx context.Context) ([]catalog.SessionRef, error) {
	defer observe("list_sessions")()

	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, id FROM sessions ORDER BY tenant_id, id`)
	if err != nil {
		return nil, catalog.Wrap("list_sessions", err)
	}
	defer rows.Close()

	var out []catalog.SessionRef
	for rows.Next() {
		var r catalog.SessionRef
		if err := rows.Scan(&r.TenantID, &r.SessionID); err != nil {
			return nil, catalog.Wrap("list_sessions", err)
		}
		out = append(out, r)
	}
	return out, catalog.Wrap("list_sessions", rows.Err())
}

// TenantName returns the tenant's display name.
func (s *Store) TenantName(ctx context.Context, tenantID string) (string, error) {
	defer observe("tenant_name")()

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM tenants WHERE id = $1`, tenantID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("tenant %s: %w", tenantID, catalog.ErrNotFound)
	}
	return name, catalog.Wrap("tenant_name", err)
}

// SessionName returns the session label.
func (s *Store) SessionName(ctx context.Context, tenantID, sessionID string) (string, error) {
	defer observe("session_name")()

	var label string
	err := s.db.QueryRowContext(ctx,
		`SELECT label FROM sessions WHERE id = $1 AND tenant_id = $2`, sessionID, tenantID).Scan(&label)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("session %s: %w", sessionID, catalog.ErrNotFound)
	}
	return label, catalog.Wrap("session_name", err)
}
