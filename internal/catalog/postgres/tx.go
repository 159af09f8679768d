package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/models"
)

// Tx is a catalog transaction over *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (catalog.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, catalog.Wrap("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// InsertAsset inserts a new asset row.
func (t *Tx) InsertAsset(ctx context.Context, a *models.Asset) error {
	defer observe("insert_asset")()

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO assets (`+assetColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.TenantID, a.SessionID, a.Filename, string(a.Category), a.SizeBytes,
		a.ContentType, a.StorageKey, a.UploadedAt)
	if isCode(err, uniqueViolation) {
		return fmt.Errorf("%s/%s: %w", a.SessionID, a.Filename, catalog.ErrDuplicate)
	}
	return catalog.Wrap("insert_asset", err)
}

// DeleteAsset deletes the asset row and reports whether one existed.
func (t *Tx) DeleteAsset(ctx context.Context, sessionID, filename string) (bool, error) {
	defer observe("delete_asset")()

	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM assets WHERE session_id = $1 AND filename = $2`, sessionID, filename)
	if err != nil {
		return false, catalog.Wrap("delete_asset", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, catalog.Wrap("delete_asset", err)
	}
	return n > 0, nil
}

// AdjustUsage adds delta to the tenant's counter for category, flooring at zero.
func (t *Tx) AdjustUsage(ctx context.Context, tenantID string, category models.Category, delta int64) error {
	defer observe("adjust_usage")()

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tenant_usage (tenant_id, category, bytes) VALUES ($1, $2, GREATEST($3, 0))
		 ON CONFLICT (tenant_id, category) DO UPDATE SET
		   bytes = GREATEST(tenant_usage.bytes + $3, 0)`,
		tenantID, string(category), delta)
	return catalog.Wrap("adjust_usage", err)
}

// ApplyCleanupRule deletes rows of rule.Table matching target. Optional
// rules run under a savepoint so a missing table or other failure does not
// poison the transaction.
func (t *Tx) ApplyCleanupRule(ctx context.Context, rule catalog.CleanupRule, target catalog.Target) (int64, error) {
	defer observe("cleanup_" + rule.Table)()

	where, args := matchClause(rule, target, 1)
	query := `DELETE FROM ` + pq.QuoteIdentifier(rule.Table) + ` WHERE ` + where

	if rule.Required {
		res, err := t.tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isCode(err, undefinedTable) {
				return 0, &catalog.RelationalError{Op: "cleanup " + rule.Table, Err: fmt.Errorf("%s: %w", rule.Table, catalog.ErrTableMissing)}
			}
			return 0, catalog.Wrap("cleanup "+rule.Table, err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}

	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT cleanup_rule`); err != nil {
		return 0, catalog.Wrap("savepoint", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT cleanup_rule`); rbErr != nil {
			return 0, catalog.Wrap("rollback to savepoint", rbErr)
		}
		if isCode(err, undefinedTable) {
			return 0, fmt.Errorf("%s: %w", rule.Table, catalog.ErrTableMissing)
		}
		return 0, catalog.Wrap("cleanup "+rule.Table, err)
	}
	if _, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT cleanup_rule`); err != nil {
		return 0, catalog.Wrap("release savepoint", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Collection reads the session's photo list, locking the row.
func (t *Tx) Collection(ctx context.Context, sessionID string) ([]string, error) {
	defer observe("get_collection")()
	return collection(ctx, t.tx, sessionID, true)
}

// SetCollection overwrites the session's photo list.
func (t *Tx) SetCollection(ctx context.Context, sessionID string, filenames []string) error {
	defer observe("set_collection")()

	if filenames == nil {
		filenames = []string{}
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE sessions SET photo_order = $1 WHERE id = $2`, pq.Array(filenames), sessionID)
	if err != nil {
		return catalog.Wrap("set_collection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// AppendAudit inserts a deletion audit record.
func (t *Tx) AppendAudit(ctx context.Context, rec *models.DeletionAuditRecord) error {
	defer observe("append_audit")()

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO deletion_audit (id, tenant_id, session_id, filename, size_reclaimed, category, storage_key, deleted_at, method)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.TenantID, rec.SessionID, rec.Filename, rec.SizeReclaimed,
		string(rec.Category), rec.StorageKey, rec.DeletedAt, rec.Method)
	return catalog.Wrap("append_audit", err)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return catalog.Wrap("commit", t.tx.Commit())
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return catalog.Wrap("rollback", err)
}
