// Package catalog defines the relational metadata the storage layer keeps
// consistent with the object store: asset rows, per-category usage
// counters, session photo collections, ancillary tables and the deletion
// audit trail.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fruitsalade/studiovault/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrTableMissing is returned when a cleanup rule names a table this
	// deployment does not have.
	ErrTableMissing = errors.New("catalog: table does not exist")
	// ErrDuplicate is returned when an asset already exists for (session, filename).
	ErrDuplicate = errors.New("catalog: asset already exists")
)

// RelationalError wraps a database failure with the operation that hit it.
type RelationalError struct {
	Op  string
	Err error
}

func (e *RelationalError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *RelationalError) Unwrap() error { return e.Err }

// Wrap returns err as a *RelationalError unless it is nil or already a
// catalog sentinel.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTableMissing) || errors.Is(err, ErrDuplicate) {
		return err
	}
	var re *RelationalError
	if errors.As(err, &re) {
		return err
	}
	return &RelationalError{Op: op, Err: err}
}

// Target identifies the asset a cleanup rule matches rows for.
type Target struct {
	TenantID   string
	SessionID  string
	Filename   string
	StorageKey string
}

// Value returns the target field a match column refers to.
func (t Target) Value(column string) (string, bool) {
	switch column {
	case "tenant_id":
		return t.TenantID, true
	case "session_id":
		return t.SessionID, true
	case "filename":
		return t.Filename, true
	case "storage_key":
		return t.StorageKey, true
	}
	return "", false
}

// SessionRef names a session.
type SessionRef struct {
	TenantID  string
	SessionID string
}

// Store is the read side of the catalog plus transaction entry.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetAsset(ctx context.Context, sessionID, filename string) (*models.Asset, error)
	ListAssets(ctx context.Context, sessionID string) ([]models.Asset, error)
	LatestDeletion(ctx context.Context, sessionID, filename string) (*models.DeletionAuditRecord, error)
	Collection(ctx context.Context, sessionID string) ([]string, error)
	Usage(ctx context.Context, tenantID string) (map[models.Category]int64, error)
	TenantQuota(ctx context.Context, tenantID string) (int64, error)
	CountMatches(ctx context.Context, rule CleanupRule, target Target) (int, error)
	ListSessions(ctx context.Context) ([]SessionRef, error)

	TenantName(ctx context.Context, tenantID string) (string, error)
	SessionName(ctx context.Context, tenantID, sessionID string) (string, error)
}

// Tx is one relational transaction. Rollback after Commit is a no-op.
type Tx interface {
	InsertAsset(ctx context.Context, a *models.Asset) error
	DeleteAsset(ctx context.Context, sessionID, filename string) (bool, error)
	AdjustUsage(ctx context.Context, tenantID string, category models.Category, delta int64) error
	ApplyCleanupRule(ctx context.Context, rule CleanupRule, target Target) (int64, error)
	Collection(ctx context.Context, sessionID string) ([]string, error)
	SetCollection(ctx context.Context, sessionID string, filenames []string) error
	AppendAudit(ctx context.Context, rec *models.DeletionAuditRecord) error

	Commit() error
	Rollback() error
}

// CleanupRule declares an ancillary table whose rows referencing a deleted
// asset are removed. Optional rules tolerate the table being absent.
type CleanupRule struct {
	Table        string
	MatchColumns []string
	Required     bool
}

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the rule names a plain table and known match columns.
func (r CleanupRule) Validate() error {
	if !identifier.MatchString(r.Table) {
		return fmt.Errorf("invalid table name %q", r.Table)
	}
	if len(r.MatchColumns) == 0 {
		return fmt.Errorf("table %s: no match columns", r.Table)
	}
	for _, c := range r.MatchColumns {
		if _, ok := (Target{}).Value(c); !ok {
			return fmt.Errorf("table %s: unsupported match column %q", r.Table, c)
		}
	}
	return nil
}

// DefaultCleanupRules are the ancillary tables of a standard deployment.
func DefaultCleanupRules() []CleanupRule {
	match := []string{"session_id", "filename"}
	return []CleanupRule{
		{Table: "download_entitlements", MatchColumns: match, Required: true},
		{Table: "download_history", MatchColumns: match},
		{Table: "access_tokens", MatchColumns: match},
		{Table: "asset_transactions", MatchColumns: match},
	}
}
