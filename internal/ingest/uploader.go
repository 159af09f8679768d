// Package ingest stores new assets and records them in the catalog and the
// session backup index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/catalog"
	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/metrics"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

var (
	ErrExists          = errors.New("asset already exists")
	ErrInvalidCategory = errors.New("invalid category")
	ErrEmptyBody       = errors.New("empty upload")
)

// ObjectStore is the part of the object store client uploads need.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error)
	Delete(ctx context.Context, key string) error
	Durable() bool
}

// KeyResolver maps an asset to its write key.
type KeyResolver interface {
	ResolveWriteKey(ctx context.Context, tenantID, sessionID, filename string, category models.Category) (keys.Key, error)
}

// Manifests records assets in the session backup index.
type Manifests interface {
	Add(ctx context.Context, tenantID, sessionID string, summary models.AssetSummary) error
}

// Thumbnailer renders derivatives of an image asset.
type Thumbnailer interface {
	Generate(ctx context.Context, primaryKey string, body []byte) ([]string, error)
}

// Request is one upload. Category and ContentType are inferred from the
// filename when empty.
type Request struct {
	TenantID    string
	SessionID   string
	Filename    string
	Category    models.Category
	ContentType string
	Body        []byte
}

// Result describes a stored asset.
type Result struct {
	Asset       models.Asset
	Derivatives []string
	// NonDurable is set when the object only reached the local fallback.
	NonDurable bool
	// Warnings are failures after the catalog commit. The asset is stored.
	Warnings []error
}

// Uploader runs uploads.
type Uploader struct {
	catalog   catalog.Store
	objects   ObjectStore
	resolver  KeyResolver
	manifests Manifests
	thumbs    Thumbnailer
	now       func() time.Time
}

// NewUploader creates an Uploader. thumbs may be nil to skip derivatives.
func NewUploader(cat catalog.Store, store ObjectStore, resolver KeyResolver, manifests Manifests, thumbs Thumbnailer) *Uploader {
	return &Uploader{
		catalog:   cat,
		objects:   store,
		resolver:  resolver,
		manifests: manifests,
		thumbs:    thumbs,
		now:       time.Now,
	}
}

// Upload records the asset row, the usage increment and the collection
// append in one transaction and writes the object before committing it.
// Nothing is written when the relational steps fail.
func (u *Uploader) Upload(ctx context.Context, req Request) (res *Result, err error) {
	defer func() { metrics.RecordUpload(err == nil) }()

	filename := keys.SanitizeFilename(req.Filename)
	category := req.Category
	if category == "" {
		category = models.CategoryForExtension(filename)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%q: %w", category, ErrInvalidCategory)
	}
	if len(req.Body) == 0 {
		return nil, ErrEmptyBody
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = models.ContentTypeFor(filename)
	}

	log := logging.WithContext(ctx).With(
		logging.Tenant(req.TenantID), logging.Session(req.SessionID), zap.String("filename", filename))

	switch _, err := u.catalog.GetAsset(ctx, req.SessionID, filename); {
	case err == nil:
		return nil, fmt.Errorf("%s/%s: %w", req.SessionID, filename, ErrExists)
	case !errors.Is(err, catalog.ErrNotFound):
		return nil, err
	}

	key, err := u.resolver.ResolveWriteKey(ctx, req.TenantID, req.SessionID, filename, category)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	asset := models.Asset{
		TenantID:    req.TenantID,
		SessionID:   req.SessionID,
		Filename:    filename,
		Category:    category,
		SizeBytes:   int64(len(req.Body)),
		ContentType: contentType,
		StorageKey:  key.String(),
		UploadedAt:  now,
	}

	meta := map[string]string{
		objstore.MetaOriginalFilename: req.Filename,
		objstore.MetaTenantID:         req.TenantID,
		objstore.MetaSessionID:        req.SessionID,
		objstore.MetaCategory:         string(category),
		objstore.MetaUploadedAt:       now.Format(time.RFC3339),
	}
	durable, err := u.persist(ctx, &asset, req.Body, meta, log)
	if err != nil {
		return nil, err
	}

	res = &Result{Asset: asset, NonDurable: !durable}

	if err := u.manifests.Add(ctx, req.TenantID, req.SessionID, asset.Summary()); err != nil {
		log.Warn("manifest update failed", zap.Error(err))
		res.Warnings = append(res.Warnings, fmt.Errorf("manifest: %w", err))
	}

	if u.thumbs != nil && models.IsThumbnailable(filename) {
		written, err := u.thumbs.Generate(ctx, asset.StorageKey, req.Body)
		res.Derivatives = written
		if err != nil {
			log.Warn("derivative generation failed", zap.Error(err))
			res.Warnings = append(res.Warnings, fmt.Errorf("derivatives: %w", err))
		}
	}

	log.Info("asset uploaded",
		zap.String("key", asset.StorageKey),
		zap.Int64("size", asset.SizeBytes),
		zap.Bool("non_durable", res.NonDurable))
	return res, nil
}

// persist reserves the asset row, writes the object and commits. The row
// insert holds the (session, filename) slot for the whole transaction, so a
// concurrent upload of the same name fails before it touches the object.
// A failed commit deletes the object again.
func (u *Uploader) persist(ctx context.Context, a *models.Asset, body []byte, meta map[string]string, log *zap.Logger) (bool, error) {
	tx, err := u.catalog.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := tx.InsertAsset(ctx, a); err != nil {
		if errors.Is(err, catalog.ErrDuplicate) {
			return false, fmt.Errorf("%s/%s: %w", a.SessionID, a.Filename, ErrExists)
		}
		return false, err
	}
	if err := tx.AdjustUsage(ctx, a.TenantID, a.Category, a.SizeBytes); err != nil {
		return false, err
	}
	order, err := tx.Collection(ctx, a.SessionID)
	if err != nil {
		return false, fmt.Errorf("collection: %w", err)
	}
	if err := tx.SetCollection(ctx, a.SessionID, append(order, a.Filename)); err != nil {
		return false, err
	}

	durable := u.objects.Durable()
	if _, err := u.objects.Put(ctx, a.StorageKey, body, a.ContentType, meta); err != nil {
		return false, fmt.Errorf("store %s: %w", a.StorageKey, err)
	}

	if err := tx.Commit(); err != nil {
		if delErr := u.objects.Delete(ctx, a.StorageKey); delErr != nil {
			log.Error("orphaned object after failed catalog commit",
				zap.String("key", a.StorageKey), zap.Error(delErr))
		}
		return false, err
	}
	return durable, nil
}
