package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/logging"
	"github.com/fruitsalade/studiovault/internal/models"
)

// ErrNotFound is returned by ResolveReadKey when neither scheme holds the asset.
var ErrNotFound = errors.New("asset key not found")

// Directory supplies the display names slugs are built from.
type Directory interface {
	TenantName(ctx context.Context, tenantID string) (string, error)
	SessionName(ctx context.Context, tenantID, sessionID string) (string, error)
}

// Header is the part of the object store the resolver needs.
type Header interface {
	Head(ctx context.Context, key string) (bool, error)
}

type nameKey struct {
	tenantID, sessionID string
}

type slugs struct {
	tenant, session string
}

// Resolver maps tenant/session/file coordinates onto storage keys.
//
// Slugs are cached for the life of the process keyed by (tenant, session)
// and never invalidated; a rename is not seen until restart.
type Resolver struct {
	store Header
	dir   Directory

	mu    sync.RWMutex
	names map[nameKey]slugs
}

// NewResolver creates a resolver.
func NewResolver(store Header, dir Directory) *Resolver {
	return &Resolver{
		store: store,
		dir:   dir,
		names: make(map[nameKey]slugs),
	}
}

// Slugs returns the cached tenant and session slugs, looking them up on
// first use. An empty sessionID resolves only the tenant slug.
func (r *Resolver) Slugs(ctx context.Context, tenantID, sessionID string) (string, string, error) {
	k := nameKey{tenantID, sessionID}

	r.mu.RLock()
	s, ok := r.names[k]
	r.mu.RUnlock()
	if ok {
		return s.tenant, s.session, nil
	}

	tenantName, err := r.dir.TenantName(ctx, tenantID)
	if err != nil {
		return "", "", fmt.Errorf("tenant %s name: %w", tenantID, err)
	}
	s.tenant = Slugify(tenantName)
	if sessionID != "" {
		sessionName, err := r.dir.SessionName(ctx, tenantID, sessionID)
		if err != nil {
			return "", "", fmt.Errorf("session %s name: %w", sessionID, err)
		}
		s.session = Slugify(sessionName)
	}

	r.mu.Lock()
	if cached, ok := r.names[k]; ok {
		s = cached
	} else {
		r.names[k] = s
	}
	r.mu.Unlock()
	return s.tenant, s.session, nil
}

// ResolveWriteKey returns the key a new asset is written to. It is always
// a Current key.
func (r *Resolver) ResolveWriteKey(ctx context.Context, tenantID, sessionID, filename string, category models.Category) (Key, error) {
	tenant, session, err := r.Slugs(ctx, tenantID, sessionID)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Scheme:   Current,
		Tenant:   tenant,
		Session:  session,
		Category: category,
		Filename: SanitizeFilename(filename),
	}, nil
}

// ResolveReadKey locates an existing asset: the Current key if present,
// otherwise the Legacy key. When neither exists it returns the Current key
// and ErrNotFound.
func (r *Resolver) ResolveReadKey(ctx context.Context, tenantID, sessionID, filename string, category models.Category) (Key, error) {
	current, err := r.ResolveWriteKey(ctx, tenantID, sessionID, filename, category)
	if err != nil {
		return Key{}, err
	}

	ok, err := r.store.Head(ctx, current.String())
	if err != nil {
		return Key{}, fmt.Errorf("head %s: %w", current, err)
	}
	if ok {
		return current, nil
	}

	legacy := NewLegacy(tenantID, sessionID, category, filename)
	ok, err = r.store.Head(ctx, legacy.String())
	if err != nil {
		return Key{}, fmt.Errorf("head %s: %w", legacy, err)
	}
	if ok {
		logging.Debug("resolved legacy key",
			logging.Tenant(tenantID),
			logging.Session(sessionID),
			zap.String("key", legacy.String()))
		return legacy, nil
	}
	return current, fmt.Errorf("%s: %w", filename, ErrNotFound)
}

// SessionPrefix returns the Current prefix of a session.
func (r *Resolver) SessionPrefix(ctx context.Context, tenantID, sessionID string) (string, error) {
	tenant, session, err := r.Slugs(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	return CurrentSessionPrefix(tenant, session), nil
}

// TenantPrefix returns the Current prefix of a tenant.
func (r *Resolver) TenantPrefix(ctx context.Context, tenantID string) (string, error) {
	tenant, _, err := r.Slugs(ctx, tenantID, "")
	if err != nil {
		return "", err
	}
	return CurrentTenantPrefix(tenant), nil
}

// ManifestKey returns the backup index key of a session.
func (r *Resolver) ManifestKey(ctx context.Context, tenantID, sessionID string) (string, error) {
	tenant, session, err := r.Slugs(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	return ManifestKey(tenant, session), nil
}
