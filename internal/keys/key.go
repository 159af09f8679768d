// Package keys computes and locates object store keys for assets under the
// current slug-based layout and the legacy id-based layout.
package keys

import (
	"path"
	"strings"
	"unicode"

	"github.com/fruitsalade/studiovault/internal/models"
)

// Scheme identifies the addressing layout a Key was built with.
type Scheme int

const (
	// Current addresses assets by tenant and session slugs. All writes use it.
	Current Scheme = iota
	// Legacy addresses assets by raw tenant and session ids. Read-only.
	Legacy
)

func (s Scheme) String() string {
	if s == Legacy {
		return "legacy"
	}
	return "current"
}

// ManifestName is the backup index document stored at each session root.
const ManifestName = "backup_index.json"

// Key is a storage key in one of the two schemes. For Current keys Tenant
// and Session hold slugs, for Legacy keys they hold raw ids.
type Key struct {
	Scheme   Scheme
	Tenant   string
	Session  string
	Category models.Category
	Filename string
}

// NewCurrent builds a Current key from display names.
func NewCurrent(tenantName, sessionName string, category models.Category, filename string) Key {
	return Key{
		Scheme:   Current,
		Tenant:   Slugify(tenantName),
		Session:  Slugify(sessionName),
		Category: category,
		Filename: SanitizeFilename(filename),
	}
}

// NewLegacy builds a Legacy key from raw ids.
func NewLegacy(tenantID, sessionID string, category models.Category, filename string) Key {
	return Key{
		Scheme:   Legacy,
		Tenant:   tenantID,
		Session:  sessionID,
		Category: category,
		Filename: SanitizeFilename(filename),
	}
}

// SessionRoot returns the session directory of k, without a trailing slash.
func (k Key) SessionRoot() string {
	if k.Scheme == Legacy {
		return "tenants/" + k.Tenant + "/sessions/" + k.Session
	}
	return "tenant-" + k.Tenant + "/session-" + k.Session
}

// String returns the object key.
func (k Key) String() string {
	return k.SessionRoot() + "/" + string(k.Category) + "/" + k.Filename
}

// CurrentSessionPrefix returns the session prefix for slugs, with trailing slash.
func CurrentSessionPrefix(tenantSlug, sessionSlug string) string {
	return "tenant-" + tenantSlug + "/session-" + sessionSlug + "/"
}

// CurrentTenantPrefix returns the tenant prefix for a slug, with trailing slash.
func CurrentTenantPrefix(tenantSlug string) string {
	return "tenant-" + tenantSlug + "/"
}

// LegacySessionPrefix returns the legacy session prefix for raw ids.
func LegacySessionPrefix(tenantID, sessionID string) string {
	return "tenants/" + tenantID + "/sessions/" + sessionID + "/"
}

// LegacyTenantPrefixes lists the historical tenant prefixes in the order
// they should be tried.
func LegacyTenantPrefixes(tenantID string) []string {
	return []string{
		"tenants/" + tenantID + "/",
		"photographer-" + tenantID + "/",
		tenantID + "/",
	}
}

// ManifestKey returns the backup index key for a session.
func ManifestKey(tenantSlug, sessionSlug string) string {
	return CurrentSessionPrefix(tenantSlug, sessionSlug) + ManifestName
}

// IsManifest reports whether key is a backup index document.
func IsManifest(key string) bool {
	return path.Base(key) == ManifestName
}

func isSeparator(r rune) bool {
	return r == '-' || r == '_' || r == '.'
}

func keep(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || isSeparator(r))
}

// clean maps s onto [A-Za-z0-9._-], turning whitespace into space and
// collapsing separator runs to their first character.
func clean(s string, space rune) string {
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if unicode.IsSpace(r) {
			r = space
		}
		if !keep(r) {
			continue
		}
		if isSeparator(r) && isSeparator(prev) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// Slugify turns a display name into a key segment. It is deterministic:
// the same input always yields the same slug.
func Slugify(name string) string {
	s := strings.ToLower(clean(name, '-'))
	s = strings.TrimFunc(s, isSeparator)
	if s == "" {
		return "unnamed"
	}
	return s
}

// SanitizeFilename strips any directory part and characters outside the
// key alphabet. Case is preserved.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	s := clean(name, '_')
	s = strings.TrimLeft(s, "._-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// CategoryFromKey infers a category from the path segments of key. The
// second return is false when no segment names a category.
func CategoryFromKey(key string) (models.Category, bool) {
	if strings.HasPrefix(key, ThumbPrefix) {
		return models.CategoryThumbnails, true
	}
	segments := strings.Split(key, "/")
	for i := len(segments) - 2; i >= 0; i-- {
		switch c := models.Category(segments[i]); c {
		case models.CategoryGallery, models.CategoryRaw, models.CategoryDocuments,
			models.CategoryOther, models.CategoryThumbnails:
			return c, true
		}
	}
	return "", false
}
