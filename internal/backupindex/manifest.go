// Package backupindex maintains the per-session backup index: a JSON
// manifest of live assets stored next to them in the object store. The
// manifest is a cache over the store listing and can always be rebuilt
// from it.
package backupindex

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

// Manifest is the backup index document of one session.
type Manifest struct {
	SessionID      string                `json:"sessionId"`
	TenantID       string                `json:"tenantId"`
	Files          []models.AssetSummary `json:"files"`
	TotalFiles     int                   `json:"totalFiles"`
	TotalSizeBytes int64                 `json:"totalSizeBytes"`
	LastUpdated    time.Time             `json:"lastUpdated"`
}

func empty(tenantID, sessionID string) *Manifest {
	return &Manifest{
		TenantID:  tenantID,
		SessionID: sessionID,
		Files:     []models.AssetSummary{},
	}
}

// Find returns the entry for filename.
func (m *Manifest) Find(filename string) (models.AssetSummary, bool) {
	for _, f := range m.Files {
		if f.Filename == filename {
			return f, true
		}
	}
	return models.AssetSummary{}, false
}

// Consistent reports whether the totals agree with the file list.
func (m *Manifest) Consistent() bool {
	var size int64
	for _, f := range m.Files {
		size += f.SizeBytes
	}
	return m.TotalFiles == len(m.Files) && m.TotalSizeBytes == size
}

func (m *Manifest) recompute() {
	var size int64
	for _, f := range m.Files {
		size += f.SizeBytes
	}
	m.TotalFiles = len(m.Files)
	m.TotalSizeBytes = size
}

// upsert replaces any entry with the same filename and appends s.
func (m *Manifest) upsert(s models.AssetSummary) {
	m.drop(map[string]bool{s.Filename: true})
	m.Files = append(m.Files, s)
	m.recompute()
}

// drop removes entries whose filename is in names and reports whether
// anything was removed.
func (m *Manifest) drop(names map[string]bool) bool {
	kept := m.Files[:0]
	for _, f := range m.Files {
		if !names[f.Filename] {
			kept = append(kept, f)
		}
	}
	removed := len(kept) != len(m.Files)
	m.Files = kept
	m.recompute()
	return removed
}

// fromListing builds manifest entries from a raw store listing. The
// manifest itself and derivatives are skipped. A {stem}_{size}.jpg next to
// a {stem} primary counts as a derivative unless catalogued holds its key.
// The first key seen for a filename wins.
func fromListing(listing []objstore.ObjectSummary, catalogued map[string]bool) []models.AssetSummary {
	stems := make(map[string]bool, len(listing))
	for _, o := range listing {
		dir, file := path.Split(o.Key)
		stems[dir+strings.TrimSuffix(file, path.Ext(file))] = true
	}

	seen := make(map[string]bool, len(listing))
	files := make([]models.AssetSummary, 0, len(listing))
	for _, o := range listing {
		if keys.IsManifest(o.Key) || keys.IsDerivative(o.Key) {
			continue
		}
		if dir, stem, ok := keys.SuffixedVariantOf(o.Key); ok && stems[dir+stem] && !catalogued[o.Key] {
			continue
		}
		name := path.Base(o.Key)
		if seen[name] {
			continue
		}
		seen[name] = true

		category, ok := keys.CategoryFromKey(o.Key)
		if !ok {
			category = models.CategoryForExtension(name)
		}
		files = append(files, models.AssetSummary{
			Filename:       name,
			StorageKey:     o.Key,
			Category:       category,
			SizeBytes:      o.Size,
			UploadedAt:     o.LastModified,
			OriginalFormat: models.Extension(name),
			ContentType:    models.ContentTypeFor(name),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].StorageKey < files[j].StorageKey })
	return files
}
