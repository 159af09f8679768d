// Package models holds the asset data model shared across studiovault.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Category classifies an asset inside a session.
type Category string

const (
	CategoryGallery    Category = "gallery"
	CategoryRaw        Category = "raw"
	CategoryDocuments  Category = "documents"
	CategoryOther      Category = "other"
	CategoryThumbnails Category = "thumbnails" // derivatives, usage accounting only
)

// Categories lists the categories an asset can be uploaded under.
var Categories = []Category{CategoryGallery, CategoryRaw, CategoryDocuments, CategoryOther}

// Valid reports whether c is an uploadable category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

var (
	imageExts = map[string]bool{
		"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
		"bmp": true, "tif": true, "tiff": true, "heic": true, "heif": true, "avif": true,
	}
	rawExts = map[string]bool{
		"cr2": true, "cr3": true, "nef": true, "arw": true, "dng": true, "orf": true,
		"rw2": true, "pef": true, "srw": true, "raf": true, "raw": true,
	}
	documentExts = map[string]bool{
		"pdf": true, "doc": true, "docx": true, "txt": true, "rtf": true,
		"odt": true, "xls": true, "xlsx": true, "csv": true,
	}
)

// CategoryForExtension infers a category from a filename's extension.
func CategoryForExtension(filename string) Category {
	ext := Extension(filename)
	switch {
	case imageExts[ext]:
		return CategoryGallery
	case rawExts[ext]:
		return CategoryRaw
	case documentExts[ext]:
		return CategoryDocuments
	default:
		return CategoryOther
	}
}

// Extension returns the lowercased extension without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsThumbnailable reports whether the derivative generator can decode the file.
func IsThumbnailable(filename string) bool {
	switch Extension(filename) {
	case "jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff":
		return true
	}
	return false
}

// ContentTypeFor guesses a MIME type from the extension.
func ContentTypeFor(filename string) string {
	switch ext := Extension(filename); {
	case ext == "jpg" || ext == "jpeg":
		return "image/jpeg"
	case ext == "png":
		return "image/png"
	case ext == "gif":
		return "image/gif"
	case ext == "webp":
		return "image/webp"
	case ext == "tif" || ext == "tiff":
		return "image/tiff"
	case ext == "heic" || ext == "heif":
		return "image/heic"
	case ext == "pdf":
		return "application/pdf"
	case ext == "txt":
		return "text/plain"
	case rawExts[ext]:
		return "image/x-raw"
	default:
		return "application/octet-stream"
	}
}

// Asset is one stored file belonging to a session, unique by (SessionID, Filename).
type Asset struct {
	TenantID    string    `json:"tenant_id"`
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	Category    Category  `json:"category"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Summary converts an asset into its manifest entry.
func (a *Asset) Summary() AssetSummary {
	return AssetSummary{
		Filename:       a.Filename,
		StorageKey:     a.StorageKey,
		Category:       a.Category,
		SizeBytes:      a.SizeBytes,
		UploadedAt:     a.UploadedAt,
		OriginalFormat: Extension(a.Filename),
		ContentType:    a.ContentType,
	}
}

// AssetSummary is one entry of a session manifest.
type AssetSummary struct {
	Filename       string    `json:"filename"`
	StorageKey     string    `json:"storageKey"`
	Category       Category  `json:"category"`
	SizeBytes      int64     `json:"sizeBytes"`
	UploadedAt     time.Time `json:"uploadedAt"`
	OriginalFormat string    `json:"originalFormat"`
	ContentType    string    `json:"contentType"`
}

// Deletion methods recorded on audit records.
const (
	MethodSingle = "single"
	MethodBatch  = "batch"
)

// DeletionAuditRecord is an append-only trace of one deletion.
type DeletionAuditRecord struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	SessionID     string    `json:"session_id"`
	Filename      string    `json:"filename"`
	SizeReclaimed int64     `json:"size_reclaimed"`
	Category      Category  `json:"category"`
	StorageKey    string    `json:"storage_key"`
	DeletedAt     time.Time `json:"deleted_at"`
	Method        string    `json:"method"`
}

// Usage status bands reported to the quota policy consumer.
const (
	UsageUnlimited = "unlimited"
	UsageOK        = "ok"
	UsageNearLimit = "near_limit"
	UsageOverLimit = "over_limit"
)

// UsageSnapshot is a derived per-tenant usage total. Never persisted here.
type UsageSnapshot struct {
	TenantID        string             `json:"tenant_id"`
	TotalBytes      int64              `json:"total_bytes"`
	ByCategoryBytes map[Category]int64 `json:"by_category_bytes"`
	FileCount       int                `json:"file_count"`
	ComputedAt      time.Time          `json:"computed_at"`
	SourcePrefix    string             `json:"source_prefix"`
	QuotaBytes      int64              `json:"quota_bytes"`
	PercentUsed     float64            `json:"percent_used"`
	Status          string             `json:"status"`
}
