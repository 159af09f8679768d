package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fruitsalade/studiovault/internal/metrics"
)

// sidecar holds per-object attributes the filesystem cannot store.
type sidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LocalStore implements Store on the local filesystem. Each object is a
// file under root; attributes live in a hidden sidecar next to it. Hidden
// files are never reported by List.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local store root is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat root path %s: %w", root, err)
		}
		if mkErr := os.MkdirAll(root, 0755); mkErr != nil {
			return nil, fmt.Errorf("create root path %s: %w", root, mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path %s: %w", root, err)
	}
	return &LocalStore{root: abs}, nil
}

func (b *LocalStore) fullPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

func sidecarPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".meta")
}

// Probe checks that the root directory is still usable.
func (b *LocalStore) Probe(_ context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, b.root)
	}
	return nil
}

// Put writes content atomically (temp file + rename), then its sidecar.
func (b *LocalStore) Put(_ context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error) {
	start := time.Now()
	path, err := b.fullPath(key)
	if err != nil {
		return "", err
	}

	err = b.writeFile(path, body)
	if err == nil {
		var meta []byte
		meta, err = json.Marshal(sidecar{ContentType: contentType, Metadata: metadata})
		if err == nil {
			err = b.writeFile(sidecarPath(path), meta)
		}
	}
	metrics.RecordStoreOperation(b.Type(), "put_object", time.Since(start), err == nil)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	metrics.RecordBytesWritten(int64(len(body)))
	return key, nil
}

func (b *LocalStore) writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".studiovault-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// Get reads an object and its sidecar.
func (b *LocalStore) Get(_ context.Context, key string) (*Object, error) {
	start := time.Now()
	path, err := b.fullPath(key)
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(path)
	if err != nil {
		metrics.RecordStoreOperation(b.Type(), "get_object", time.Since(start), os.IsNotExist(err))
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	obj := &Object{Key: key, Body: body}
	if raw, err := os.ReadFile(sidecarPath(path)); err == nil {
		var sc sidecar
		if json.Unmarshal(raw, &sc) == nil {
			obj.ContentType = sc.ContentType
			obj.Metadata = sc.Metadata
		}
	}
	metrics.RecordStoreOperation(b.Type(), "get_object", time.Since(start), true)
	return obj, nil
}

// Delete removes an object and its sidecar. Absent keys succeed.
func (b *LocalStore) Delete(_ context.Context, key string) error {
	start := time.Now()
	path, err := b.fullPath(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		metrics.RecordStoreOperation(b.Type(), "delete_object", time.Since(start), false)
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if err := os.Remove(sidecarPath(path)); err != nil && !os.IsNotExist(err) {
		metrics.RecordStoreOperation(b.Type(), "delete_object", time.Since(start), false)
		return fmt.Errorf("delete sidecar %s: %w", key, err)
	}
	metrics.RecordStoreOperation(b.Type(), "delete_object", time.Since(start), true)
	return nil
}

// Head checks if an object file exists.
func (b *LocalStore) Head(_ context.Context, key string) (bool, error) {
	path, err := b.fullPath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

// List walks the tree below root and returns objects whose key has prefix,
// sorted by key.
func (b *LocalStore) List(_ context.Context, prefix string) ([]ObjectSummary, error) {
	start := time.Now()

	// Walk only the deepest directory the prefix pins down.
	walkRoot := b.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		walkRoot = filepath.Join(b.root, filepath.FromSlash(prefix[:i]))
	}

	var out []ObjectSummary
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	metrics.RecordStoreOperation(b.Type(), "list_objects", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Presign returns a file:// URL. Local URLs do not expire; ttl is recorded
// as a query parameter so callers can still display it.
func (b *LocalStore) Presign(_ context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error) {
	path, err := b.fullPath(key)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	if opts.Download {
		q.Set("response-content-disposition", contentDisposition(key, opts.Filename))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Root returns the directory backing the store.
func (b *LocalStore) Root() string { return b.root }

// Type returns "local".
func (b *LocalStore) Type() string { return "local" }
