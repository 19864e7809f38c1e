// Package storage holds uploaded attachment files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrExists is returned by Upload when the object already exists and
	// the upload does not allow overwriting.
	ErrExists = errors.New("object already exists")
	// ErrInvalidPath is returned for object names that would escape the
	// bucket root.
	ErrInvalidPath = errors.New("invalid object path")
)

// UploadOptions mirror the knobs of the hosted storage API.
type UploadOptions struct {
	ContentType string
	// CacheControl is the max-age in seconds sent when the object is served.
	CacheControl int
	Upsert       bool
}

// Object describes a stored file.
type Object struct {
	Path string
	Size int64
}

// Bucket stores and serves attachment files.
type Bucket interface {
	Upload(ctx context.Context, name string, body io.Reader, opts UploadOptions) (Object, error)
	PublicURL(name string) string
	Remove(ctx context.Context, names ...string) error
}

// DiskBucket keeps objects as files under a root directory. Object metadata
// (content type, cache control) is held in memory and falls back to
// extension sniffing after a restart.
type DiskBucket struct {
	root    string
	baseURL string

	mu   sync.RWMutex
	meta map[string]UploadOptions
}

var _ Bucket = (*DiskBucket)(nil)

// NewDiskBucket creates root if needed. baseURL is the public prefix that
// objects are served under, for example "http://localhost:8080/files".
func NewDiskBucket(root, baseURL string) (*DiskBucket, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("bucket root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket root: %w", err)
	}
	return &DiskBucket{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		meta:    make(map[string]UploadOptions),
	}, nil
}

func (b *DiskBucket) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// Upload writes body to name. Without Upsert an existing object is left
// untouched and ErrExists is returned.
func (b *DiskBucket) Upload(ctx context.Context, name string, body io.Reader, opts UploadOptions) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	target, err := b.resolve(name)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Object{}, fmt.Errorf("create object dir: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !opts.Upsert {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(target, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return Object{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err != nil {
		return Object{}, fmt.Errorf("create object: %w", err)
	}

	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return Object{}, fmt.Errorf("write object: %w", err)
	}

	b.mu.Lock()
	b.meta[name] = opts
	b.mu.Unlock()
	return Object{Path: name, Size: n}, nil
}

func (b *DiskBucket) PublicURL(name string) string {
	return b.baseURL + "/" + url.PathEscape(name)
}

// Remove deletes the named objects. Missing objects are ignored.
func (b *DiskBucket) Remove(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := b.resolve(name)
		if err != nil {
			return err
		}
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
		b.mu.Lock()
		delete(b.meta, name)
		b.mu.Unlock()
	}
	return nil
}

// ServeHTTP serves the object named by the last path segment of the request.
func (b *DiskBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	target, err := b.resolve(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	b.mu.RLock()
	opts, known := b.meta[name]
	b.mu.RUnlock()
	if known {
		if opts.ContentType != "" {
			w.Header().Set("Content-Type", opts.ContentType)
		}
		if opts.CacheControl > 0 {
			w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(opts.CacheControl))
		}
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, target)
}
