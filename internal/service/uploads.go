package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/storage"
)

const (
	// CacheControlSeconds is the max-age attached to uploaded objects.
	CacheControlSeconds = 3600
	// DefaultMaxUploadBytes applies when no limit is configured.
	DefaultMaxUploadBytes = 10 << 20
)

// ErrTooLarge is returned for files above the upload limit.
var ErrTooLarge = errors.New("file exceeds upload limit")

// FileUpload is one file picked in the widget.
type FileUpload struct {
	Name        string
	ContentType string
	// Size is the declared size; -1 or 0 when unknown.
	Size int64
	Body io.Reader
}

// Uploads stores attachment files in a bucket and returns references that
// can be attached to messages.
type Uploads struct {
	bucket   storage.Bucket
	maxBytes int64
	now      func() time.Time
}

func NewUploads(bucket storage.Bucket, maxBytes int64) *Uploads {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &Uploads{bucket: bucket, maxBytes: maxBytes, now: time.Now}
}

// MaxBytes is the size limit of a single file.
func (u *Uploads) MaxBytes() int64 {
	return u.maxBytes
}

// Upload stores the file under a fresh random name and returns its public
// reference. FileName and FileType keep the original name and type.
func (u *Uploads) Upload(ctx context.Context, file FileUpload) (model.NewAttachment, error) {
	if strings.TrimSpace(file.Name) == "" {
		return model.NewAttachment{}, fail(ErrUploadFile, invalid("file name is required"))
	}
	if file.Size > u.maxBytes {
		return model.NewAttachment{}, fail(ErrUploadFile,
			fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, file.Name, file.Size, u.maxBytes))
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(file.Name))
	}

	name := u.objectName(file.Name)
	body := &limitedReader{r: file.Body, remaining: u.maxBytes}
	obj, err := u.bucket.Upload(ctx, name, body, storage.UploadOptions{
		ContentType:  contentType,
		CacheControl: CacheControlSeconds,
		Upsert:       false,
	})
	if err != nil {
		return model.NewAttachment{}, fail(ErrUploadFile, err)
	}

	return model.NewAttachment{
		FileName: file.Name,
		FileURL:  u.bucket.PublicURL(obj.Path),
		FileType: contentType,
		FileSize: obj.Size,
	}, nil
}

// UploadMany uploads files concurrently. If any upload fails the ones that
// succeeded are removed and the batch fails.
func (u *Uploads) UploadMany(ctx context.Context, files []FileUpload) ([]model.NewAttachment, error) {
	results := make([]model.NewAttachment, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			res, err := u.Upload(gctx, file)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var stored []string
		for _, res := range results {
			if res.FileURL != "" {
				stored = append(stored, objectFromURL(res.FileURL))
			}
		}
		if len(stored) > 0 {
			if rmErr := u.bucket.Remove(context.WithoutCancel(ctx), stored...); rmErr != nil {
				log.Printf("clean up partial upload batch: %v", rmErr)
			}
		}
		return nil, fail(ErrUploadFiles, err)
	}
	return results, nil
}

// Delete removes the object referenced by a URL returned from Upload.
func (u *Uploads) Delete(ctx context.Context, fileURL string) error {
	name := objectFromURL(fileURL)
	if name == "" {
		return fail(ErrDeleteFile, invalid("file url %q names no object", fileURL))
	}
	if err := u.bucket.Remove(ctx, name); err != nil {
		return fail(ErrDeleteFile, err)
	}
	return nil
}

// objectName builds "<random>-<unix millis>.<ext>" from the original name.
func (u *Uploads) objectName(original string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := fmt.Sprintf("%s-%d", random, u.now().UnixMilli())
	if ext := sanitizeExt(filepath.Ext(original)); ext != "" {
		name += "." + ext
	}
	return name
}

func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	var b strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func objectFromURL(fileURL string) string {
	p := fileURL
	if parsed, err := url.Parse(fileURL); err == nil {
		p = parsed.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// limitedReader fails once more than remaining bytes have been read, so an
// oversized body aborts the bucket write instead of being truncated.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}
