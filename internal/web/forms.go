package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

// maxMemory is how much of a multipart form is buffered before spilling to
// temporary files.
const maxMemory = 8 << 20

// filesPerRequest is how many full-size uploads one form body may carry.
// formOverhead covers the text fields and multipart framing.
const (
	filesPerRequest = 4
	formOverhead    = 1 << 20
)

func (s *Server) bodyLimit() int64 {
	return s.uploads.MaxBytes()*filesPerRequest + formOverhead
}

// parseForm accepts both urlencoded and multipart bodies. The body is
// capped so an oversized upload fails before it is spooled to disk.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())
	err := r.ParseMultipartForm(maxMemory)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, http.ErrNotMultipart):
		return nil
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: request body exceeds %d bytes", service.ErrTooLarge, tooLarge.Limit)
	default:
		return fmt.Errorf("%w: %v", service.ErrInvalid, err)
	}
}

// uploadForm stores the files of a multipart field and returns attachment
// references for them. A form without files yields nil.
func (s *Server) uploadForm(r *http.Request, field string) ([]model.NewAttachment, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]

	files := make([]service.FileUpload, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		files = append(files, service.FileUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        f,
		})
	}
	if len(files) == 0 {
		return nil, nil
	}
	return s.uploads.UploadMany(r.Context(), files)
}
