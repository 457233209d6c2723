package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/schema"
)

// UploadedFile is one part of a multipart file field, already split out of
// the HTTP request by the transport layer.
type UploadedFile struct {
	Filename string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Service validates uploads against a collection's file field options,
// persists accepted files under the backend, streams them back out, and
// cleans up on record deletion.
type Service struct {
	backend Backend
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Enabled reports whether a backend is actually wired in. A Service can
// exist with a nil backend when no storage config is set, so callers that
// run independently of a request (e.g. the maintenance sweep) should check
// this before touching the backend.
func (s *Service) Enabled() bool {
	return s.backend != nil
}

// ValidateUploads checks every file field's count, per-file size, and MIME
// type against the collection's field options, returning one combined
// ValidationError naming every problem found: a failure on any one file
// aborts the whole record operation.
func (s *Service) ValidateUploads(col *schema.Collection, uploads map[string][]UploadedFile) error {
	if s.backend == nil && len(uploads) > 0 {
		return apierr.NotFound("file storage is not configured")
	}
	var problems []string

	for fieldName, files := range uploads {
		field, ok := col.Fields[fieldName]
		if !ok || field.Type != schema.FieldTypeFile {
			problems = append(problems, fmt.Sprintf("%q is not a file field on %s", fieldName, col.Name))
			continue
		}

		if maxFiles := field.EffectiveMaxFiles(); len(files) > maxFiles {
			problems = append(problems, fmt.Sprintf("%s: at most %d file(s) allowed, got %d", fieldName, maxFiles, len(files)))
			continue
		}

		maxSize := field.EffectiveMaxSize()
		allowed := field.AllowedTypes()
		for _, f := range files {
			if f.Size > maxSize {
				problems = append(problems, fmt.Sprintf("%s: %q is %d bytes, exceeds the %d byte limit", fieldName, f.Filename, f.Size, maxSize))
				continue
			}
			if len(allowed) > 0 && !matchesAnyMimeType(allowed, f.MimeType) {
				problems = append(problems, fmt.Sprintf("%s: %q has disallowed type %q", fieldName, f.Filename, f.MimeType))
			}
		}
	}

	if len(problems) > 0 {
		return apierr.ValidationWithDetails("file upload validation failed", problems)
	}
	return nil
}

// Persist writes accepted uploads to the backend under
// <collection>/<recordId>/<sanitizedFilename> and returns the sanitized
// filename(s) stored per field, ready to be written into the record's
// file field values. Callers must only invoke this after the record row
// itself is durably inserted or updated (ordering).
func (s *Service) Persist(ctx context.Context, collection, recordID string, uploads map[string][]UploadedFile) (map[string][]string, error) {
	result := make(map[string][]string, len(uploads))

	for field, files := range uploads {
		names := make([]string, 0, len(files))
		for _, f := range files {
			sanitized := SanitizeFilename(f.Filename)
			key := fileKey(collection, recordID, sanitized)
			if err := s.backend.Put(ctx, key, f.Content, f.Size); err != nil {
				return nil, fmt.Errorf("storing %s: %w", sanitized, err)
			}
			names = append(names, sanitized)
		}
		result[field] = names
	}

	return result, nil
}

// Open streams a stored file back out for egress, alongside a best-effort
// MIME guess from the file extension. Callers are responsible for gating
// access with the collection's viewRule before calling this.
func (s *Service) Open(ctx context.Context, collection, id, filename string) (io.ReadCloser, string, error) {
	if s.backend == nil {
		return nil, "", ErrNotFound
	}
	rc, err := s.backend.Get(ctx, fileKey(collection, id, filename))
	if err != nil {
		return nil, "", err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return rc, mimeType, nil
}

// DeleteRecordDir removes every file stored for one record.
func (s *Service) DeleteRecordDir(ctx context.Context, collection, id string) error {
	return s.backend.DeletePrefix(ctx, collection+"/"+id+"/")
}

// HandleAfterDelete is a hooks.Handler that sweeps a deleted record's file
// directory once the deletion itself has gone through. Its error return
// is cosmetic: the records service already logs and swallows afterDelete
// failures rather than reporting them to the client.
func (s *Service) HandleAfterDelete(ctx context.Context, hctx *hooks.Context, next hooks.Next) error {
	if err := next(ctx, hctx); err != nil {
		return err
	}
	if err := s.DeleteRecordDir(ctx, hctx.Collection, hctx.ID); err != nil {
		return fmt.Errorf("cleaning up file directory for %s/%s: %w", hctx.Collection, hctx.ID, err)
	}
	return nil
}

// SweepOrphans removes every stored record directory under collection whose
// ID no longer satisfies exists, for collections whose owning record was
// deleted without going through DeleteWithHooks (e.g. a row removed by a
// foreign admin process, or a crash between the row delete and the
// afterDelete hook running). It returns the number of directories removed.
func (s *Service) SweepOrphans(ctx context.Context, collection string, exists func(id string) bool) (int, error) {
	ids, err := s.backend.ListPrefixes(ctx, collection+"/")
	if err != nil {
		return 0, fmt.Errorf("listing stored records for %s: %w", collection, err)
	}

	removed := 0
	for _, id := range ids {
		if exists(id) {
			continue
		}
		if err := s.DeleteRecordDir(ctx, collection, id); err != nil {
			return removed, fmt.Errorf("removing orphaned directory %s/%s: %w", collection, id, err)
		}
		removed++
	}
	return removed, nil
}

func fileKey(collection, recordID, filename string) string {
	return collection + "/" + recordID + "/" + filename
}

func matchesAnyMimeType(patterns []string, mimeType string) bool {
	for _, p := range patterns {
		if matchesMimeType(mimeType, p) {
			return true
		}
	}
	return false
}
