package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/schema"
)

func attachmentsCollection(maxFiles int, maxSize int64, allowedTypes []string) *schema.Collection {
	return &schema.Collection{
		Name: "posts",
		Fields: map[string]*schema.Field{
			"attachments": {
				Name: "attachments",
				Type: schema.FieldTypeFile,
				Options: &schema.FieldOptions{
					MaxFiles:     maxFiles,
					MaxSize:      maxSize,
					AllowedTypes: allowedTypes,
				},
			},
		},
	}
}

func TestValidateUploadsRejectsTooManyFiles(t *testing.T) {
	svc := NewService(newMockBackend())
	col := attachmentsCollection(1, 1<<20, nil)

	uploads := map[string][]UploadedFile{
		"attachments": {
			{Filename: "a.txt", Size: 10},
			{Filename: "b.txt", Size: 10},
		},
	}

	err := svc.ValidateUploads(col, uploads)
	if err == nil {
		t.Fatal("expected an error when exceeding maxFiles")
	}
	var verr *apierr.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("expected a ValidationError, got %T", err)
	}
}

func TestValidateUploadsRejectsOversizedFile(t *testing.T) {
	svc := NewService(newMockBackend())
	col := attachmentsCollection(1, 10, nil)

	uploads := map[string][]UploadedFile{
		"attachments": {{Filename: "a.txt", Size: 1000}},
	}

	if err := svc.ValidateUploads(col, uploads); err == nil {
		t.Fatal("expected an error for a file exceeding maxSize")
	}
}

func TestValidateUploadsRejectsDisallowedMimeType(t *testing.T) {
	svc := NewService(newMockBackend())
	col := attachmentsCollection(1, 1<<20, []string{"image/*"})

	uploads := map[string][]UploadedFile{
		"attachments": {{Filename: "a.pdf", MimeType: "application/pdf", Size: 10}},
	}

	if err := svc.ValidateUploads(col, uploads); err == nil {
		t.Fatal("expected an error for a disallowed MIME type")
	}
}

func TestValidateUploadsAcceptsWithinLimits(t *testing.T) {
	svc := NewService(newMockBackend())
	col := attachmentsCollection(2, 1<<20, []string{"image/*"})

	uploads := map[string][]UploadedFile{
		"attachments": {
			{Filename: "a.png", MimeType: "image/png", Size: 10},
			{Filename: "b.png", MimeType: "image/png", Size: 10},
		},
	}

	if err := svc.ValidateUploads(col, uploads); err != nil {
		t.Fatalf("expected uploads within limits to pass, got: %v", err)
	}
}

func TestPersistStoresUnderCollectionRecordFilename(t *testing.T) {
	backend := newMockBackend()
	svc := NewService(backend)

	uploads := map[string][]UploadedFile{
		"attachments": {{Filename: "report.pdf", Size: 5, Content: bytes.NewReader([]byte("hello"))}},
	}

	result, err := svc.Persist(context.Background(), "posts", "p1", uploads)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	names := result["attachments"]
	if len(names) != 1 {
		t.Fatalf("expected one stored filename, got %d", len(names))
	}

	key := fileKey("posts", "p1", names[0])
	if _, ok := backend.files[key]; !ok {
		t.Errorf("expected backend to hold a file at %q", key)
	}
}

func TestOpenReturnsMimeGuessFromExtension(t *testing.T) {
	backend := newMockBackend()
	svc := NewService(backend)

	backend.files[fileKey("posts", "p1", "photo.png")] = []byte("fake-png-bytes")

	rc, mimeType, err := svc.Open(context.Background(), "posts", "p1", "photo.png")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()

	if mimeType != "image/png" {
		t.Errorf("expected image/png, got %q", mimeType)
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "fake-png-bytes" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestOpenNotFound(t *testing.T) {
	svc := NewService(newMockBackend())

	_, _, err := svc.Open(context.Background(), "posts", "p1", "missing.png")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRecordDirRemovesEveryFile(t *testing.T) {
	backend := newMockBackend()
	svc := NewService(backend)

	backend.files[fileKey("posts", "p1", "a.txt")] = []byte("a")
	backend.files[fileKey("posts", "p1", "b.txt")] = []byte("b")
	backend.files[fileKey("posts", "p2", "c.txt")] = []byte("c")

	if err := svc.DeleteRecordDir(context.Background(), "posts", "p1"); err != nil {
		t.Fatalf("DeleteRecordDir failed: %v", err)
	}

	if _, ok := backend.files[fileKey("posts", "p1", "a.txt")]; ok {
		t.Error("expected posts/p1/a.txt to be removed")
	}
	if _, ok := backend.files[fileKey("posts", "p2", "c.txt")]; !ok {
		t.Error("expected posts/p2/c.txt to survive an unrelated record's cleanup")
	}
}

func TestHandleAfterDeleteCleansUpAfterChainSucceeds(t *testing.T) {
	backend := newMockBackend()
	svc := NewService(backend)
	backend.files[fileKey("posts", "p1", "a.txt")] = []byte("a")

	hctx := &hooks.Context{Collection: "posts", ID: "p1"}
	next := func(ctx context.Context, hctx *hooks.Context) error { return nil }

	if err := svc.HandleAfterDelete(context.Background(), hctx, next); err != nil {
		t.Fatalf("HandleAfterDelete failed: %v", err)
	}
	if _, ok := backend.files[fileKey("posts", "p1", "a.txt")]; ok {
		t.Error("expected the record's files to be cleaned up")
	}
}

func TestHandleAfterDeleteSkipsCleanupWhenChainFails(t *testing.T) {
	backend := newMockBackend()
	svc := NewService(backend)
	backend.files[fileKey("posts", "p1", "a.txt")] = []byte("a")

	hctx := &hooks.Context{Collection: "posts", ID: "p1"}
	chainErr := errors.New("downstream handler failed")
	next := func(ctx context.Context, hctx *hooks.Context) error { return chainErr }

	err := svc.HandleAfterDelete(context.Background(), hctx, next)
	if !errors.Is(err, chainErr) {
		t.Errorf("expected the chain error to propagate, got %v", err)
	}
	if _, ok := backend.files[fileKey("posts", "p1", "a.txt")]; !ok {
		t.Error("expected cleanup to be skipped when the chain fails")
	}
}
