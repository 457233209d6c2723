package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/records"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/storage"
)

// FileHandlers serves stored file bytes back out. Uploads are ingested as
// part of the record create/update handlers, not here: there is no
// separate upload, listing, metadata, signing, or batch-delete endpoint.
type FileHandlers struct {
	storage *storage.Service
	records *records.Service
	schema  *schema.Registry
	rules   *rules.Engine
	auth    *auth.Service
	devMode bool
}

func NewFileHandlers(storageSvc *storage.Service, recordsSvc *records.Service, registry *schema.Registry, rulesEngine *rules.Engine, authService *auth.Service, devMode bool) *FileHandlers {
	return &FileHandlers{
		storage: storageSvc,
		records: recordsSvc,
		schema:  registry,
		rules:   rulesEngine,
		auth:    authService,
		devMode: devMode,
	}
}

func (h *FileHandlers) Get(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	filename := r.PathValue("filename")

	if _, ok := h.schema.GetCollection(collection); !ok {
		WriteError(w, r, apierr.NotFound("collection not found"), h.devMode)
		return
	}

	rec, err := h.records.Get(r.Context(), collection, id)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	if rec == nil {
		WriteError(w, r, apierr.NotFound("record not found"), h.devMode)
		return
	}

	principal := h.auth.Resolve(r)
	ctx := rules.PredicateContext{Record: rec, Auth: toRulesPrincipal(principal)}
	if err := h.rules.CheckAccess(collection, rules.OpView, ctx, principal.IsAdmin()); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	rc, mimeType, err := h.storage.Open(r.Context(), collection, id, filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, r, apierr.NotFound("file not found"), h.devMode)
			return
		}
		WriteError(w, r, apierr.Internal(err), h.devMode)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mimeType)
	_, _ = io.Copy(w, rc)
}
