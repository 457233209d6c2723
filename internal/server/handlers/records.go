package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/records"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/storage"
)

const maxMultipartMemory = 32 << 20

// RateLimiter is the subset of *server.RateLimiter this package needs.
// Defined here rather than imported to avoid a server<->handlers cycle.
type RateLimiter interface {
	CheckRequest(w http.ResponseWriter, r *http.Request) bool
}

// RecordHandlers is the dynamic REST surface for every user-defined
// collection: list/get/create/update/delete, each gated by the
// collection's rule for that operation and, for create/update, by the
// storage service's upload validation. registerLimiter additionally
// throttles Create for auth-kind collections, since signup goes through
// this same generic route rather than a dedicated endpoint.
type RecordHandlers struct {
	records         *records.Service
	schema          *schema.Registry
	rules           *rules.Engine
	storage         *storage.Service
	auth            *auth.Service
	registerLimiter RateLimiter
	devMode         bool
}

func NewRecordHandlers(recordsSvc *records.Service, registry *schema.Registry, rulesEngine *rules.Engine, storageSvc *storage.Service, authService *auth.Service, registerLimiter RateLimiter, devMode bool) *RecordHandlers {
	return &RecordHandlers{
		records:         recordsSvc,
		schema:          registry,
		rules:           rulesEngine,
		storage:         storageSvc,
		auth:            authService,
		registerLimiter: registerLimiter,
		devMode:         devMode,
	}
}

func (h *RecordHandlers) collection(w http.ResponseWriter, r *http.Request, name string) (*schema.Collection, bool) {
	col, ok := h.schema.GetCollection(name)
	if !ok {
		WriteError(w, r, apierr.NotFound("collection not found"), h.devMode)
		return nil, false
	}
	return col, true
}

type listResponse struct {
	Items      []records.Record `json:"items"`
	Page       int               `json:"page"`
	PerPage    int               `json:"perPage"`
	TotalItems int               `json:"totalItems"`
	TotalPages int               `json:"totalPages"`
}

// List serves GET /api/collections/:name/records.
func (h *RecordHandlers) List(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	col, ok := h.collection(w, r, name)
	if !ok {
		return
	}

	principal := h.auth.Resolve(r)
	isAdmin := principal.IsAdmin()

	opts := parseQueryOptions(r.URL.RawQuery)

	extraWhere, extraArgs, err := h.rules.ListWhere(name, rules.SQLContext{
		Auth:        toRulesPrincipal(principal),
		ValidFields: schema.ValidFieldSet(col),
	}, isAdmin)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	result, err := h.records.List(r.Context(), name, opts, extraWhere, extraArgs)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, listResponse{
		Items:      result.Items,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// Get serves GET /api/collections/:name/records/:id.
func (h *RecordHandlers) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")
	if _, ok := h.collection(w, r, name); !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), name, id)
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
	if err := h.rules.CheckAccess(name, rules.OpView, ctx, principal.IsAdmin()); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, rec)
}

// Create serves POST /api/collections/:name/records, accepting either a
// JSON body or a multipart form carrying file fields.
func (h *RecordHandlers) Create(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	col, ok := h.collection(w, r, name)
	if !ok {
		return
	}

	if col.Kind == schema.KindAuth && h.registerLimiter != nil {
		if !h.registerLimiter.CheckRequest(w, r) {
			return
		}
	}

	data, uploads, closers, err := h.decodeRequestBody(r, col)
	defer closeAll(closers)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	if len(uploads) > 0 {
		if err := h.storage.ValidateUploads(col, uploads); err != nil {
			WriteError(w, r, err, h.devMode)
			return
		}
	}

	principal := h.auth.Resolve(r)
	createCtx := rules.PredicateContext{Record: data, Auth: toRulesPrincipal(principal)}
	if err := h.rules.CheckAccess(name, rules.OpCreate, createCtx, principal.IsAdmin()); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	rec, err := h.records.CreateWithHooks(r.Context(), name, data, r)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	rec, err = h.persistUploads(r, name, rec, uploads)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusCreated, rec)
}

// Update serves PATCH /api/collections/:name/records/:id.
func (h *RecordHandlers) Update(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")
	col, ok := h.collection(w, r, name)
	if !ok {
		return
	}

	existing, err := h.records.Get(r.Context(), name, id)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	if existing == nil {
		WriteError(w, r, apierr.NotFound("record not found"), h.devMode)
		return
	}

	data, uploads, closers, err := h.decodeRequestBody(r, col)
	defer closeAll(closers)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	if len(uploads) > 0 {
		if err := h.storage.ValidateUploads(col, uploads); err != nil {
			WriteError(w, r, err, h.devMode)
			return
		}
	}

	principal := h.auth.Resolve(r)
	updateCtx := rules.PredicateContext{Record: existing, Auth: toRulesPrincipal(principal)}
	if err := h.rules.CheckAccess(name, rules.OpUpdate, updateCtx, principal.IsAdmin()); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	rec, err := h.records.UpdateWithHooks(r.Context(), name, id, data, r)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	rec, err = h.persistUploads(r, name, rec, uploads)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusOK, rec)
}

// Delete serves DELETE /api/collections/:name/records/:id.
func (h *RecordHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	id := r.PathValue("id")
	if _, ok := h.collection(w, r, name); !ok {
		return
	}

	existing, err := h.records.Get(r.Context(), name, id)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	if existing == nil {
		WriteError(w, r, apierr.NotFound("record not found"), h.devMode)
		return
	}

	principal := h.auth.Resolve(r)
	deleteCtx := rules.PredicateContext{Record: existing, Auth: toRulesPrincipal(principal)}
	if err := h.rules.CheckAccess(name, rules.OpDelete, deleteCtx, principal.IsAdmin()); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	if err := h.records.DeleteWithHooks(r.Context(), name, id, r); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// persistUploads writes accepted files to the storage backend now that rec
// durably exists, then folds the resulting filenames back into the record
// via a second, hook-free update: files are only ever persisted once the
// row they belong to is committed.
func (h *RecordHandlers) persistUploads(r *http.Request, collection string, rec records.Record, uploads map[string][]storage.UploadedFile) (records.Record, error) {
	if len(uploads) == 0 {
		return rec, nil
	}

	id, _ := rec["id"].(string)
	stored, err := h.storage.Persist(r.Context(), collection, id, uploads)
	if err != nil {
		return nil, apierr.Internal(err)
	}

	patch := make(map[string]any, len(stored))
	for field, names := range stored {
		if len(names) == 1 {
			patch[field] = names[0]
		} else {
			asAny := make([]any, len(names))
			for i, n := range names {
				asAny[i] = n
			}
			patch[field] = asAny
		}
	}

	return h.records.Update(r.Context(), collection, id, patch)
}

// decodeRequestBody splits the request body into plain field values and
// per-field file uploads, supporting both JSON and multipart/form-data
// bodies. Callers must close every returned io.Closer once the uploads
// have been consumed.
func (h *RecordHandlers) decodeRequestBody(r *http.Request, col *schema.Collection) (map[string]any, map[string][]storage.UploadedFile, []io.Closer, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if contentType != "multipart/form-data" {
		var data map[string]any
		if r.ContentLength == 0 {
			return map[string]any{}, nil, nil, nil
		}
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			return nil, nil, nil, apierr.Validation("invalid JSON body")
		}
		return data, nil, nil, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, nil, nil, apierr.Validation("invalid multipart form")
	}

	data := make(map[string]any)
	for field, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			data[field] = values[0]
		}
	}

	var closers []io.Closer
	uploads := make(map[string][]storage.UploadedFile)
	for field, headers := range r.MultipartForm.File {
		fieldDef, ok := col.Fields[field]
		if !ok || fieldDef.Type != schema.FieldTypeFile {
			continue
		}
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, nil, closers, apierr.Validation("unreadable upload for field " + field)
			}
			closers = append(closers, f)
			uploads[field] = append(uploads[field], storage.UploadedFile{
				Filename: fh.Filename,
				MimeType: fh.Header.Get("Content-Type"),
				Size:     fh.Size,
				Content:  f,
			})
		}
	}

	return data, uploads, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
