package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/auth"
	"github.com/bunbase/bunbase/internal/schema"
)

// CollectionHandlers serves the /admin/collections surface: schema
// management, gated entirely behind an admin principal.
type CollectionHandlers struct {
	schema  *schema.Registry
	auth    *auth.Service
	devMode bool
}

func NewCollectionHandlers(registry *schema.Registry, authService *auth.Service, devMode bool) *CollectionHandlers {
	return &CollectionHandlers{schema: registry, auth: authService, devMode: devMode}
}

func (h *CollectionHandlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, err := h.auth.RequireAdmin(r); err != nil {
		WriteError(w, r, err, h.devMode)
		return false
	}
	return true
}

type fieldView struct {
	Name     string               `json:"name"`
	Type     schema.FieldType     `json:"type"`
	Required bool                 `json:"required"`
	Options  *schema.FieldOptions `json:"options,omitempty"`
}

type rulesView struct {
	List   string `json:"listRule"`
	View   string `json:"viewRule"`
	Create string `json:"createRule"`
	Update string `json:"updateRule"`
	Delete string `json:"deleteRule"`
}

type collectionView struct {
	Name      string      `json:"name"`
	Kind      schema.Kind `json:"kind"`
	Fields    []fieldView `json:"fields"`
	Rules     rulesView   `json:"rules"`
	CreatedAt string      `json:"createdAt"`
	UpdatedAt string      `json:"updatedAt"`
}

func toCollectionView(col *schema.Collection) collectionView {
	fields := make([]fieldView, 0, len(col.Fields))
	for _, f := range col.OrderedFields() {
		fields = append(fields, fieldView{Name: f.Name, Type: f.Type, Required: f.Required, Options: f.Options})
	}
	return collectionView{
		Name:   col.Name,
		Kind:   col.Kind,
		Fields: fields,
		Rules: rulesView{
			List:   col.ListRule,
			View:   col.ViewRule,
			Create: col.CreateRule,
			Update: col.UpdateRule,
			Delete: col.DeleteRule,
		},
		CreatedAt: col.CreatedAt,
		UpdatedAt: col.UpdatedAt,
	}
}

// List serves GET /admin/collections.
func (h *CollectionHandlers) List(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	cols := h.schema.ListCollections()
	views := make([]collectionView, 0, len(cols))
	for _, c := range cols {
		views = append(views, toCollectionView(c))
	}
	JSON(w, http.StatusOK, map[string]any{"items": views})
}

// Get serves GET /admin/collections/:name.
func (h *CollectionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	col, ok := h.schema.GetCollection(r.PathValue("name"))
	if !ok {
		WriteError(w, r, apierr.NotFound("collection not found"), h.devMode)
		return
	}
	JSON(w, http.StatusOK, toCollectionView(col))
}

type createCollectionRequest struct {
	Name   string      `json:"name"`
	Kind   schema.Kind `json:"kind"`
	Fields []fieldView `json:"fields"`
}

// Create serves POST /admin/collections.
func (h *CollectionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}

	fields := make([]*schema.Field, 0, len(req.Fields))
	for _, f := range req.Fields {
		fields = append(fields, &schema.Field{Name: f.Name, Type: f.Type, Required: f.Required, Options: f.Options})
	}

	col, err := h.schema.CreateCollection(r.Context(), req.Name, req.Kind, fields)
	if err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	JSON(w, http.StatusCreated, toCollectionView(col))
}

type updateCollectionRequest struct {
	Name  *string    `json:"name,omitempty"`
	Rules *rulesView `json:"rules,omitempty"`
}

// Update serves PATCH /admin/collections/:name: renames the collection
// and/or replaces its rule set. Field-level changes go through the
// dedicated field endpoints below.
func (h *CollectionHandlers) Update(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := r.PathValue("name")

	var req updateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}

	if req.Name != nil && *req.Name != name {
		if err := h.schema.RenameCollection(r.Context(), name, *req.Name); err != nil {
			WriteError(w, r, err, h.devMode)
			return
		}
		name = *req.Name
	}

	if req.Rules != nil {
		rules := schema.Rules{
			List:   req.Rules.List,
			View:   req.Rules.View,
			Create: req.Rules.Create,
			Update: req.Rules.Update,
			Delete: req.Rules.Delete,
		}
		if err := h.schema.UpdateRules(r.Context(), name, rules); err != nil {
			WriteError(w, r, err, h.devMode)
			return
		}
	}

	col, ok := h.schema.GetCollection(name)
	if !ok {
		WriteError(w, r, apierr.NotFound("collection not found"), h.devMode)
		return
	}
	JSON(w, http.StatusOK, toCollectionView(col))
}

// Delete serves DELETE /admin/collections/:name.
func (h *CollectionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.schema.DeleteCollection(r.Context(), r.PathValue("name")); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createFieldRequest struct {
	Name     string               `json:"name"`
	Type     schema.FieldType     `json:"type"`
	Required bool                 `json:"required"`
	Options  *schema.FieldOptions `json:"options,omitempty"`
}

// CreateField serves POST /admin/collections/:name/fields.
func (h *CollectionHandlers) CreateField(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := r.PathValue("name")

	var req createFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}

	field := &schema.Field{Name: req.Name, Type: req.Type, Required: req.Required, Options: req.Options}
	if err := h.schema.AddField(r.Context(), name, field); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	col, _ := h.schema.GetCollection(name)
	JSON(w, http.StatusCreated, toCollectionView(col))
}

// UpdateField serves PATCH /admin/collections/:name/fields/:field.
func (h *CollectionHandlers) UpdateField(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := r.PathValue("name")
	oldField := r.PathValue("field")

	var req createFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, apierr.Validation("invalid JSON body"), h.devMode)
		return
	}
	if req.Name == "" {
		req.Name = oldField
	}

	updated := &schema.Field{Name: req.Name, Type: req.Type, Required: req.Required, Options: req.Options}
	if err := h.schema.UpdateField(r.Context(), name, oldField, updated); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}

	col, _ := h.schema.GetCollection(name)
	JSON(w, http.StatusOK, toCollectionView(col))
}

// DeleteField serves DELETE /admin/collections/:name/fields/:field.
func (h *CollectionHandlers) DeleteField(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.schema.RemoveField(r.Context(), r.PathValue("name"), r.PathValue("field")); err != nil {
		WriteError(w, r, err, h.devMode)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
