package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

// DirectoryService receives cases and vendors from upstream systems.
type DirectoryService interface {
	IntakeCase(ctx context.Context, c domain.SalvageCase) (domain.SalvageCase, error)
	Case(ctx context.Context, id string) (domain.SalvageCase, error)
	RegisterVendor(ctx context.Context, v domain.Vendor) (domain.Vendor, error)
	Vendor(ctx context.Context, id string) (domain.Vendor, error)
}

// DirectoryHandler serves case intake and vendor registration.
type DirectoryHandler struct {
	dir    DirectoryService
	logger *slog.Logger
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(dir DirectoryService, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, logger: logger}
}

// IntakeCase records an approved case.
// POST /api/cases
func (h *DirectoryHandler) IntakeCase(w http.ResponseWriter, r *http.Request) {
	var c domain.SalvageCase
	if !decodeJSON(w, r, &c) {
		return
	}
	out, err := h.dir.IntakeCase(r.Context(), c)
	if err != nil {
		writeServiceError(w, r, h.logger, "intake case", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetCase returns a case.
// GET /api/cases/{id}
func (h *DirectoryHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	c, err := h.dir.Case(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get case", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RegisterVendor records a verified vendor and opens its wallet.
// POST /api/vendors
func (h *DirectoryHandler) RegisterVendor(w http.ResponseWriter, r *http.Request) {
	var v domain.Vendor
	if !decodeJSON(w, r, &v) {
		return
	}
	out, err := h.dir.RegisterVendor(r.Context(), v)
	if err != nil {
		writeServiceError(w, r, h.logger, "register vendor", err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// GetVendor returns a vendor.
// GET /api/vendors/{id}
func (h *DirectoryHandler) GetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := h.dir.Vendor(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get vendor", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
