package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/identity"
)

type productRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
	IsAvailable *bool  `json:"isAvailable"`
}

func (req *productRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if req.Price <= 0 {
		return errors.New("price must be a positive amount in minor units")
	}
	return nil
}

// listProducts returns the caller's catalog for vendors, or a given vendor's
// catalog for clients via ?vendorId=.
func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	user, ok := mustUser(w, r)
	if !ok {
		return
	}

	vendorID := strings.TrimSpace(r.URL.Query().Get("vendorId"))
	if vendorID == "" {
		if user.Role != identity.RoleVendor {
			writeError(w, r, http.StatusBadRequest, "vendorId query parameter is required")
			return
		}
		vendorID = user.ID
	}

	products, err := a.catalog.ListProductsByVendor(r.Context(), vendorID)
	if err != nil {
		a.log.Errorw("list products", "vendor_id", vendorID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if products == nil {
		products = []*catalog.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}

	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}
	p := &catalog.Product{
		VendorID:    user.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Category:    strings.TrimSpace(req.Category),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		IsAvailable: available,
	}
	if err := a.catalog.CreateProduct(r.Context(), p); err != nil {
		a.log.Errorw("create product", "vendor_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Location", "/api/products/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	if _, ok := mustUser(w, r); !ok {
		return
	}

	p, err := a.catalog.FindProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateProduct(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}

	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}
	p := &catalog.Product{
		ID:          chi.URLParam(r, "id"),
		VendorID:    user.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Category:    strings.TrimSpace(req.Category),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		IsAvailable: available,
	}
	if err := a.catalog.UpdateProduct(r.Context(), p); err != nil {
		// The update is scoped to the owning vendor, so a foreign product
		// is indistinguishable from a missing one.
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		a.log.Errorw("update product", "product_id", p.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w, r) {
		return
	}
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := a.catalog.DeleteProduct(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "product not found")
			return
		}
		a.log.Errorw("delete product", "product_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
