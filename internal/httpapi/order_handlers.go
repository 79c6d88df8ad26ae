package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/obs"
	"plazaviva.org/internal/order"
)

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, identity.RoleClient)
	if !ok {
		return
	}

	var req order.CreateInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ord, err := a.orders.Create(r.Context(), user, req)
	if err != nil {
		a.handleOrderError(w, r, err)
		return
	}
	obs.OrderTransition(string(ord.Status))

	w.Header().Set("Location", "/api/orders/"+ord.ID)
	writeJSON(w, http.StatusCreated, ord)
}

func (a *API) listOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	if a.history == nil {
		writeError(w, r, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 200 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = v
	}

	orders, err := a.history.ListOrdersForUser(r.Context(), user.ID, limit)
	if err != nil {
		a.log.Errorw("list orders", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}

	ord, err := a.orders.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		a.handleOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (a *API) acceptOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}
	ord, err := a.orders.Accept(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		a.handleOrderError(w, r, err)
		return
	}
	obs.OrderTransition(string(ord.Status))
	writeJSON(w, http.StatusOK, ord)
}

func (a *API) rejectOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}
	ord, err := a.orders.Reject(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		a.handleOrderError(w, r, err)
		return
	}
	obs.OrderTransition(string(ord.Status))
	writeJSON(w, http.StatusOK, ord)
}

func (a *API) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ord, err := a.orders.UpdateStatus(r.Context(), user, chi.URLParam(r, "id"), st)
	if err != nil {
		a.handleOrderError(w, r, err)
		return
	}
	obs.OrderTransition(string(ord.Status))
	writeJSON(w, http.StatusOK, ord)
}

func (a *API) handleOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidOrder):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrProductUnavailable):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrVendorUnavailable):
		writeError(w, r, http.StatusConflict, "vendor is not available")
	case errors.Is(err, order.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "order not found or already processed")
	case errors.Is(err, order.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "not allowed to update this order")
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "order not found")
	default:
		a.log.Errorw("order operation failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
