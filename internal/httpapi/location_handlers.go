package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"plazaviva.org/internal/discovery"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/presence"
)

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// updateLocation moves a vendor on the map over REST. It mirrors the
// update_location websocket event for vendors that report position from a
// background task rather than a live socket.
func (a *API) updateLocation(w http.ResponseWriter, r *http.Request) {
	user, ok := requireRole(w, r, identity.RoleVendor)
	if !ok {
		return
	}

	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.presence.UpdateLocation(user.ID, user.Demo, req.Latitude, req.Longitude); err != nil {
		if errors.Is(err, presence.ErrInvalidLocation) {
			writeError(w, r, http.StatusBadRequest, "latitude and longitude are required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	rec, _ := a.presence.Record(user.ID)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) nearbyVendors(w http.ResponseWriter, r *http.Request) {
	if _, ok := mustUser(w, r); !ok {
		return
	}

	lat, err := parseCoord(r.URL.Query().Get("latitude"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "latitude must be a number")
		return
	}
	lon, err := parseCoord(r.URL.Query().Get("longitude"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "longitude must be a number")
		return
	}
	radius := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("radius")); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "radius must be a number")
			return
		}
	}

	vendors, err := a.discovery.Query(r.Context(), lat, lon, radius)
	if err != nil {
		if errors.Is(err, discovery.ErrMissingLocation) {
			writeError(w, r, http.StatusBadRequest, "latitude and longitude are required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if vendors == nil {
		vendors = []discovery.VendorSummary{}
	}
	writeJSON(w, http.StatusOK, vendors)
}

func parseCoord(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
