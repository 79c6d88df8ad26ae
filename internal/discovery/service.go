// Package discovery answers "which vendors are near me right now".
package discovery

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/geo"
	"plazaviva.org/internal/presence"
)

// DefaultRadiusKm applies when the caller does not constrain the search.
const DefaultRadiusKm = 5.0

// maxProducts caps the representative products attached per vendor.
const maxProducts = 5

// ErrMissingLocation indicates the caller did not supply usable coordinates.
var ErrMissingLocation = errors.New("discovery: missing location")

// VendorSummary is one ranked result.
type VendorSummary struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Distance  float64           `json:"distance"`
	Products  []catalog.Summary `json:"products"`
}

// Presence supplies the set of currently visible vendors.
type Presence interface {
	Connected() []presence.Record
}

// Products loads the catalog garnish for each result.
type Products interface {
	ListAvailable(ctx context.Context, vendorID string, limit int) ([]*catalog.Product, error)
}

// Service ranks connected vendors by distance from the caller.
type Service struct {
	presence Presence
	products Products
	log      *zap.SugaredLogger
}

// NewService wires discovery to presence and the catalog. products may be nil
// when no catalog is attached.
func NewService(pres Presence, products Products, log *zap.SugaredLogger) *Service {
	return &Service{presence: pres, products: products, log: log}
}

// Query filters connected vendors to those within radiusKm of the point,
// sorted ascending by distance with up to five available products attached.
// An empty result is not an error.
func (s *Service) Query(ctx context.Context, lat, lon *float64, radiusKm float64) ([]VendorSummary, error) {
	if lat == nil || lon == nil || !geo.ValidCoordinates(*lat, *lon) {
		return nil, ErrMissingLocation
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	results := make([]VendorSummary, 0)
	for _, rec := range s.presence.Connected() {
		d := geo.Distance(*lat, *lon, *rec.Latitude, *rec.Longitude)
		if d > radiusKm {
			continue
		}
		results = append(results, VendorSummary{
			ID:        rec.VendorID,
			Name:      rec.Name,
			Latitude:  *rec.Latitude,
			Longitude: *rec.Longitude,
			Distance:  geo.Round2(d),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })

	if s.products != nil {
		for i := range results {
			items, err := s.products.ListAvailable(ctx, results[i].ID, maxProducts)
			if err != nil {
				// The catalog garnish is optional; the ranked vendor list is
				// the contract.
				s.log.Warnw("catalog lookup failed", "vendor_id", results[i].ID, "error", err)
				continue
			}
			summaries := make([]catalog.Summary, 0, len(items))
			for _, p := range items {
				summaries = append(summaries, catalog.Summary{
					ID:          p.ID,
					Name:        p.Name,
					Description: p.Description,
					Price:       p.Price,
				})
			}
			results[i].Products = summaries
		}
	}
	return results, nil
}
