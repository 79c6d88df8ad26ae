// Package presence maintains the authoritative in-memory view of vendor
// connectivity and location, and fans out changes to interested clients.
package presence

import (
	"errors"
	"sync"
	"time"

	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/session"
)

// Outbound event names published on presence changes.
const (
	EventVendorConnected       = "vendor_connected"
	EventVendorDisconnected    = "vendor_disconnected"
	EventVendorLocationUpdated = "vendor_location_updated"
)

// ErrInvalidLocation indicates missing or partial coordinates.
var ErrInvalidLocation = errors.New("presence: invalid location")

// Record is the live state of one vendor. Coordinates are both present or
// both absent; a record is never deleted, it only goes stale when
// IsConnected flips to false.
type Record struct {
	VendorID    string    `json:"vendorId"`
	Name        string    `json:"name"`
	IsConnected bool      `json:"isConnected"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Broadcaster is the fan-out primitive the service publishes through.
// Implemented by session.Registry.
type Broadcaster interface {
	SendToRoom(room string, evt session.Event) int
}

// Writer receives best-effort durable copies of presence mutations.
// Implemented by Persister; failures never reach the service.
type Writer interface {
	Enqueue(vendorID string, fields Fields)
}

// Fields is the subset of a record written to storage on each mutation.
type Fields struct {
	IsConnected *bool
	Latitude    *float64
	Longitude   *float64
	LastSeen    time.Time
}

// Service owns the presence records. All mutations commit in memory before
// any notification is issued; the durable write is a side channel.
type Service struct {
	mu      sync.RWMutex
	records map[string]*Record

	broadcast Broadcaster
	writer    Writer
	now       func() time.Time
}

// NewService creates an empty presence view. writer may be nil when durable
// writes are disabled (tests, demo deployments).
func NewService(broadcast Broadcaster, writer Writer) *Service {
	return &Service{
		records:   make(map[string]*Record),
		broadcast: broadcast,
		writer:    writer,
		now:       time.Now,
	}
}

// Connect marks the vendor visible at the given coordinates. Both must be
// present; a partial pair is rejected without mutating the record.
func (s *Service) Connect(vendor identity.User, lat, lon *float64) (Record, error) {
	if lat == nil || lon == nil {
		return Record{}, ErrInvalidLocation
	}

	s.mu.Lock()
	rec, ok := s.records[vendor.ID]
	if !ok {
		rec = &Record{VendorID: vendor.ID}
		s.records[vendor.ID] = rec
	}
	rec.Name = vendor.Name
	rec.IsConnected = true
	rec.Latitude = lat
	rec.Longitude = lon
	rec.LastSeen = s.now().UTC()
	out := *rec
	s.mu.Unlock()

	connected := true
	s.enqueue(vendor.ID, vendor.Demo, Fields{
		IsConnected: &connected,
		Latitude:    lat,
		Longitude:   lon,
		LastSeen:    out.LastSeen,
	})

	s.broadcast.SendToRoom(session.RoomClients, session.Event{
		Name: EventVendorConnected,
		Payload: map[string]any{
			"vendorId":  vendor.ID,
			"name":      vendor.Name,
			"latitude":  *lat,
			"longitude": *lon,
		},
	})
	return out, nil
}

// Disconnect marks the vendor invisible. It runs on every raw transport
// disconnect, authenticated or not, so an unknown or already-disconnected
// vendor is a no-op.
func (s *Service) Disconnect(vendorID string, demo bool) {
	s.mu.Lock()
	rec, ok := s.records[vendorID]
	if !ok || !rec.IsConnected {
		s.mu.Unlock()
		return
	}
	rec.IsConnected = false
	rec.LastSeen = s.now().UTC()
	lastSeen := rec.LastSeen
	s.mu.Unlock()

	connected := false
	s.enqueue(vendorID, demo, Fields{
		IsConnected: &connected,
		LastSeen:    lastSeen,
	})

	s.broadcast.SendToRoom(session.RoomClients, session.Event{
		Name:    EventVendorDisconnected,
		Payload: map[string]any{"vendorId": vendorID},
	})
}

// UpdateLocation moves the vendor without touching connectivity.
func (s *Service) UpdateLocation(vendorID string, demo bool, lat, lon *float64) error {
	if lat == nil || lon == nil {
		return ErrInvalidLocation
	}

	s.mu.Lock()
	rec, ok := s.records[vendorID]
	if !ok {
		rec = &Record{VendorID: vendorID}
		s.records[vendorID] = rec
	}
	rec.Latitude = lat
	rec.Longitude = lon
	rec.LastSeen = s.now().UTC()
	lastSeen := rec.LastSeen
	s.mu.Unlock()

	s.enqueue(vendorID, demo, Fields{
		Latitude:  lat,
		Longitude: lon,
		LastSeen:  lastSeen,
	})

	s.broadcast.SendToRoom(session.RoomClients, session.Event{
		Name: EventVendorLocationUpdated,
		Payload: map[string]any{
			"vendorId":  vendorID,
			"latitude":  *lat,
			"longitude": *lon,
		},
	})
	return nil
}

// Record returns a copy of the vendor's presence state.
func (s *Service) Record(vendorID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[vendorID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Connected snapshots every vendor that is currently visible with known
// coordinates.
func (s *Service) Connected() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.IsConnected || rec.Latitude == nil || rec.Longitude == nil {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// IsConnected reports whether the vendor is currently visible.
func (s *Service) IsConnected(vendorID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[vendorID]
	return ok && rec.IsConnected
}

func (s *Service) enqueue(vendorID string, demo bool, fields Fields) {
	// Demo identities are exempt from durable writes but still participate in
	// the notification flow.
	if s.writer == nil || demo || identity.IsDemo(vendorID) {
		return
	}
	s.writer.Enqueue(vendorID, fields)
}
