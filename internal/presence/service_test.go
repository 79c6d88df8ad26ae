package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/session"
)

type fakeBroadcaster struct {
	events []session.Event
	rooms  []string
}

func (b *fakeBroadcaster) SendToRoom(room string, evt session.Event) int {
	b.rooms = append(b.rooms, room)
	b.events = append(b.events, evt)
	return 1
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []string
}

func (w *fakeWriter) Enqueue(vendorID string, fields Fields) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, vendorID)
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func f64(v float64) *float64 { return &v }

func vendorUser(id string) identity.User {
	return identity.User{ID: id, Role: identity.RoleVendor, Name: "v-" + id, IsActive: true}
}

func TestConnectThenDisconnectKeepsCoordinates(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewService(b, nil)

	if _, err := s.Connect(vendorUser("v1"), f64(10), f64(20)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.Disconnect("v1", false)

	rec, ok := s.Record("v1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.IsConnected {
		t.Fatal("still connected")
	}
	if rec.Latitude == nil || rec.Longitude == nil || *rec.Latitude != 10 || *rec.Longitude != 20 {
		t.Fatalf("coordinates cleared: %+v", rec)
	}

	if len(b.events) != 2 {
		t.Fatalf("events: %d", len(b.events))
	}
	if b.events[0].Name != EventVendorConnected || b.events[1].Name != EventVendorDisconnected {
		t.Fatalf("unexpected event order: %+v", b.events)
	}
	for _, room := range b.rooms {
		if room != session.RoomClients {
			t.Fatalf("published to %s", room)
		}
	}
}

func TestConnectRejectsPartialCoordinates(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewService(b, nil)

	if _, err := s.Connect(vendorUser("v1"), f64(10), nil); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("expected ErrInvalidLocation, got %v", err)
	}
	if _, ok := s.Record("v1"); ok {
		t.Fatal("record mutated on rejected connect")
	}
	if len(b.events) != 0 {
		t.Fatalf("events emitted: %d", len(b.events))
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewService(b, nil)

	s.Disconnect("never-seen", false)
	if len(b.events) != 0 {
		t.Fatal("no-op disconnect emitted an event")
	}

	if _, err := s.Connect(vendorUser("v1"), f64(1), f64(2)); err != nil {
		t.Fatal(err)
	}
	s.Disconnect("v1", false)
	s.Disconnect("v1", false)

	var disconnects int
	for _, evt := range b.events {
		if evt.Name == EventVendorDisconnected {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Fatalf("disconnect events: %d", disconnects)
	}
}

func TestUpdateLocationDoesNotTouchConnectivity(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewService(b, nil)

	if _, err := s.Connect(vendorUser("v1"), f64(1), f64(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateLocation("v1", false, f64(3), f64(4)); err != nil {
		t.Fatal(err)
	}

	rec, _ := s.Record("v1")
	if !rec.IsConnected {
		t.Fatal("connectivity changed")
	}
	if *rec.Latitude != 3 || *rec.Longitude != 4 {
		t.Fatalf("coordinates not updated: %+v", rec)
	}
	if b.events[len(b.events)-1].Name != EventVendorLocationUpdated {
		t.Fatalf("unexpected last event: %s", b.events[len(b.events)-1].Name)
	}
}

func TestDemoVendorSkipsDurableWrites(t *testing.T) {
	b := &fakeBroadcaster{}
	w := &fakeWriter{}
	s := NewService(b, w)

	demo := identity.Demo(identity.RoleVendor, "")
	if _, err := s.Connect(demo, f64(1), f64(2)); err != nil {
		t.Fatal(err)
	}
	if w.count() != 0 {
		t.Fatalf("demo write persisted: %d", w.count())
	}
	// Demo vendors still participate in the notification flow.
	if len(b.events) != 1 || b.events[0].Name != EventVendorConnected {
		t.Fatalf("events: %+v", b.events)
	}

	if _, err := s.Connect(vendorUser("v1"), f64(1), f64(2)); err != nil {
		t.Fatal(err)
	}
	if w.count() != 1 {
		t.Fatalf("real vendor write missing: %d", w.count())
	}
}

func TestConnectedSnapshot(t *testing.T) {
	s := NewService(&fakeBroadcaster{}, nil)

	if _, err := s.Connect(vendorUser("v1"), f64(1), f64(2)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Connect(vendorUser("v2"), f64(3), f64(4)); err != nil {
		t.Fatal(err)
	}
	s.Disconnect("v2", false)

	snap := s.Connected()
	if len(snap) != 1 || snap[0].VendorID != "v1" {
		t.Fatalf("snapshot: %+v", snap)
	}
}

type failingStore struct {
	mu       sync.Mutex
	attempts int
	failures int
}

func (f *failingStore) UpdatePresence(ctx context.Context, vendorID string, fields Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("db down")
	}
	return nil
}

func (f *failingStore) tries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func TestPersisterRetriesTransientFailure(t *testing.T) {
	store := &failingStore{failures: 2}
	p := NewPersister(store, zap.NewNop().Sugar(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Enqueue("v1", Fields{LastSeen: time.Now()})

	deadline := time.After(5 * time.Second)
	for store.tries() < 3 {
		select {
		case <-deadline:
			t.Fatalf("attempts: %d", store.tries())
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	p.Wait()
}
