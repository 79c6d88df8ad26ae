package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/session"
)

type fakeCatalog struct {
	products map[string]*catalog.Product
}

func (f *fakeCatalog) FindForOrder(ctx context.Context, ids []string, vendorID string) ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, id := range ids {
		p, ok := f.products[id]
		if !ok || p.VendorID != vendorID || !p.IsAvailable {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fakePresence struct {
	connected map[string]bool
}

func (f *fakePresence) IsConnected(vendorID string) bool { return f.connected[vendorID] }

type roomEvent struct {
	room string
	evt  session.Event
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []roomEvent
}

func (b *fakeBroadcaster) SendToRoom(room string, evt session.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, roomEvent{room: room, evt: evt})
	return 1
}

func (b *fakeBroadcaster) byName(name string) []roomEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []roomEvent
	for _, e := range b.events {
		if e.evt.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func newMemStore() *memStore { return &memStore{orders: make(map[string]*Order)} }

func (m *memStore) CreateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, id string, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = st
	return nil
}

func testService(t *testing.T) (*Service, *fakeBroadcaster, *fakePresence) {
	t.Helper()
	cat := &fakeCatalog{products: map[string]*catalog.Product{
		"p1": {ID: "p1", VendorID: "v1", Name: "Anticuchos", Price: 25, IsAvailable: true},
		"p2": {ID: "p2", VendorID: "v1", Name: "Chicha", Price: 10, IsAvailable: true},
		"p3": {ID: "p3", VendorID: "v1", Name: "Picarones", Price: 12, IsAvailable: false},
	}}
	pres := &fakePresence{connected: map[string]bool{"v1": true}}
	b := &fakeBroadcaster{}
	svc := NewService(newMemStore(), cat, pres, b, zap.NewNop().Sugar())
	return svc, b, pres
}

func clientUser() identity.User {
	return identity.User{ID: "c1", Role: identity.RoleClient, Name: "Maria", IsActive: true}
}

func TestCreateComputesTotalServerSide(t *testing.T) {
	svc, b, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 2, UnitPrice: 999}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ord.Total != 50 {
		t.Fatalf("total: %d", ord.Total)
	}
	if ord.Status != StatusPending {
		t.Fatalf("status: %s", ord.Status)
	}
	if ord.Items[0].UnitPrice != 25 {
		t.Fatalf("client price trusted: %d", ord.Items[0].UnitPrice)
	}

	received := b.byName(EventOrderReceived)
	if len(received) != 2 {
		t.Fatalf("order_received events: %d", len(received))
	}
	if received[0].room != session.PersonalRoom("v1") || received[1].room != session.RoomVendors {
		t.Fatalf("rooms: %s, %s", received[0].room, received[1].room)
	}
	payload := received[0].evt.Payload.(map[string]any)
	if payload["total"].(int64) != 50 {
		t.Fatalf("payload total: %v", payload["total"])
	}
}

func TestCreateRequiresConnectedVendor(t *testing.T) {
	svc, _, pres := testService(t)
	pres.connected["v1"] = false

	_, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if !errors.Is(err, ErrVendorUnavailable) {
		t.Fatalf("expected ErrVendorUnavailable, got %v", err)
	}
}

func TestCreateListsUnavailableProducts(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items: []ItemInput{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p3", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
		},
	})
	if !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}
	var pe *ProductError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProductError, got %T", err)
	}
	if len(pe.IDs) != 2 {
		t.Fatalf("offending ids: %v", pe.IDs)
	}
}

func TestCreateRejectsEmptyOrBadItems(t *testing.T) {
	svc, _, _ := testService(t)

	cases := []CreateInput{
		{VendorID: "v1"},
		{VendorID: "", Items: []ItemInput{{ProductID: "p1", Quantity: 1}}},
		{VendorID: "v1", Items: []ItemInput{{ProductID: "p1", Quantity: 0}}},
		{VendorID: "v1", Items: []ItemInput{{ProductID: "", Quantity: 1}}},
	}
	for _, in := range cases {
		if _, err := svc.Create(context.Background(), clientUser(), in); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("input %+v: expected ErrInvalidOrder, got %v", in, err)
		}
	}
}

func TestAcceptTwiceFailsSecondTime(t *testing.T) {
	svc, b, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	first, err := svc.Accept(context.Background(), ord.ID, "v1")
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if first.Status != StatusAccepted {
		t.Fatalf("status: %s", first.Status)
	}

	if _, err := svc.Accept(context.Background(), ord.ID, "v1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second accept: %v", err)
	}

	got, err := svc.Get(context.Background(), ord.ID, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("status after double accept: %s", got.Status)
	}
	if n := len(b.byName(EventOrderStatusChanged)); n != 1 {
		t.Fatalf("status events: %d", n)
	}
}

func TestAcceptByWrongVendorIndistinguishable(t *testing.T) {
	svc, _, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Accept(context.Background(), ord.ID, "v2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("wrong vendor: %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	svc, b, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ord.Total != 55 {
		t.Fatalf("total: %d", ord.Total)
	}

	steps := []func(context.Context, string, string) (Order, error){
		svc.Accept, svc.BeginPrep, svc.MarkReady, svc.Deliver,
	}
	want := []Status{StatusAccepted, StatusPreparing, StatusReady, StatusDelivered}
	for i, step := range steps {
		got, err := step(context.Background(), ord.ID, "v1")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got.Status != want[i] {
			t.Fatalf("step %d: status %s", i, got.Status)
		}
	}

	changed := b.byName(EventOrderStatusChanged)
	if len(changed) != 4 {
		t.Fatalf("status events: %d", len(changed))
	}
	for _, e := range changed {
		if e.room != session.PersonalRoom("c1") {
			t.Fatalf("status event room: %s", e.room)
		}
	}
}

func TestRejectCancels(t *testing.T) {
	svc, _, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Reject(context.Background(), ord.ID, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}
	// Cancelled is terminal.
	if _, err := svc.Accept(context.Background(), ord.ID, "v1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after reject: %v", err)
	}
}

func TestUpdateStatusGoesThroughGuards(t *testing.T) {
	svc, _, _ := testService(t)

	ord, err := svc.Create(context.Background(), clientUser(), CreateInput{
		VendorID: "v1",
		Items:    []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	vendor := identity.User{ID: "v1", Role: identity.RoleVendor, Name: "Jose"}
	stranger := identity.User{ID: "x9", Role: identity.RoleVendor, Name: "Nadie"}

	if _, err := svc.UpdateStatus(context.Background(), stranger, ord.ID, StatusAccepted); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger: %v", err)
	}
	// Jumping PENDING -> DELIVERED is an illegal transition, not an overwrite.
	if _, err := svc.UpdateStatus(context.Background(), vendor, ord.ID, StatusDelivered); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("jump: %v", err)
	}
	got, err := svc.UpdateStatus(context.Background(), vendor, ord.ID, StatusAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" preparing ")
	if err != nil || st != StatusPreparing {
		t.Fatalf("got %s, %v", st, err)
	}
	if _, err := ParseStatus("PAUSED"); err == nil {
		t.Fatal("expected error")
	}
}
