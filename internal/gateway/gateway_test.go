package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"plazaviva.org/internal/auth"
	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/discovery"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/order"
	"plazaviva.org/internal/presence"
	"plazaviva.org/internal/session"
)

type testCatalog struct {
	products map[string]*catalog.Product
}

func (c *testCatalog) FindForOrder(_ context.Context, ids []string, vendorID string) ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, id := range ids {
		p, ok := c.products[id]
		if !ok || p.VendorID != vendorID || !p.IsAvailable {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *testCatalog) ListAvailable(_ context.Context, vendorID string, limit int) ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, p := range c.products {
		if p.VendorID == vendorID && p.IsAvailable && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

type testOrderStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func (s *testOrderStore) CreateOrder(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *testOrderStore) GetOrder(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *testOrderStore) UpdateOrderStatus(_ context.Context, id string, st order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		o.Status = st
	}
	return nil
}

type testUsers struct {
	byID map[string]*identity.User
}

func (u *testUsers) FindUser(_ context.Context, id string) (*identity.User, error) {
	usr, ok := u.byID[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	cp := *usr
	return &cp, nil
}

type testEnv struct {
	srv      *httptest.Server
	registry *session.Registry
	presence *presence.Service
	users    *testUsers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()

	reg := session.NewRegistry()
	pres := presence.NewService(reg, nil)
	cat := &testCatalog{products: map[string]*catalog.Product{
		"p1": {ID: "p1", VendorID: identity.DemoVendorID, Name: "Tacos", Price: 2500, IsAvailable: true},
		"p2": {ID: "p2", VendorID: identity.DemoVendorID, Name: "Agua", Price: 1000, IsAvailable: true},
	}}
	disc := discovery.NewService(pres, cat, log)
	ord := order.NewService(&testOrderStore{orders: make(map[string]*order.Order)}, cat, pres, reg, log)
	users := &testUsers{byID: make(map[string]*identity.User)}

	gw := New(reg, pres, disc, ord, users, log)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, registry: reg, presence: pres, users: users}
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	before := e.registry.Len()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { ws.Close() })
	e.waitForSessions(t, before+1)
	return ws
}

func (e *testEnv) waitForSessions(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.registry.Len() < want {
		if time.Now().After(deadline) {
			t.Fatalf("registry never reached %d sessions", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	if err := ws.WriteJSON(map[string]any{"event": event, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readEvent reads until it sees the named event, skipping unrelated traffic.
func readEvent(t *testing.T, ws *websocket.Conn, name string) json.RawMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := ws.ReadJSON(&evt); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if evt.Event == name {
			return evt.Payload
		}
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestVendorPresenceReachesClients(t *testing.T) {
	env := newTestEnv(t)

	client := env.dial(t, "userType=CLIENT")
	vendor := env.dial(t, "userType=VENDOR")

	send(t, vendor, "vendor_connect", map[string]any{"latitude": 19.43, "longitude": -99.13})

	payload := readEvent(t, client, "vendor_connected")
	var got struct {
		VendorID string   `json:"vendorId"`
		Name     string   `json:"name"`
		Latitude *float64 `json:"latitude"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.VendorID != identity.DemoVendorID {
		t.Fatalf("vendorId = %q, want %q", got.VendorID, identity.DemoVendorID)
	}
	if got.Latitude == nil || *got.Latitude != 19.43 {
		t.Fatalf("latitude = %v, want 19.43", got.Latitude)
	}

	send(t, vendor, "vendor_disconnect", nil)
	payload = readEvent(t, client, "vendor_disconnected")
	if !strings.Contains(string(payload), identity.DemoVendorID) {
		t.Fatalf("vendor_disconnected payload = %s", payload)
	}
}

func TestNearbyVendorsQuery(t *testing.T) {
	env := newTestEnv(t)

	vendor := env.dial(t, "userType=VENDOR")
	client := env.dial(t, "userType=CLIENT")

	send(t, vendor, "vendor_connect", map[string]any{"latitude": 19.43, "longitude": -99.13})
	send(t, client, "get_nearby_vendors", map[string]any{"latitude": 19.44, "longitude": -99.13})

	var vendors []struct {
		ID       string  `json:"id"`
		Distance float64 `json:"distance"`
	}
	// The connect may still be in flight when the query lands; retry once.
	for attempt := 0; ; attempt++ {
		payload := readEvent(t, client, "nearby_vendors")
		if err := json.Unmarshal(payload, &vendors); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(vendors) == 1 {
			break
		}
		if attempt >= 1 {
			t.Fatalf("vendors = %+v, want exactly one", vendors)
		}
		time.Sleep(50 * time.Millisecond)
		send(t, client, "get_nearby_vendors", map[string]any{"latitude": 19.44, "longitude": -99.13})
	}
	if vendors[0].ID != identity.DemoVendorID {
		t.Fatalf("vendor id = %q, want %q", vendors[0].ID, identity.DemoVendorID)
	}
	if vendors[0].Distance <= 0 || vendors[0].Distance > 2 {
		t.Fatalf("distance = %v, want within (0, 2]", vendors[0].Distance)
	}
}

func TestOrderLifecycleOverSockets(t *testing.T) {
	env := newTestEnv(t)

	vendor := env.dial(t, "userType=VENDOR")
	client := env.dial(t, "userType=CLIENT")

	send(t, vendor, "vendor_connect", map[string]any{"latitude": 19.43, "longitude": -99.13})
	readEvent(t, client, "vendor_connected")

	send(t, client, "new_order", map[string]any{
		"id":       "ord-ws-1",
		"vendorId": identity.DemoVendorID,
		"items": []map[string]any{
			{"productId": "p1", "quantity": 2},
		},
	})

	payload := readEvent(t, vendor, "order_received")
	var received struct {
		OrderID string `json:"orderId"`
		Total   int64  `json:"total"`
	}
	if err := json.Unmarshal(payload, &received); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if received.OrderID != "ord-ws-1" {
		t.Fatalf("orderId = %q, want ord-ws-1", received.OrderID)
	}
	if received.Total != 5000 {
		t.Fatalf("total = %d, want 5000", received.Total)
	}

	send(t, vendor, "order_status_update", map[string]any{
		"orderId": "ord-ws-1",
		"status":  "ACCEPTED",
	})

	payload = readEvent(t, client, "order_status_changed")
	var changed struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(payload, &changed); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if changed.OrderID != "ord-ws-1" || changed.Status != "ACCEPTED" {
		t.Fatalf("status change = %+v", changed)
	}
}

func TestTransportDropMarksVendorDisconnected(t *testing.T) {
	env := newTestEnv(t)

	vendor := env.dial(t, "userType=VENDOR")
	send(t, vendor, "vendor_connect", map[string]any{"latitude": 19.43, "longitude": -99.13})

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, ok := env.presence.Record(identity.DemoVendorID)
		if ok && rec.IsConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("vendor never became connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Drop the socket without a vendor_disconnect; the read loop's teardown
	// must flip the record for everyone else.
	vendor.Close()

	deadline = time.Now().Add(2 * time.Second)
	for {
		rec, _ := env.presence.Record(identity.DemoVendorID)
		if !rec.IsConnected {
			if rec.Latitude == nil || *rec.Latitude != 19.43 {
				t.Fatalf("latitude = %v, want 19.43 retained after drop", rec.Latitude)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("vendor still connected after transport drop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNearbyVendorsRequiresClientSession(t *testing.T) {
	env := newTestEnv(t)
	vendor := env.dial(t, "userType=VENDOR")

	send(t, vendor, "get_nearby_vendors", map[string]any{"latitude": 19.43, "longitude": -99.13})

	payload := readEvent(t, vendor, "error")
	var got struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !strings.Contains(got.Message, "client session") {
		t.Fatalf("message = %q, want a client session error", got.Message)
	}
}

func TestErrorsReportedToSender(t *testing.T) {
	env := newTestEnv(t)
	client := env.dial(t, "userType=CLIENT")

	cases := []struct {
		name    string
		event   string
		payload any
		want    string
	}{
		{"missing location", "get_nearby_vendors", map[string]any{}, "latitude and longitude are required"},
		{"role guard", "vendor_connect", map[string]any{"latitude": 1.0, "longitude": 1.0}, "vendor session"},
		{"unknown event", "warp_drive", nil, "unknown event"},
		{"vendor offline", "new_order", map[string]any{
			"vendorId": identity.DemoVendorID,
			"items":    []map[string]any{{"productId": "p1", "quantity": 1}},
		}, "vendor is not available"},
	}

	for _, tc := range cases {
		send(t, client, tc.event, tc.payload)
		payload := readEvent(t, client, "error")
		var got struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("%s: decode payload: %v", tc.name, err)
		}
		if !strings.Contains(got.Message, tc.want) {
			t.Fatalf("%s: message = %q, want substring %q", tc.name, got.Message, tc.want)
		}
	}
}

func TestAuthenticateToken(t *testing.T) {
	t.Setenv("PLAZAVIVA_AUTH_SECRET", "gateway-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	env := newTestEnv(t)
	env.users.byID["u-77"] = &identity.User{
		ID: "u-77", Role: identity.RoleVendor, Name: "Dona Mary", IsActive: true,
	}
	env.users.byID["u-off"] = &identity.User{
		ID: "u-off", Role: identity.RoleClient, Name: "Gone", IsActive: false,
	}

	gw := &Gateway{users: env.users, log: zap.NewNop().Sugar()}

	token, err := auth.GenerateToken("u-77", identity.RoleVendor, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	u := gw.authenticate(newWSRequest(t, "token="+token))
	if u.ID != "u-77" || u.Demo {
		t.Fatalf("authenticated user = %+v, want real u-77", u)
	}

	token, err = auth.GenerateToken("u-off", identity.RoleClient, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	u = gw.authenticate(newWSRequest(t, "token="+token+"&userType=CLIENT"))
	if !u.Demo || u.ID != identity.DemoClientID {
		t.Fatalf("inactive user should fall back to demo, got %+v", u)
	}

	u = gw.authenticate(newWSRequest(t, "token=garbage&userType=VENDOR&userId=v-local"))
	if !u.Demo || u.ID != "v-local" || u.Role != identity.RoleVendor {
		t.Fatalf("bad token should yield demo vendor v-local, got %+v", u)
	}

	u = gw.authenticate(newWSRequest(t, ""))
	if !u.Demo || u.Role != identity.RoleClient {
		t.Fatalf("anonymous connect should yield demo client, got %+v", u)
	}
}

func newWSRequest(t *testing.T, query string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/ws?%s", query), nil)
	return req
}
