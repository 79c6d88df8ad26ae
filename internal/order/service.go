package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/ids"
	"plazaviva.org/internal/session"
)

// Outbound event names pushed on order activity.
const (
	EventOrderReceived      = "order_received"
	EventOrderStatusChanged = "order_status_changed"
)

// Store is the durable side of orders, written best-effort after the
// in-memory transition commits.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id string, st Status) error
}

// Catalog resolves order items against the vendor's catalog.
type Catalog interface {
	FindForOrder(ctx context.Context, ids []string, vendorID string) ([]*catalog.Product, error)
}

// Presence answers whether a vendor is currently visible.
type Presence interface {
	IsConnected(vendorID string) bool
}

// Broadcaster is the fan-out primitive. Implemented by session.Registry.
type Broadcaster interface {
	SendToRoom(room string, evt session.Event) int
}

// ItemInput is one requested order line. UnitPrice, when supplied by the
// client, is only used as an integrity cross-check against the catalog.
type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice,omitempty"`
}

// CreateInput is a request to open an order against a vendor.
type CreateInput struct {
	// ID optionally pins the order identifier so the client can correlate
	// later status events; a taken identifier rejects the request.
	ID            string      `json:"id,omitempty"`
	VendorID      string      `json:"vendorId"`
	Items         []ItemInput `json:"items"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	DeliveryNotes string      `json:"deliveryNotes,omitempty"`

	// DeclaredTotal is the client's idea of the total, used only as an
	// integrity cross-check against the server-computed sum.
	DeclaredTotal int64 `json:"total,omitempty"`
}

type entry struct {
	order *Order
	demo  bool
}

// Service validates and executes order transitions. The in-memory copy is
// authoritative for the real-time flow; the durable write is a best-effort
// side channel that never gates the notification path.
type Service struct {
	mu     sync.Mutex
	orders map[string]*entry

	store     Store
	catalog   Catalog
	presence  Presence
	broadcast Broadcaster
	log       *zap.SugaredLogger
	now       func() time.Time
}

// NewService wires the state machine to its collaborators.
func NewService(store Store, cat Catalog, pres Presence, broadcast Broadcaster, log *zap.SugaredLogger) *Service {
	return &Service{
		orders:    make(map[string]*entry),
		store:     store,
		catalog:   cat,
		presence:  pres,
		broadcast: broadcast,
		log:       log,
		now:       time.Now,
	}
}

// Create opens a PENDING order. The vendor must be visible, every item must
// resolve to an available catalog product of that vendor, and the total is
// computed server-side from catalog prices.
func (s *Service) Create(ctx context.Context, client identity.User, in CreateInput) (Order, error) {
	if in.VendorID == "" || len(in.Items) == 0 {
		return Order{}, ErrInvalidOrder
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return Order{}, ErrInvalidOrder
		}
	}
	if !s.presence.IsConnected(in.VendorID) {
		return Order{}, ErrVendorUnavailable
	}

	productIDs := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		productIDs = append(productIDs, it.ProductID)
	}
	if s.catalog == nil {
		return Order{}, &ProductError{IDs: productIDs}
	}
	products, err := s.catalog.FindForOrder(ctx, productIDs, in.VendorID)
	if err != nil {
		return Order{}, err
	}
	byID := make(map[string]*catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	var missing []string
	for _, id := range productIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return Order{}, &ProductError{IDs: missing}
	}

	items := make([]Item, 0, len(in.Items))
	var total int64
	for _, it := range in.Items {
		p := byID[it.ProductID]
		if it.UnitPrice != 0 && it.UnitPrice != p.Price {
			s.log.Warnw("client price mismatch, using catalog price",
				"product_id", p.ID, "client_price", it.UnitPrice, "catalog_price", p.Price)
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
		total += int64(it.Quantity) * p.Price
	}

	if in.DeclaredTotal != 0 && in.DeclaredTotal != total {
		s.log.Warnw("client total mismatch, using computed total",
			"vendor_id", in.VendorID, "declared", in.DeclaredTotal, "computed", total)
	}

	method := in.PaymentMethod
	if method == "" {
		method = "CASH"
	}
	orderID := in.ID
	if orderID == "" {
		orderID = ids.New()
	}
	now := s.now().UTC()
	ord := &Order{
		ID:            orderID,
		ClientID:      client.ID,
		VendorID:      in.VendorID,
		Items:         items,
		Total:         total,
		Status:        StatusPending,
		PaymentMethod: method,
		DeliveryNotes: in.DeliveryNotes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	demo := client.Demo || identity.IsDemo(client.ID) || identity.IsDemo(in.VendorID)
	s.mu.Lock()
	if _, taken := s.orders[ord.ID]; taken {
		s.mu.Unlock()
		return Order{}, ErrInvalidOrder
	}
	s.orders[ord.ID] = &entry{order: ord, demo: demo}
	out := *ord
	s.mu.Unlock()

	if !demo {
		s.persist(func(ctx context.Context) error { return s.store.CreateOrder(ctx, &out) }, out.ID)
	}

	notification := map[string]any{
		"orderId":    out.ID,
		"clientName": client.Name,
		"items":      out.Items,
		"total":      out.Total,
		"timestamp":  out.CreatedAt.Format(time.RFC3339),
	}
	// The personal room may not contain a reconnecting vendor yet, so the
	// role room gets the same event as a fallback; receivers dedupe by order
	// id.
	s.broadcast.SendToRoom(session.PersonalRoom(out.VendorID), session.Event{Name: EventOrderReceived, Payload: notification})
	s.broadcast.SendToRoom(session.RoomVendors, session.Event{Name: EventOrderReceived, Payload: notification})

	return out, nil
}

// Accept moves PENDING to ACCEPTED. Only the owning vendor may accept; a
// wrong owner and an already-moved order fail the same way on purpose.
func (s *Service) Accept(ctx context.Context, orderID, vendorID string) (Order, error) {
	return s.transition(ctx, orderID, vendorID, StatusPending, StatusAccepted)
}

// Reject moves PENDING to CANCELLED.
func (s *Service) Reject(ctx context.Context, orderID, vendorID string) (Order, error) {
	return s.transition(ctx, orderID, vendorID, StatusPending, StatusCancelled)
}

// BeginPrep moves ACCEPTED to PREPARING.
func (s *Service) BeginPrep(ctx context.Context, orderID, vendorID string) (Order, error) {
	return s.transition(ctx, orderID, vendorID, StatusAccepted, StatusPreparing)
}

// MarkReady moves PREPARING to READY.
func (s *Service) MarkReady(ctx context.Context, orderID, vendorID string) (Order, error) {
	return s.transition(ctx, orderID, vendorID, StatusPreparing, StatusReady)
}

// Deliver moves READY to DELIVERED.
func (s *Service) Deliver(ctx context.Context, orderID, vendorID string) (Order, error) {
	return s.transition(ctx, orderID, vendorID, StatusReady, StatusDelivered)
}

// UpdateStatus routes a generic status request through the guarded
// transitions. The actor must be a party to the order; an illegal jump fails
// ErrInvalidTransition instead of overwriting state.
func (s *Service) UpdateStatus(ctx context.Context, actor identity.User, orderID string, st Status) (Order, error) {
	ord, err := s.get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.ID != ord.ClientID && actor.ID != ord.VendorID {
		return Order{}, ErrUnauthorized
	}

	switch st {
	case StatusAccepted:
		return s.Accept(ctx, orderID, actor.ID)
	case StatusCancelled:
		return s.Reject(ctx, orderID, actor.ID)
	case StatusPreparing:
		return s.BeginPrep(ctx, orderID, actor.ID)
	case StatusReady:
		return s.MarkReady(ctx, orderID, actor.ID)
	case StatusDelivered:
		return s.Deliver(ctx, orderID, actor.ID)
	default:
		return Order{}, ErrInvalidTransition
	}
}

// Get returns the order if the actor is a party to it.
func (s *Service) Get(ctx context.Context, orderID, actorID string) (Order, error) {
	ord, err := s.get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actorID != ord.ClientID && actorID != ord.VendorID {
		return Order{}, ErrNotFound
	}
	return ord, nil
}

func (s *Service) transition(ctx context.Context, orderID, vendorID string, from, to Status) (Order, error) {
	s.mu.Lock()
	e, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		// Orders created over REST before this process handled them live only
		// in storage.
		loaded, err := s.load(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		s.mu.Lock()
		if existing, raced := s.orders[orderID]; raced {
			e = existing
		} else {
			e = &entry{order: loaded}
			s.orders[orderID] = e
		}
	}
	if e.order.Status != from || e.order.VendorID != vendorID {
		s.mu.Unlock()
		return Order{}, ErrInvalidTransition
	}
	e.order.Status = to
	e.order.UpdatedAt = s.now().UTC()
	out := *e.order
	demo := e.demo
	s.mu.Unlock()

	if !demo {
		s.persist(func(ctx context.Context) error {
			return s.store.UpdateOrderStatus(ctx, out.ID, out.Status)
		}, out.ID)
	}

	s.broadcast.SendToRoom(session.PersonalRoom(out.ClientID), session.Event{
		Name: EventOrderStatusChanged,
		Payload: map[string]any{
			"orderId":   out.ID,
			"status":    out.Status,
			"timestamp": out.UpdatedAt.Format(time.RFC3339),
		},
	})
	return out, nil
}

func (s *Service) get(ctx context.Context, orderID string) (Order, error) {
	s.mu.Lock()
	e, ok := s.orders[orderID]
	if ok {
		out := *e.order
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	loaded, err := s.load(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return *loaded, nil
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	if s.store == nil {
		return nil, ErrNotFound
	}
	ord, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return ord, nil
}

// persist fires a best-effort durable write. Failures are logged and
// swallowed; the in-memory state already committed and the notification has
// priority.
func (s *Service) persist(write func(context.Context) error, orderID string) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := write(ctx); err != nil {
			s.log.Errorw("order write failed", "order_id", orderID, "error", err)
		}
	}()
}
