// Package gateway terminates websocket connections and routes the real-time
// protocol between clients, vendors and the in-process services.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"plazaviva.org/internal/auth"
	"plazaviva.org/internal/discovery"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/obs"
	"plazaviva.org/internal/order"
	"plazaviva.org/internal/presence"
	"plazaviva.org/internal/session"
)

const handleTimeout = 10 * time.Second

// UserSource resolves authenticated users during the websocket handshake.
type UserSource interface {
	FindUser(ctx context.Context, id string) (*identity.User, error)
}

// Gateway upgrades HTTP requests to websocket sessions and dispatches every
// inbound event. One reader goroutine per connection keeps each peer's
// messages in arrival order.
type Gateway struct {
	registry  *session.Registry
	presence  *presence.Service
	discovery *discovery.Service
	orders    *order.Service
	users     UserSource
	log       *zap.SugaredLogger
	upgrader  websocket.Upgrader
}

func New(reg *session.Registry, pres *presence.Service, disc *discovery.Service, ord *order.Service, users UserSource, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		registry:  reg,
		presence:  pres,
		discovery: disc,
		orders:    ord,
		users:     users,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The mobile apps connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := g.authenticate(r)

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newWSConn(uuid.NewString(), sock, g.log)
	g.registry.Register(conn, user)
	obs.ConnOpened(roleLabel(user.Role))
	g.log.Infow("websocket connected",
		"connection_id", conn.ID(), "user_id", user.ID, "role", user.Role)

	go conn.writePump()
	g.readPump(conn, user)
}

// authenticate resolves the connecting user from the handshake query. A valid
// token wins; otherwise the demo identity for the requested role is used, so
// an authentication failure is never fatal to the connection.
func (g *Gateway) authenticate(r *http.Request) identity.User {
	q := r.URL.Query()

	if token := q.Get("token"); token != "" {
		if claims, err := auth.ParseAndValidate(token); err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), handleTimeout)
			defer cancel()
			u, err := g.users.FindUser(ctx, claims.Subject)
			if err == nil && u.IsActive {
				return *u
			}
			g.log.Warnw("token subject not usable, falling back to demo identity",
				"user_id", claims.Subject, "error", err)
		} else {
			g.log.Warnw("invalid websocket token", "error", err)
		}
	}

	role := identity.RoleClient
	if strings.EqualFold(q.Get("userType"), string(identity.RoleVendor)) {
		role = identity.RoleVendor
	}
	return identity.Demo(role, q.Get("userId"))
}

// readPump consumes the connection until it drops, dispatching each decoded
// event. It owns session teardown: a vendor going away is marked disconnected
// for everyone else.
func (g *Gateway) readPump(conn *wsConn, user identity.User) {
	defer func() {
		conn.close()
		g.registry.Unregister(conn.ID())
		obs.ConnClosed(roleLabel(user.Role))
		if user.Role == identity.RoleVendor {
			g.presence.Disconnect(user.ID, user.Demo)
		}
		g.log.Infow("websocket disconnected", "connection_id", conn.ID(), "user_id", user.ID)
	}()

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warnw("websocket read error", "connection_id", conn.ID(), "error", err)
			}
			return
		}

		msg, err := decodeInbound(data)
		if err != nil {
			obs.EventHandled("unknown", "rejected")
			g.sendError(conn.ID(), err.Error())
			continue
		}

		if err := g.dispatch(conn, user, msg); err != nil {
			obs.EventHandled(eventName(msg), "error")
			g.sendError(conn.ID(), userMessage(err))
		} else {
			obs.EventHandled(eventName(msg), "ok")
		}
	}
}

func (g *Gateway) dispatch(conn *wsConn, user identity.User, msg inbound) error {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch m := msg.(type) {
	case vendorConnectMsg:
		if user.Role != identity.RoleVendor {
			return errVendorOnly
		}
		_, err := g.presence.Connect(user, m.Latitude, m.Longitude)
		return err

	case vendorDisconnectMsg:
		if user.Role != identity.RoleVendor {
			return errVendorOnly
		}
		g.presence.Disconnect(user.ID, user.Demo)
		return nil

	case updateLocationMsg:
		if user.Role != identity.RoleVendor {
			return errVendorOnly
		}
		return g.presence.UpdateLocation(user.ID, user.Demo, m.Latitude, m.Longitude)

	case getNearbyVendorsMsg:
		if user.Role != identity.RoleClient {
			return errClientOnly
		}
		vendors, err := g.discovery.Query(ctx, m.Latitude, m.Longitude, m.Radius)
		if err != nil {
			return err
		}
		g.registry.SendToConnection(conn.ID(), session.Event{Name: evNearbyVendors, Payload: vendors})
		return nil

	case newOrderMsg:
		if user.Role != identity.RoleClient {
			return errClientOnly
		}
		ord, err := g.orders.Create(ctx, user, order.CreateInput{
			ID:            m.ID,
			VendorID:      m.VendorID,
			Items:         m.Items,
			PaymentMethod: m.PaymentMethod,
			DeliveryNotes: m.DeliveryNotes,
			DeclaredTotal: m.Total,
		})
		if err != nil {
			return err
		}
		obs.OrderTransition(string(ord.Status))
		return nil

	case orderStatusUpdateMsg:
		// The stored order decides who gets notified; the clientId the
		// peer sends along is ignored.
		st, err := order.ParseStatus(m.Status)
		if err != nil {
			return err
		}
		ord, err := g.orders.UpdateStatus(ctx, user, m.OrderID, st)
		if err != nil {
			return err
		}
		obs.OrderTransition(string(ord.Status))
		return nil

	default:
		return errors.New("unhandled event")
	}
}

func (g *Gateway) sendError(connID, message string) {
	g.registry.SendToConnection(connID, session.Event{
		Name:    evError,
		Payload: map[string]string{"message": message},
	})
}

var (
	errVendorOnly = errors.New("event requires a vendor session")
	errClientOnly = errors.New("event requires a client session")
)

// userMessage translates service errors into the strings the apps show.
func userMessage(err error) string {
	switch {
	case errors.Is(err, presence.ErrInvalidLocation), errors.Is(err, discovery.ErrMissingLocation):
		return "latitude and longitude are required"
	case errors.Is(err, order.ErrVendorUnavailable):
		return "vendor is not available"
	case errors.Is(err, order.ErrProductUnavailable):
		var perr *order.ProductError
		if errors.As(err, &perr) {
			return "products unavailable: " + strings.Join(perr.IDs, ", ")
		}
		return "products unavailable"
	case errors.Is(err, order.ErrInvalidTransition), errors.Is(err, order.ErrNotFound):
		return "order not found or already processed"
	case errors.Is(err, order.ErrUnauthorized):
		return "not allowed to update this order"
	case errors.Is(err, order.ErrInvalidOrder):
		return "invalid order"
	default:
		return err.Error()
	}
}

func roleLabel(r identity.Role) string { return strings.ToLower(string(r)) }
