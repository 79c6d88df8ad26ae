// Package httpapi is the REST surface of the plazaviva service: account
// registration, the product catalog, order history and vendor actions, plus
// the operational endpoints. The websocket gateway is mounted alongside it.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/discovery"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/obs"
	"plazaviva.org/internal/order"
	"plazaviva.org/internal/presence"
)

// ReadyProbe pings the backing database, when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Users is the account side of the store.
type Users interface {
	CreateUser(ctx context.Context, u *identity.User) error
	FindUser(ctx context.Context, id string) (*identity.User, error)
	FindUserByEmail(ctx context.Context, email string) (*identity.User, error)
	UpdateUser(ctx context.Context, u *identity.User) error
}

// OrderHistory lists persisted orders for the history endpoint.
type OrderHistory interface {
	ListOrdersForUser(ctx context.Context, userID string, limit int) ([]*order.Order, error)
}

// Deps collects everything the API serves. Users, Catalog and History may be
// nil when the service runs without a database; the endpoints that need them
// answer 503.
type Deps struct {
	Users     Users
	Catalog   catalog.Store
	History   OrderHistory
	Orders    *order.Service
	Presence  *presence.Service
	Discovery *discovery.Service
	Gateway   http.Handler
	Ready     ReadyProbe
	Log       *zap.SugaredLogger
	TokenTTL  time.Duration
	Version   string
}

// API is the HTTP layer.
type API struct {
	router    chi.Router
	users     Users
	catalog   catalog.Store
	history   OrderHistory
	orders    *order.Service
	presence  *presence.Service
	discovery *discovery.Service
	ready     ReadyProbe
	log       *zap.SugaredLogger
	tokenTTL  time.Duration
	version   string
}

func New(d Deps) *API {
	a := &API{
		router:    chi.NewRouter(),
		users:     d.Users,
		catalog:   d.Catalog,
		history:   d.History,
		orders:    d.Orders,
		presence:  d.Presence,
		discovery: d.Discovery,
		ready:     d.Ready,
		log:       d.Log,
		tokenTTL:  d.TokenTTL,
		version:   d.Version,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 24 * time.Hour
	}

	r := a.router
	r.Use(middleware.RequestID)
	r.Use(a.logging)
	r.Use(SecurityHeaders)
	r.Use(CORS)

	// Operational surface.
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	if d.Gateway != nil {
		r.Handle("/ws", d.Gateway)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(20, 10))
		r.Use(MaxBodyBytes(1 << 20))

		r.Post("/auth/register", a.register)
		r.Post("/auth/login", a.login)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/users/me", a.me)
			r.Put("/users/me", a.updateProfile)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.listProducts)
				r.Post("/", a.createProduct)
				r.Get("/{id}", a.getProduct)
				r.Put("/{id}", a.updateProduct)
				r.Delete("/{id}", a.deleteProduct)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", a.listOrders)
				r.Post("/", a.createOrder)
				r.Get("/{id}", a.getOrder)
				r.Post("/{id}/accept", a.acceptOrder)
				r.Post("/{id}/reject", a.rejectOrder)
				r.Patch("/{id}/status", a.updateOrderStatus)
			})

			r.Put("/location", a.updateLocation)
			r.Get("/location/nearby", a.nearbyVendors)
		})
	})

	return a
}

// Handler wraps the router with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}
