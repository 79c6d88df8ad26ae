// Package pg is the PostgreSQL persistence layer behind users, the product
// catalog, orders and the durable copy of vendor presence.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/ids"
	"plazaviva.org/internal/order"
	"plazaviva.org/internal/presence"
)

// ErrDuplicateEmail signals a registration against an email already in use.
var ErrDuplicateEmail = errors.New("store: email already registered")

type Store struct {
	db *sql.DB
}

var (
	_ presence.Store = (*Store)(nil)
	_ order.Store    = (*Store)(nil)
	_ catalog.Store  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool, mainly for tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Users ---------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, role, name, email, phone, address, password_hash, is_active)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Role, u.Name, u.Email, u.Phone, u.Address, u.PasswordHash, u.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users set name=$2, email=$3, phone=$4, address=$5
		where id=$1
	`, u.ID, u.Name, u.Email, u.Phone, u.Address)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*identity.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, role, name, email, phone, address, password_hash, is_active, created_at
		from users where id=$1
	`, id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		select id, role, name, email, phone, address, password_hash, is_active, created_at
		from users where email=$1
	`, email))
}

func (s *Store) scanUser(row *sql.Row) (*identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Role, &u.Name, &u.Email, &u.Phone, &u.Address,
		&u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Presence ------------------------------------------------------------------

// UpdatePresence writes the changed presence columns. Nil field pointers keep
// the stored value, matching the in-memory rule that a disconnect does not
// erase the last known location.
func (s *Store) UpdatePresence(ctx context.Context, vendorID string, fields presence.Fields) error {
	res, err := s.db.ExecContext(ctx, `
		update users set
			is_connected = coalesce($2, is_connected),
			latitude     = coalesce($3, latitude),
			longitude    = coalesce($4, longitude),
			last_seen    = $5
		where id=$1 and role='VENDOR'
	`, vendorID, fields.IsConnected, fields.Latitude, fields.Longitude, fields.LastSeen)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("presence update: vendor %s not found", vendorID)
	}
	return nil
}

// Catalog -------------------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p *catalog.Product) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into products(id, vendor_id, name, description, price, category, image_url, is_available)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, p.VendorID, p.Name, p.Description, p.Price, p.Category, p.ImageURL, p.IsAvailable)
	return err
}

func (s *Store) FindProduct(ctx context.Context, id string) (*catalog.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, vendor_id, name, description, price, category, image_url, is_available, created_at
		from products where id=$1
	`, id)
	return scanProduct(row)
}

func (s *Store) ListProductsByVendor(ctx context.Context, vendorID string) ([]*catalog.Product, error) {
	return s.queryProducts(ctx, `
		select id, vendor_id, name, description, price, category, image_url, is_available, created_at
		from products where vendor_id=$1 order by created_at asc
	`, vendorID)
}

func (s *Store) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	res, err := s.db.ExecContext(ctx, `
		update products set
			name=$3, description=$4, price=$5, category=$6, image_url=$7, is_available=$8
		where id=$1 and vendor_id=$2
	`, p.ID, p.VendorID, p.Name, p.Description, p.Price, p.Category, p.ImageURL, p.IsAvailable)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id, vendorID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from products where id=$1 and vendor_id=$2`, id, vendorID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) ListAvailable(ctx context.Context, vendorID string, limit int) ([]*catalog.Product, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryProducts(ctx, `
		select id, vendor_id, name, description, price, category, image_url, is_available, created_at
		from products where vendor_id=$1 and is_available order by created_at asc limit $2
	`, vendorID, limit)
}

func (s *Store) FindForOrder(ctx context.Context, productIDs []string, vendorID string) ([]*catalog.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return s.queryProducts(ctx, `
		select id, vendor_id, name, description, price, category, image_url, is_available, created_at
		from products where id = any($1) and vendor_id=$2 and is_available
	`, productIDs, vendorID)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]*catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.VendorID, &p.Name, &p.Description, &p.Price,
		&p.Category, &p.ImageURL, &p.IsAvailable, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Orders --------------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into orders(id, client_id, vendor_id, total, status, payment_method, delivery_notes, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, o.ID, o.ClientID, o.VendorID, o.Total, o.Status, o.PaymentMethod, o.DeliveryNotes, o.CreatedAt, o.UpdatedAt); err != nil {
		return err
	}
	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx, `
			insert into order_items(order_id, product_id, name, quantity, unit_price)
			values ($1,$2,$3,$4,$5)
		`, o.ID, it.ProductID, it.Name, it.Quantity, it.UnitPrice); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, vendor_id, total, status, payment_method, delivery_notes, created_at, updated_at
		from orders where id=$1
	`, id).Scan(&o.ID, &o.ClientID, &o.VendorID, &o.Total, &o.Status,
		&o.PaymentMethod, &o.DeliveryNotes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := s.orderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, st order.Status) error {
	res, err := s.db.ExecContext(ctx,
		`update orders set status=$2, updated_at=now() where id=$1`, id, st)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListOrdersForUser returns the orders a user participates in, newest first.
func (s *Store) ListOrdersForUser(ctx context.Context, userID string, limit int) ([]*order.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, client_id, vendor_id, total, status, payment_method, delivery_notes, created_at, updated_at
		from orders
		where client_id=$1 or vendor_id=$1
		order by created_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.ClientID, &o.VendorID, &o.Total, &o.Status,
			&o.PaymentMethod, &o.DeliveryNotes, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range res {
		items, err := s.orderItems(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		o.Items = items
	}
	return res, nil
}

func (s *Store) orderItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		select product_id, name, quantity, unit_price
		from order_items where order_id=$1 order by id asc
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []order.Item
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
