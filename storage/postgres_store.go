package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"marketplace/models"
)

// PostgresStore implements Store on PostgreSQL. Multi-record writes run in a
// single transaction; stock is decremented with a conditional update so two
// orders can never both take the last unit.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS addresses (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			address TEXT NOT NULL,
			city TEXT NOT NULL,
			postal_code TEXT NOT NULL,
			country TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_user_id ON addresses(user_id)`,

		// cart lines intentionally carry no product FK: deleted products are
		// pruned lazily when the cart is read.
		`CREATE TABLE IF NOT EXISTS cart_lines (
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			position INTEGER NOT NULL,
			PRIMARY KEY (user_id, product_id)
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			price NUMERIC(12, 2) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			images TEXT[] NOT NULL DEFAULT '{}',
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			seller_id TEXT REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS seller_products (
			seller_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			PRIMARY KEY (seller_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reviews (
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (product_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			ship_address TEXT NOT NULL DEFAULT '',
			ship_city TEXT NOT NULL DEFAULT '',
			ship_postal_code TEXT NOT NULL DEFAULT '',
			ship_country TEXT NOT NULL DEFAULT '',
			payment_id TEXT NOT NULL DEFAULT '',
			payment_method TEXT NOT NULL DEFAULT '',
			payment_status TEXT NOT NULL DEFAULT '',
			payment_email TEXT NOT NULL DEFAULT '',
			items_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			shipping_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			tax_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			total_price NUMERIC(12, 2) NOT NULL DEFAULT 0,
			is_delivered BOOLEAN NOT NULL DEFAULT false,
			delivered_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			title TEXT NOT NULL,
			price NUMERIC(12, 2) NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (order_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_lines_product_id ON order_lines(product_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, fn)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, image, is_admin) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Email, u.Image, u.IsAdmin)
	if err != nil {
		return models.User{}, err
	}
	return s.GetUser(ctx, u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	return loadUser(ctx, s.pool, id)
}

func (s *PostgresStore) AddAddress(ctx context.Context, userID string, a models.Address) (models.User, error) {
	var out models.User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO addresses (user_id, address, city, postal_code, country) VALUES ($1, $2, $3, $4, $5)`,
			userID, a.Address, a.City, a.PostalCode, a.Country); err != nil {
			return err
		}
		var err error
		out, err = loadUser(ctx, tx, userID)
		return err
	})
	return out, err
}

func lockUser(ctx context.Context, q querier, id string) error {
	var got string
	err := q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	return err
}

func loadUser(ctx context.Context, q querier, id string) (models.User, error) {
	var u models.User
	err := q.QueryRow(ctx, `SELECT id, name, email, image, is_admin FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}

	if u.Cart, err = loadCart(ctx, q, id); err != nil {
		return models.User{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT address, city, postal_code, country FROM addresses WHERE user_id = $1 ORDER BY id`, id)
	if err != nil {
		return models.User{}, err
	}
	u.Addresses = []models.Address{}
	for rows.Next() {
		var a models.Address
		if err := rows.Scan(&a.Address, &a.City, &a.PostalCode, &a.Country); err != nil {
			rows.Close()
			return models.User{}, err
		}
		u.Addresses = append(u.Addresses, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.User{}, err
	}

	rows, err = q.Query(ctx,
		`SELECT product_id FROM seller_products WHERE seller_id = $1 ORDER BY position`, id)
	if err != nil {
		return models.User{}, err
	}
	u.Products, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// --- cart ---

func loadCart(ctx context.Context, q querier, userID string) ([]models.CartLine, error) {
	rows, err := q.Query(ctx,
		`SELECT product_id, quantity FROM cart_lines WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []models.CartLine{}
	for rows.Next() {
		var l models.CartLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *PostgresStore) UpdateCart(ctx context.Context, userID string, fn CartFunc) ([]models.CartLine, error) {
	var out []models.CartLine
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		cur, err := loadCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, l := range next {
			batch.Queue(`INSERT INTO cart_lines (user_id, product_id, quantity, position) VALUES ($1, $2, $3, $4)`,
				userID, l.ProductID, l.Quantity, i)
		}
		if err := execBatch(ctx, tx, batch); err != nil {
			return err
		}
		out = models.CloneLines(next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

// --- products ---

const productColumns = `id, title, brand, price::text, description, category, images, quantity, rating, seller_id`

func scanProduct(row pgx.Row) (models.Product, error) {
	var (
		p      models.Product
		price  string
		seller *string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Brand, &price, &p.Description, &p.Category,
		&p.Images, &p.Quantity, &p.Rating, &seller)
	if err != nil {
		return models.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return models.Product{}, fmt.Errorf("product %s: bad price %q: %w", p.ID, price, err)
	}
	if seller != nil {
		p.SellerID = *seller
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	p.Reviews = []models.Review{}
	return p, nil
}

func loadProduct(ctx context.Context, q querier, id string, forUpdate bool) (models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Product{}, ErrProductNotFound
	}
	if err != nil {
		return models.Product{}, err
	}
	if err := attachReviews(ctx, q, map[string]*models.Product{p.ID: &p}); err != nil {
		return models.Product{}, err
	}
	return p, nil
}

func loadProducts(ctx context.Context, q querier, query string, args ...any) ([]models.Product, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		products = append(products, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	if err := attachReviews(ctx, q, byID); err != nil {
		return nil, err
	}
	return products, nil
}

func attachReviews(ctx context.Context, q querier, byID map[string]*models.Product) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows, err := q.Query(ctx,
		`SELECT product_id, user_id, name, rating, comment, created_at
		   FROM reviews WHERE product_id = ANY($1)
		  ORDER BY created_at, user_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			productID string
			r         models.Review
		)
		if err := rows.Scan(&productID, &r.UserID, &r.Name, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return err
		}
		p := byID[productID]
		p.Reviews = append(p.Reviews, r)
	}
	return rows.Err()
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (models.Product, error) {
	return loadProduct(ctx, s.pool, id, false)
}

func (s *PostgresStore) GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	products, err := loadProducts(ctx, s.pool,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p models.Product) (models.Product, error) {
	if p.Quantity < 0 {
		return models.Product{}, ErrNegativeStock
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Images == nil {
		p.Images = []string{}
	}

	var out models.Product
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if p.SellerID != "" {
			if err := lockUser(ctx, tx, p.SellerID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO products (id, title, brand, price, description, category, images, quantity, seller_id)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`,
			p.ID, p.Title, p.Brand, p.Price.String(), p.Description, p.Category, p.Images, p.Quantity,
			nullable(p.SellerID)); err != nil {
			return err
		}
		if p.SellerID != "" {
			if _, err := tx.Exec(ctx,
				`INSERT INTO seller_products (seller_id, product_id, position)
				 SELECT $1::text, $2::text, COALESCE(MAX(position) + 1, 0) FROM seller_products WHERE seller_id = $1`,
				p.SellerID, p.ID); err != nil {
				return err
			}
		}
		var err error
		out, err = loadProduct(ctx, tx, p.ID, false)
		return err
	})
	return out, err
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, id, sellerID string, fn ProductFunc) (models.Product, error) {
	var out models.Product
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cur, err := loadProduct(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if sellerID != "" && cur.SellerID != sellerID {
			return ErrNotOwner
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if next.Quantity < 0 {
			return ErrNegativeStock
		}
		if next.Images == nil {
			next.Images = []string{}
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products
			    SET title = $2, brand = $3, price = $4::numeric, description = $5,
			        category = $6, images = $7, quantity = $8
			  WHERE id = $1`,
			id, next.Title, next.Brand, next.Price.String(), next.Description,
			next.Category, next.Images, next.Quantity); err != nil {
			return err
		}
		out, err = loadProduct(ctx, tx, id, false)
		return err
	})
	return out, err
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id, sellerID string) (models.Product, error) {
	var out models.Product
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := loadProduct(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if sellerID != "" && p.SellerID != sellerID {
			return ErrNotOwner
		}
		if _, err := tx.Exec(ctx, `DELETE FROM seller_products WHERE product_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	return loadProducts(ctx, s.pool,
		`SELECT id, title, brand, price::text, description, category, images, quantity, rating, seller_id
		   FROM products
		  ORDER BY title, id`)
}

func (s *PostgresStore) ListSellerProducts(ctx context.Context, sellerID string) ([]models.Product, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, sellerID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	return loadProducts(ctx, s.pool,
		`SELECT p.id, p.title, p.brand, p.price::text, p.description, p.category, p.images,
		        p.quantity, p.rating, p.seller_id
		   FROM seller_products sp JOIN products p ON p.id = sp.product_id
		  WHERE sp.seller_id = $1
		  ORDER BY sp.position`, sellerID)
}

// --- reviews ---

func (s *PostgresStore) AddReview(ctx context.Context, productID string, r models.Review) (models.Product, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var out models.Product
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := loadProduct(ctx, tx, productID, true); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO reviews (product_id, user_id, name, rating, comment, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			productID, r.UserID, r.Name, r.Rating, r.Comment, r.CreatedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReview
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE products
			    SET rating = (SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE product_id = $1)
			  WHERE id = $1`, productID); err != nil {
			return err
		}
		out, err = loadProduct(ctx, tx, productID, false)
		return err
	})
	return out, err
}

// --- orders ---

func (s *PostgresStore) PlaceOrder(ctx context.Context, o models.Order) (models.Order, error) {
	o = o.Clone()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	want, ids := requestedByProduct(o.Items)

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, o.UserID); err != nil {
			return err
		}

		type snapshot struct {
			title string
			price decimal.Decimal
			image string
		}
		snaps := make(map[string]snapshot, len(ids))

		// Rows are locked in ascending ID order so concurrent orders over
		// overlapping products cannot deadlock.
		for _, id := range ids {
			var (
				title  string
				price  string
				images []string
			)
			err := tx.QueryRow(ctx,
				`UPDATE products SET quantity = quantity - $2
				  WHERE id = $1 AND quantity >= $2
				  RETURNING title, price::text, images`, id, want[id]).Scan(&title, &price, &images)
			if errors.Is(err, pgx.ErrNoRows) {
				return shortage(ctx, tx, id, want[id])
			}
			if err != nil {
				return err
			}
			d, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("product %s: bad price %q: %w", id, price, err)
			}
			snap := snapshot{title: title, price: d}
			if len(images) > 0 {
				snap.image = images[0]
			}
			snaps[id] = snap
		}

		for i, it := range o.Items {
			snap := snaps[it.ProductID]
			o.Items[i].Title = snap.title
			o.Items[i].Price = snap.price
			o.Items[i].Image = snap.image
		}
		priceFromSnapshots(&o)

		if _, err := tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, ship_address, ship_city, ship_postal_code, ship_country,
			                     payment_id, payment_method, payment_status, payment_email,
			                     items_price, shipping_price, tax_price, total_price, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			         $11::numeric, $12::numeric, $13::numeric, $14::numeric, $15)`,
			o.ID, o.UserID,
			o.ShippingAddress.Address, o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
			o.Payment.ID, o.Payment.Method, o.Payment.Status, o.Payment.EmailAddress,
			o.Price.Items.String(), o.Price.Shipping.String(), o.Price.Tax.String(), o.Price.Total.String(),
			o.CreatedAt); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(
				`INSERT INTO order_lines (order_id, position, product_id, title, price, image, quantity)
				 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
				o.ID, i, it.ProductID, it.Title, it.Price.String(), it.Image, it.Quantity)
		}
		if err := execBatch(ctx, tx, batch); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, o.UserID)
		return err
	})
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// shortage explains why the conditional decrement matched no row.
func shortage(ctx context.Context, tx pgx.Tx, productID string, requested int) error {
	var available int
	err := tx.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}
	return &InsufficientStockError{ProductID: productID, Requested: requested, Available: available}
}

const orderColumns = `id, user_id, ship_address, ship_city, ship_postal_code, ship_country,
	payment_id, payment_method, payment_status, payment_email,
	items_price::text, shipping_price::text, tax_price::text, total_price::text,
	is_delivered, delivered_at, created_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	var items, shipping, tax, total string
	err := row.Scan(&o.ID, &o.UserID,
		&o.ShippingAddress.Address, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Payment.ID, &o.Payment.Method, &o.Payment.Status, &o.Payment.EmailAddress,
		&items, &shipping, &tax, &total,
		&o.IsDelivered, &o.DeliveredAt, &o.CreatedAt)
	if err != nil {
		return models.Order{}, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Price.Items, items},
		{&o.Price.Shipping, shipping},
		{&o.Price.Tax, tax},
		{&o.Price.Total, total},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return models.Order{}, fmt.Errorf("order %s: bad amount %q: %w", o.ID, f.src, err)
		}
	}
	o.Items = []models.OrderLine{}
	return o, nil
}

func loadOrders(ctx context.Context, q querier, query string, args ...any) ([]models.Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	byID := make(map[string]*models.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
		ids = append(ids, orders[i].ID)
	}

	rows, err = q.Query(ctx,
		`SELECT order_id, product_id, title, price::text, image, quantity
		   FROM order_lines WHERE order_id = ANY($1)
		  ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID, price string
			l              models.OrderLine
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Title, &price, &l.Image, &l.Quantity); err != nil {
			return nil, err
		}
		if l.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order %s: bad line price %q: %w", orderID, price, err)
		}
		o := byID[orderID]
		o.Items = append(o.Items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	orders, err := loadOrders(ctx, s.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return models.Order{}, err
	}
	if len(orders) == 0 {
		return models.Order{}, ErrOrderNotFound
	}
	return orders[0], nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	return loadOrders(ctx, s.pool,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

func (s *PostgresStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	return loadOrders(ctx, s.pool, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, id`)
}

func (s *PostgresStore) HasOrdered(ctx context.Context, userID, productID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM order_lines ol JOIN orders o ON o.id = ol.order_id
			 WHERE o.user_id = $1 AND ol.product_id = $2)`, userID, productID).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, orderID string, at time.Time) (models.Order, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET is_delivered = true, delivered_at = $2 WHERE id = $1 AND NOT is_delivered`,
		orderID, at)
	if err != nil {
		return models.Order{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return models.Order{}, err
		}
		return models.Order{}, ErrAlreadyDelivered
	}
	return s.GetOrder(ctx, orderID)
}
