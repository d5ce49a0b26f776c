package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"marketplace/models"
)

type PostgresStoreSuite struct {
	suite.Suite

	container testcontainers.Container
	store     *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "marketplace",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = c

	host, err := c.Host(ctx)
	s.Require().NoError(err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	s.Require().NoError(err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/marketplace?sslmode=disable", host, port.Port())
	s.store, err = NewPostgresStore(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Migrate(ctx))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.store.pool.Exec(context.Background(),
		`TRUNCATE order_lines, orders, reviews, seller_products, products, cart_lines, addresses, users`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) seed(stock int) (models.User, models.User, models.Product) {
	ctx := context.Background()
	seller, err := s.store.CreateUser(ctx, models.User{Name: "Seller", Email: "seller@example.com"})
	s.Require().NoError(err)
	buyer, err := s.store.CreateUser(ctx, models.User{Name: "Buyer", Email: "buyer@example.com"})
	s.Require().NoError(err)
	p, err := s.store.CreateProduct(ctx, models.Product{
		Title:    "Desk Lamp",
		Brand:    "Lumen",
		Price:    decimal.RequireFromString("19.99"),
		Images:   []string{"uploads/lamp.png"},
		Quantity: stock,
		SellerID: seller.ID,
	})
	s.Require().NoError(err)
	return seller, buyer, p
}

func (s *PostgresStoreSuite) TestCreateProductLinksSeller() {
	ctx := context.Background()
	seller, _, p := s.seed(3)

	u, err := s.store.GetUser(ctx, seller.ID)
	s.Require().NoError(err)
	s.Equal([]string{p.ID}, u.Products)
	s.True(p.Price.Equal(decimal.RequireFromString("19.99")))
	s.Equal([]string{"uploads/lamp.png"}, p.Images)

	_, err = s.store.CreateProduct(ctx, models.Product{ID: "orphan", Title: "Chair", Price: decimal.NewFromInt(5), SellerID: "ghost"})
	s.ErrorIs(err, ErrUserNotFound)
	_, err = s.store.GetProduct(ctx, "orphan")
	s.ErrorIs(err, ErrProductNotFound)
}

func (s *PostgresStoreSuite) TestCartRoundTrip() {
	ctx := context.Background()
	_, buyer, p := s.seed(3)

	lines, err := s.store.UpdateCart(ctx, buyer.ID, func(l []models.CartLine) ([]models.CartLine, error) {
		return append(l, models.CartLine{ProductID: p.ID, Quantity: 2}, models.CartLine{ProductID: "gone", Quantity: 1}), nil
	})
	s.Require().NoError(err)
	s.Len(lines, 2)

	u, err := s.store.GetUser(ctx, buyer.ID)
	s.Require().NoError(err)
	s.Equal([]models.CartLine{{ProductID: p.ID, Quantity: 2}, {ProductID: "gone", Quantity: 1}}, u.Cart)
}

func (s *PostgresStoreSuite) TestPlaceOrderCommitsEverything() {
	ctx := context.Background()
	_, buyer, p := s.seed(5)

	_, err := s.store.UpdateCart(ctx, buyer.ID, func([]models.CartLine) ([]models.CartLine, error) {
		return []models.CartLine{{ProductID: p.ID, Quantity: 2}}, nil
	})
	s.Require().NoError(err)

	o, err := s.store.PlaceOrder(ctx, models.Order{
		UserID: buyer.ID,
		Items:  []models.OrderLine{{ProductID: p.ID, Quantity: 2}},
		Price: models.PriceBreakdown{
			Items: decimal.RequireFromString("39.98"),
			Total: decimal.RequireFromString("39.98"),
		},
	})
	s.Require().NoError(err)
	s.Equal("Desk Lamp", o.Items[0].Title)

	got, err := s.store.GetProduct(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(3, got.Quantity)

	u, err := s.store.GetUser(ctx, buyer.ID)
	s.Require().NoError(err)
	s.Empty(u.Cart)

	stored, err := s.store.GetOrder(ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(stored.Items, 1)
	s.True(stored.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
	s.True(stored.Price.Total.Equal(decimal.RequireFromString("39.98")))

	ok, err := s.store.HasOrdered(ctx, buyer.ID, p.ID)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *PostgresStoreSuite) TestPlaceOrderRollsBack() {
	ctx := context.Background()
	seller, buyer, plenty := s.seed(10)
	scarce, err := s.store.CreateProduct(ctx, models.Product{Title: "Rug", Price: decimal.NewFromInt(80), Quantity: 1, SellerID: seller.ID})
	s.Require().NoError(err)

	_, err = s.store.UpdateCart(ctx, buyer.ID, func([]models.CartLine) ([]models.CartLine, error) {
		return []models.CartLine{{ProductID: plenty.ID, Quantity: 1}}, nil
	})
	s.Require().NoError(err)

	_, err = s.store.PlaceOrder(ctx, models.Order{
		UserID: buyer.ID,
		Items: []models.OrderLine{
			{ProductID: plenty.ID, Quantity: 4},
			{ProductID: scarce.ID, Quantity: 2},
		},
	})
	var stockErr *InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(scarce.ID, stockErr.ProductID)

	got, _ := s.store.GetProduct(ctx, plenty.ID)
	s.Equal(10, got.Quantity)
	u, _ := s.store.GetUser(ctx, buyer.ID)
	s.Len(u.Cart, 1)
	orders, err := s.store.ListOrdersByUser(ctx, buyer.ID)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *PostgresStoreSuite) TestLastUnitRace() {
	ctx := context.Background()
	_, first, p := s.seed(1)
	second, err := s.store.CreateUser(ctx, models.User{Name: "Other"})
	s.Require().NoError(err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := s.store.PlaceOrder(ctx, models.Order{UserID: userID, Items: []models.OrderLine{{ProductID: p.ID, Quantity: 1}}})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	s.Equal(1, wins)
	got, err := s.store.GetProduct(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(0, got.Quantity)
}

func (s *PostgresStoreSuite) TestReviewsAndRating() {
	ctx := context.Background()
	_, buyer, p := s.seed(5)

	got, err := s.store.AddReview(ctx, p.ID, models.Review{UserID: buyer.ID, Name: "Buyer", Rating: 5})
	s.Require().NoError(err)
	s.Equal(5.0, got.Rating)

	_, err = s.store.AddReview(ctx, p.ID, models.Review{UserID: buyer.ID, Name: "Buyer", Rating: 2})
	s.ErrorIs(err, ErrDuplicateReview)

	got, err = s.store.AddReview(ctx, p.ID, models.Review{UserID: "someone", Name: "Someone", Rating: 3})
	s.Require().NoError(err)
	s.Equal(4.0, got.Rating)
	s.Len(got.Reviews, 2)
}

func (s *PostgresStoreSuite) TestDeleteProductOwnership() {
	ctx := context.Background()
	seller, buyer, p := s.seed(5)

	_, err := s.store.DeleteProduct(ctx, p.ID, buyer.ID)
	s.ErrorIs(err, ErrNotOwner)

	_, err = s.store.DeleteProduct(ctx, p.ID, seller.ID)
	s.Require().NoError(err)

	_, err = s.store.GetProduct(ctx, p.ID)
	s.ErrorIs(err, ErrProductNotFound)
	u, err := s.store.GetUser(ctx, seller.ID)
	s.Require().NoError(err)
	s.Empty(u.Products)
}

func (s *PostgresStoreSuite) TestMarkDelivered() {
	ctx := context.Background()
	_, buyer, p := s.seed(5)

	o, err := s.store.PlaceOrder(ctx, models.Order{UserID: buyer.ID, Items: []models.OrderLine{{ProductID: p.ID, Quantity: 1}}})
	s.Require().NoError(err)

	got, err := s.store.MarkDelivered(ctx, o.ID, time.Now().UTC())
	s.Require().NoError(err)
	s.True(got.IsDelivered)
	s.NotNil(got.DeliveredAt)

	_, err = s.store.MarkDelivered(ctx, o.ID, time.Now().UTC())
	s.ErrorIs(err, ErrAlreadyDelivered)
	_, err = s.store.MarkDelivered(ctx, "missing", time.Now().UTC())
	s.ErrorIs(err, ErrOrderNotFound)
}

func (s *PostgresStoreSuite) TestAdminListsAndUnownedProducts() {
	ctx := context.Background()
	_, buyer, p := s.seed(5)

	house, err := s.store.CreateProduct(ctx, models.Product{
		Title:    "Bulb",
		Price:    decimal.RequireFromString("4.50"),
		Quantity: 2,
	})
	s.Require().NoError(err)
	s.Empty(house.SellerID)

	products, err := s.store.ListProducts(ctx)
	s.Require().NoError(err)
	s.Require().Len(products, 2)
	s.Equal(house.ID, products[0].ID)
	s.Equal(p.ID, products[1].ID)

	o, err := s.store.PlaceOrder(ctx, models.Order{
		UserID: buyer.ID,
		Items:  []models.OrderLine{{ProductID: house.ID, Quantity: 2}},
		Price:  models.PriceBreakdown{Shipping: decimal.NewFromInt(1)},
	})
	s.Require().NoError(err)
	s.True(o.Price.Items.Equal(decimal.NewFromInt(9)), o.Price.Items.String())
	s.True(o.Price.Total.Equal(decimal.NewFromInt(10)), o.Price.Total.String())

	orders, err := s.store.ListOrders(ctx)
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	s.Equal(o.ID, orders[0].ID)

	_, err = s.store.DeleteProduct(ctx, p.ID, "")
	s.Require().NoError(err)
	products, err = s.store.ListProducts(ctx)
	s.Require().NoError(err)
	s.Len(products, 1)
}
