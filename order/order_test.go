package order

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/apperror"
	"marketplace/cart"
	"marketplace/events"
	"marketplace/locker"
	"marketplace/models"
	"marketplace/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderPlaced
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e events.OrderPlaced) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

// hookedStore runs afterRead once, right after the first product lookup
// made on behalf of the committer.
type hookedStore struct {
	*storage.MemoryStore
	once      sync.Once
	afterRead func()
}

func (h *hookedStore) GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	products, err := h.MemoryStore.GetProducts(ctx, ids)
	if h.afterRead != nil {
		h.once.Do(h.afterRead)
	}
	return products, err
}

var address = models.Address{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}

type fixture struct {
	store     *storage.MemoryStore
	hooked    *hookedStore
	locks     *locker.KeyedMutex
	committer *Committer
	pub       *recordingPublisher
	seller    models.User
	product   models.Product
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	seller, err := store.CreateUser(ctx, models.User{Name: "Seller"})
	require.NoError(t, err)
	p, err := store.CreateProduct(ctx, models.Product{
		Title:    "Desk Lamp",
		Price:    decimal.RequireFromString("19.99"),
		Images:   []string{"images/lamp.png"},
		Quantity: stock,
		SellerID: seller.ID,
	})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	hooked := &hookedStore{MemoryStore: store}
	locks := locker.NewKeyedMutex()
	return &fixture{
		store:     store,
		hooked:    hooked,
		locks:     locks,
		committer: NewCommitter(hooked, locks, pub, log),
		pub:       pub,
		seller:    seller,
		product:   p,
	}
}

func (f *fixture) buyer(t *testing.T, name string) models.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), models.User{Name: name})
	require.NoError(t, err)
	return u
}

func (f *fixture) fill(t *testing.T, userID string, lines ...models.CartLine) {
	t.Helper()
	_, err := f.store.UpdateCart(context.Background(), userID, func([]models.CartLine) ([]models.CartLine, error) {
		return lines, nil
	})
	require.NoError(t, err)
}

// buy puts qty units of the fixture product in the user's cart and returns
// a request to order it.
func (f *fixture) buy(t *testing.T, userID string, qty int) PlaceRequest {
	t.Helper()
	f.fill(t, userID, models.CartLine{ProductID: f.product.ID, Quantity: qty})
	return f.request(userID)
}

func (f *fixture) request(userID string) PlaceRequest {
	return PlaceRequest{
		UserID:          userID,
		ShippingAddress: address,
		Payment:         models.Payment{ID: "pay_123", Method: "card", Status: "COMPLETED"},
		ShippingPrice:   decimal.NewFromInt(5),
		TaxPrice:        decimal.NewFromInt(1),
	}
}

func TestPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	buyer := f.buyer(t, "Ada")

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", o.Items[0].Title)
	assert.Equal(t, "images/lamp.png", o.Items[0].Image)
	assert.True(t, o.Price.Items.Equal(decimal.RequireFromString("39.98")), o.Price.Items.String())
	assert.True(t, o.Price.Total.Equal(decimal.RequireFromString("45.98")), o.Price.Total.String())

	p, _ := f.store.GetProduct(ctx, f.product.ID)
	assert.Equal(t, 1, p.Quantity)
	u, _ := f.store.GetUser(ctx, buyer.ID)
	assert.Empty(t, u.Cart)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, o.ID, f.pub.events[0].OrderID)
	assert.Equal(t, []events.OrderItem{{ProductID: f.product.ID, Quantity: 2}}, f.pub.events[0].Items)
}

func TestPlace_OutOfStockLeavesCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	buyer := f.buyer(t, "Ada")

	_, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 2))
	require.True(t, apperror.Is(err, apperror.OutOfStock))
	assert.Equal(t, f.product.ID, apperror.From(err).ProductID)

	u, _ := f.store.GetUser(ctx, buyer.ID)
	assert.Equal(t, []models.CartLine{{ProductID: f.product.ID, Quantity: 2}}, u.Cart)
	assert.Empty(t, f.pub.events)
}

func TestPlace_StockTakenAfterCheckRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	buyer := f.buyer(t, "Ada")

	// Another buyer takes the stock between the check and the commit.
	f.hooked.afterRead = func() {
		_, err := f.store.UpdateProduct(ctx, f.product.ID, "", func(p *models.Product) error {
			p.Quantity = 1
			return nil
		})
		require.NoError(t, err)
	}

	_, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 2))
	require.True(t, apperror.Is(err, apperror.InsufficientStock))
	assert.Equal(t, f.product.ID, apperror.From(err).ProductID)

	p, _ := f.store.GetProduct(ctx, f.product.ID)
	assert.Equal(t, 1, p.Quantity)
	orders, err := f.committer.ListForUser(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	u, _ := f.store.GetUser(ctx, buyer.ID)
	assert.Len(t, u.Cart, 1)
	assert.Empty(t, f.pub.events)
}

func TestPlace_CartEditDuringCommitIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	buyer := f.buyer(t, "Ada")
	extra, err := f.store.CreateProduct(ctx, models.Product{
		Title:    "Bulb",
		Price:    decimal.NewFromInt(3),
		Images:   []string{"images/bulb.png"},
		Quantity: 5,
		SellerID: f.seller.ID,
	})
	require.NoError(t, err)

	// The buyer adds a second product from another tab while the order for
	// the first is being placed.
	carts := cart.NewEngine(f.store, f.locks)
	var (
		wg     sync.WaitGroup
		addErr error
	)
	f.hooked.afterRead = func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, addErr = carts.Add(ctx, buyer.ID, extra.ID, 1, 0)
		}()
	}

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 1))
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, addErr)

	require.Len(t, o.Items, 1)
	assert.Equal(t, f.product.ID, o.Items[0].ProductID)

	u, err := f.store.GetUser(ctx, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: extra.ID, Quantity: 1}}, u.Cart)
}

func TestPlace_EmptyCart(t *testing.T) {
	f := newFixture(t, 1)
	buyer := f.buyer(t, "Ada")

	_, err := f.committer.Place(context.Background(), f.request(buyer.ID))
	assert.True(t, apperror.Is(err, apperror.InvalidInput))
}

func TestPlace_ValidatesRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	buyer := f.buyer(t, "Ada")

	req := f.buy(t, buyer.ID, 1)
	req.TaxPrice = decimal.NewFromInt(-1)
	_, err := f.committer.Place(ctx, req)
	assert.True(t, apperror.Is(err, apperror.InvalidInput))

	req = f.request(buyer.ID)
	req.ShippingAddress.City = ""
	_, err = f.committer.Place(ctx, req)
	assert.True(t, apperror.Is(err, apperror.InvalidInput))

	req = f.request(buyer.ID)
	req.Payment.ID = ""
	_, err = f.committer.Place(ctx, req)
	assert.True(t, apperror.Is(err, apperror.InvalidInput))

	_, err = f.committer.Place(ctx, f.request(""))
	assert.True(t, apperror.Is(err, apperror.Unauthorized))

	_, err = f.committer.Place(ctx, f.request("ghost"))
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestPlace_LastUnitHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	buyers := []models.User{f.buyer(t, "Ada"), f.buyer(t, "Grace")}
	reqs := map[string]PlaceRequest{}
	for _, b := range buyers {
		reqs[b.ID] = f.buy(t, b.ID, 1)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, b := range buyers {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.committer.Place(ctx, reqs[userID])
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(b.ID)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperror.Is(err, apperror.InsufficientStock), apperror.Is(err, apperror.OutOfStock):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	p, _ := f.store.GetProduct(ctx, f.product.ID)
	assert.Equal(t, 0, p.Quantity)
}

func TestPlace_SnapshotSurvivesProductEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	buyer := f.buyer(t, "Ada")

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 1))
	require.NoError(t, err)

	_, err = f.store.UpdateProduct(ctx, f.product.ID, f.seller.ID, func(p *models.Product) error {
		p.Title = "Renamed"
		p.Price = decimal.NewFromInt(1)
		p.Images = []string{"images/other.png"}
		return nil
	})
	require.NoError(t, err)

	got, err := f.committer.Get(ctx, models.Identity{UserID: buyer.ID}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", got.Items[0].Title)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "images/lamp.png", got.Items[0].Image)
}

func TestPlace_PublishFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	f.pub.err = errors.New("broker down")
	buyer := f.buyer(t, "Ada")

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 1))
	require.NoError(t, err)

	orders, err := f.committer.ListForUser(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.ID, orders[0].ID)
}

func TestGetAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	buyer := f.buyer(t, "Ada")
	other := f.buyer(t, "Eve")

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 1))
	require.NoError(t, err)

	_, err = f.committer.Get(ctx, models.Identity{UserID: other.ID}, o.ID)
	assert.True(t, apperror.Is(err, apperror.Forbidden))

	_, err = f.committer.Get(ctx, models.Identity{UserID: other.ID, IsAdmin: true}, o.ID)
	assert.NoError(t, err)

	_, err = f.committer.Get(ctx, models.Identity{UserID: buyer.ID}, "missing")
	assert.True(t, apperror.Is(err, apperror.NotFound))
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	buyer := f.buyer(t, "Ada")

	o, err := f.committer.Place(ctx, f.buy(t, buyer.ID, 1))
	require.NoError(t, err)

	_, err = f.committer.MarkDelivered(ctx, models.Identity{UserID: buyer.ID}, o.ID)
	assert.True(t, apperror.Is(err, apperror.Forbidden))

	admin := models.Identity{UserID: "admin", IsAdmin: true}
	got, err := f.committer.MarkDelivered(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDelivered)

	_, err = f.committer.MarkDelivered(ctx, admin, o.ID)
	assert.True(t, apperror.Is(err, apperror.Conflict))
}

func TestListAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	ada := f.buyer(t, "Ada")
	grace := f.buyer(t, "Grace")

	first, err := f.committer.Place(ctx, f.buy(t, ada.ID, 1))
	require.NoError(t, err)
	second, err := f.committer.Place(ctx, f.buy(t, grace.ID, 2))
	require.NoError(t, err)

	_, err = f.committer.ListAll(ctx, models.Identity{UserID: ada.ID})
	assert.True(t, apperror.Is(err, apperror.Forbidden))

	all, err := f.committer.ListAll(ctx, models.Identity{UserID: "admin", IsAdmin: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}
