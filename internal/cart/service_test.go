package cart

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-backend/internal/pricing"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
)

type memStore struct {
	mu        sync.Mutex
	carts     map[uuid.UUID][]Entry
	saves     int
	loadErr   error
	loadDelay time.Duration
}

func (m *memStore) Load(_ context.Context, buyerID uuid.UUID) ([]Entry, error) {
	m.mu.Lock()
	entries, err := append([]Entry(nil), m.carts[buyerID]...), m.loadErr
	m.mu.Unlock()
	// Widens the gap between read and write so unserialized writers overlap.
	time.Sleep(m.loadDelay)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *memStore) Save(_ context.Context, buyerID uuid.UUID, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.carts[buyerID] = append([]Entry(nil), entries...)
	return nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newMemLocks() *memLocks {
	return &memLocks{held: map[string]string{}}
}

func (m *memLocks) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = value.(string)
	return true, nil
}

func (m *memLocks) DelIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] != value {
		return false, nil
	}
	delete(m.held, key)
	return true, nil
}

func (m *memLocks) LockKey(scope, id string) string {
	return "stl:lock:" + scope + ":" + id
}

type stubProducts map[uuid.UUID]models.Product

func (s stubProducts) Get(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := s[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &p, nil
}

type recordingPublisher struct {
	channels []string
	messages []any
	err      error
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, message any) (int64, error) {
	r.channels = append(r.channels, channel)
	r.messages = append(r.messages, message)
	return 1, r.err
}

func (r *recordingPublisher) CartEventsChannel(buyerID string) string {
	return "stl:cart_events:" + buyerID
}

type fixture struct {
	svc      Service
	store    *memStore
	locks    *memLocks
	pub      *recordingPublisher
	products stubProducts
}

func newFixture(t *testing.T, products ...models.Product) fixture {
	t.Helper()
	catalog := stubProducts{}
	for _, p := range products {
		catalog[p.ID] = p
	}
	engine, err := pricing.NewEngine(config.PricingConfig{
		TaxRate:                    "0.14",
		FreeShippingThresholdCents: 10000,
		FlatShippingCents:          1000,
		Currency:                   "EGP",
	}, catalog)
	require.NoError(t, err)

	store := &memStore{carts: map[uuid.UUID][]Entry{}}
	pub := &recordingPublisher{}
	logg := logger.New(logger.Options{ServiceName: "cart-test", Output: io.Discard})
	locks := newMemLocks()
	svc, err := NewService(store, locks, catalog, engine, pub, logg)
	require.NoError(t, err)
	return fixture{svc: svc, store: store, locks: locks, pub: pub, products: catalog}
}

func TestAddItemSnapshotsCatalogAndPersists(t *testing.T) {
	p := models.Product{ID: uuid.New(), Name: "Hoodie", Image: "/h.png", PriceCents: 10000, CountInStock: 5, Sizes: pq.StringArray{"M"}}
	f := newFixture(t, p)
	buyer := uuid.New()

	view, err := f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Size: "M", Quantity: 2})
	require.NoError(t, err)

	require.Len(t, view.Entries, 1)
	assert.Equal(t, "Hoodie", view.Entries[0].Name)
	assert.Equal(t, int64(10000), view.Entries[0].UnitPriceCents)
	assert.Equal(t, 2, view.Count)
	assert.Equal(t, int64(22800), view.Estimate.TotalCents)

	assert.Len(t, f.store.carts[buyer], 1)
	require.Len(t, f.pub.channels, 1)
	assert.Equal(t, "stl:cart_events:"+buyer.String(), f.pub.channels[0])
	assert.JSONEq(t, `{"kind":"added","count":2}`, f.pub.messages[0].(string))

	again, err := f.svc.Get(context.Background(), buyer)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Count)
}

func TestAddItemRejectsUnknownProductAndBadVariant(t *testing.T) {
	p := models.Product{ID: uuid.New(), PriceCents: 100, CountInStock: 5, Colors: pq.StringArray{"red"}}
	f := newFixture(t, p)
	buyer := uuid.New()

	_, err := f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: uuid.New(), Quantity: 1})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Color: "blue", Quantity: 1})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Color: "red", Quantity: 0})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	assert.Zero(t, f.store.saves)
	assert.Empty(t, f.pub.channels)
}

func TestAddItemRespectsStockAcrossVariants(t *testing.T) {
	p := models.Product{ID: uuid.New(), PriceCents: 100, CountInStock: 3}
	f := newFixture(t, p)
	buyer := uuid.New()

	_, err := f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Size: "S", Quantity: 2})
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Size: "L", Quantity: 2})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	assert.Equal(t, 1, f.store.saves)
}

func TestUpdateRemoveAndClear(t *testing.T) {
	p := models.Product{ID: uuid.New(), PriceCents: 500, CountInStock: 10}
	f := newFixture(t, p)
	buyer := uuid.New()
	key := Key{ProductID: p.ID}

	_, err := f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)

	view, err := f.svc.UpdateItem(context.Background(), buyer, key, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Count)

	view, err = f.svc.UpdateItem(context.Background(), buyer, Key{ProductID: uuid.New()}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Count)
	assert.Equal(t, 2, f.store.saves, "no-op update must not persist")

	view, err = f.svc.RemoveItem(context.Background(), buyer, key)
	require.NoError(t, err)
	assert.Zero(t, view.Count)
	assert.Equal(t, int64(1000), view.Estimate.TotalCents)

	_, err = f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	require.NoError(t, f.svc.Clear(context.Background(), buyer))
	entries, err := f.svc.Entries(context.Background(), buyer)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	p := models.Product{ID: uuid.New(), PriceCents: 500, CountInStock: 10}
	f := newFixture(t, p)
	f.pub.err = errors.New("redis down")

	_, err := f.svc.AddItem(context.Background(), uuid.New(), AddItemInput{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
}

func TestLoadFailureIsDependencyError(t *testing.T) {
	f := newFixture(t)
	f.store.loadErr = errors.New("timeout")

	_, err := f.svc.Get(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	_, err = f.svc.Get(context.Background(), uuid.Nil)
	assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestConcurrentAddsForOneBuyerKeepBothItems(t *testing.T) {
	hoodie := models.Product{ID: uuid.New(), Name: "Hoodie", PriceCents: 10000, CountInStock: 5}
	beanie := models.Product{ID: uuid.New(), Name: "Beanie", PriceCents: 3000, CountInStock: 5}
	f := newFixture(t, hoodie, beanie)
	f.store.loadDelay = 30 * time.Millisecond
	buyer := uuid.New()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []models.Product{hoodie, beanie} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: id, Quantity: 1})
		}(i, p.ID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	f.store.loadDelay = 0
	entries, err := f.svc.Entries(context.Background(), buyer)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Empty(t, f.locks.held, "cart lock must be released")
}

func TestMutateReportsBusyCart(t *testing.T) {
	hoodie := models.Product{ID: uuid.New(), Name: "Hoodie", PriceCents: 10000, CountInStock: 5}
	f := newFixture(t, hoodie)
	f.svc.(*service).lockWait = 50 * time.Millisecond
	buyer := uuid.New()
	f.locks.held[f.locks.LockKey("cart", buyer.String())] = "someone-else"

	_, err := f.svc.AddItem(context.Background(), buyer, AddItemInput{ProductID: hoodie.ID, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	assert.Zero(t, f.store.saves)
}
