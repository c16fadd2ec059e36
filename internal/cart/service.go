package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/internal/pricing"
	"github.com/angelmondragon/settlement-backend/pkg/checkout"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/settlement-backend/pkg/redis"
)

const (
	cartLockTTL     = 5 * time.Second
	cartLockWait    = 2 * time.Second
	cartLockBackoff = 25 * time.Millisecond
)

type productLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type estimator interface {
	Estimate(lines []pricing.PricedLine) pricing.Breakdown
}

// cartLocks hands out the per-buyer mutex that serializes cart writes.
type cartLocks interface {
	pkgredis.LockStore
	LockKey(scope, id string) string
}

type changePublisher interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
	CartEventsChannel(buyerID string) string
}

// Service exposes cart operations for a buyer.
type Service interface {
	Get(ctx context.Context, buyerID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*View, error)
	UpdateItem(ctx context.Context, buyerID uuid.UUID, key Key, quantity int) (*View, error)
	RemoveItem(ctx context.Context, buyerID uuid.UUID, key Key) (*View, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
	Entries(ctx context.Context, buyerID uuid.UUID) ([]Entry, error)
}

// AddItemInput is the request to stage a product variant.
type AddItemInput struct {
	ProductID uuid.UUID
	Size      string
	Color     string
	Quantity  int
}

// View is the cart as shown to the buyer. Estimate uses snapshots and is not
// what checkout charges.
type View struct {
	Entries  []Entry           `json:"entries"`
	Count    int               `json:"count"`
	Estimate pricing.Breakdown `json:"estimate"`
}

type countMessage struct {
	Kind  ChangeKind `json:"kind"`
	Count int        `json:"count"`
}

type service struct {
	store     Store
	locks     cartLocks
	lockWait  time.Duration
	products  productLoader
	estimator estimator
	publisher changePublisher
	logg      *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(store Store, locks cartLocks, products productLoader, est estimator, publisher changePublisher, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if locks == nil {
		return nil, fmt.Errorf("cart lock store required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if est == nil {
		return nil, fmt.Errorf("pricing estimator required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		store:     store,
		locks:     locks,
		lockWait:  cartLockWait,
		products:  products,
		estimator: est,
		publisher: publisher,
		logg:      logg,
	}, nil
}

func (s *service) Get(ctx context.Context, buyerID uuid.UUID) (*View, error) {
	ledger, err := s.load(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return s.view(ledger), nil
}

func (s *service) Entries(ctx context.Context, buyerID uuid.UUID) ([]Entry, error) {
	ledger, err := s.load(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return ledger.List(), nil
}

func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*View, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	product, err := s.products.Get(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	size := strings.TrimSpace(input.Size)
	color := strings.TrimSpace(input.Color)
	if err := validateVariant(product, size, color); err != nil {
		return nil, err
	}

	return s.mutate(ctx, buyerID, func(l *Ledger) error {
		entry := Entry{
			ProductID:      product.ID,
			Size:           size,
			Color:          color,
			UnitPriceCents: product.PriceCents,
			Name:           product.Name,
			Image:          product.Image,
		}
		requested := input.Quantity
		for _, existing := range l.List() {
			if existing.ProductID == product.ID {
				requested += existing.Quantity
			}
		}
		if err := checkout.ValidateStock([]checkout.StockValidationInput{{
			ProductID:    product.ID,
			ProductName:  product.Name,
			CountInStock: product.CountInStock,
			Quantity:     requested,
		}}); err != nil {
			return err
		}
		return l.Add(entry, input.Quantity)
	})
}

func (s *service) UpdateItem(ctx context.Context, buyerID uuid.UUID, key Key, quantity int) (*View, error) {
	return s.mutate(ctx, buyerID, func(l *Ledger) error {
		l.UpdateQuantity(key, quantity)
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, buyerID uuid.UUID, key Key) (*View, error) {
	return s.mutate(ctx, buyerID, func(l *Ledger) error {
		l.Remove(key)
		return nil
	})
}

func (s *service) Clear(ctx context.Context, buyerID uuid.UUID) error {
	_, err := s.mutate(ctx, buyerID, func(l *Ledger) error {
		l.Clear()
		return nil
	})
	return err
}

// mutate loads the ledger, applies fn and persists only when fn changed
// something. The whole read-modify-write runs under the buyer's cart lock.
func (s *service) mutate(ctx context.Context, buyerID uuid.UUID, fn func(*Ledger) error) (*View, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	lock, err := s.lock(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(s.logg.WithField(s.logg.WithUserID(ctx, buyerID.String()), "error", err.Error()), "cart lock release failed")
		}
	}()

	ledger, err := s.load(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	var changes []Change
	unsubscribe := ledger.Subscribe(func(c Change) { changes = append(changes, c) })
	err = fn(ledger)
	unsubscribe()
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return s.view(ledger), nil
	}

	if err := s.store.Save(ctx, buyerID, ledger.List()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
	s.publish(ctx, buyerID, changes[len(changes)-1])
	return s.view(ledger), nil
}

// lock polls for the buyer's cart lock until lockWait runs out.
func (s *service) lock(ctx context.Context, buyerID uuid.UUID) (*pkgredis.Lock, error) {
	lock, err := pkgredis.NewLock(s.locks, s.locks.LockKey("cart", buyerID.String()), cartLockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart lock")
	}
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock cart")
		}
		if ok {
			return lock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart is being updated, retry")
		case <-time.After(cartLockBackoff):
		}
	}
}

func (s *service) load(ctx context.Context, buyerID uuid.UUID) (*Ledger, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	entries, err := s.store.Load(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return NewLedger(entries), nil
}

func (s *service) view(l *Ledger) *View {
	entries := l.List()
	lines := make([]pricing.PricedLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, pricing.PricedLine{UnitPriceCents: e.UnitPriceCents, Quantity: e.Quantity})
	}
	return &View{Entries: entries, Count: l.Count(), Estimate: s.estimator.Estimate(lines)}
}

// publish pushes the badge count. Failures only cost a stale badge.
func (s *service) publish(ctx context.Context, buyerID uuid.UUID, change Change) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(countMessage{Kind: change.Kind, Count: change.Count})
	if err != nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.publisher.CartEventsChannel(buyerID.String()), string(payload)); err != nil {
		logCtx := s.logg.WithUserID(ctx, buyerID.String())
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "cart change publish failed")
	}
}

func validateVariant(product *models.Product, size, color string) error {
	if len(product.Sizes) > 0 && !contains(product.Sizes, size) {
		return pkgerrors.New(pkgerrors.CodeValidation, "size not available").
			WithDetails(map[string]any{"size": size, "available": []string(product.Sizes)})
	}
	if len(product.Colors) > 0 && !contains(product.Colors, color) {
		return pkgerrors.New(pkgerrors.CodeValidation, "color not available").
			WithDetails(map[string]any{"color": color, "available": []string(product.Colors)})
	}
	return nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
