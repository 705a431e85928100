package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	cart "github.com/Nazim777/SwiftMart/internal/cart/domain"
	catalog "github.com/Nazim777/SwiftMart/internal/catalog/domain"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
	payment "github.com/Nazim777/SwiftMart/internal/payment/domain"
)

// memStore is an in-memory WorkflowStore honoring the same contracts as the
// postgres implementation: all-or-nothing stock checks, status guards on the
// reconciliation paths, duplicate-free cart reinstatement.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*catalog.Product
	orders   map[uuid.UUID]*order.Order
	payments map[string]*payment.Payment
	cartIDs  map[string]uuid.UUID
	carts    map[string]map[uuid.UUID]int

	bindErr error
}

func newMemStore() *memStore {
	return &memStore{
		products: map[uuid.UUID]*catalog.Product{},
		orders:   map[uuid.UUID]*order.Order{},
		payments: map[string]*payment.Payment{},
		cartIDs:  map[string]uuid.UUID{},
		carts:    map[string]map[uuid.UUID]int{},
	}
}

func (m *memStore) addProduct(name string, price int64, stock int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &catalog.Product{
		ID:    uuid.New(),
		Name:  name,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	}
	m.products[p.ID] = p
	return p.ID
}

func (m *memStore) addCartLine(userID string, productID uuid.UUID, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carts[userID] == nil {
		m.carts[userID] = map[uuid.UUID]int{}
		m.cartIDs[userID] = uuid.New()
	}
	m.carts[userID][productID] = qty
}

func (m *memStore) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) CreatePendingOrder(ctx context.Context, userID string, items []CheckoutItem) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]order.Line, 0, len(items))
	for _, it := range items {
		p, ok := m.products[it.ProductID]
		if !ok {
			return order.Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if p.Stock < it.Quantity {
			return order.Order{}, fmt.Errorf("%w: %s", ErrInsufficientStock, p.Name)
		}
		lines = append(lines, order.Line{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
		})
	}
	ord := order.NewOrder(userID, lines)
	cp := ord
	m.orders[ord.ID] = &cp
	return ord, nil
}

func (m *memStore) BindCheckoutSession(ctx context.Context, ord order.Order, sessionID string) (payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bindErr != nil {
		return payment.Payment{}, m.bindErr
	}
	if stored, ok := m.orders[ord.ID]; ok && stored.Status != order.StatusPending {
		return payment.Payment{}, fmt.Errorf("%w: %s", ErrOrderNotPending, ord.ID)
	}
	for _, l := range ord.Lines {
		p := m.products[l.ProductID]
		if p.Stock < l.Quantity {
			return payment.Payment{}, fmt.Errorf("%w: %s", ErrInsufficientStock, l.Name)
		}
	}
	pay := payment.NewPayment(sessionID, ord.UserID, ord.ID, ord.Total)
	m.payments[sessionID] = &pay
	for _, l := range ord.Lines {
		m.products[l.ProductID].Stock -= l.Quantity
		delete(m.carts[ord.UserID], l.ProductID)
	}
	return pay, nil
}

func (m *memStore) SettlePayment(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pay, ok := m.payments[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if pay.Status != payment.StatusPending {
		return nil
	}
	pay.Status = payment.StatusSuccess
	if ord := m.orders[pay.OrderID]; ord.Status == order.StatusPending {
		ord.Status = order.StatusCompleted
	}
	return nil
}

func (m *memStore) RollbackCheckout(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pay, ok := m.payments[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	ord := m.orders[pay.OrderID]
	if ord.Status != order.StatusPending {
		return nil
	}
	pay.Status = payment.StatusFailed
	ord.Status = order.StatusCanceled
	if m.carts[ord.UserID] == nil {
		m.carts[ord.UserID] = map[uuid.UUID]int{}
		m.cartIDs[ord.UserID] = uuid.New()
	}
	for _, l := range ord.Lines {
		m.products[l.ProductID].Stock += l.Quantity
		if _, exists := m.carts[ord.UserID][l.ProductID]; !exists {
			m.carts[ord.UserID][l.ProductID] = l.Quantity
		}
	}
	return nil
}

func (m *memStore) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	withPayment := map[uuid.UUID]bool{}
	for _, pay := range m.payments {
		withPayment[pay.OrderID] = true
	}
	n := 0
	cutoff := time.Now().Add(-olderThan)
	for _, ord := range m.orders {
		if ord.Status == order.StatusPending && !withPayment[ord.ID] && ord.CreatedAt.Before(cutoff) {
			ord.Status = order.StatusCanceled
			n++
		}
	}
	return n, nil
}

func (m *memStore) OrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, ord := range m.orders {
		if ord.UserID == userID {
			out = append(out, *ord)
		}
	}
	return out, nil
}

func (m *memStore) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []cart.Line
	for pid, qty := range m.carts[userID] {
		out = append(out, cart.Line{CartID: m.cartIDs[userID], ProductID: pid, Quantity: qty})
	}
	return out, nil
}

// fakeGateway hands out sequential session ids, or fails every call.
type fakeGateway struct {
	mu  sync.Mutex
	err error
	n   int
}

func (g *fakeGateway) CreateSession(ctx context.Context, ord order.Order) (Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return Session{}, g.err
	}
	g.n++
	id := fmt.Sprintf("cs_test_%d", g.n)
	return Session{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}
