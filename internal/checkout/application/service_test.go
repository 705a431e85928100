package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	order "github.com/Nazim777/SwiftMart/internal/order/domain"
	payment "github.com/Nazim777/SwiftMart/internal/payment/domain"
)

func newTestService(store *memStore, gw *fakeGateway) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(log, store, gw)
}

func TestBeginCheckoutTotalsAndSideEffects(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{}
	svc := newTestService(store, gw)

	productA := store.addProduct("productA", 10, 5)
	productB := store.addProduct("productB", 5, 3)
	other := store.addProduct("other", 7, 9)
	store.addCartLine("user-1", productA, 2)
	store.addCartLine("user-1", productB, 1)
	store.addCartLine("user-1", other, 4)

	res, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 2},
		{ProductID: productB, Quantity: 1},
	})
	require.NoError(t, err)

	// 2x10 + 1x5 + shipping 10
	assert.True(t, res.Order.Total.Equal(decimal.NewFromInt(35)), "total = %s", res.Order.Total)
	assert.True(t, res.Payment.Amount.Equal(decimal.NewFromInt(35)))
	assert.Equal(t, payment.StatusPending, res.Payment.Status)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Contains(t, res.CheckoutURL, res.Payment.SessionID)

	assert.Equal(t, 3, store.stock(productA))
	assert.Equal(t, 2, store.stock(productB))

	// Only the purchased lines leave the cart.
	lines, err := svc.CartLines(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, other, lines[0].ProductID)
}

func TestBeginCheckoutMergesDuplicateLines(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	productA := store.addProduct("productA", 10, 5)

	res, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 1},
		{ProductID: productA, Quantity: 2},
	})
	require.NoError(t, err)

	require.Len(t, res.Order.Lines, 1)
	assert.Equal(t, 3, res.Order.Lines[0].Quantity)
	// 3x10 + shipping 10
	assert.True(t, res.Order.Total.Equal(decimal.NewFromInt(40)), "total = %s", res.Order.Total)
	assert.Equal(t, 2, store.stock(productA))
}

func TestBindRejectsSweptOrder(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{err: errors.New("stripe timeout")}
	svc := newTestService(store, gw)
	productA := store.addProduct("productA", 10, 5)

	_, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 2},
	})
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)

	n, err := store.SweepOrphans(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The gateway call eventually comes back after the sweep already
	// canceled the order; binding must not touch stock.
	var swept order.Order
	for _, ord := range store.orders {
		swept = *ord
	}
	swept.Status = order.StatusPending // caller still holds the intake snapshot
	_, err = store.BindCheckoutSession(context.Background(), swept, "cs_late")
	require.ErrorIs(t, err, ErrOrderNotPending)
	assert.Equal(t, 5, store.stock(productA))
	assert.Empty(t, store.payments)
}

func TestBeginCheckoutInsufficientStock(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})

	productA := store.addProduct("productA", 10, 1)

	_, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 2},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// No order, no payment, no stock mutation.
	assert.Equal(t, 1, store.stock(productA))
	assert.Empty(t, store.orders)
	assert.Empty(t, store.payments)
}

func TestBeginCheckoutRejectsBadInput(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	productA := store.addProduct("productA", 10, 5)

	_, err := svc.BeginCheckout(context.Background(), "user-1", nil)
	require.ErrorIs(t, err, ErrEmptyCheckout)

	_, err = svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 0},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: -3},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: uuid.New(), Quantity: 1},
	})
	require.ErrorIs(t, err, ErrProductNotFound)

	assert.Equal(t, 5, store.stock(productA))
}

func TestBeginCheckoutGatewayFailureLeavesOrphan(t *testing.T) {
	store := newMemStore()
	gw := &fakeGateway{err: errors.New("stripe is down")}
	svc := newTestService(store, gw)
	productA := store.addProduct("productA", 10, 5)

	_, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 2},
	})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)

	// The order row exists, PENDING, with no payment and undecremented
	// stock; only the sweep resolves it.
	require.Len(t, store.orders, 1)
	for _, ord := range store.orders {
		assert.Equal(t, order.StatusPending, ord.Status)
	}
	assert.Empty(t, store.payments)
	assert.Equal(t, 5, store.stock(productA))

	n, err := store.SweepOrphans(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	for _, ord := range store.orders {
		assert.Equal(t, order.StatusCanceled, ord.Status)
	}
}

func TestCompleteCheckoutIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	productA := store.addProduct("productA", 10, 5)

	res, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 1},
	})
	require.NoError(t, err)

	require.NoError(t, svc.CompleteCheckout(context.Background(), res.Payment.SessionID))
	require.NoError(t, svc.CompleteCheckout(context.Background(), res.Payment.SessionID))

	assert.Equal(t, order.StatusCompleted, store.orders[res.Order.ID].Status)
	assert.Equal(t, payment.StatusSuccess, store.payments[res.Payment.SessionID].Status)
	// Reconciliation never touches stock; intake already decremented it.
	assert.Equal(t, 4, store.stock(productA))
}

func TestCompleteCheckoutUnknownSession(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{})
	err := svc.CompleteCheckout(context.Background(), "cs_missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFailCheckoutRestoresStockAndCart(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	productA := store.addProduct("productA", 10, 5)
	productB := store.addProduct("productB", 5, 3)
	store.addCartLine("user-1", productA, 2)
	store.addCartLine("user-1", productB, 1)

	res, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 2},
		{ProductID: productB, Quantity: 1},
	})
	require.NoError(t, err)
	require.Equal(t, 3, store.stock(productA))

	ev := CheckoutEvent{SessionID: res.Payment.SessionID, OrderID: res.Order.ID.String(), UserID: "user-1"}
	require.NoError(t, svc.FailCheckout(context.Background(), ev))

	assert.Equal(t, order.StatusCanceled, store.orders[res.Order.ID].Status)
	assert.Equal(t, payment.StatusFailed, store.payments[res.Payment.SessionID].Status)
	assert.Equal(t, 5, store.stock(productA))
	assert.Equal(t, 3, store.stock(productB))

	lines, err := svc.CartLines(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	// Duplicate delivery: no double increment, no duplicate cart rows.
	require.NoError(t, svc.FailCheckout(context.Background(), ev))
	assert.Equal(t, 5, store.stock(productA))
	assert.Equal(t, 3, store.stock(productB))
	lines, err = svc.CartLines(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestFailCheckoutAfterCompletionIsNoop(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &fakeGateway{})
	productA := store.addProduct("productA", 10, 5)

	res, err := svc.BeginCheckout(context.Background(), "user-1", []CheckoutItem{
		{ProductID: productA, Quantity: 1},
	})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteCheckout(context.Background(), res.Payment.SessionID))

	ev := CheckoutEvent{SessionID: res.Payment.SessionID, OrderID: res.Order.ID.String(), UserID: "user-1"}
	require.NoError(t, svc.FailCheckout(context.Background(), ev))

	assert.Equal(t, order.StatusCompleted, store.orders[res.Order.ID].Status)
	assert.Equal(t, payment.StatusSuccess, store.payments[res.Payment.SessionID].Status)
	assert.Equal(t, 4, store.stock(productA))
}

func TestFailCheckoutRequiresUserMetadata(t *testing.T) {
	svc := newTestService(newMemStore(), &fakeGateway{})
	err := svc.FailCheckout(context.Background(), CheckoutEvent{SessionID: "cs_x"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}
