package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nazim777/SwiftMart/internal/checkout/application"
	cart "github.com/Nazim777/SwiftMart/internal/cart/domain"
	catalog "github.com/Nazim777/SwiftMart/internal/catalog/domain"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
	payment "github.com/Nazim777/SwiftMart/internal/payment/domain"
	"github.com/Nazim777/SwiftMart/pkg/tracing"
)

// Store implements application.WorkflowStore on postgres. Every exported
// method opens, commits and rolls back its own transaction; stock checks and
// decrements always run inside the same transaction as the writes they
// guard.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// NewPool opens a pgx pool with shopspring decimal support registered on
// every connection, so NUMERIC columns scan straight into decimal.Decimal.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func (s *Store) CreatePendingOrder(ctx context.Context, userID string, items []application.CheckoutItem) (order.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return order.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Row locks on the products serialize concurrent checkouts contending
	// for the same stock; the sufficiency check below therefore holds
	// through the decrement in BindCheckoutSession only if stock cannot
	// dip in between, which the guarded UPDATE there re-asserts.
	lines := make([]order.Line, 0, len(items))
	for _, it := range items {
		var p catalog.Product
		err := tx.QueryRow(ctx,
			`SELECT id, name, description, image_url, price, stock
			 FROM products WHERE id = $1 FOR UPDATE`, it.ProductID).
			Scan(&p.ID, &p.Name, &p.Description, &p.ImageURL, &p.Price, &p.Stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return order.Order{}, fmt.Errorf("%w: %s", application.ErrProductNotFound, it.ProductID)
		}
		if err != nil {
			return order.Order{}, err
		}
		if p.Stock < it.Quantity {
			return order.Order{}, fmt.Errorf("%w: %s", application.ErrInsufficientStock, p.Name)
		}
		lines = append(lines, order.Line{
			ProductID:   p.ID,
			Name:        p.Name,
			Description: p.Description,
			ImageURL:    p.ImageURL,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
		})
	}

	ord := order.NewOrder(userID, lines)
	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, status, subtotal, shipping, tax, discount, total, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ord.ID, ord.UserID, ord.Status, ord.Subtotal, ord.Shipping, ord.Tax, ord.Discount, ord.Total, ord.CreatedAt)
	if err != nil {
		return order.Order{}, err
	}

	batch := &pgx.Batch{}
	for _, l := range ord.Lines {
		batch.Queue(
			`INSERT INTO order_lines (order_id, product_id, name, description, image_url, unit_price, quantity)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			ord.ID, l.ProductID, l.Name, l.Description, l.ImageURL, l.UnitPrice, l.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return order.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, err
	}
	return ord, nil
}

func (s *Store) BindCheckoutSession(ctx context.Context, ord order.Order, sessionID string) (payment.Payment, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return payment.Payment{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The order may have left PENDING while the gateway call was in
	// flight, e.g. canceled by the orphan sweep under an aggressive TTL.
	// Binding then would decrement stock nothing ever restores.
	var status order.Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, ord.ID).Scan(&status)
	if err != nil {
		return payment.Payment{}, err
	}
	if status != order.StatusPending {
		return payment.Payment{}, fmt.Errorf("%w: %s", application.ErrOrderNotPending, ord.ID)
	}

	pay := payment.NewPayment(sessionID, ord.UserID, ord.ID, ord.Total)
	_, err = tx.Exec(ctx,
		`INSERT INTO payments (id, session_id, user_id, order_id, amount, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pay.ID, pay.SessionID, pay.UserID, pay.OrderID, pay.Amount, pay.Status, pay.CreatedAt)
	if err != nil {
		return payment.Payment{}, err
	}

	productIDs := make([]uuid.UUID, 0, len(ord.Lines))
	for _, l := range ord.Lines {
		ct, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
			l.ProductID, l.Quantity)
		if err != nil {
			return payment.Payment{}, err
		}
		if ct.RowsAffected() == 0 {
			// A concurrent checkout won the stock between the two
			// intake transactions.
			return payment.Payment{}, fmt.Errorf("%w: %s", application.ErrInsufficientStock, l.Name)
		}
		productIDs = append(productIDs, l.ProductID)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM cart_lines cl USING carts c
		 WHERE cl.cart_id = c.id AND c.user_id = $1 AND cl.product_id = ANY($2)`,
		ord.UserID, productIDs)
	if err != nil {
		return payment.Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return payment.Payment{}, err
	}
	return pay, nil
}

func (s *Store) SettlePayment(ctx context.Context, sessionID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var pay payment.Payment
	err = tx.QueryRow(ctx,
		`SELECT id, order_id, user_id, amount, status FROM payments
		 WHERE session_id = $1 FOR UPDATE`, sessionID).
		Scan(&pay.ID, &pay.OrderID, &pay.UserID, &pay.Amount, &pay.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", application.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}
	if pay.Status != payment.StatusPending {
		// Duplicate delivery; the terminal state is already in place.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE id = $1`,
		pay.ID, payment.StatusSuccess); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3`,
		pay.OrderID, order.StatusCompleted, order.StatusPending); err != nil {
		return err
	}

	if err := s.appendOutbox(ctx, tx, pay.OrderID.String(), "OrderCompleted", order.OrderCompleted{
		OrderID:   pay.OrderID.String(),
		UserID:    pay.UserID,
		SessionID: sessionID,
		Total:     pay.Amount,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) RollbackCheckout(ctx context.Context, sessionID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var pay payment.Payment
	err = tx.QueryRow(ctx,
		`SELECT id, order_id, user_id, status FROM payments
		 WHERE session_id = $1 FOR UPDATE`, sessionID).
		Scan(&pay.ID, &pay.OrderID, &pay.UserID, &pay.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", application.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}

	var status order.Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, pay.OrderID).
		Scan(&status)
	if err != nil {
		return err
	}
	if status != order.StatusPending {
		// Already settled or already rolled back; duplicate expiry
		// events must not touch stock or the cart again.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE id = $1`,
		pay.ID, payment.StatusFailed); err != nil {
		return err
	}

	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity FROM order_lines WHERE order_id = $1`, pay.OrderID)
	if err != nil {
		return err
	}
	type reserved struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []reserved
	for rows.Next() {
		var l reserved
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			rows.Close()
			return err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, l := range lines {
		// Release is an unconditional increment.
		if _, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock + $2 WHERE id = $1`,
			l.productID, l.quantity); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		pay.OrderID, order.StatusCanceled); err != nil {
		return err
	}

	cartID, err := s.findOrCreateCart(ctx, tx, pay.UserID)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(
			`INSERT INTO cart_lines (cart_id, product_id, quantity)
			 VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			cartID, l.productID, l.quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	if err := s.appendOutbox(ctx, tx, pay.OrderID.String(), "OrderCanceled", order.OrderCanceled{
		OrderID:   pay.OrderID.String(),
		UserID:    pay.UserID,
		SessionID: sessionID,
		Reason:    "checkout session expired",
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Orders abandoned by a failed gateway call have no payment row and
	// never reached the stock decrement; canceling them needs no stock
	// restore.
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := tx.Query(ctx,
		`SELECT o.id, o.user_id FROM orders o
		 LEFT JOIN payments p ON p.order_id = o.id
		 WHERE o.status = $1 AND p.id IS NULL AND o.created_at < $2
		 FOR UPDATE OF o SKIP LOCKED`,
		order.StatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	type orphan struct {
		id     uuid.UUID
		userID string
	}
	var orphans []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.id, &o.userID); err != nil {
			rows.Close()
			return 0, err
		}
		orphans = append(orphans, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, o := range orphans {
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE id = $1`,
			o.id, order.StatusCanceled); err != nil {
			return 0, err
		}
		if err := s.appendOutbox(ctx, tx, o.id.String(), "OrderCanceled", order.OrderCanceled{
			OrderID: o.id.String(),
			UserID:  o.userID,
			Reason:  "abandoned before payment",
		}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(orphans), nil
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, status, subtotal, shipping, tax, discount, total, created_at
		 FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		var o order.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Subtotal, &o.Shipping,
			&o.Tax, &o.Discount, &o.Total, &o.CreatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := s.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (s *Store) orderLines(ctx context.Context, orderID uuid.UUID) ([]order.Line, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, name, description, image_url, unit_price, quantity
		 FROM order_lines WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []order.Line
	for rows.Next() {
		var l order.Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Description, &l.ImageURL,
			&l.UnitPrice, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cl.cart_id, cl.product_id, cl.quantity
		 FROM cart_lines cl JOIN carts c ON c.id = cl.cart_id
		 WHERE c.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []cart.Line
	for rows.Next() {
		var l cart.Line
		if err := rows.Scan(&l.CartID, &l.ProductID, &l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) findOrCreateCart(ctx context.Context, tx pgx.Tx, userID string) (uuid.UUID, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO carts (id, user_id) VALUES ($1,$2) ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&id)
	return id, err
}

func (s *Store) appendOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		 VALUES ($1,$2,$3,$4,$5,'pending')`,
		"order", aggregateID, eventType, payload, tracing.Traceparent(ctx))
	return err
}
