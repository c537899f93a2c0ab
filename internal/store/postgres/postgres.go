package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const productColumns = `id, name, COALESCE(category_id, ''), bulk_unit, base_unit, conversion_factor,
	buy_price_per_bulk, sell_price_per_base, stock_qty, expiry_date, COALESCE(barcode, ''), created_at, updated_at`

const saleColumns = `id, sale_date, customer_name, payment_status, subtotal, discount_amount, total_amount, amount_paid`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn in a READ COMMITTED transaction. Rows that fn mutates are
// locked with SELECT ... FOR UPDATE by the Tx methods.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 16)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return queryProduct(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	return queryProduct(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE lower(btrim(name)) = $1`, store.NormalizeName(name))
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	return queryProduct(ctx, s.db, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, barcode)
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity_bulk, purchase_date, total_cost
		FROM purchases
		ORDER BY purchase_date DESC, id
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, 32)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.ProductID, &p.QuantityBulk, &p.PurchaseDate, &p.TotalCost); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return querySale(ctx, s.db, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id)
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.querySales(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY sale_date DESC, id LIMIT $1`, limitOrAll(limit))
}

func (s *Store) ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE sale_date >= $1 AND ($2::timestamptz IS NULL OR sale_date < $2)
		ORDER BY sale_date, id
	`, from, nullTime(to))
}

func (s *Store) ListLoans(ctx context.Context) ([]domain.Sale, error) {
	return s.querySales(ctx, `SELECT `+saleColumns+` FROM sales WHERE total_amount > amount_paid ORDER BY sale_date DESC, id`)
}

func (s *Store) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	if _, err := s.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	return listSaleItems(ctx, s.db, saleID)
}

func (s *Store) ListPayments(ctx context.Context, saleID string) ([]domain.PaymentRecord, error) {
	if _, err := s.GetSale(ctx, saleID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, date_paid, amount_received, payment_method, note
		FROM payment_records
		WHERE sale_id = $1
		ORDER BY date_paid, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentRecord, 0, 4)
	for rows.Next() {
		var p domain.PaymentRecord
		var method string
		if err := rows.Scan(&p.ID, &p.SaleID, &p.DatePaid, &p.AmountReceived, &method, &p.Note); err != nil {
			return nil, err
		}
		p.PaymentMethod = domain.PaymentMethod(method)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, amount, date
		FROM expenses
		ORDER BY date DESC, id
		LIMIT $1
	`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.Date); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (s *Store) LedgerTotals(ctx context.Context, from time.Time, to time.Time) (domain.LedgerTotals, error) {
	var totals domain.LedgerTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(total_amount), 0) FROM sales
				WHERE sale_date >= $1 AND ($2::timestamptz IS NULL OR sale_date < $2)),
			(SELECT COALESCE(SUM(amount_paid), 0) FROM sales
				WHERE sale_date >= $1 AND ($2::timestamptz IS NULL OR sale_date < $2)),
			(SELECT COALESCE(SUM(amount_received), 0) FROM payment_records
				WHERE date_paid >= $1 AND ($2::timestamptz IS NULL OR date_paid < $2)),
			(SELECT COALESCE(SUM(total_cost), 0) FROM purchases
				WHERE purchase_date >= $1 AND ($2::timestamptz IS NULL OR purchase_date < $2)),
			(SELECT COALESCE(SUM(amount), 0) FROM expenses
				WHERE date >= $1 AND ($2::timestamptz IS NULL OR date < $2))
	`, from, nullTime(to)).Scan(&totals.Revenue, &totals.CashIn, &totals.CashCollected, &totals.Purchases, &totals.Expenses)
	if err != nil {
		return domain.LedgerTotals{}, err
	}
	return totals, nil
}

func (s *Store) ProductMovements(ctx context.Context) ([]domain.ProductMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, SUM(quantity_base)
		FROM sale_items
		GROUP BY product_id
		ORDER BY 2 DESC, 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.ProductMovement, 0, 32)
	for rows.Next() {
		var m domain.ProductMovement
		if err := rows.Scan(&m.ProductID, &m.QuantityBase); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func queryProduct(ctx context.Context, q queryer, query string, args ...any) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func querySale(ctx context.Context, q queryer, query string, args ...any) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func listSaleItems(ctx context.Context, q queryer, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, quantity_base, price_at_sale, created_at
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.QuantityBase, &item.PriceAtSale, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var expiry sql.NullTime
	err := row.Scan(
		&p.ID, &p.Name, &p.CategoryID, &p.BulkUnit, &p.BaseUnit, &p.ConversionFactor,
		&p.BuyPricePerBulk, &p.SellPricePerBase, &p.StockQty, &expiry, &p.Barcode, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	if expiry.Valid {
		date := nowDateUTC(expiry.Time)
		p.ExpiryDate = &date
	}
	return p, nil
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var status string
	err := row.Scan(&sale.ID, &sale.SaleDate, &sale.CustomerName, &status, &sale.Subtotal, &sale.DiscountAmount, &sale.TotalAmount, &sale.AmountPaid)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.PaymentStatus = domain.PaymentStatus(status)
	return sale, nil
}

// mapError turns lock and constraint failures into store errors so callers
// can match them with errors.Is.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConcurrencyConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
	}
	return err
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return nowDateUTC(*val)
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
