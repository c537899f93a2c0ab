package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CreateCategory(ctx context.Context, category domain.Category) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO categories (id, name) VALUES ($1, $2)`, category.ID, category.Name)
	return mapError(err)
}

func (t *pgTx) FindCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	var c domain.Category
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name FROM categories WHERE lower(btrim(name)) = $1
	`, store.NormalizeName(name)).Scan(&c.ID, &c.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) CategoryExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t *pgTx) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (
			id, name, category_id, bulk_unit, base_unit, conversion_factor,
			buy_price_per_bulk, sell_price_per_base, stock_qty, expiry_date, barcode, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, p.ID, p.Name, nullIfEmpty(p.CategoryID), p.BulkUnit, p.BaseUnit, p.ConversionFactor,
		p.BuyPricePerBulk, p.SellPricePerBase, p.StockQty, nullDate(p.ExpiryDate), nullIfEmpty(p.Barcode), p.CreatedAt)
	return mapError(err)
}

// UpdateProduct writes catalogue fields only. Stock changes go through
// AdjustStock.
func (t *pgTx) UpdateProduct(ctx context.Context, p domain.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category_id = $3, bulk_unit = $4, base_unit = $5,
			buy_price_per_bulk = $6, sell_price_per_base = $7, expiry_date = $8, barcode = $9, updated_at = now()
		WHERE id = $1
	`, p.ID, p.Name, nullIfEmpty(p.CategoryID), p.BulkUnit, p.BaseUnit,
		p.BuyPricePerBulk, p.SellPricePerBase, nullDate(p.ExpiryDate), nullIfEmpty(p.Barcode))
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	p, err := queryProduct(ctx, t.tx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return p, mapError(err)
}

func (t *pgTx) FindProductByNameForUpdate(ctx context.Context, name string) (*domain.Product, error) {
	p, err := queryProduct(ctx, t.tx, `SELECT `+productColumns+` FROM products WHERE lower(btrim(name)) = $1 FOR UPDATE`, store.NormalizeName(name))
	return p, mapError(err)
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var stock decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock_qty
	`, productID, delta).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, store.ErrNotFound
		}
		return decimal.Zero, mapError(err)
	}
	return stock, nil
}

func (t *pgTx) CreatePurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO purchases (id, product_id, quantity_bulk, purchase_date, total_cost)
		VALUES ($1,$2,$3,$4,$5)
	`, p.ID, p.ProductID, p.QuantityBulk, p.PurchaseDate, p.TotalCost)
	return mapError(err)
}

func (t *pgTx) CreateSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, sale_date, customer_name, payment_status, subtotal, discount_amount, total_amount, amount_paid)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, s.ID, s.SaleDate, s.CustomerName, string(s.PaymentStatus), s.Subtotal, s.DiscountAmount, s.TotalAmount, s.AmountPaid)
	return mapError(err)
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := querySale(ctx, t.tx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id)
	return sale, mapError(err)
}

func (t *pgTx) UpdateSaleTotals(ctx context.Context, s domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET customer_name = $2, payment_status = $3, subtotal = $4, discount_amount = $5, total_amount = $6, amount_paid = $7
		WHERE id = $1
	`, s.ID, s.CustomerName, string(s.PaymentStatus), s.Subtotal, s.DiscountAmount, s.TotalAmount, s.AmountPaid)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (t *pgTx) CreateSaleItem(ctx context.Context, item domain.SaleItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_items (id, sale_id, product_id, quantity_base, price_at_sale, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.SaleID, item.ProductID, item.QuantityBase, item.PriceAtSale, item.CreatedAt)
	return mapError(err)
}

func (t *pgTx) ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	return listSaleItems(ctx, t.tx, saleID)
}

func (t *pgTx) CreatePayment(ctx context.Context, p domain.PaymentRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_records (id, sale_id, date_paid, amount_received, payment_method, note)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.SaleID, p.DatePaid, p.AmountReceived, string(p.PaymentMethod), p.Note)
	return mapError(err)
}

func (t *pgTx) SumPayments(ctx context.Context, saleID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_received), 0) FROM payment_records WHERE sale_id = $1
	`, saleID).Scan(&total)
	return total, err
}

func (t *pgTx) CreateExpense(ctx context.Context, e domain.Expense) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO expenses (id, description, amount, date) VALUES ($1,$2,$3,$4)
	`, e.ID, e.Description, e.Amount, e.Date)
	return mapError(err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
