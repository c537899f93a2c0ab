package service

import (
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
	"pharmaledger/internal/xid"
)

// CreateSale opens an empty sale. A positive initial amount is stored as the
// sale's first payment, so amount_paid stays equal to the sum of payments.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.InitialAmountPaid.IsNegative() {
		return domain.Sale{}, store.ErrInvalidAmount
	}
	if err := ledger.CheckMoney("initial_amount_paid", req.InitialAmountPaid); err != nil {
		return domain.Sale{}, err
	}

	var sale domain.Sale
	err = s.update(ctx, "create_sale", func(tx store.Tx) error {
		sale = s.newSale(req.CustomerName)
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}
		if req.InitialAmountPaid.IsPositive() {
			if err := tx.CreatePayment(ctx, s.newPayment(sale.ID, req.InitialAmountPaid, method, "initial payment")); err != nil {
				return err
			}
		}
		return s.reconcile(ctx, tx, &sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// Checkout records a complete sale in one transaction: header, every line
// with its stock movement, discount, initial payment and final status. A
// sale that is not fully paid needs a customer name; without one nothing is
// written.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.SaleDetail, error) {
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	if len(req.Items) == 0 {
		return domain.SaleDetail{}, store.Invalid("items", "at least one item is required")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.SaleDetail{}, store.Invalid(fieldAt("items", i, "product_id"), "required")
		}
	}
	if req.InitialAmountPaid.IsNegative() {
		return domain.SaleDetail{}, store.ErrInvalidAmount
	}
	if err := ledger.CheckMoney("initial_amount_paid", req.InitialAmountPaid); err != nil {
		return domain.SaleDetail{}, err
	}
	if err := ledger.CheckMoney("discount_amount", req.DiscountAmount); err != nil {
		return domain.SaleDetail{}, err
	}

	var detail domain.SaleDetail
	err = s.update(ctx, "checkout", func(tx store.Tx) error {
		sale := s.newSale(req.CustomerName)
		if err := tx.CreateSale(ctx, sale); err != nil {
			return err
		}

		products, err := lockProducts(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		items := make([]domain.SaleItem, 0, len(req.Items))
		for _, line := range req.Items {
			item, err := s.sellLine(ctx, tx, sale.ID, products[strings.TrimSpace(line.ProductID)], line.QuantityBase)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		ledger.RecomputeTotals(&sale, items)
		if err := ledger.ValidateDiscount(sale, req.DiscountAmount); err != nil {
			return err
		}
		sale.DiscountAmount = req.DiscountAmount
		ledger.RecomputeTotals(&sale, items)

		payments := make([]domain.PaymentRecord, 0, 1)
		if req.InitialAmountPaid.IsPositive() {
			if err := ledger.CheckPayment(sale, req.InitialAmountPaid); err != nil {
				return err
			}
			payment := s.newPayment(sale.ID, req.InitialAmountPaid, method, "initial payment")
			if err := tx.CreatePayment(ctx, payment); err != nil {
				return err
			}
			payments = append(payments, payment)
		}
		if err := s.reconcile(ctx, tx, &sale); err != nil {
			return err
		}
		if sale.PaymentStatus != domain.PaymentStatusPaid && sale.CustomerName == "" {
			return store.Invalid("customer_name", "required when the sale is not fully paid")
		}

		detail = domain.SaleDetail{
			Sale:       sale,
			Items:      items,
			Payments:   payments,
			BalanceDue: ledger.BalanceDue(sale),
		}
		return nil
	})
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return detail, nil
}

// AddSaleItem sells quantityBase base units of a product on an existing
// sale: stock moves first, then totals and status are recomputed, all in one
// transaction.
func (s *Service) AddSaleItem(ctx context.Context, saleID string, req domain.SaleItemRequest) (domain.SaleItem, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.SaleItem{}, store.Invalid("product_id", "required")
	}

	var item domain.SaleItem
	err := s.update(ctx, "add_sale_item", func(tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}

		item, err = s.sellLine(ctx, tx, sale.ID, product, req.QuantityBase)
		if err != nil {
			return err
		}
		if err := s.recomputeTotals(ctx, tx, sale); err != nil {
			return err
		}
		return s.reconcile(ctx, tx, sale)
	})
	if err != nil {
		return domain.SaleItem{}, err
	}
	return item, nil
}

func (s *Service) SetDiscount(ctx context.Context, saleID string, amount decimal.Decimal) (domain.Sale, error) {
	if err := ledger.CheckMoney("discount_amount", amount); err != nil {
		return domain.Sale{}, err
	}

	var sale domain.Sale
	err := s.update(ctx, "set_discount", func(tx store.Tx) error {
		locked, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		items, err := tx.ListSaleItems(ctx, locked.ID)
		if err != nil {
			return err
		}
		ledger.RecomputeTotals(locked, items)
		if err := ledger.ValidateDiscount(*locked, amount); err != nil {
			return err
		}
		locked.DiscountAmount = amount
		ledger.RecomputeTotals(locked, items)
		if err := s.reconcile(ctx, tx, locked); err != nil {
			return err
		}
		sale = *locked
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// RecordPayment adds a payment to a sale. amount_paid is recomputed as the
// sum of every recorded payment before the status is derived.
func (s *Service) RecordPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.PaymentRecord, error) {
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentRecord{}, store.ErrInvalidAmount
	}
	if err := ledger.CheckMoney("amount", req.Amount); err != nil {
		return domain.PaymentRecord{}, err
	}

	var payment domain.PaymentRecord
	err = s.update(ctx, "record_payment", func(tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if err := ledger.CheckPayment(*sale, req.Amount); err != nil {
			return err
		}

		payment = s.newPayment(sale.ID, req.Amount, method, strings.TrimSpace(req.Note))
		if req.DatePaid != nil {
			payment.DatePaid = req.DatePaid.UTC()
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		return s.reconcile(ctx, tx, sale)
	})
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	return payment, nil
}

// CheckOverpayment applies the payment rules to a sale without recording
// anything.
func (s *Service) CheckOverpayment(ctx context.Context, saleID string, amount decimal.Decimal) error {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return err
	}
	return ledger.CheckPayment(*sale, amount)
}

// UpdateStatus re-derives amount_paid and payment_status from the recorded
// payments.
func (s *Service) UpdateStatus(ctx context.Context, saleID string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.update(ctx, "update_status", func(tx store.Tx) error {
		locked, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if err := s.reconcile(ctx, tx, locked); err != nil {
			return err
		}
		sale = *locked
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	items, err := s.repo.ListSaleItems(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, saleID)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return domain.SaleDetail{
		Sale:       *sale,
		Items:      items,
		Payments:   payments,
		BalanceDue: ledger.BalanceDue(*sale),
	}, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

// ListLoans returns sales whose total exceeds the amount paid.
func (s *Service) ListLoans(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListLoans(ctx)
}

// sellLine moves stock for one line and records it with the product's
// current base price.
func (s *Service) sellLine(ctx context.Context, tx store.Tx, saleID string, product *domain.Product, quantityBase int) (domain.SaleItem, error) {
	delta, err := ledger.ApplySaleItem(product, quantityBase, s.oversellPolicy)
	if err != nil {
		return domain.SaleItem{}, err
	}
	if _, err := tx.AdjustStock(ctx, product.ID, delta); err != nil {
		return domain.SaleItem{}, err
	}

	item := domain.SaleItem{
		ID:           xid.New("item"),
		SaleID:       saleID,
		ProductID:    product.ID,
		QuantityBase: quantityBase,
		PriceAtSale:  product.SellPricePerBase,
		CreatedAt:    s.clock().UTC(),
	}
	if err := tx.CreateSaleItem(ctx, item); err != nil {
		return domain.SaleItem{}, err
	}
	return item, nil
}

func (s *Service) recomputeTotals(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	items, err := tx.ListSaleItems(ctx, sale.ID)
	if err != nil {
		return err
	}
	ledger.RecomputeTotals(sale, items)
	return nil
}

// reconcile re-reads the payment sum inside the transaction, derives the
// status and persists the sale.
func (s *Service) reconcile(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	paid, err := tx.SumPayments(ctx, sale.ID)
	if err != nil {
		return err
	}
	ledger.Reconcile(sale, paid)
	return tx.UpdateSaleTotals(ctx, *sale)
}

func (s *Service) newSale(customerName string) domain.Sale {
	return domain.Sale{
		ID:             xid.New("sale"),
		SaleDate:       s.clock().UTC(),
		CustomerName:   strings.TrimSpace(customerName),
		PaymentStatus:  domain.PaymentStatusPaid,
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.Zero,
		AmountPaid:     decimal.Zero,
	}
}

func (s *Service) newPayment(saleID string, amount decimal.Decimal, method domain.PaymentMethod, note string) domain.PaymentRecord {
	return domain.PaymentRecord{
		ID:             xid.New("pay"),
		SaleID:         saleID,
		DatePaid:       s.clock().UTC(),
		AmountReceived: amount,
		PaymentMethod:  method,
		Note:           note,
	}
}

// lockProducts locks every product named by the lines in id order so
// concurrent checkouts acquire row locks in the same sequence.
func lockProducts(ctx context.Context, tx store.Tx, lines []domain.SaleItemRequest) (map[string]*domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, strings.TrimSpace(line.ProductID))
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	products := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		p, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		products[id] = p
	}
	return products, nil
}

func normalizeMethod(method domain.PaymentMethod) (domain.PaymentMethod, error) {
	method = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	if method == "" {
		return domain.PaymentMethodCash, nil
	}
	if !method.Valid() {
		return "", store.Invalid("payment_method", "must be CASH, MOBILE_MONEY or CARD")
	}
	return method, nil
}
