package service

import (
	"context"
	"strings"

	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
	"pharmaledger/internal/xid"
)

// RecordPurchase stores a purchase and adds its bulk quantity to stock. The
// increment happens only here, in the insert transaction; purchases have no
// update path.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.Purchase{}, store.Invalid("product_id", "required")
	}
	if req.QuantityBulk <= 0 {
		return domain.Purchase{}, store.ErrInvalidAmount
	}
	if req.TotalCost.IsNegative() {
		return domain.Purchase{}, store.Invalid("total_cost", "must not be negative")
	}
	if err := ledger.CheckMoney("total_cost", req.TotalCost); err != nil {
		return domain.Purchase{}, err
	}

	purchase := domain.Purchase{
		ID:           xid.New("pur"),
		ProductID:    productID,
		QuantityBulk: req.QuantityBulk,
		PurchaseDate: s.clock().UTC(),
		TotalCost:    req.TotalCost,
	}
	if req.PurchaseDate != nil {
		purchase.PurchaseDate = req.PurchaseDate.UTC()
	}

	err := s.update(ctx, "record_purchase", func(tx store.Tx) error {
		product, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		delta, err := ledger.ApplyPurchase(product, purchase.QuantityBulk)
		if err != nil {
			return err
		}
		if err := tx.CreatePurchase(ctx, purchase); err != nil {
			return err
		}
		_, err = tx.AdjustStock(ctx, product.ID, delta)
		return err
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, limit)
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return domain.Expense{}, store.Invalid("description", "required")
	}
	if !req.Amount.IsPositive() {
		return domain.Expense{}, store.ErrInvalidAmount
	}
	if err := ledger.CheckMoney("amount", req.Amount); err != nil {
		return domain.Expense{}, err
	}

	expense := domain.Expense{
		ID:          xid.New("exp"),
		Description: description,
		Amount:      req.Amount,
		Date:        s.clock().UTC(),
	}
	if req.Date != nil {
		expense.Date = req.Date.UTC()
	}

	err := s.update(ctx, "record_expense", func(tx store.Tx) error {
		return tx.CreateExpense(ctx, expense)
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return expense, nil
}

func (s *Service) ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error) {
	return s.repo.ListExpenses(ctx, limit)
}
