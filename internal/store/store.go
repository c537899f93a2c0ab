package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmaledger/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate record")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrInvalidConversion   = fmt.Errorf("%w: conversion factor must be positive", ErrInsufficientData)
	ErrOverpayment         = errors.New("payment exceeds balance due")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NormalizeName is the key used for case-insensitive name lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Repository is the ledger store. Every mutation goes through Update, which
// runs fn inside a single transaction and discards all of its writes when fn
// returns an error.
type Repository interface {
	Update(ctx context.Context, fn func(tx Tx) error) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	ListSalesBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)
	ListLoans(ctx context.Context) ([]domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)
	ListPayments(ctx context.Context, saleID string) ([]domain.PaymentRecord, error)
	ListExpenses(ctx context.Context, limit int) ([]domain.Expense, error)
	// LedgerTotals sums records dated in [from, to). A zero to leaves the
	// window open-ended.
	LedgerTotals(ctx context.Context, from time.Time, to time.Time) (domain.LedgerTotals, error)
	ProductMovements(ctx context.Context) ([]domain.ProductMovement, error)
}

// Tx is the write side of a ledger transaction. ForUpdate reads lock the row
// until the transaction ends; callers lock a sale before its products.
type Tx interface {
	CreateCategory(ctx context.Context, category domain.Category) error
	FindCategoryByName(ctx context.Context, name string) (*domain.Category, error)
	CategoryExists(ctx context.Context, id string) (bool, error)

	CreateProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	FindProductByNameForUpdate(ctx context.Context, name string) (*domain.Product, error)
	// AdjustStock applies delta as a single atomic increment and returns the
	// resulting stock.
	AdjustStock(ctx context.Context, productID string, delta decimal.Decimal) (decimal.Decimal, error)

	CreatePurchase(ctx context.Context, purchase domain.Purchase) error

	CreateSale(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSaleTotals(ctx context.Context, sale domain.Sale) error
	CreateSaleItem(ctx context.Context, item domain.SaleItem) error
	ListSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error)

	CreatePayment(ctx context.Context, payment domain.PaymentRecord) error
	SumPayments(ctx context.Context, saleID string) (decimal.Decimal, error)

	CreateExpense(ctx context.Context, expense domain.Expense) error
}
