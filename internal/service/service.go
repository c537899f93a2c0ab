package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"pharmaledger/internal/cache"
	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
	"pharmaledger/internal/xid"
)

// maxTxAttempts bounds retries of a transaction that lost a lock race.
const maxTxAttempts = 3

type Options struct {
	Cache             cache.ReportCache
	CacheTTL          time.Duration
	LowStockThreshold decimal.Decimal
	ReorderThreshold  decimal.Decimal
	ExpiryWarningDays int
	OversellPolicy    ledger.OversellPolicy
	Location          *time.Location
	Clock             func() time.Time
}

type Service struct {
	repo              store.Repository
	cache             cache.ReportCache
	cacheTTL          time.Duration
	lowStockThreshold decimal.Decimal
	reorderThreshold  decimal.Decimal
	expiryWarningDays int
	oversellPolicy    ledger.OversellPolicy
	loc               *time.Location
	clock             func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopReportCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if !opts.LowStockThreshold.IsPositive() {
		opts.LowStockThreshold = decimal.NewFromInt(2)
	}
	if !opts.ReorderThreshold.IsPositive() {
		opts.ReorderThreshold = decimal.NewFromInt(20)
	}
	if opts.ExpiryWarningDays < 1 {
		opts.ExpiryWarningDays = 180
	}
	if opts.OversellPolicy == "" {
		opts.OversellPolicy = ledger.OversellAllow
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:              repo,
		cache:             opts.Cache,
		cacheTTL:          opts.CacheTTL,
		lowStockThreshold: opts.LowStockThreshold,
		reorderThreshold:  opts.ReorderThreshold,
		expiryWarningDays: opts.ExpiryWarningDays,
		oversellPolicy:    opts.OversellPolicy,
		loc:               opts.Location,
		clock:             opts.Clock,
	}
}

func (s *Service) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, store.Invalid("name", "required")
	}

	category := domain.Category{ID: xid.New("cat"), Name: name}
	err := s.update(ctx, "create_category", func(tx store.Tx) error {
		return tx.CreateCategory(ctx, category)
	})
	if err != nil {
		return domain.Category{}, err
	}
	return category, nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.CategoryID = strings.TrimSpace(req.CategoryID)
	req.BulkUnit = strings.TrimSpace(req.BulkUnit)
	req.BaseUnit = strings.TrimSpace(req.BaseUnit)
	req.Barcode = strings.TrimSpace(req.Barcode)

	switch {
	case req.Name == "":
		return domain.Product{}, store.Invalid("name", "required")
	case req.CategoryID == "":
		return domain.Product{}, store.Invalid("category_id", "required")
	case req.BulkUnit == "":
		return domain.Product{}, store.Invalid("bulk_unit", "required")
	case req.BaseUnit == "":
		return domain.Product{}, store.Invalid("base_unit", "required")
	case req.ConversionFactor <= 0:
		return domain.Product{}, store.Invalid("conversion_factor", "must be a positive integer")
	case req.BuyPricePerBulk.IsNegative():
		return domain.Product{}, store.Invalid("buy_price_per_bulk", "must not be negative")
	case req.SellPricePerBase.IsNegative():
		return domain.Product{}, store.Invalid("sell_price_per_base", "must not be negative")
	case req.StockQty.IsNegative():
		return domain.Product{}, store.Invalid("stock_qty", "must not be negative")
	}
	if err := checkPrices(req.BuyPricePerBulk, req.SellPricePerBase); err != nil {
		return domain.Product{}, err
	}

	now := s.clock().UTC()
	product := domain.Product{
		ID:               xid.New("prd"),
		Name:             req.Name,
		CategoryID:       req.CategoryID,
		BulkUnit:         req.BulkUnit,
		BaseUnit:         req.BaseUnit,
		ConversionFactor: req.ConversionFactor,
		BuyPricePerBulk:  req.BuyPricePerBulk,
		SellPricePerBase: req.SellPricePerBase,
		StockQty:         req.StockQty,
		ExpiryDate:       dateOnly(req.ExpiryDate),
		Barcode:          req.Barcode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.update(ctx, "create_product", func(tx store.Tx) error {
		ok, err := tx.CategoryExists(ctx, product.CategoryID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// UpdateProduct edits catalogue fields. Stock is not editable here.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	var updated domain.Product
	err := s.update(ctx, "update_product", func(tx store.Tx) error {
		existing, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next := *existing
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return store.Invalid("name", "required")
			}
			next.Name = name
		}
		if req.CategoryID != nil {
			ok, err := tx.CategoryExists(ctx, *req.CategoryID)
			if err != nil {
				return err
			}
			if !ok {
				return store.ErrNotFound
			}
			next.CategoryID = *req.CategoryID
		}
		if req.BuyPricePerBulk != nil {
			if req.BuyPricePerBulk.IsNegative() {
				return store.Invalid("buy_price_per_bulk", "must not be negative")
			}
			if err := ledger.CheckMoney("buy_price_per_bulk", *req.BuyPricePerBulk); err != nil {
				return err
			}
			next.BuyPricePerBulk = *req.BuyPricePerBulk
		}
		if req.SellPricePerBase != nil {
			if req.SellPricePerBase.IsNegative() {
				return store.Invalid("sell_price_per_base", "must not be negative")
			}
			if err := ledger.CheckMoney("sell_price_per_base", *req.SellPricePerBase); err != nil {
				return err
			}
			next.SellPricePerBase = *req.SellPricePerBase
		}
		if req.ExpiryDate != nil {
			next.ExpiryDate = dateOnly(req.ExpiryDate)
		}
		if req.Barcode != nil {
			next.Barcode = strings.TrimSpace(*req.Barcode)
		}
		next.UpdatedAt = s.clock().UTC()
		if err := tx.UpdateProduct(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return updated, nil
}

// ImportProducts merges parsed rows by product name. A row naming an existing
// product adds its stock to the current stock and refreshes prices; other
// rows create products, creating their category by name when missing. The
// whole batch is one transaction.
func (s *Service) ImportProducts(ctx context.Context, rows []domain.ProductImportRow) (domain.ProductImportResult, error) {
	if len(rows) == 0 {
		return domain.ProductImportResult{}, store.Invalid("rows", "required")
	}
	for i, row := range rows {
		if strings.TrimSpace(row.Name) == "" {
			return domain.ProductImportResult{}, store.Invalid(fieldAt("rows", i, "name"), "required")
		}
		if row.StockQty.IsNegative() {
			return domain.ProductImportResult{}, store.Invalid(fieldAt("rows", i, "stock_qty"), "must not be negative")
		}
		if row.BuyPricePerBulk.IsNegative() || row.SellPricePerBase.IsNegative() {
			return domain.ProductImportResult{}, store.Invalid(fieldAt("rows", i, "price"), "must not be negative")
		}
		if checkPrices(row.BuyPricePerBulk, row.SellPricePerBase) != nil {
			return domain.ProductImportResult{}, store.Invalid(fieldAt("rows", i, "price"), "at most 2 decimal places")
		}
	}

	var result domain.ProductImportResult
	err := s.update(ctx, "import_products", func(tx store.Tx) error {
		result = domain.ProductImportResult{}
		now := s.clock().UTC()
		for i, row := range rows {
			existing, err := tx.FindProductByNameForUpdate(ctx, row.Name)
			switch {
			case err == nil:
				next := *existing
				next.BuyPricePerBulk = row.BuyPricePerBulk
				next.SellPricePerBase = row.SellPricePerBase
				if row.ExpiryDate != nil {
					next.ExpiryDate = dateOnly(row.ExpiryDate)
				}
				next.UpdatedAt = now
				if err := tx.UpdateProduct(ctx, next); err != nil {
					return err
				}
				stock, err := tx.AdjustStock(ctx, next.ID, row.StockQty)
				if err != nil {
					return err
				}
				next.StockQty = stock
				result.Updated = append(result.Updated, next)
			case errors.Is(err, store.ErrNotFound):
				created, err := s.importNewProduct(ctx, tx, i, row, now)
				if err != nil {
					return err
				}
				result.Created = append(result.Created, created)
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.ProductImportResult{}, err
	}
	return result, nil
}

func (s *Service) importNewProduct(ctx context.Context, tx store.Tx, i int, row domain.ProductImportRow, now time.Time) (domain.Product, error) {
	if row.ConversionFactor <= 0 {
		return domain.Product{}, store.Invalid(fieldAt("rows", i, "conversion_factor"), "must be a positive integer")
	}
	categoryName := strings.TrimSpace(row.Category)
	if categoryName == "" {
		return domain.Product{}, store.Invalid(fieldAt("rows", i, "category"), "required")
	}
	category, err := tx.FindCategoryByName(ctx, categoryName)
	if errors.Is(err, store.ErrNotFound) {
		category = &domain.Category{ID: xid.New("cat"), Name: categoryName}
		err = tx.CreateCategory(ctx, *category)
	}
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:               xid.New("prd"),
		Name:             strings.TrimSpace(row.Name),
		CategoryID:       category.ID,
		BulkUnit:         defaultString(strings.TrimSpace(row.BulkUnit), "unit"),
		BaseUnit:         defaultString(strings.TrimSpace(row.BaseUnit), "unit"),
		ConversionFactor: row.ConversionFactor,
		BuyPricePerBulk:  row.BuyPricePerBulk,
		SellPricePerBase: row.SellPricePerBase,
		StockQty:         row.StockQty,
		ExpiryDate:       dateOnly(row.ExpiryDate),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.CreateProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) FindProductByName(ctx context.Context, name string) (domain.Product, error) {
	p, err := s.repo.FindProductByName(ctx, name)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) LookupByBarcode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, store.Invalid("barcode", "required")
	}
	p, err := s.repo.GetProductByBarcode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

// update runs fn as one store transaction, retrying lock conflicts, and
// drops cached reports once it commits.
func (s *Service) update(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.repo.Update(ctx, fn)
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transaction conflict")
	}
	if err != nil {
		return err
	}

	if err := s.cache.Purge(ctx); err != nil {
		log.Warn().Err(err).Str("op", op).Msg("failed to purge report cache")
	}
	return nil
}

func (s *Service) now() time.Time {
	return s.clock().In(s.loc)
}

func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func checkPrices(buyPerBulk decimal.Decimal, sellPerBase decimal.Decimal) error {
	if err := ledger.CheckMoney("buy_price_per_bulk", buyPerBulk); err != nil {
		return err
	}
	return ledger.CheckMoney("sell_price_per_base", sellPerBase)
}

func fieldAt(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
