package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pharmaledger/internal/cache"
	"pharmaledger/internal/domain"
	"pharmaledger/internal/ledger"
	"pharmaledger/internal/store"
)

// PeriodStart returns the first instant of the reporting period containing
// now, in now's location. Weeks start on Monday.
func PeriodStart(period domain.ReportPeriod, now time.Time) (time.Time, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case domain.PeriodDaily:
		return midnight, nil
	case domain.PeriodWeekly:
		offset := (int(midnight.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), nil
	case domain.PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	case domain.PeriodYearly:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()), nil
	}
	return time.Time{}, store.Invalid("period", "must be daily, weekly, monthly or yearly")
}

func (s *Service) FinancialReport(ctx context.Context, period string) (domain.FinancialReport, error) {
	p := domain.ReportPeriod(strings.ToLower(strings.TrimSpace(period)))
	if p == "" {
		p = domain.PeriodDaily
	}
	start, err := PeriodStart(p, s.now())
	if err != nil {
		return domain.FinancialReport{}, err
	}

	key := fmt.Sprintf("financial:%s:%d", p, start.Unix())
	var report domain.FinancialReport
	entry, hit := s.readCache(ctx, key, &report)
	if hit {
		return report, nil
	}

	report, err = s.FinancialReportSince(ctx, start)
	if err != nil {
		return domain.FinancialReport{}, err
	}
	report.Period = p
	s.writeCache(ctx, entry, report)
	return report, nil
}

// FinancialReportSince aggregates everything dated at or after since.
func (s *Service) FinancialReportSince(ctx context.Context, since time.Time) (domain.FinancialReport, error) {
	totals, err := s.repo.LedgerTotals(ctx, since, time.Time{})
	if err != nil {
		return domain.FinancialReport{}, err
	}
	return buildFinancialReport(since, totals), nil
}

func buildFinancialReport(since time.Time, t domain.LedgerTotals) domain.FinancialReport {
	outflow := t.Purchases.Add(t.Expenses)
	return domain.FinancialReport{
		Since:            since,
		Revenue:          t.Revenue,
		CashIn:           t.CashIn,
		CashCollected:    t.CashCollected,
		Purchases:        t.Purchases,
		Expenses:         t.Expenses,
		PaperProfit:      t.Revenue.Sub(outflow),
		NetCashFlow:      t.CashIn.Sub(outflow),
		NetCashCollected: t.CashCollected.Sub(outflow),
		OutstandingDebt:  t.Revenue.Sub(t.CashIn),
	}
}

func (s *Service) Alerts(ctx context.Context, kind string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	switch domain.AlertKind(strings.ToLower(strings.TrimSpace(kind))) {
	case domain.AlertLowStock:
		return uniqueProducts(filterProducts(products, s.isLowStock)), nil
	case domain.AlertExpired:
		return uniqueProducts(filterProducts(products, s.expiringBy(s.expiryLimit()))), nil
	case domain.AlertPurchaseOrder:
		reorder := uniqueProducts(filterProducts(products, s.needsReorder))
		slices.SortStableFunc(reorder, func(a, b domain.Product) int {
			return a.StockQty.Cmp(b.StockQty)
		})
		return reorder, nil
	}
	return nil, store.Invalid("kind", "must be low_stock, expired or purchase_order")
}

func (s *Service) AlertSummary(ctx context.Context) (domain.AlertSummary, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.AlertSummary{}, err
	}
	return s.alertSummary(products), nil
}

func (s *Service) alertSummary(products []domain.Product) domain.AlertSummary {
	low := uniqueProducts(filterProducts(products, s.isLowStock))
	expiring := uniqueProducts(filterProducts(products, s.expiringBy(s.expiryLimit())))
	notifications := uniqueProducts(append(slices.Clone(low), expiring...))

	return domain.AlertSummary{
		LowStockCount:     len(low),
		ExpiringCount:     len(expiring),
		NotificationCount: len(notifications),
		HasNotifications:  len(notifications) > 0,
	}
}

// Inventory values every product at stock_qty × buy_price_per_bulk.
func (s *Service) Inventory(ctx context.Context) (domain.InventoryValuation, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.InventoryValuation{}, err
	}

	valuation := domain.InventoryValuation{
		Lines:      make([]domain.InventoryLine, 0, len(products)),
		TotalValue: decimal.Zero,
	}
	for _, p := range products {
		value := ledger.StockValue(p)
		valuation.Lines = append(valuation.Lines, domain.InventoryLine{
			Product:    p,
			StockValue: value,
			IsLowStock: s.needsReorder(p),
		})
		valuation.TotalValue = valuation.TotalValue.Add(value)
	}
	return valuation, nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	now := s.now()
	today, _ := PeriodStart(domain.PeriodDaily, now)
	month, _ := PeriodStart(domain.PeriodMonthly, now)
	weekAgo := today.AddDate(0, 0, -6)

	key := fmt.Sprintf("dashboard:%d", today.Unix())
	var dash domain.Dashboard
	entry, hit := s.readCache(ctx, key, &dash)
	if hit {
		return dash, nil
	}

	var (
		products  []domain.Product
		movements []domain.ProductMovement
		daily     domain.LedgerTotals
		monthly   domain.LedgerTotals
		recent    []domain.Sale
		loans     []domain.Sale
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		products, err = s.repo.ListProducts(gctx)
		return err
	})
	g.Go(func() (err error) {
		movements, err = s.repo.ProductMovements(gctx)
		return err
	})
	g.Go(func() (err error) {
		daily, err = s.repo.LedgerTotals(gctx, today, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		monthly, err = s.repo.LedgerTotals(gctx, month, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.repo.ListSalesBetween(gctx, weekAgo, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		loans, err = s.repo.ListLoans(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}

	dash = domain.Dashboard{
		ProfitPerBaseUnit: decimal.Zero,
		DailyRevenue:      daily.Revenue,
		MonthlyRevenue:    monthly.Revenue,
		LastSevenDays:     revenueByDay(recent, weekAgo, 7, s.loc),
		ActiveLoans:       len(loans),
		AlertSummary:      s.alertSummary(products),
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	if len(movements) > 0 {
		if p, ok := byID[movements[0].ProductID]; ok {
			dash.MostMovingProduct = &p
			dash.MostMovingQuantity = movements[0].QuantityBase
		}
	}
	for _, p := range products {
		profit, ok := ledger.ProfitPerBaseUnit(p)
		if !ok {
			continue
		}
		if dash.MostProfitableProduct == nil || profit.GreaterThan(dash.ProfitPerBaseUnit) {
			best := p
			dash.MostProfitableProduct = &best
			dash.ProfitPerBaseUnit = profit
		}
	}

	s.writeCache(ctx, entry, dash)
	return dash, nil
}

func revenueByDay(sales []domain.Sale, from time.Time, days int, loc *time.Location) []domain.DailyRevenue {
	series := make([]domain.DailyRevenue, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i).Format(time.DateOnly)
		series[i] = domain.DailyRevenue{Date: date, Revenue: decimal.Zero}
		index[date] = i
	}
	for _, sale := range sales {
		if i, ok := index[sale.SaleDate.In(loc).Format(time.DateOnly)]; ok {
			series[i].Revenue = series[i].Revenue.Add(sale.TotalAmount)
		}
	}
	return series
}

func (s *Service) isLowStock(p domain.Product) bool {
	return p.StockQty.LessThan(s.lowStockThreshold)
}

func (s *Service) needsReorder(p domain.Product) bool {
	return p.StockQty.LessThan(s.reorderThreshold)
}

// expiryLimit is the last calendar date that still counts as expiring soon.
func (s *Service) expiryLimit() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, s.expiryWarningDays)
}

func (s *Service) expiringBy(limit time.Time) func(domain.Product) bool {
	return func(p domain.Product) bool {
		return p.ExpiryDate != nil && !p.ExpiryDate.After(limit)
	}
}

// readCache returns the entry a computed report must be written back to. On
// a read error the entry is empty and the write is skipped.
func (s *Service) readCache(ctx context.Context, key string, dest any) (cache.Entry, bool) {
	entry, hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
		return cache.Entry{}, false
	}
	return entry, hit
}

func (s *Service) writeCache(ctx context.Context, entry cache.Entry, value any) {
	if entry.Key == "" {
		return
	}
	if err := s.cache.Set(ctx, entry, value, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", entry.Key).Msg("report cache write failed")
	}
}

func filterProducts(products []domain.Product, keep func(domain.Product) bool) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func uniqueProducts(products []domain.Product) []domain.Product {
	seen := make(map[string]struct{}, len(products))
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
