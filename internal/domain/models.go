package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusLoan    PaymentStatus = "LOAN"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
)

type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "CASH"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
	PaymentMethodCard        PaymentMethod = "CARD"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodMobileMoney, PaymentMethodCard:
		return true
	}
	return false
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Product stock is tracked in bulk units. ConversionFactor is the number of
// base units in one bulk unit and BuyPricePerBulk is the cost of one bulk unit.
type Product struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	CategoryID       string          `json:"category_id,omitempty"`
	BulkUnit         string          `json:"bulk_unit"`
	BaseUnit         string          `json:"base_unit"`
	ConversionFactor int             `json:"conversion_factor"`
	BuyPricePerBulk  decimal.Decimal `json:"buy_price_per_bulk"`
	SellPricePerBase decimal.Decimal `json:"sell_price_per_base"`
	StockQty         decimal.Decimal `json:"stock_qty"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty"`
	Barcode          string          `json:"barcode,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name             string          `json:"name"`
	CategoryID       string          `json:"category_id"`
	BulkUnit         string          `json:"bulk_unit"`
	BaseUnit         string          `json:"base_unit"`
	ConversionFactor int             `json:"conversion_factor"`
	BuyPricePerBulk  decimal.Decimal `json:"buy_price_per_bulk"`
	SellPricePerBase decimal.Decimal `json:"sell_price_per_base"`
	StockQty         decimal.Decimal `json:"stock_qty"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty"`
	Barcode          string          `json:"barcode"`
}

// ProductUpdateRequest never carries stock: stock only moves through
// purchases and sale items.
type ProductUpdateRequest struct {
	Name             *string          `json:"name,omitempty"`
	CategoryID       *string          `json:"category_id,omitempty"`
	BuyPricePerBulk  *decimal.Decimal `json:"buy_price_per_bulk,omitempty"`
	SellPricePerBase *decimal.Decimal `json:"sell_price_per_base,omitempty"`
	ExpiryDate       *time.Time       `json:"expiry_date,omitempty"`
	Barcode          *string          `json:"barcode,omitempty"`
}

// ProductImportRow is one already-parsed row of a bulk product import.
type ProductImportRow struct {
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	BulkUnit         string          `json:"bulk_unit"`
	BaseUnit         string          `json:"base_unit"`
	ConversionFactor int             `json:"conversion_factor"`
	BuyPricePerBulk  decimal.Decimal `json:"buy_price_per_bulk"`
	SellPricePerBase decimal.Decimal `json:"sell_price_per_base"`
	StockQty         decimal.Decimal `json:"stock_qty"`
	ExpiryDate       *time.Time      `json:"expiry_date,omitempty"`
}

type ProductImportResult struct {
	Created []Product `json:"created"`
	Updated []Product `json:"updated"`
}

type Purchase struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	QuantityBulk int             `json:"quantity_bulk"`
	PurchaseDate time.Time       `json:"purchase_date"`
	TotalCost    decimal.Decimal `json:"total_cost"`
}

type PurchaseCreateRequest struct {
	ProductID    string          `json:"product_id"`
	QuantityBulk int             `json:"quantity_bulk"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	PurchaseDate *time.Time      `json:"purchase_date,omitempty"`
}

type Sale struct {
	ID             string          `json:"id"`
	SaleDate       time.Time       `json:"sale_date"`
	CustomerName   string          `json:"customer_name,omitempty"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
}

type SaleItem struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	ProductID    string          `json:"product_id"`
	QuantityBase int             `json:"quantity_base"`
	PriceAtSale  decimal.Decimal `json:"price_at_sale"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PaymentRecord struct {
	ID             string          `json:"id"`
	SaleID         string          `json:"sale_id"`
	DatePaid       time.Time       `json:"date_paid"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Note           string          `json:"note,omitempty"`
}

type Expense struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
}

type ExpenseCreateRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        *time.Time      `json:"date,omitempty"`
}

type SaleCreateRequest struct {
	CustomerName      string          `json:"customer_name"`
	InitialAmountPaid decimal.Decimal `json:"initial_amount_paid"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
}

type SaleItemRequest struct {
	ProductID    string `json:"product_id"`
	QuantityBase int    `json:"quantity_base"`
}

// CheckoutRequest creates a sale with all of its lines in one step.
type CheckoutRequest struct {
	CustomerName      string            `json:"customer_name"`
	Items             []SaleItemRequest `json:"items"`
	DiscountAmount    decimal.Decimal   `json:"discount_amount"`
	InitialAmountPaid decimal.Decimal   `json:"initial_amount_paid"`
	PaymentMethod     PaymentMethod     `json:"payment_method"`
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Note          string          `json:"note"`
	DatePaid      *time.Time      `json:"date_paid,omitempty"`
}

type SaleDetail struct {
	Sale       Sale            `json:"sale"`
	Items      []SaleItem      `json:"items"`
	Payments   []PaymentRecord `json:"payments"`
	BalanceDue decimal.Decimal `json:"balance_due"`
}

type ReportPeriod string

const (
	PeriodDaily   ReportPeriod = "daily"
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
	PeriodYearly  ReportPeriod = "yearly"
)

// LedgerTotals are raw sums over a time window. Zero when nothing matched.
type LedgerTotals struct {
	Revenue       decimal.Decimal
	CashIn        decimal.Decimal
	CashCollected decimal.Decimal
	Purchases     decimal.Decimal
	Expenses      decimal.Decimal
}

type FinancialReport struct {
	Period           ReportPeriod    `json:"period,omitempty"`
	Since            time.Time       `json:"since"`
	Revenue          decimal.Decimal `json:"revenue"`
	CashIn           decimal.Decimal `json:"cash_in"`
	CashCollected    decimal.Decimal `json:"cash_collected"`
	Purchases        decimal.Decimal `json:"purchases"`
	Expenses         decimal.Decimal `json:"expenses"`
	PaperProfit      decimal.Decimal `json:"paper_profit"`
	NetCashFlow      decimal.Decimal `json:"net_cash_flow"`
	NetCashCollected decimal.Decimal `json:"net_cash_collected"`
	OutstandingDebt  decimal.Decimal `json:"outstanding_debt"`
}

type AlertKind string

const (
	AlertLowStock      AlertKind = "low_stock"
	AlertExpired       AlertKind = "expired"
	AlertPurchaseOrder AlertKind = "purchase_order"
)

type AlertSummary struct {
	LowStockCount     int  `json:"low_stock_count"`
	ExpiringCount     int  `json:"expiring_count"`
	NotificationCount int  `json:"notification_count"`
	HasNotifications  bool `json:"has_notifications"`
}

type InventoryLine struct {
	Product    Product         `json:"product"`
	StockValue decimal.Decimal `json:"stock_value"`
	IsLowStock bool            `json:"is_low_stock"`
}

type InventoryValuation struct {
	Lines      []InventoryLine `json:"lines"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// ProductMovement is the total base quantity sold per product.
type ProductMovement struct {
	ProductID    string `json:"product_id"`
	QuantityBase int64  `json:"quantity_base"`
}

type DailyRevenue struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

type Dashboard struct {
	MostMovingProduct     *Product        `json:"most_moving_product,omitempty"`
	MostMovingQuantity    int64           `json:"most_moving_quantity"`
	MostProfitableProduct *Product        `json:"most_profitable_product,omitempty"`
	ProfitPerBaseUnit     decimal.Decimal `json:"profit_per_base_unit"`
	DailyRevenue          decimal.Decimal `json:"daily_revenue"`
	MonthlyRevenue        decimal.Decimal `json:"monthly_revenue"`
	LastSevenDays         []DailyRevenue  `json:"last_seven_days"`
	ActiveLoans           int             `json:"active_loans"`
	AlertSummary          AlertSummary    `json:"alert_summary"`
}
