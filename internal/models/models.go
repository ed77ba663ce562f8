package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxRate is the fixed sales tax applied to every sale and order (12%).
var TaxRate = decimal.New(12, -2)

// Product is the catalog entity referenced by sales and orders. The catalog
// itself is maintained elsewhere; this service only reads products and
// mutates StockQuantity through the inventory operations of the store layer.
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	MinStock      int             `db:"min_stock" json:"min_stock"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Payment methods
type PaymentMethod string

const (
	PaymentCash               PaymentMethod = "cash"
	PaymentTransfer           PaymentMethod = "transfer"
	PaymentTransferOnDelivery PaymentMethod = "transfer_on_delivery"
)

// IsTransfer reports whether the method is a bank-transfer variant that
// requires manual confirmation.
func (m PaymentMethod) IsTransfer() bool {
	return m == PaymentTransfer || m == PaymentTransferOnDelivery
}

// Sale statuses
type SaleStatus string

const (
	SaleCompleted       SaleStatus = "completed"
	SaleTransferPending SaleStatus = "transfer_pending"
)

// Order statuses
type OrderStatus string

const (
	OrderPending     OrderStatus = "pending"
	OrderConfirmed   OrderStatus = "confirmed"
	OrderPreparing   OrderStatus = "preparing"
	OrderReadyPickup OrderStatus = "ready_pickup"
	OrderPacked      OrderStatus = "packed"
	OrderShipped     OrderStatus = "shipped"
	OrderDelivered   OrderStatus = "delivered"
	OrderPickedUp    OrderStatus = "picked_up"
	OrderCancelled   OrderStatus = "cancelled"
	OrderRefunded    OrderStatus = "refunded"
)

// Payment statuses for orders
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Delivery types
type DeliveryType string

const (
	DeliveryPickup  DeliveryType = "pickup"
	DeliveryHome    DeliveryType = "delivery"
	DeliveryExpress DeliveryType = "express"
)

// ValidDeliveryType reports whether dt is a known fulfillment channel.
func ValidDeliveryType(dt DeliveryType) bool {
	return dt == DeliveryPickup || dt == DeliveryHome || dt == DeliveryExpress
}

// CustomerInfo is an optional snapshot of the buyer captured on the aggregate.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Sale is an in-store transaction. It is created atomically with its line
// items, the stock decrement, and one financial movement; after creation only
// the transfer-confirmation workflow may touch it.
type Sale struct {
	ID              int64           `db:"id" json:"id"`
	SaleNumber      string          `db:"sale_number" json:"sale_number"`
	EmployeeID      int64           `db:"employee_id" json:"employee_id"`
	WorkDate        time.Time       `db:"work_date" json:"work_date"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"payment_method"`
	CashReceived    decimal.Decimal `db:"cash_received" json:"cash_received"`
	ChangeGiven     decimal.Decimal `db:"change_given" json:"change_given"`
	TransferVoucher string          `db:"transfer_voucher" json:"transfer_voucher,omitempty"`
	BankReference   string          `db:"bank_reference" json:"bank_reference,omitempty"`
	TransferAmount  decimal.Decimal `db:"transfer_amount" json:"transfer_amount"`

	TransferConfirmed   bool       `db:"transfer_confirmed" json:"transfer_confirmed"`
	TransferConfirmedBy *int64     `db:"transfer_confirmed_by" json:"transfer_confirmed_by,omitempty"`
	TransferConfirmedAt *time.Time `db:"transfer_confirmed_at" json:"transfer_confirmed_at,omitempty"`

	CustomerName  string `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone string `db:"customer_phone" json:"customer_phone,omitempty"`
	CustomerEmail string `db:"customer_email" json:"customer_email,omitempty"`

	Status    SaleStatus `db:"status" json:"status"`
	Notes     NoteLog    `db:"notes" json:"notes"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`

	Items []SaleItem `db:"-" json:"items"`
}

// SaleItem snapshots the product at the time of sale so historical sales stay
// correct when the catalog changes later. Never mutated after creation.
type SaleItem struct {
	ID              int64           `db:"id" json:"id"`
	SaleID          int64           `db:"sale_id" json:"sale_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	ProductName     string          `db:"product_name" json:"product_name"`
	ProductSKU      string          `db:"product_sku" json:"product_sku"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity        int             `db:"quantity" json:"quantity"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	LineTotal       decimal.Decimal `db:"line_total" json:"line_total"`
}

// Order is an online transaction fulfilled through one of three channels.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"order_number"`
	UserID         *int64          `db:"user_id" json:"user_id,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	DeliveryType   DeliveryType    `db:"delivery_type" json:"delivery_type"`
	Status         OrderStatus     `db:"status" json:"status"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaymentMethod  PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`

	TransferVoucher     string          `db:"transfer_voucher" json:"transfer_voucher,omitempty"`
	BankReference       string          `db:"bank_reference" json:"bank_reference,omitempty"`
	TransferAmount      decimal.Decimal `db:"transfer_amount" json:"transfer_amount"`
	TransferConfirmed   bool            `db:"transfer_confirmed" json:"transfer_confirmed"`
	TransferConfirmedBy *int64          `db:"transfer_confirmed_by" json:"transfer_confirmed_by,omitempty"`
	TransferConfirmedAt *time.Time      `db:"transfer_confirmed_at" json:"transfer_confirmed_at,omitempty"`

	ShippingAddress *ShippingAddress `db:"shipping_address" json:"shipping_address,omitempty"`
	PickupDate      *time.Time       `db:"pickup_date" json:"pickup_date,omitempty"`
	PickupTimeSlot  string           `db:"pickup_time_slot" json:"pickup_time_slot,omitempty"`
	TrackingNumber  string           `db:"tracking_number" json:"tracking_number,omitempty"`

	RequiresConfirmation  bool       `db:"requires_confirmation" json:"requires_confirmation"`
	ConfirmedBy           *int64     `db:"confirmed_by" json:"confirmed_by,omitempty"`
	ConfirmedAt           *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ProcessedBy           *int64     `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt           *time.Time `db:"processed_at" json:"processed_at,omitempty"`
	EstimatedDeliveryDate *time.Time `db:"estimated_delivery_date" json:"estimated_delivery_date,omitempty"`
	EstimatedPickupDate   *time.Time `db:"estimated_pickup_date" json:"estimated_pickup_date,omitempty"`
	DeliveryDate          *time.Time `db:"delivery_date" json:"delivery_date,omitempty"`

	CustomerName  string `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone string `db:"customer_phone" json:"customer_phone,omitempty"`
	CustomerEmail string `db:"customer_email" json:"customer_email,omitempty"`

	Notes     NoteLog   `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items"`
}

// OrderItem mirrors SaleItem: an immutable denormalized snapshot.
type OrderItem struct {
	ID              int64           `db:"id" json:"id"`
	OrderID         int64           `db:"order_id" json:"order_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	ProductName     string          `db:"product_name" json:"product_name"`
	ProductSKU      string          `db:"product_sku" json:"product_sku"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity        int             `db:"quantity" json:"quantity"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	LineTotal       decimal.Decimal `db:"line_total" json:"line_total"`
}

// ReferenceType tags which aggregate a financial movement or transfer
// confirmation points at.
type ReferenceType string

const (
	RefLocalSale  ReferenceType = "local_sale"
	RefStoreOrder ReferenceType = "store_order"
)

// MovementRef is the application-level view of the polymorphic
// (reference_id, reference_type) column pair.
type MovementRef struct {
	Type ReferenceType `json:"reference_type"`
	ID   int64         `json:"reference_id"`
}

// SaleRef builds a reference to an in-store sale.
func SaleRef(id int64) MovementRef { return MovementRef{Type: RefLocalSale, ID: id} }

// OrderRef builds a reference to an online order.
func OrderRef(id int64) MovementRef { return MovementRef{Type: RefStoreOrder, ID: id} }

// Financial movement categories
type MovementCategory string

const (
	CategoryLocalCashSale          MovementCategory = "local_cash_sale"
	CategoryLocalTransferPending   MovementCategory = "local_transfer_pending"
	CategoryLocalTransferConfirmed MovementCategory = "local_transfer_confirmed"
	CategoryStoreTransferPending   MovementCategory = "store_transfer_pending"
	CategoryStoreTransferConfirmed MovementCategory = "store_transfer_confirmed"
	CategoryStoreSaleCompleted     MovementCategory = "store_sale_completed"
)

// ConfirmedCategory maps a pending transfer category to its confirmed variant.
func ConfirmedCategory(c MovementCategory) MovementCategory {
	switch c {
	case CategoryLocalTransferPending:
		return CategoryLocalTransferConfirmed
	case CategoryStoreTransferPending:
		return CategoryStoreTransferConfirmed
	default:
		return c
	}
}

// MovementIncome is the only movement type produced by this service.
const MovementIncome = "income"

// FinancialMovement is an append-only income record tied to exactly one sale
// or order. The sole permitted mutation is the category/description rewrite
// when a pending transfer is confirmed; the amount is never touched.
type FinancialMovement struct {
	ID            int64            `db:"id" json:"id"`
	Type          string           `db:"type" json:"type"`
	Category      MovementCategory `db:"category" json:"category"`
	Description   string           `db:"description" json:"description"`
	Amount        decimal.Decimal  `db:"amount" json:"amount"`
	PaymentMethod PaymentMethod    `db:"payment_method" json:"payment_method"`
	ReferenceType ReferenceType    `db:"reference_type" json:"reference_type"`
	ReferenceID   int64            `db:"reference_id" json:"reference_id"`
	RegisteredBy  int64            `db:"registered_by" json:"registered_by"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// Ref returns the movement's polymorphic reference.
func (m *FinancialMovement) Ref() MovementRef {
	return MovementRef{Type: m.ReferenceType, ID: m.ReferenceID}
}

// TransferConfirmation is the audit row written exactly once per confirmed
// transfer. It references either a sale or an order, never both.
type TransferConfirmation struct {
	ID              int64           `db:"id" json:"id"`
	ReferenceType   ReferenceType   `db:"reference_type" json:"reference_type"`
	ReferenceID     int64           `db:"reference_id" json:"reference_id"`
	TransferVoucher string          `db:"transfer_voucher" json:"transfer_voucher"`
	BankReference   string          `db:"bank_reference" json:"bank_reference"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	ConfirmedBy     int64           `db:"confirmed_by" json:"confirmed_by"`
	ConfirmedAt     time.Time       `db:"confirmed_at" json:"confirmed_at"`
}
