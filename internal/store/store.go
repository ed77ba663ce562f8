// Package store defines the persistence contract for the fulfillment core.
// Two implementations exist: postgres (production, sqlx) and memory
// (tests and DB-less development). Every aggregate-mutating method is a
// single atomic unit: all of its writes commit together or none do.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sales-service/internal/models"
)

var (
	// ErrNotFound covers unknown product, sale, and order ids.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers malformed input rejected before any transaction.
	ErrValidation = errors.New("validation failed")
	// ErrTransferAlreadyConfirmed rejects a second confirmation attempt.
	ErrTransferAlreadyConfirmed = errors.New("transfer already confirmed")
	// ErrNotTransferPayment rejects transfer confirmation on a non-transfer
	// aggregate.
	ErrNotTransferPayment = errors.New("payment method is not a transfer")
	// ErrDuplicateOrder signals an idempotency-key collision.
	ErrDuplicateOrder = errors.New("duplicate order")
	// ErrOrderClosed rejects payment mutations on a cancelled or refunded
	// order; its pending movement stays untouched for reporting.
	ErrOrderClosed = errors.New("order is closed")
)

// StockError identifies the product that blocked a sale or order: either the
// product is inactive or its stock is below the requested quantity.
type StockError struct {
	ProductID int64
	SKU       string
	Requested int
	Available int
	Inactive  bool
}

func (e *StockError) Error() string {
	if e.Inactive {
		return fmt.Sprintf("product %d (%s) is inactive", e.ProductID, e.SKU)
	}
	return fmt.Sprintf("insufficient stock for product %d (%s): requested %d, available %d",
		e.ProductID, e.SKU, e.Requested, e.Available)
}

// Store is the persistence surface consumed by the service layer.
type Store interface {
	// Products (catalog reads plus the inventory ledger writes performed
	// inside aggregate transactions).
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	ReleaseStock(ctx context.Context, productID int64, quantity int) error

	// Sales. CreateSale atomically re-validates stock under lock, decrements
	// it, and inserts the sale, its items, and the movement.
	CreateSale(ctx context.Context, sale *models.Sale, movement *models.FinancialMovement) error
	GetSale(ctx context.Context, id int64) (*models.Sale, error)
	ListSales(ctx context.Context, status models.SaleStatus, limit int) ([]models.Sale, error)
	ConfirmSaleTransfer(ctx context.Context, saleID, confirmedBy int64, note string) (*models.Sale, error)

	// Orders. CreateOrder mirrors CreateSale; movement may be nil for
	// non-transfer payment methods. UpdateOrderStatus validates the
	// transition inside its transaction and applies the planned side
	// effects (stock release, completion movement, tracking number).
	CreateOrder(ctx context.Context, order *models.Order, movement *models.FinancialMovement) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error)
	ConfirmOrder(ctx context.Context, orderID, confirmedBy int64, estimatedDate time.Time, note string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string, actorID int64, note string) (*models.Order, error)
	ConfirmOrderTransfer(ctx context.Context, orderID, confirmedBy int64, note string) (*models.Order, error)

	// Ledger reads for reporting consumers.
	GetMovementByRef(ctx context.Context, ref models.MovementRef) (*models.FinancialMovement, error)
	ListMovements(ctx context.Context, limit int) ([]models.FinancialMovement, error)
	ListTransferConfirmations(ctx context.Context, limit int) ([]models.TransferConfirmation, error)

	Close() error
}
