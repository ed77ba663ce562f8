// Package service implements the fulfillment operations on top of the store:
// input validation, totals computation, the capability gate, and post-commit
// event publication. All money invariants are enforced here before the store
// transaction runs; stock is re-validated by the store under its row lock.
package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sales-service/internal/models"
	"sales-service/internal/store"
)

// Line is one requested cart line. Product name, SKU, and price are looked
// up and snapshotted server-side; clients only send the reference.
type Line struct {
	ProductID       int64           `json:"product_id" binding:"required"`
	Quantity        int             `json:"quantity" binding:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

func saleNumber() string {
	return fmt.Sprintf("SAL-%s-%s", time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.New().String()[:8]))
}

func orderNumber() string {
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.New().String()[:8]))
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("cart is empty: %w", store.ErrValidation)
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("product %d: quantity must be positive: %w", l.ProductID, store.ErrValidation)
		}
		if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("product %d: discount percent out of range: %w", l.ProductID, store.ErrValidation)
		}
	}
	return nil
}

// priceLines snapshots the catalog into line items and returns them with the
// summed subtotal. Unknown and inactive products are rejected here so the
// caller gets a clean validation error before any transaction starts; the
// store re-checks activity and stock under lock.
func priceLines(lines []Line, products map[int64]*models.Product) (items []snapshotItem, subtotal decimal.Decimal, err error) {
	items = make([]snapshotItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("product %d: %w", l.ProductID, store.ErrNotFound)
		}
		if !p.IsActive {
			return nil, decimal.Zero, &store.StockError{ProductID: p.ID, SKU: p.SKU, Inactive: true}
		}
		lineTotal := models.LineTotal(p.UnitPrice, l.Quantity, l.DiscountPercent)
		items = append(items, snapshotItem{
			ProductID:       p.ID,
			ProductName:     p.Name,
			ProductSKU:      p.SKU,
			UnitPrice:       p.UnitPrice,
			Quantity:        l.Quantity,
			DiscountPercent: l.DiscountPercent,
			LineTotal:       lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	return items, subtotal, nil
}

// snapshotItem is the channel-neutral priced line; converted to SaleItem or
// OrderItem by the respective service.
type snapshotItem struct {
	ProductID       int64
	ProductName     string
	ProductSKU      string
	UnitPrice       decimal.Decimal
	Quantity        int
	DiscountPercent decimal.Decimal
	LineTotal       decimal.Decimal
}

func (i snapshotItem) toSaleItem() models.SaleItem {
	return models.SaleItem{
		ProductID:       i.ProductID,
		ProductName:     i.ProductName,
		ProductSKU:      i.ProductSKU,
		UnitPrice:       i.UnitPrice,
		Quantity:        i.Quantity,
		DiscountPercent: i.DiscountPercent,
		LineTotal:       i.LineTotal,
	}
}

func (i snapshotItem) toOrderItem() models.OrderItem {
	return models.OrderItem{
		ProductID:       i.ProductID,
		ProductName:     i.ProductName,
		ProductSKU:      i.ProductSKU,
		UnitPrice:       i.UnitPrice,
		Quantity:        i.Quantity,
		DiscountPercent: i.DiscountPercent,
		LineTotal:       i.LineTotal,
	}
}

func lineProductIDs(lines []Line) []int64 {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}
