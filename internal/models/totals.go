package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals is the computed money breakdown of a sale or order.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// LineTotal computes a line item total: price x qty minus the per-line
// percentage discount, rounded to 2 decimal places.
func LineTotal(unitPrice decimal.Decimal, quantity int, discountPercent decimal.Decimal) decimal.Decimal {
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	if discountPercent.IsZero() {
		return gross.Round(2)
	}
	discount := gross.Mul(discountPercent).Div(decimal.NewFromInt(100))
	return gross.Sub(discount).Round(2)
}

// ComputeTotals derives tax and total from a subtotal and an aggregate-level
// discount: total = subtotal + subtotal*TaxRate - discount.
func ComputeTotals(subtotal, discountAmount decimal.Decimal) Totals {
	tax := subtotal.Mul(TaxRate).Round(2)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax).Sub(discountAmount).Round(2),
	}
}

// CheckTotals verifies the aggregate money invariant
// subtotal + tax - discount == total.
func CheckTotals(subtotal, tax, discount, total decimal.Decimal) bool {
	return subtotal.Add(tax).Sub(discount).Round(2).Equal(total.Round(2))
}

// MovementForSale builds the financial movement recorded with a new sale:
// local_cash_sale for cash, local_transfer_pending for an unconfirmed
// transfer.
func MovementForSale(s *Sale) *FinancialMovement {
	category := CategoryLocalCashSale
	if s.PaymentMethod.IsTransfer() {
		category = CategoryLocalTransferPending
	}
	return &FinancialMovement{
		Type:          MovementIncome,
		Category:      category,
		Description:   fmt.Sprintf("sale %s", s.SaleNumber),
		Amount:        s.TotalAmount,
		PaymentMethod: s.PaymentMethod,
		ReferenceType: RefLocalSale,
		ReferenceID:   s.ID,
		RegisteredBy:  s.EmployeeID,
	}
}

// PendingOrderMovement builds the movement recorded when a transfer-paid
// order is created. Non-transfer orders get their movement at
// delivery/pickup time instead.
func PendingOrderMovement(o *Order, registeredBy int64) *FinancialMovement {
	return &FinancialMovement{
		Type:          MovementIncome,
		Category:      CategoryStoreTransferPending,
		Description:   fmt.Sprintf("order %s awaiting transfer confirmation", o.OrderNumber),
		Amount:        o.TotalAmount,
		PaymentMethod: o.PaymentMethod,
		ReferenceType: RefStoreOrder,
		ReferenceID:   o.ID,
		RegisteredBy:  registeredBy,
	}
}

// CompletionMovement builds the movement appended when an order reaches
// delivered/picked_up and no movement exists for it yet.
func CompletionMovement(o *Order, registeredBy int64) *FinancialMovement {
	return &FinancialMovement{
		Type:          MovementIncome,
		Category:      CategoryStoreSaleCompleted,
		Description:   fmt.Sprintf("order %s completed", o.OrderNumber),
		Amount:        o.TotalAmount,
		PaymentMethod: o.PaymentMethod,
		ReferenceType: RefStoreOrder,
		ReferenceID:   o.ID,
		RegisteredBy:  registeredBy,
	}
}
