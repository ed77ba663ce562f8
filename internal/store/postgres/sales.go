package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sales-service/internal/models"
	"sales-service/internal/store"
)

// CreateSale commits a sale as one unit: re-validated stock decrements per
// line, the sale row, its line items, and the financial movement. Any
// failure rolls back everything.
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale, movement *models.FinancialMovement) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range sale.Items {
			if err := reserveStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO sales
				(sale_number, employee_id, work_date, subtotal, discount_amount, tax_amount,
				 total_amount, payment_method, cash_received, change_given, transfer_voucher,
				 bank_reference, transfer_amount, transfer_confirmed, customer_name,
				 customer_phone, customer_email, status, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING id, created_at`
		row := tx.QueryRowxContext(ctx, query,
			sale.SaleNumber, sale.EmployeeID, sale.WorkDate, sale.Subtotal, sale.DiscountAmount,
			sale.TaxAmount, sale.TotalAmount, sale.PaymentMethod, sale.CashReceived,
			sale.ChangeGiven, sale.TransferVoucher, sale.BankReference, sale.TransferAmount,
			sale.TransferConfirmed, sale.CustomerName, sale.CustomerPhone, sale.CustomerEmail,
			sale.Status, sale.Notes)
		if err := row.Scan(&sale.ID, &sale.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert sale: %w", err)
		}

		for i := range sale.Items {
			item := &sale.Items[i]
			item.SaleID = sale.ID
			itemQuery := `
				INSERT INTO sale_items
					(sale_id, product_id, product_name, product_sku, unit_price, quantity,
					 discount_percent, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`
			if err := tx.GetContext(ctx, &item.ID, itemQuery,
				item.SaleID, item.ProductID, item.ProductName, item.ProductSKU,
				item.UnitPrice, item.Quantity, item.DiscountPercent, item.LineTotal); err != nil {
				return fmt.Errorf("failed to insert sale item: %w", err)
			}
		}

		movement.ReferenceID = sale.ID
		return insertMovementTx(ctx, tx, movement)
	})
}

// GetSale retrieves a sale with its line items.
func (s *Store) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, "SELECT * FROM sales WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &sale.Items,
		"SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales retrieves recent sales, optionally filtered by status.
func (s *Store) ListSales(ctx context.Context, status models.SaleStatus, limit int) ([]models.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	var sales []models.Sale
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &sales,
			"SELECT * FROM sales ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		err = s.db.SelectContext(ctx, &sales,
			"SELECT * FROM sales WHERE status = $1 ORDER BY created_at DESC LIMIT $2", status, limit)
	}
	return sales, err
}

// ConfirmSaleTransfer marks a pending transfer sale as confirmed: flips the
// guard, completes the sale, writes the audit row, and rewrites the pending
// movement, all in one transaction. A concurrent confirmation loses on the
// row lock and gets ErrTransferAlreadyConfirmed.
func (s *Store) ConfirmSaleTransfer(ctx context.Context, saleID, confirmedBy int64, note string) (*models.Sale, error) {
	var confirmedAt time.Time
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var sale models.Sale
		err := tx.GetContext(ctx, &sale, "SELECT * FROM sales WHERE id = $1 FOR UPDATE", saleID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if !sale.PaymentMethod.IsTransfer() {
			return fmt.Errorf("sale %d: %w", saleID, store.ErrNotTransferPayment)
		}
		if sale.TransferConfirmed {
			return fmt.Errorf("sale %d: %w", saleID, store.ErrTransferAlreadyConfirmed)
		}

		confirmedAt = time.Now().UTC()
		notes := sale.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)
		_, err = tx.ExecContext(ctx, `
			UPDATE sales
			SET transfer_confirmed = TRUE, transfer_confirmed_by = $1, transfer_confirmed_at = $2,
			    status = $3, notes = $4
			WHERE id = $5`,
			confirmedBy, confirmedAt, models.SaleCompleted, notes, saleID)
		if err != nil {
			return fmt.Errorf("failed to confirm sale transfer: %w", err)
		}

		if err := insertTransferConfirmationTx(ctx, tx, &models.TransferConfirmation{
			ReferenceType:   models.RefLocalSale,
			ReferenceID:     saleID,
			TransferVoucher: sale.TransferVoucher,
			BankReference:   sale.BankReference,
			Amount:          sale.TransferAmount,
			ConfirmedBy:     confirmedBy,
			ConfirmedAt:     confirmedAt,
		}); err != nil {
			return err
		}

		return confirmMovementTx(ctx, tx, models.SaleRef(saleID),
			fmt.Sprintf("sale %s transfer confirmed", sale.SaleNumber))
	})
	if err != nil {
		return nil, err
	}
	return s.GetSale(ctx, saleID)
}
