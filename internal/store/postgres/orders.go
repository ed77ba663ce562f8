package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"sales-service/internal/fulfillment"
	"sales-service/internal/models"
	"sales-service/internal/store"
)

// CreateOrder commits an order atomically: stock decrements per line, the
// order row, its items, and (for transfer payments) the pending movement.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, movement *models.FinancialMovement) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, item := range order.Items {
			if err := reserveStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO orders
				(order_number, user_id, idempotency_key, delivery_type, status, subtotal,
				 discount_amount, tax_amount, total_amount, payment_method, payment_status,
				 transfer_voucher, bank_reference, transfer_amount, transfer_confirmed,
				 shipping_address, pickup_date, pickup_time_slot, tracking_number,
				 requires_confirmation, estimated_delivery_date, estimated_pickup_date,
				 customer_name, customer_phone, customer_email, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
			RETURNING id, created_at, updated_at`
		row := tx.QueryRowxContext(ctx, query,
			order.OrderNumber, order.UserID, order.IdempotencyKey, order.DeliveryType,
			order.Status, order.Subtotal, order.DiscountAmount, order.TaxAmount,
			order.TotalAmount, order.PaymentMethod, order.PaymentStatus,
			order.TransferVoucher, order.BankReference, order.TransferAmount,
			order.TransferConfirmed, order.ShippingAddress, order.PickupDate,
			order.PickupTimeSlot, order.TrackingNumber, order.RequiresConfirmation,
			order.EstimatedDeliveryDate, order.EstimatedPickupDate,
			order.CustomerName, order.CustomerPhone, order.CustomerEmail, order.Notes)
		if err := row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", order.IdempotencyKey, store.ErrDuplicateOrder)
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			itemQuery := `
				INSERT INTO order_items
					(order_id, product_id, product_name, product_sku, unit_price, quantity,
					 discount_percent, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				RETURNING id`
			if err := tx.GetContext(ctx, &item.ID, itemQuery,
				item.OrderID, item.ProductID, item.ProductName, item.ProductSKU,
				item.UnitPrice, item.Quantity, item.DiscountPercent, item.LineTotal); err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}

		if movement != nil {
			movement.ReferenceID = order.ID
			return insertMovementTx(ctx, tx, movement)
		}
		return nil
	})
}

// GetOrder retrieves an order with its line items.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves the order previously created with the
// given key, or ErrNotFound.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("idempotency key %q: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves recent orders, optionally filtered by status.
func (s *Store) ListOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit < 1 {
		limit = 100
	}
	var orders []models.Order
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2", status, limit)
	}
	return orders, err
}

// ConfirmOrder moves a pending order to confirmed, stamps the reviewing
// employee, and records the channel-appropriate estimated date.
func (s *Store) ConfirmOrder(ctx context.Context, orderID, confirmedBy int64, estimatedDate time.Time, note string) (*models.Order, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if order.Status != models.OrderPending {
			return &fulfillment.TransitionError{
				From: order.Status, To: models.OrderConfirmed, DeliveryType: order.DeliveryType,
			}
		}

		now := time.Now().UTC()
		notes := order.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)
		var estDelivery, estPickup *time.Time
		if order.DeliveryType == models.DeliveryPickup {
			estPickup = &estimatedDate
		} else {
			estDelivery = &estimatedDate
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, requires_confirmation = FALSE, confirmed_by = $2, confirmed_at = $3,
			    estimated_delivery_date = COALESCE($4, estimated_delivery_date),
			    estimated_pickup_date = COALESCE($5, estimated_pickup_date),
			    notes = $6, updated_at = $7
			WHERE id = $8`,
			models.OrderConfirmed, confirmedBy, now, estDelivery, estPickup, notes, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to confirm order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// UpdateOrderStatus advances an order along its channel's state machine and
// applies the side effects of the transition in the same transaction:
// delivery stamping, the completion ledger entry, stock release on
// cancellation, and tracking/note bookkeeping.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string, actorID int64, note string) (*models.Order, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := tx.SelectContext(ctx, &order.Items,
			"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID); err != nil {
			return err
		}

		change, err := fulfillment.PlanTransition(&order, next, trackingNumber)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		author := fmt.Sprintf("employee:%d", actorID)
		notes := order.Notes.Append(author, note)
		if change.CustomerNote != "" {
			notes = notes.Append(author, change.CustomerNote)
		}

		order.Status = change.Next
		order.Notes = notes
		var deliveryDate *time.Time
		paymentStatus := order.PaymentStatus
		if change.SetDelivered {
			deliveryDate = &now
			paymentStatus = models.PaymentStatusPaid
		}
		tracking := order.TrackingNumber
		if change.TrackingNumber != "" {
			tracking = change.TrackingNumber
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, payment_status = $2, tracking_number = $3,
			    delivery_date = COALESCE($4, delivery_date),
			    processed_by = $5, processed_at = $6, notes = $7, updated_at = $8
			WHERE id = $9`,
			change.Next, paymentStatus, tracking, deliveryDate, actorID, now, notes, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}

		if change.ReleaseStock {
			for _, item := range order.Items {
				if err := releaseStockTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		if change.NeedCompletionMovement {
			exists, err := movementExistsTx(ctx, tx, models.OrderRef(orderID))
			if err != nil {
				return err
			}
			if !exists {
				if err := insertMovementTx(ctx, tx, models.CompletionMovement(&order, actorID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// ConfirmOrderTransfer marks a transfer-paid order's payment as received:
// flips the guard, sets payment_status to paid, auto-confirms a still
// pending order, writes the audit row, and rewrites the pending movement.
func (s *Store) ConfirmOrderTransfer(ctx context.Context, orderID, confirmedBy int64, note string) (*models.Order, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var order models.Order
		err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if !order.PaymentMethod.IsTransfer() {
			return fmt.Errorf("order %d: %w", orderID, store.ErrNotTransferPayment)
		}
		if order.TransferConfirmed {
			return fmt.Errorf("order %d: %w", orderID, store.ErrTransferAlreadyConfirmed)
		}
		if fulfillment.IsTerminal(order.Status) {
			return fmt.Errorf("order %d is %s: %w", orderID, order.Status, store.ErrOrderClosed)
		}

		now := time.Now().UTC()
		notes := order.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)
		status := order.Status
		if status == models.OrderPending {
			status = models.OrderConfirmed
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET transfer_confirmed = TRUE, transfer_confirmed_by = $1, transfer_confirmed_at = $2,
			    payment_status = $3, status = $4, requires_confirmation = FALSE,
			    notes = $5, updated_at = $6
			WHERE id = $7`,
			confirmedBy, now, models.PaymentStatusPaid, status, notes, now, orderID)
		if err != nil {
			return fmt.Errorf("failed to confirm order transfer: %w", err)
		}

		if err := insertTransferConfirmationTx(ctx, tx, &models.TransferConfirmation{
			ReferenceType:   models.RefStoreOrder,
			ReferenceID:     orderID,
			TransferVoucher: order.TransferVoucher,
			BankReference:   order.BankReference,
			Amount:          order.TransferAmount,
			ConfirmedBy:     confirmedBy,
			ConfirmedAt:     now,
		}); err != nil {
			return err
		}

		return confirmMovementTx(ctx, tx, models.OrderRef(orderID),
			fmt.Sprintf("order %s transfer confirmed", order.OrderNumber))
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}
