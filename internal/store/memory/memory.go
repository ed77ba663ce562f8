// Package memory implements store.Store in process memory under one mutex.
// It backs the service tests and DB-less development, and mirrors the
// postgres implementation's atomicity: a mutating method takes the lock,
// validates everything, and only then applies its writes, so a failed call
// leaves no partial state behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sales-service/internal/fulfillment"
	"sales-service/internal/models"
	"sales-service/internal/store"
)

type Store struct {
	mu sync.Mutex

	products      map[int64]*models.Product
	sales         map[int64]*models.Sale
	orders        map[int64]*models.Order
	movements     map[int64]*models.FinancialMovement
	confirmations []models.TransferConfirmation

	ordersByKey map[string]int64

	nextProduct      int64
	nextSale         int64
	nextOrder        int64
	nextItem         int64
	nextMovement     int64
	nextConfirmation int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		products:    make(map[int64]*models.Product),
		sales:       make(map[int64]*models.Sale),
		orders:      make(map[int64]*models.Order),
		movements:   make(map[int64]*models.FinancialMovement),
		ordersByKey: make(map[string]int64),
	}
}

func (s *Store) Close() error { return nil }

// CreateProduct inserts a catalog row.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProduct++
	p.ID = s.nextProduct
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// GetProductsByIDs retrieves multiple products keyed by ID.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

// ListProducts retrieves the full catalog ordered by ID.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// ReleaseStock increments stock outside any aggregate mutation.
func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseStockLocked(productID, quantity)
}

func (s *Store) releaseStockLocked(productID int64, quantity int) error {
	p, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	p.StockQuantity += quantity
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// checkStockLocked validates every line without mutating anything, so a
// failing line aborts the whole aggregate before any decrement happens.
func (s *Store) checkStockLocked(items []itemRef) error {
	for _, it := range items {
		p, ok := s.products[it.productID]
		if !ok {
			return fmt.Errorf("product %d: %w", it.productID, store.ErrNotFound)
		}
		if !p.IsActive {
			return &store.StockError{ProductID: p.ID, SKU: p.SKU, Inactive: true}
		}
		if p.StockQuantity < it.quantity {
			return &store.StockError{ProductID: p.ID, SKU: p.SKU, Requested: it.quantity, Available: p.StockQuantity}
		}
	}
	return nil
}

func (s *Store) reserveStockLocked(items []itemRef) {
	now := time.Now().UTC()
	for _, it := range items {
		p := s.products[it.productID]
		p.StockQuantity -= it.quantity
		p.UpdatedAt = now
	}
}

type itemRef struct {
	productID int64
	quantity  int
}

// CreateSale validates stock across all lines, then applies the decrement,
// the sale, its items, and the movement as one unit.
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale, movement *models.FinancialMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := make([]itemRef, len(sale.Items))
	for i, it := range sale.Items {
		refs[i] = itemRef{productID: it.ProductID, quantity: it.Quantity}
	}
	if err := s.checkStockLocked(refs); err != nil {
		return err
	}
	s.reserveStockLocked(refs)

	s.nextSale++
	sale.ID = s.nextSale
	sale.CreatedAt = time.Now().UTC()
	for i := range sale.Items {
		s.nextItem++
		sale.Items[i].ID = s.nextItem
		sale.Items[i].SaleID = sale.ID
	}

	cp := *sale
	cp.Items = append([]models.SaleItem(nil), sale.Items...)
	s.sales[sale.ID] = &cp

	movement.ReferenceID = sale.ID
	s.insertMovementLocked(movement)
	return nil
}

func (s *Store) insertMovementLocked(m *models.FinancialMovement) {
	s.nextMovement++
	m.ID = s.nextMovement
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := *m
	s.movements[m.ID] = &cp
}

// GetSale retrieves a sale with its line items.
func (s *Store) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSaleLocked(id)
}

func (s *Store) getSaleLocked(id int64) (*models.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", id, store.ErrNotFound)
	}
	cp := *sale
	cp.Items = append([]models.SaleItem(nil), sale.Items...)
	return &cp, nil
}

// ListSales retrieves recent sales, optionally filtered by status.
func (s *Store) ListSales(ctx context.Context, status models.SaleStatus, limit int) ([]models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	sales := make([]models.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if status != "" && sale.Status != status {
			continue
		}
		cp := *sale
		cp.Items = append([]models.SaleItem(nil), sale.Items...)
		sales = append(sales, cp)
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].ID > sales[j].ID })
	if len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

// ConfirmSaleTransfer applies the one permitted sale mutation.
func (s *Store) ConfirmSaleTransfer(ctx context.Context, saleID, confirmedBy int64, note string) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	if !sale.PaymentMethod.IsTransfer() {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotTransferPayment)
	}
	if sale.TransferConfirmed {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrTransferAlreadyConfirmed)
	}
	if _, err := s.movementByRefLocked(models.SaleRef(saleID)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sale.TransferConfirmed = true
	sale.TransferConfirmedBy = &confirmedBy
	sale.TransferConfirmedAt = &now
	sale.Status = models.SaleCompleted
	sale.Notes = sale.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)

	s.insertConfirmationLocked(models.TransferConfirmation{
		ReferenceType:   models.RefLocalSale,
		ReferenceID:     saleID,
		TransferVoucher: sale.TransferVoucher,
		BankReference:   sale.BankReference,
		Amount:          sale.TransferAmount,
		ConfirmedBy:     confirmedBy,
		ConfirmedAt:     now,
	})
	if err := s.confirmMovementLocked(models.SaleRef(saleID),
		fmt.Sprintf("sale %s transfer confirmed", sale.SaleNumber)); err != nil {
		return nil, err
	}
	return s.getSaleLocked(saleID)
}

func (s *Store) insertConfirmationLocked(c models.TransferConfirmation) {
	s.nextConfirmation++
	c.ID = s.nextConfirmation
	s.confirmations = append(s.confirmations, c)
}

func (s *Store) confirmMovementLocked(ref models.MovementRef, description string) error {
	m, err := s.movementByRefLocked(ref)
	if err != nil {
		return err
	}
	m.Category = models.ConfirmedCategory(m.Category)
	m.Description = description
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) movementByRefLocked(ref models.MovementRef) (*models.FinancialMovement, error) {
	for _, m := range s.movements {
		if m.ReferenceType == ref.Type && m.ReferenceID == ref.ID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("movement for %s %d: %w", ref.Type, ref.ID, store.ErrNotFound)
}

// CreateOrder mirrors CreateSale; movement may be nil.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, movement *models.FinancialMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.IdempotencyKey != "" {
		if _, exists := s.ordersByKey[order.IdempotencyKey]; exists {
			return fmt.Errorf("order %s: %w", order.IdempotencyKey, store.ErrDuplicateOrder)
		}
	}

	refs := make([]itemRef, len(order.Items))
	for i, it := range order.Items {
		refs[i] = itemRef{productID: it.ProductID, quantity: it.Quantity}
	}
	if err := s.checkStockLocked(refs); err != nil {
		return err
	}
	s.reserveStockLocked(refs)

	s.nextOrder++
	order.ID = s.nextOrder
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		s.nextItem++
		order.Items[i].ID = s.nextItem
		order.Items[i].OrderID = order.ID
	}

	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &cp
	if order.IdempotencyKey != "" {
		s.ordersByKey[order.IdempotencyKey] = order.ID
	}

	if movement != nil {
		movement.ReferenceID = order.ID
		s.insertMovementLocked(movement)
	}
	return nil
}

// GetOrder retrieves an order with its line items.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrderLocked(id)
}

func (s *Store) getOrderLocked(id int64) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	return &cp, nil
}

// GetOrderByIdempotencyKey retrieves the order created with the given key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ordersByKey[key]
	if !ok {
		return nil, fmt.Errorf("idempotency key %q: %w", key, store.ErrNotFound)
	}
	return s.getOrderLocked(id)
}

// ListOrders retrieves recent orders, optionally filtered by status.
func (s *Store) ListOrders(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	orders := make([]models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if status != "" && order.Status != status {
			continue
		}
		cp := *order
		cp.Items = append([]models.OrderItem(nil), order.Items...)
		orders = append(orders, cp)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// ConfirmOrder moves a pending order to confirmed.
func (s *Store) ConfirmOrder(ctx context.Context, orderID, confirmedBy int64, estimatedDate time.Time, note string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	if order.Status != models.OrderPending {
		return nil, &fulfillment.TransitionError{
			From: order.Status, To: models.OrderConfirmed, DeliveryType: order.DeliveryType,
		}
	}

	now := time.Now().UTC()
	order.Status = models.OrderConfirmed
	order.RequiresConfirmation = false
	order.ConfirmedBy = &confirmedBy
	order.ConfirmedAt = &now
	if order.DeliveryType == models.DeliveryPickup {
		order.EstimatedPickupDate = &estimatedDate
	} else {
		order.EstimatedDeliveryDate = &estimatedDate
	}
	order.Notes = order.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)
	order.UpdatedAt = now
	return s.getOrderLocked(orderID)
}

// UpdateOrderStatus advances the order along its channel's state machine and
// applies the transition's side effects atomically.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string, actorID int64, note string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}

	change, err := fulfillment.PlanTransition(order, next, trackingNumber)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	author := fmt.Sprintf("employee:%d", actorID)
	order.Status = change.Next
	order.ProcessedBy = &actorID
	order.ProcessedAt = &now
	order.Notes = order.Notes.Append(author, note)
	if change.CustomerNote != "" {
		order.Notes = order.Notes.Append(author, change.CustomerNote)
	}
	if change.TrackingNumber != "" {
		order.TrackingNumber = change.TrackingNumber
	}
	if change.SetDelivered {
		order.DeliveryDate = &now
		order.PaymentStatus = models.PaymentStatusPaid
	}
	order.UpdatedAt = now

	if change.ReleaseStock {
		for _, item := range order.Items {
			if err := s.releaseStockLocked(item.ProductID, item.Quantity); err != nil {
				return nil, err
			}
		}
	}

	if change.NeedCompletionMovement {
		if _, err := s.movementByRefLocked(models.OrderRef(orderID)); err != nil {
			s.insertMovementLocked(models.CompletionMovement(order, actorID))
		}
	}
	return s.getOrderLocked(orderID)
}

// ConfirmOrderTransfer marks a transfer-paid order's payment as received.
func (s *Store) ConfirmOrderTransfer(ctx context.Context, orderID, confirmedBy int64, note string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	if !order.PaymentMethod.IsTransfer() {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotTransferPayment)
	}
	if order.TransferConfirmed {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrTransferAlreadyConfirmed)
	}
	if fulfillment.IsTerminal(order.Status) {
		return nil, fmt.Errorf("order %d is %s: %w", orderID, order.Status, store.ErrOrderClosed)
	}
	if _, err := s.movementByRefLocked(models.OrderRef(orderID)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order.TransferConfirmed = true
	order.TransferConfirmedBy = &confirmedBy
	order.TransferConfirmedAt = &now
	order.PaymentStatus = models.PaymentStatusPaid
	if order.Status == models.OrderPending {
		order.Status = models.OrderConfirmed
	}
	order.RequiresConfirmation = false
	order.Notes = order.Notes.Append(fmt.Sprintf("employee:%d", confirmedBy), note)
	order.UpdatedAt = now

	s.insertConfirmationLocked(models.TransferConfirmation{
		ReferenceType:   models.RefStoreOrder,
		ReferenceID:     orderID,
		TransferVoucher: order.TransferVoucher,
		BankReference:   order.BankReference,
		Amount:          order.TransferAmount,
		ConfirmedBy:     confirmedBy,
		ConfirmedAt:     now,
	})
	if err := s.confirmMovementLocked(models.OrderRef(orderID),
		fmt.Sprintf("order %s transfer confirmed", order.OrderNumber)); err != nil {
		return nil, err
	}
	return s.getOrderLocked(orderID)
}

// GetMovementByRef retrieves the movement for an aggregate reference.
func (s *Store) GetMovementByRef(ctx context.Context, ref models.MovementRef) (*models.FinancialMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.movementByRefLocked(ref)
	if err != nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

// ListMovements returns the most recent movements.
func (s *Store) ListMovements(ctx context.Context, limit int) ([]models.FinancialMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	movements := make([]models.FinancialMovement, 0, len(s.movements))
	for _, m := range s.movements {
		movements = append(movements, *m)
	}
	sort.Slice(movements, func(i, j int) bool { return movements[i].ID > movements[j].ID })
	if len(movements) > limit {
		movements = movements[:limit]
	}
	return movements, nil
}

// ListTransferConfirmations returns the most recent confirmation audit rows.
func (s *Store) ListTransferConfirmations(ctx context.Context, limit int) ([]models.TransferConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	out := append([]models.TransferConfirmation(nil), s.confirmations...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
