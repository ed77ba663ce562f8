package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sales-service/internal/authz"
	"sales-service/internal/broker"
	"sales-service/internal/models"
	"sales-service/internal/redisclient"
	"sales-service/internal/store"
	"sales-service/internal/util"
)

// SaleService implements the in-store sale operations.
type SaleService struct {
	store            store.Store
	cache            *redisclient.Client
	events           *broker.EventPublisher
	voucherMinLength int
	logger           *zap.Logger
}

// NewSaleService creates a sale service. cache and events may be nil.
func NewSaleService(st store.Store, cache *redisclient.Client, events *broker.EventPublisher, voucherMinLength int) *SaleService {
	return &SaleService{
		store:            st,
		cache:            cache,
		events:           events,
		voucherMinLength: voucherMinLength,
		logger:           util.GetLogger(),
	}
}

// CreateCashSaleRequest is the input for a cash sale.
type CreateCashSaleRequest struct {
	WorkDate       time.Time           `json:"work_date"`
	Lines          []Line              `json:"lines" binding:"required"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	CashReceived   decimal.Decimal     `json:"cash_received" binding:"required"`
	Customer       models.CustomerInfo `json:"customer"`
	Note           string              `json:"note"`
}

// CreateTransferSaleRequest is the input for a bank-transfer sale.
type CreateTransferSaleRequest struct {
	WorkDate       time.Time           `json:"work_date"`
	Lines          []Line              `json:"lines" binding:"required"`
	DiscountAmount decimal.Decimal     `json:"discount_amount"`
	Voucher        string              `json:"transfer_voucher" binding:"required"`
	BankReference  string              `json:"bank_reference"`
	Customer       models.CustomerInfo `json:"customer"`
	Note           string              `json:"note"`
}

// CreateCashSale validates the cart and the cash invariants, then commits the
// sale, its stock decrement, and the local_cash_sale movement atomically.
func (s *SaleService) CreateCashSale(ctx context.Context, req CreateCashSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "sale.create_cash")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapCreateSale)
	if err != nil {
		return nil, err
	}

	sale, err := s.buildSale(ctx, actor, req.WorkDate, req.Lines, req.DiscountAmount, req.Customer, req.Note)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	if req.CashReceived.LessThan(sale.TotalAmount) {
		s.countFailure(store.ErrValidation)
		return nil, fmt.Errorf("cash received %s is less than total %s: %w",
			req.CashReceived.StringFixed(2), sale.TotalAmount.StringFixed(2), store.ErrValidation)
	}

	sale.PaymentMethod = models.PaymentCash
	sale.Status = models.SaleCompleted
	sale.CashReceived = req.CashReceived
	sale.ChangeGiven = req.CashReceived.Sub(sale.TotalAmount)

	return s.commitSale(ctx, sale)
}

// CreateTransferSale validates the cart and the voucher, then commits the
// sale as transfer_pending with a local_transfer_pending movement.
func (s *SaleService) CreateTransferSale(ctx context.Context, req CreateTransferSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "sale.create_transfer")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapCreateSale)
	if err != nil {
		return nil, err
	}

	if len(req.Voucher) < s.voucherMinLength {
		s.countFailure(store.ErrValidation)
		return nil, fmt.Errorf("transfer voucher must be at least %d characters: %w",
			s.voucherMinLength, store.ErrValidation)
	}

	sale, err := s.buildSale(ctx, actor, req.WorkDate, req.Lines, req.DiscountAmount, req.Customer, req.Note)
	if err != nil {
		s.countFailure(err)
		return nil, err
	}

	sale.PaymentMethod = models.PaymentTransfer
	sale.Status = models.SaleTransferPending
	sale.TransferVoucher = req.Voucher
	sale.BankReference = req.BankReference
	sale.TransferAmount = sale.TotalAmount
	sale.TransferConfirmed = false

	return s.commitSale(ctx, sale)
}

// buildSale prices the cart and assembles the aggregate common to both
// payment methods.
func (s *SaleService) buildSale(ctx context.Context, actor authz.Actor, workDate time.Time, lines []Line, discountAmount decimal.Decimal, customer models.CustomerInfo, note string) (*models.Sale, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}
	if discountAmount.IsNegative() {
		return nil, fmt.Errorf("discount amount cannot be negative: %w", store.ErrValidation)
	}

	products, err := s.store.GetProductsByIDs(ctx, lineProductIDs(lines))
	if err != nil {
		return nil, err
	}
	items, subtotal, err := priceLines(lines, products)
	if err != nil {
		return nil, err
	}

	totals := models.ComputeTotals(subtotal, discountAmount)
	if totals.Total.IsNegative() {
		return nil, fmt.Errorf("discount exceeds sale total: %w", store.ErrValidation)
	}

	if workDate.IsZero() {
		workDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	sale := &models.Sale{
		SaleNumber:     saleNumber(),
		EmployeeID:     actor.EmployeeID,
		WorkDate:       workDate,
		Subtotal:       totals.Subtotal,
		DiscountAmount: discountAmount,
		TaxAmount:      totals.Tax,
		TotalAmount:    totals.Total,
		CustomerName:   customer.Name,
		CustomerPhone:  customer.Phone,
		CustomerEmail:  customer.Email,
	}
	sale.Notes = sale.Notes.Append(fmt.Sprintf("employee:%d", actor.EmployeeID), note)
	sale.Items = make([]models.SaleItem, len(items))
	for i, it := range items {
		sale.Items[i] = it.toSaleItem()
	}
	return sale, nil
}

func (s *SaleService) commitSale(ctx context.Context, sale *models.Sale) (*models.Sale, error) {
	movement := models.MovementForSale(sale)
	if err := s.store.CreateSale(ctx, sale, movement); err != nil {
		s.countFailure(err)
		return nil, err
	}

	util.SalesCreatedTotal.WithLabelValues(string(sale.PaymentMethod)).Inc()
	s.logger.Info("sale created",
		zap.String("sale_number", sale.SaleNumber),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.String("total", sale.TotalAmount.StringFixed(2)))

	s.cache.CacheSale(ctx, sale)
	if err := s.events.PublishSaleCreated(ctx, sale); err != nil {
		s.logger.Warn("failed to publish sale created event",
			zap.String("sale_number", sale.SaleNumber), zap.Error(err))
	}
	return sale, nil
}

func (s *SaleService) countFailure(err error) {
	var stockErr *store.StockError
	switch {
	case errors.As(err, &stockErr):
		util.StockConflictsTotal.Inc()
		util.SalesFailedTotal.WithLabelValues("stock").Inc()
	case errors.Is(err, store.ErrValidation):
		util.SalesFailedTotal.WithLabelValues("validation").Inc()
	case errors.Is(err, store.ErrNotFound):
		util.SalesFailedTotal.WithLabelValues("not_found").Inc()
	default:
		util.SalesFailedTotal.WithLabelValues("internal").Inc()
	}
}

// ConfirmTransfer marks a pending transfer sale as paid. Admin only.
func (s *SaleService) ConfirmTransfer(ctx context.Context, saleID int64, note string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "sale.confirm_transfer")
	defer span.End()

	actor, err := authz.Require(ctx, authz.CapConfirmTransfer)
	if err != nil {
		return nil, err
	}

	sale, err := s.store.ConfirmSaleTransfer(ctx, saleID, actor.EmployeeID, note)
	if err != nil {
		return nil, err
	}

	util.TransfersConfirmedTotal.WithLabelValues(string(models.RefLocalSale)).Inc()
	s.logger.Info("sale transfer confirmed",
		zap.String("sale_number", sale.SaleNumber),
		zap.Int64("confirmed_by", actor.EmployeeID))

	s.cache.InvalidateSale(ctx, saleID)
	confirmation := &models.TransferConfirmation{
		ReferenceType: models.RefLocalSale,
		ReferenceID:   sale.ID,
		Amount:        sale.TransferAmount,
		ConfirmedBy:   actor.EmployeeID,
	}
	if err := s.events.PublishTransferConfirmed(ctx, confirmation); err != nil {
		s.logger.Warn("failed to publish transfer confirmed event",
			zap.String("sale_number", sale.SaleNumber), zap.Error(err))
	}
	return sale, nil
}

// GetSale returns a sale by ID, from cache when possible.
func (s *SaleService) GetSale(ctx context.Context, id int64) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "sale.get")
	defer span.End()

	if sale := s.cache.GetCachedSale(ctx, id); sale != nil {
		return sale, nil
	}
	sale, err := s.store.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.CacheSale(ctx, sale)
	return sale, nil
}

// ListSales returns recent sales, optionally filtered by status.
func (s *SaleService) ListSales(ctx context.Context, status models.SaleStatus, limit int) ([]models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "sale.list")
	defer span.End()
	return s.store.ListSales(ctx, status, limit)
}
