package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-service/internal/authz"
	"sales-service/internal/models"
	"sales-service/internal/store"
	"sales-service/internal/store/memory"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func adminCtx() context.Context {
	return authz.WithActor(context.Background(), authz.Actor{EmployeeID: 1, Name: "Ana", Role: authz.RoleAdmin})
}

func staffCtx() context.Context {
	return authz.WithActor(context.Background(), authz.Actor{EmployeeID: 2, Name: "Luis", Role: authz.RoleStaff})
}

func seedProduct(t *testing.T, st *memory.Store, sku string, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{SKU: sku, Name: "Product " + sku, UnitPrice: d(price), StockQuantity: stock, IsActive: true}
	require.NoError(t, st.CreateProduct(context.Background(), p))
	return p
}

func newSaleService(st *memory.Store) *SaleService {
	return NewSaleService(st, nil, nil, 10)
}

func TestCreateCashSale(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-01", "10.00", 5)
	svc := newSaleService(st)

	sale, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines:        []Line{{ProductID: p.ID, Quantity: 5}},
		CashReceived: d("56.00"),
	})
	require.NoError(t, err)

	assert.True(t, d("50.00").Equal(sale.Subtotal))
	assert.True(t, d("6.00").Equal(sale.TaxAmount))
	assert.True(t, d("56.00").Equal(sale.TotalAmount))
	assert.True(t, sale.ChangeGiven.IsZero())
	assert.Equal(t, models.SaleCompleted, sale.Status)
	assert.Regexp(t, `^SAL-\d{8}-[0-9A-F]{8}$`, sale.SaleNumber)

	// Line item is a snapshot of the product at sale time.
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "PROT-01", sale.Items[0].ProductSKU)
	assert.True(t, d("10.00").Equal(sale.Items[0].UnitPrice))

	// Stock drained to zero.
	updated, err := st.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.StockQuantity)

	// One movement, categorized as a cash sale.
	movement, err := st.GetMovementByRef(context.Background(), models.SaleRef(sale.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryLocalCashSale, movement.Category)
	assert.True(t, sale.TotalAmount.Equal(movement.Amount))
}

func TestCreateCashSaleInsufficientCash(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-02", "10.00", 5)
	svc := newSaleService(st)

	_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines:        []Line{{ProductID: p.ID, Quantity: 5}},
		CashReceived: d("55.99"),
	})
	assert.ErrorIs(t, err, store.ErrValidation)

	// Nothing committed: stock untouched, no movements.
	updated, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 5, updated.StockQuantity)
	movements, _ := st.ListMovements(context.Background(), 10)
	assert.Empty(t, movements)
}

func TestCreateSaleEmptyCart(t *testing.T) {
	svc := newSaleService(memory.New())
	_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{CashReceived: d("10.00")})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-03", "10.00", 3)
	svc := newSaleService(st)

	_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines:        []Line{{ProductID: p.ID, Quantity: 4}},
		CashReceived: d("100.00"),
	})

	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)

	updated, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 3, updated.StockQuantity)
}

func TestCreateSaleMultiLineRollback(t *testing.T) {
	st := memory.New()
	ok := seedProduct(t, st, "PROT-04", "10.00", 10)
	short := seedProduct(t, st, "PROT-05", "5.00", 1)
	svc := newSaleService(st)

	_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines: []Line{
			{ProductID: ok.ID, Quantity: 2},
			{ProductID: short.ID, Quantity: 5},
		},
		CashReceived: d("500.00"),
	})
	require.Error(t, err)

	// The passing line must not have reserved anything.
	first, _ := st.GetProduct(context.Background(), ok.ID)
	assert.Equal(t, 10, first.StockQuantity)
	sales, _ := st.ListSales(context.Background(), "", 10)
	assert.Empty(t, sales)
}

func TestCreateSaleInactiveProduct(t *testing.T) {
	st := memory.New()
	p := &models.Product{SKU: "PROT-06", Name: "Discontinued", UnitPrice: d("10.00"), StockQuantity: 5, IsActive: false}
	require.NoError(t, st.CreateProduct(context.Background(), p))
	svc := newSaleService(st)

	_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines:        []Line{{ProductID: p.ID, Quantity: 1}},
		CashReceived: d("100.00"),
	})

	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.True(t, stockErr.Inactive)
}

func TestCreateTransferSale(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-07", "25.00", 10)
	svc := newSaleService(st)

	sale, err := svc.CreateTransferSale(staffCtx(), CreateTransferSaleRequest{
		Lines:   []Line{{ProductID: p.ID, Quantity: 2}},
		Voucher: "VOUCHER-9876",
	})
	require.NoError(t, err)

	assert.Equal(t, models.SaleTransferPending, sale.Status)
	assert.False(t, sale.TransferConfirmed)
	assert.True(t, sale.TotalAmount.Equal(sale.TransferAmount))

	movement, err := st.GetMovementByRef(context.Background(), models.SaleRef(sale.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryLocalTransferPending, movement.Category)
}

func TestCreateTransferSaleShortVoucher(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-08", "25.00", 10)
	svc := newSaleService(st)

	_, err := svc.CreateTransferSale(staffCtx(), CreateTransferSaleRequest{
		Lines:   []Line{{ProductID: p.ID, Quantity: 1}},
		Voucher: "SHORT",
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestConfirmSaleTransfer(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-09", "30.00", 10)
	svc := newSaleService(st)

	sale, err := svc.CreateTransferSale(staffCtx(), CreateTransferSaleRequest{
		Lines:   []Line{{ProductID: p.ID, Quantity: 1}},
		Voucher: "VOUCHER-0001",
	})
	require.NoError(t, err)
	pendingAmount := sale.TotalAmount

	confirmed, err := svc.ConfirmTransfer(adminCtx(), sale.ID, "verified against bank statement")
	require.NoError(t, err)

	assert.True(t, confirmed.TransferConfirmed)
	assert.Equal(t, models.SaleCompleted, confirmed.Status)
	require.NotNil(t, confirmed.TransferConfirmedBy)
	assert.Equal(t, int64(1), *confirmed.TransferConfirmedBy)
	assert.Contains(t, confirmed.Notes.String(), "verified against bank statement")

	// Movement rewritten in place, amount untouched.
	movement, err := st.GetMovementByRef(context.Background(), models.SaleRef(sale.ID))
	require.NoError(t, err)
	assert.Equal(t, models.CategoryLocalTransferConfirmed, movement.Category)
	assert.True(t, pendingAmount.Equal(movement.Amount))

	confirmations, err := st.ListTransferConfirmations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, confirmations, 1)
	assert.Equal(t, models.RefLocalSale, confirmations[0].ReferenceType)
	assert.Equal(t, sale.ID, confirmations[0].ReferenceID)
}

func TestConfirmSaleTransferTwice(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-10", "30.00", 10)
	svc := newSaleService(st)

	sale, err := svc.CreateTransferSale(staffCtx(), CreateTransferSaleRequest{
		Lines:   []Line{{ProductID: p.ID, Quantity: 1}},
		Voucher: "VOUCHER-0002",
	})
	require.NoError(t, err)

	_, err = svc.ConfirmTransfer(adminCtx(), sale.ID, "")
	require.NoError(t, err)
	_, err = svc.ConfirmTransfer(adminCtx(), sale.ID, "")
	assert.ErrorIs(t, err, store.ErrTransferAlreadyConfirmed)

	confirmations, _ := st.ListTransferConfirmations(context.Background(), 10)
	assert.Len(t, confirmations, 1)
}

func TestConfirmTransferRequiresAdmin(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-11", "30.00", 10)
	svc := newSaleService(st)

	sale, err := svc.CreateTransferSale(staffCtx(), CreateTransferSaleRequest{
		Lines:   []Line{{ProductID: p.ID, Quantity: 1}},
		Voucher: "VOUCHER-0003",
	})
	require.NoError(t, err)

	_, err = svc.ConfirmTransfer(staffCtx(), sale.ID, "")
	assert.ErrorIs(t, err, authz.ErrPermission)
}

func TestConfirmTransferOnCashSale(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-12", "10.00", 10)
	svc := newSaleService(st)

	sale, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
		Lines:        []Line{{ProductID: p.ID, Quantity: 1}},
		CashReceived: d("11.20"),
	})
	require.NoError(t, err)

	_, err = svc.ConfirmTransfer(adminCtx(), sale.ID, "")
	assert.ErrorIs(t, err, store.ErrNotTransferPayment)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	st := memory.New()
	p := seedProduct(t, st, "PROT-13", "10.00", 10)
	svc := newSaleService(st)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateCashSale(adminCtx(), CreateCashSaleRequest{
				Lines:        []Line{{ProductID: p.ID, Quantity: 1}},
				CashReceived: d("11.20"),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	updated, _ := st.GetProduct(context.Background(), p.ID)
	assert.Equal(t, 0, updated.StockQuantity)
	assert.GreaterOrEqual(t, updated.StockQuantity, 0, "stock must never go negative")
}
