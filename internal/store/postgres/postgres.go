// Package postgres implements store.Store on PostgreSQL via sqlx. Every
// aggregate write runs in one transaction; stock is re-read under a row lock
// inside that transaction before it is decremented, so concurrent sales of
// the same product serialize on the product row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sales-service/internal/models"
	"sales-service/internal/store"
)

type Store struct {
	db *sqlx.DB
}

// New connects to the database and configures the pool.
func New(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductsByIDs retrieves multiple products keyed by ID.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	result := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}
	for i := range products {
		result[products[i].ID] = &products[i]
	}
	return result, nil
}

// ListProducts retrieves the full catalog.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// CreateProduct inserts a catalog row. Used by seeding and catalog sync.
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, unit_price, stock_quantity, min_stock, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return s.db.GetContext(ctx, p, query,
		p.SKU, p.Name, p.UnitPrice, p.StockQuantity, p.MinStock, p.IsActive)
}

// ReleaseStock increments stock outside any aggregate transaction.
// Cancellation paths use the in-transaction variant instead.
func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	return nil
}

// reserveStockTx locks the product row, re-checks availability, and
// decrements. Fails closed with a StockError naming the product.
func reserveStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	var p models.Product
	err := tx.GetContext(ctx, &p,
		"SELECT * FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock product %d: %w", productID, err)
	}

	if !p.IsActive {
		return &store.StockError{ProductID: p.ID, SKU: p.SKU, Inactive: true}
	}
	if p.StockQuantity < quantity {
		return &store.StockError{ProductID: p.ID, SKU: p.SKU, Requested: quantity, Available: p.StockQuantity}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	return nil
}

// releaseStockTx restores stock inside an aggregate transaction.
func releaseStockTx(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	return err
}

// insertMovementTx appends a financial movement within a transaction.
func insertMovementTx(ctx context.Context, tx *sqlx.Tx, m *models.FinancialMovement) error {
	query := `
		INSERT INTO financial_movements
			(type, category, description, amount, payment_method, reference_type, reference_id, registered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return tx.GetContext(ctx, m, query,
		m.Type, m.Category, m.Description, m.Amount, m.PaymentMethod,
		m.ReferenceType, m.ReferenceID, m.RegisteredBy)
}

// GetMovementByRef retrieves the movement for an aggregate reference.
func (s *Store) GetMovementByRef(ctx context.Context, ref models.MovementRef) (*models.FinancialMovement, error) {
	var m models.FinancialMovement
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM financial_movements WHERE reference_type = $1 AND reference_id = $2",
		ref.Type, ref.ID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("movement for %s %d: %w", ref.Type, ref.ID, store.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMovements returns the most recent movements.
func (s *Store) ListMovements(ctx context.Context, limit int) ([]models.FinancialMovement, error) {
	if limit < 1 {
		limit = 100
	}
	var movements []models.FinancialMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM financial_movements ORDER BY created_at DESC LIMIT $1", limit)
	return movements, err
}

// ListTransferConfirmations returns the most recent confirmation audit rows.
func (s *Store) ListTransferConfirmations(ctx context.Context, limit int) ([]models.TransferConfirmation, error) {
	if limit < 1 {
		limit = 100
	}
	var confirmations []models.TransferConfirmation
	err := s.db.SelectContext(ctx, &confirmations,
		"SELECT * FROM transfer_confirmations ORDER BY confirmed_at DESC LIMIT $1", limit)
	return confirmations, err
}

// insertTransferConfirmationTx writes the one-per-confirmation audit row.
func insertTransferConfirmationTx(ctx context.Context, tx *sqlx.Tx, c *models.TransferConfirmation) error {
	query := `
		INSERT INTO transfer_confirmations
			(reference_type, reference_id, transfer_voucher, bank_reference, amount, confirmed_by, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	return tx.GetContext(ctx, &c.ID, query,
		c.ReferenceType, c.ReferenceID, c.TransferVoucher, c.BankReference,
		c.Amount, c.ConfirmedBy, c.ConfirmedAt)
}

// movementExistsTx reports whether a movement already references the
// aggregate. Used as the idempotency guard for completion movements.
func movementExistsTx(ctx context.Context, tx *sqlx.Tx, ref models.MovementRef) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM financial_movements WHERE reference_type = $1 AND reference_id = $2)",
		ref.Type, ref.ID)
	return exists, err
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// confirmMovementTx rewrites the pending movement's category and description
// in place. The amount column is deliberately absent from the UPDATE.
func confirmMovementTx(ctx context.Context, tx *sqlx.Tx, ref models.MovementRef, description string) error {
	var category models.MovementCategory
	err := tx.GetContext(ctx, &category,
		"SELECT category FROM financial_movements WHERE reference_type = $1 AND reference_id = $2 FOR UPDATE",
		ref.Type, ref.ID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("movement for %s %d: %w", ref.Type, ref.ID, store.ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE financial_movements
		SET category = $1, description = $2, updated_at = NOW()
		WHERE reference_type = $3 AND reference_id = $4`,
		models.ConfirmedCategory(category), description, ref.Type, ref.ID)
	return err
}
