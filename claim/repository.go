package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InsertParams enumerates the columns written when a claim is filed.
type InsertParams struct {
	ProductID        int64
	CustomerID       string
	IssueDescription string
	SubmittedAt      time.Time
}

// DecisionParams carries the one-shot adjudication write.
type DecisionParams struct {
	ClaimID     int64
	Approved    bool
	ProcessedAt time.Time
	ProcessedBy string
}

// ServiceParams carries the at-most-once service record write.
type ServiceParams struct {
	ClaimID      int64
	ServiceNotes string
	ServicedAt   time.Time
	ServicedBy   string
}

const claimColumns = `
	id, product_id, customer_id::text, issue_description, submitted_at,
	processed, approved, processed_at, processed_by::text,
	service_notes, serviced_at, serviced_by::text
`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// LockProduct locks the product row and returns the fields the submission
// preconditions inspect.
func (r *PGRepository) LockProduct(ctx context.Context, tx pgx.Tx, productID int64) (productState, error) {
	const query = `
		SELECT owner_id::text, warranty_start, warranty_expiration,
		       warranty_claim_limit, warranty_claim_count
		FROM products
		WHERE id = $1
		FOR UPDATE
	`

	var st productState
	err := tx.QueryRow(ctx, query, productID).Scan(
		&st.OwnerID,
		&st.WarrantyStart,
		&st.WarrantyExpiration,
		&st.ClaimLimit,
		&st.ClaimCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productState{}, errProductMissing
		}
		return productState{}, fmt.Errorf("claim: lock product: %w", err)
	}
	return st, nil
}

// IncrementClaimCount bumps the monotonic per-product claim counter.
func (r *PGRepository) IncrementClaimCount(ctx context.Context, tx pgx.Tx, productID int64) error {
	const updateSQL = `
		UPDATE products
		SET warranty_claim_count = warranty_claim_count + 1
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, updateSQL, productID)
	if err != nil {
		return fmt.Errorf("claim: increment claim count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errProductMissing
	}
	return nil
}

// Insert files a claim. The id comes from the warranty_claims identity
// sequence and is only consumed when the insert succeeds.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Claim, error) {
	const insertSQL = `
		INSERT INTO warranty_claims (product_id, customer_id, issue_description, submitted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + claimColumns

	c, err := scanClaim(tx.QueryRow(ctx, insertSQL,
		params.ProductID,
		params.CustomerID,
		params.IssueDescription,
		params.SubmittedAt,
	))
	if err != nil {
		return Claim{}, fmt.Errorf("claim: insert: %w", err)
	}
	return c, nil
}

// GetForUpdate locks the claim row for the duration of the transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, claimID int64) (Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM warranty_claims WHERE id = $1 FOR UPDATE`

	c, err := scanClaim(tx.QueryRow(ctx, query, claimID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNotFound
		}
		return Claim{}, fmt.Errorf("claim: lock claim: %w", err)
	}
	return c, nil
}

// MarkProcessed stamps the one-shot decision, refusing already-decided rows.
func (r *PGRepository) MarkProcessed(ctx context.Context, tx pgx.Tx, params DecisionParams) error {
	const updateSQL = `
		UPDATE warranty_claims
		SET processed = true, approved = $2, processed_at = $3, processed_by = $4
		WHERE id = $1 AND NOT processed
	`

	tag, err := tx.Exec(ctx, updateSQL, params.ClaimID, params.Approved, params.ProcessedAt, params.ProcessedBy)
	if err != nil {
		return fmt.Errorf("claim: mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

// SetServiceNotes writes the service record, refusing rows that already
// carry one.
func (r *PGRepository) SetServiceNotes(ctx context.Context, tx pgx.Tx, params ServiceParams) error {
	const updateSQL = `
		UPDATE warranty_claims
		SET service_notes = $2, serviced_at = $3, serviced_by = $4
		WHERE id = $1 AND service_notes IS NULL
	`

	tag, err := tx.Exec(ctx, updateSQL, params.ClaimID, params.ServiceNotes, params.ServicedAt, params.ServicedBy)
	if err != nil {
		return fmt.Errorf("claim: set service notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceRecorded
	}
	return nil
}

// Get fetches a claim by its id.
func (r *PGRepository) Get(ctx context.Context, claimID int64) (Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM warranty_claims WHERE id = $1`

	c, err := scanClaim(r.pool.QueryRow(ctx, query, claimID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Claim{}, ErrNotFound
		}
		return Claim{}, fmt.Errorf("claim: query by id: %w", err)
	}
	return c, nil
}

func scanClaim(row pgx.Row) (Claim, error) {
	var c Claim
	err := row.Scan(
		&c.ID,
		&c.ProductID,
		&c.CustomerID,
		&c.IssueDescription,
		&c.SubmittedAt,
		&c.Processed,
		&c.Approved,
		&c.ProcessedAt,
		&c.ProcessedBy,
		&c.ServiceNotes,
		&c.ServicedAt,
		&c.ServicedBy,
	)
	if err != nil {
		return Claim{}, err
	}
	return c, nil
}
