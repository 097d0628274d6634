package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InsertParams enumerates the columns written when minting a record.
type InsertParams struct {
	SerialNumber     string
	SerialHash       []byte
	Model            string
	ManufacturerID   string
	OwnerID          string
	ManufacturedAt   time.Time
	WarrantyDuration time.Duration
	ClaimLimit       int
}

// ActivationParams carries the one-time warranty window.
type ActivationParams struct {
	Start      time.Time
	Expiration time.Time
}

const recordColumns = `
	id, serial_number, model, manufacturer_id::text, owner_id::text,
	manufactured_at, warranty_duration_seconds, warranty_start,
	warranty_expiration, warranty_claim_limit, warranty_claim_count
`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// SerialExists checks the serial-hash index inside the active transaction.
func (r *PGRepository) SerialExists(ctx context.Context, tx pgx.Tx, serialHash []byte) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM products WHERE serial_hash = $1)`

	var exists bool
	if err := tx.QueryRow(ctx, query, serialHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("product: check serial index: %w", err)
	}
	return exists, nil
}

// Insert mints a record. The id comes from the products identity sequence and
// is only consumed when the insert succeeds.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Record, error) {
	const insertSQL = `
		INSERT INTO products (
			serial_hash, serial_number, model, manufacturer_id, owner_id,
			manufactured_at, warranty_duration_seconds, warranty_claim_limit
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.SerialHash,
		params.SerialNumber,
		params.Model,
		params.ManufacturerID,
		params.OwnerID,
		params.ManufacturedAt,
		int64(params.WarrantyDuration.Seconds()),
		params.ClaimLimit,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrSerialExists
		}
		return Record{}, fmt.Errorf("product: insert: %w", err)
	}

	return rec, nil
}

// GetForUpdate locks the record row for the duration of the transaction.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("product: lock record: %w", err)
	}
	return rec, nil
}

// UpdateOwner is the single mutation point for ownership.
func (r *PGRepository) UpdateOwner(ctx context.Context, tx pgx.Tx, id int64, ownerID string) error {
	const updateSQL = `UPDATE products SET owner_id = $2 WHERE id = $1`

	tag, err := tx.Exec(ctx, updateSQL, id, ownerID)
	if err != nil {
		return fmt.Errorf("product: update owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateWarranty stamps the warranty window, refusing rows whose clock
// already started.
func (r *PGRepository) ActivateWarranty(ctx context.Context, tx pgx.Tx, id int64, params ActivationParams) error {
	const updateSQL = `
		UPDATE products
		SET warranty_start = $2, warranty_expiration = $3
		WHERE id = $1 AND warranty_start IS NULL
	`

	tag, err := tx.Exec(ctx, updateSQL, id, params.Start, params.Expiration)
	if err != nil {
		return fmt.Errorf("product: activate warranty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWarrantyAlreadyActivated
	}
	return nil
}

// Get fetches a record by its id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM products WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("product: query by id: %w", err)
	}
	return rec, nil
}

// ListByOwner fetches up to limit records held by ownerID, newest first.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + recordColumns + ` FROM products WHERE owner_id = $1 ORDER BY id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("product: list by owner: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("product: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("product: iterate records: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec             Record
		durationSeconds int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.SerialNumber,
		&rec.Model,
		&rec.ManufacturerID,
		&rec.OwnerID,
		&rec.ManufacturedAt,
		&durationSeconds,
		&rec.WarrantyStart,
		&rec.WarrantyExpiration,
		&rec.ClaimLimit,
		&rec.ClaimCount,
	)
	if err != nil {
		return Record{}, err
	}
	rec.WarrantyDuration = time.Duration(durationSeconds) * time.Second
	return rec, nil
}
