package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"warrantyledger/clock"
	"warrantyledger/identity"
	"warrantyledger/ledger"
)

var (
	// ErrNotManufacturer signals the caller lacks the manufacturer role.
	ErrNotManufacturer = errors.New("product: caller is not a manufacturer")
	// ErrSerialEmpty signals a registration with an empty serial number.
	ErrSerialEmpty = errors.New("product: serial number required")
	// ErrSerialExists signals the serial number is already registered.
	ErrSerialExists = errors.New("product: serial number already registered")
	// ErrOwnerRequired signals a registration without an initial owner.
	ErrOwnerRequired = errors.New("product: initial owner required")
	// ErrOwnerNotRetailer signals the initial owner lacks the retailer role.
	ErrOwnerNotRetailer = errors.New("product: initial owner is not a retailer")
	// ErrNotFound is returned when no product row exists for the identifier.
	ErrNotFound = errors.New("product: not registered")
	// ErrNotOwner signals the caller does not own the record.
	ErrNotOwner = errors.New("product: caller is not the owner")
	// ErrRecipientRequired signals a transfer without a recipient. Ownership
	// is never revoked to "no owner".
	ErrRecipientRequired = errors.New("product: transfer recipient required")
	// ErrWarrantyAlreadyActivated signals a retail-exit transfer on a record
	// whose warranty clock already started.
	ErrWarrantyAlreadyActivated = errors.New("product: warranty already activated")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RoleDirectory is the capability lookup the ledger depends on instead of any
// particular authorization implementation.
type RoleDirectory interface {
	HasRole(ctx context.Context, principalID, role string) (bool, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	SerialExists(ctx context.Context, tx pgx.Tx, serialHash []byte) (bool, error)
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Record, error)
	UpdateOwner(ctx context.Context, tx pgx.Tx, id int64, ownerID string) error
	ActivateWarranty(ctx context.Context, tx pgx.Tx, id int64, params ActivationParams) error
	Get(ctx context.Context, id int64) (Record, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Record, error)
}

// Service owns the product side of the ledger: registration, ownership
// transfer with conditional warranty activation, and record queries.
type Service struct {
	pool  TxBeginner
	repo  Repository
	roles RoleDirectory
	clock clock.Clock
}

// NewService wires the product service.
func NewService(pool TxBeginner, repo Repository, roles RoleDirectory, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		pool:  pool,
		repo:  repo,
		roles: roles,
		clock: clk,
	}
}

// Register mints a new product record owned by params.InitialOwnerID. The
// caller must hold the manufacturer role. Minting assigns ownership directly;
// it never reuses the transfer path, so registration can not trigger
// warranty activation. Failed registrations allocate no id.
func (s *Service) Register(ctx context.Context, callerID string, params RegisterParams) (Record, error) {
	isManufacturer, err := s.roles.HasRole(ctx, callerID, string(identity.RoleManufacturer))
	if err != nil {
		return Record{}, fmt.Errorf("product: check manufacturer role: %w", err)
	}
	if !isManufacturer {
		return Record{}, ErrNotManufacturer
	}

	if params.SerialNumber == "" {
		return Record{}, ErrSerialEmpty
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("product: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	exists, err := s.repo.SerialExists(ctx, tx, SerialHash(params.SerialNumber))
	if err != nil {
		return Record{}, err
	}
	if exists {
		return Record{}, ErrSerialExists
	}

	if params.InitialOwnerID == "" {
		return Record{}, ErrOwnerRequired
	}
	isRetailer, err := s.roles.HasRole(ctx, params.InitialOwnerID, string(identity.RoleRetailer))
	if err != nil {
		return Record{}, fmt.Errorf("product: check retailer role: %w", err)
	}
	if !isRetailer {
		return Record{}, ErrOwnerNotRetailer
	}

	if params.WarrantyDuration < 0 {
		return Record{}, fmt.Errorf("product: negative warranty duration")
	}
	if params.ClaimLimit < 0 {
		return Record{}, fmt.Errorf("product: negative claim limit")
	}

	rec, err := s.repo.Insert(ctx, tx, InsertParams{
		SerialNumber:     params.SerialNumber,
		SerialHash:       SerialHash(params.SerialNumber),
		Model:            params.Model,
		ManufacturerID:   callerID,
		OwnerID:          params.InitialOwnerID,
		ManufacturedAt:   s.clock.Now(),
		WarrantyDuration: params.WarrantyDuration,
		ClaimLimit:       params.ClaimLimit,
	})
	if err != nil {
		return Record{}, err
	}

	err = ledger.Append(ctx, tx, rec.ID, nil, ledger.TypeProductRegistered, map[string]any{
		"serial_number":             rec.SerialNumber,
		"model":                     rec.Model,
		"manufacturer_id":           rec.ManufacturerID,
		"owner_id":                  rec.OwnerID,
		"manufactured_at":           rec.ManufacturedAt,
		"warranty_duration_seconds": int64(rec.WarrantyDuration.Seconds()),
		"warranty_claim_limit":      rec.ClaimLimit,
	})
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("product: commit tx: %w", err)
	}

	return rec, nil
}

// Transfer moves ownership of productID from the caller to toID. When the
// caller holds the retailer role and the recipient does not, the record is
// leaving the retail channel, and the transfer additionally starts the
// warranty clock. That activation happens at most once per record; a second
// retail-exit transfer fails with ErrWarrantyAlreadyActivated and rolls the
// whole transfer back. Every other transfer leaves the warranty fields
// untouched.
func (s *Service) Transfer(ctx context.Context, callerID string, productID int64, toID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("product: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.GetForUpdate(ctx, tx, productID)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != callerID {
		return Record{}, ErrNotOwner
	}
	if toID == "" {
		return Record{}, ErrRecipientRequired
	}

	fromRetailer, err := s.roles.HasRole(ctx, callerID, string(identity.RoleRetailer))
	if err != nil {
		return Record{}, fmt.Errorf("product: check sender role: %w", err)
	}
	toRetailer, err := s.roles.HasRole(ctx, toID, string(identity.RoleRetailer))
	if err != nil {
		return Record{}, fmt.Errorf("product: check recipient role: %w", err)
	}

	// The activation rule compares role membership only, never any wider
	// organizational hierarchy: retailer-to-retailer moves within a
	// distribution chain never start the clock.
	activating := fromRetailer && !toRetailer
	if activating && rec.WarrantyStart != nil {
		return Record{}, ErrWarrantyAlreadyActivated
	}

	if err := s.repo.UpdateOwner(ctx, tx, rec.ID, toID); err != nil {
		return Record{}, err
	}

	err = ledger.Append(ctx, tx, rec.ID, nil, ledger.TypeProductTransferred, map[string]any{
		"from_id":        callerID,
		"to_id":          toID,
		"transferred_at": s.clock.Now(),
	})
	if err != nil {
		return Record{}, err
	}

	if activating {
		start := s.clock.Now()
		expiration := start.Add(rec.WarrantyDuration)
		err := s.repo.ActivateWarranty(ctx, tx, rec.ID, ActivationParams{
			Start:      start,
			Expiration: expiration,
		})
		if err != nil {
			return Record{}, err
		}
		rec.WarrantyStart = &start
		rec.WarrantyExpiration = &expiration

		err = ledger.Append(ctx, tx, rec.ID, nil, ledger.TypeWarrantyActivated, map[string]any{
			"customer_id":         toID,
			"warranty_start":      start,
			"warranty_expiration": expiration,
		})
		if err != nil {
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("product: commit tx: %w", err)
	}

	rec.OwnerID = toID
	return rec, nil
}

// Get returns the record or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.Get(ctx, id)
}

// ListByOwner returns up to limit records owned by ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit)
}

// IsWarrantyActive reports whether claims can currently be submitted against
// the record. A fully-claimed product reports inactive even before its
// expiration.
func (s *Service) IsWarrantyActive(ctx context.Context, id int64) (bool, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.WarrantyStart == nil {
		return false, nil
	}
	now := s.clock.Now()
	return !now.After(*rec.WarrantyExpiration) && rec.ClaimCount < rec.ClaimLimit, nil
}
