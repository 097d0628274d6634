package claim

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
	// ErrNotFound is returned when no claim row exists for the identifier.
	ErrNotFound = errors.New("claim: not found")
	// ErrNotOwner signals the caller does not own the claimed product.
	ErrNotOwner = errors.New("claim: caller does not own the product")
	// ErrWarrantyNotActivated signals a claim against a warranty whose clock
	// never started.
	ErrWarrantyNotActivated = errors.New("claim: warranty not activated")
	// ErrWarrantyExpired signals a claim past the warranty window.
	ErrWarrantyExpired = errors.New("claim: warranty expired")
	// ErrLimitReached signals the product consumed all its claim slots.
	ErrLimitReached = errors.New("claim: claim limit reached")
	// ErrIssueEmpty signals a claim without an issue description.
	ErrIssueEmpty = errors.New("claim: issue description required")
	// ErrNotServiceCenter signals the caller lacks the service-center role.
	ErrNotServiceCenter = errors.New("claim: caller is not a service center")
	// ErrAlreadyProcessed signals a second decision on a one-shot claim.
	ErrAlreadyProcessed = errors.New("claim: already processed")
	// ErrNotApproved signals a service record against a claim that was not
	// processed and approved.
	ErrNotApproved = errors.New("claim: not approved")
	// ErrServiceRecorded signals a second service record on a claim.
	ErrServiceRecorded = errors.New("claim: service already recorded")
	// ErrServiceNotesEmpty signals a service record without notes.
	ErrServiceNotesEmpty = errors.New("claim: service notes required")

	// errProductMissing is internal to the repository boundary; a missing
	// product surfaces to submitters as ErrNotOwner, matching the ownership
	// precondition being the first to fail.
	errProductMissing = errors.New("claim: product missing")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RoleDirectory is the capability lookup injected into the claim workflow.
type RoleDirectory interface {
	HasRole(ctx context.Context, principalID, role string) (bool, error)
}

// Repository defines the data access required by the service.
type Repository interface {
	LockProduct(ctx context.Context, tx pgx.Tx, productID int64) (productState, error)
	IncrementClaimCount(ctx context.Context, tx pgx.Tx, productID int64) error
	Insert(ctx context.Context, tx pgx.Tx, params InsertParams) (Claim, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, claimID int64) (Claim, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, params DecisionParams) error
	SetServiceNotes(ctx context.Context, tx pgx.Tx, params ServiceParams) error
	Get(ctx context.Context, claimID int64) (Claim, error)
}

// Service owns the warranty-claim workflow: submission by the product owner,
// one-shot adjudication by a service center, and at-most-once service
// recording on approved claims.
type Service struct {
	pool  TxBeginner
	repo  Repository
	roles RoleDirectory
	clock clock.Clock
}

// NewService wires the claim service.
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

// Submit files a claim against productID on behalf of the caller, who must be
// the current owner. The claim-count increment and the claim insert commit
// atomically under a row lock on the product, so the per-product limit holds
// under concurrent submissions. Failed submissions allocate no claim id.
func (s *Service) Submit(ctx context.Context, callerID string, productID int64, issueDescription string) (Claim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Claim{}, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := s.repo.LockProduct(ctx, tx, productID)
	if err != nil {
		if errors.Is(err, errProductMissing) {
			return Claim{}, ErrNotOwner
		}
		return Claim{}, err
	}
	if st.OwnerID != callerID {
		return Claim{}, ErrNotOwner
	}
	if st.WarrantyStart == nil {
		return Claim{}, ErrWarrantyNotActivated
	}
	now := s.clock.Now()
	if now.After(*st.WarrantyExpiration) {
		return Claim{}, ErrWarrantyExpired
	}
	if st.ClaimCount >= st.ClaimLimit {
		return Claim{}, ErrLimitReached
	}
	if issueDescription == "" {
		return Claim{}, ErrIssueEmpty
	}

	if err := s.repo.IncrementClaimCount(ctx, tx, productID); err != nil {
		return Claim{}, err
	}

	c, err := s.repo.Insert(ctx, tx, InsertParams{
		ProductID:        productID,
		CustomerID:       callerID,
		IssueDescription: issueDescription,
		SubmittedAt:      now,
	})
	if err != nil {
		return Claim{}, err
	}

	err = ledger.Append(ctx, tx, productID, &c.ID, ledger.TypeClaimSubmitted, map[string]any{
		"customer_id":       c.CustomerID,
		"issue_description": c.IssueDescription,
		"submitted_at":      c.SubmittedAt,
	})
	if err != nil {
		return Claim{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, fmt.Errorf("claim: commit tx: %w", err)
	}

	return c, nil
}

// Process records the service-center decision on a claim. The decision is
// one-shot; there is no amendment path.
func (s *Service) Process(ctx context.Context, callerID string, claimID int64, approved bool) (Claim, error) {
	isServiceCenter, err := s.roles.HasRole(ctx, callerID, string(identity.RoleServiceCenter))
	if err != nil {
		return Claim{}, fmt.Errorf("claim: check service-center role: %w", err)
	}
	if !isServiceCenter {
		return Claim{}, ErrNotServiceCenter
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Claim{}, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Processed {
		return Claim{}, ErrAlreadyProcessed
	}

	now := s.clock.Now()
	err = s.repo.MarkProcessed(ctx, tx, DecisionParams{
		ClaimID:     claimID,
		Approved:    approved,
		ProcessedAt: now,
		ProcessedBy: callerID,
	})
	if err != nil {
		return Claim{}, err
	}

	err = ledger.Append(ctx, tx, c.ProductID, &c.ID, ledger.TypeClaimProcessed, map[string]any{
		"service_center_id": callerID,
		"approved":          approved,
		"processed_at":      now,
	})
	if err != nil {
		return Claim{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, fmt.Errorf("claim: commit tx: %w", err)
	}

	c.Processed = true
	c.Approved = approved
	c.ProcessedAt = &now
	c.ProcessedBy = &callerID
	return c, nil
}

// RecordService attaches repair evidence to an approved claim, at most once.
func (s *Service) RecordService(ctx context.Context, callerID string, claimID int64, serviceNotes string) (Claim, error) {
	isServiceCenter, err := s.roles.HasRole(ctx, callerID, string(identity.RoleServiceCenter))
	if err != nil {
		return Claim{}, fmt.Errorf("claim: check service-center role: %w", err)
	}
	if !isServiceCenter {
		return Claim{}, ErrNotServiceCenter
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Claim{}, fmt.Errorf("claim: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, claimID)
	if err != nil {
		return Claim{}, err
	}
	if !c.Processed || !c.Approved {
		return Claim{}, ErrNotApproved
	}
	if c.ServiceNotes != nil {
		return Claim{}, ErrServiceRecorded
	}
	if serviceNotes == "" {
		return Claim{}, ErrServiceNotesEmpty
	}

	now := s.clock.Now()
	err = s.repo.SetServiceNotes(ctx, tx, ServiceParams{
		ClaimID:      claimID,
		ServiceNotes: serviceNotes,
		ServicedAt:   now,
		ServicedBy:   callerID,
	})
	if err != nil {
		return Claim{}, err
	}

	err = ledger.Append(ctx, tx, c.ProductID, &c.ID, ledger.TypeClaimServiced, map[string]any{
		"service_center_id": callerID,
		"service_notes":     serviceNotes,
		"serviced_at":       now,
	})
	if err != nil {
		return Claim{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, fmt.Errorf("claim: commit tx: %w", err)
	}

	c.ServiceNotes = &serviceNotes
	c.ServicedAt = &now
	c.ServicedBy = &callerID
	return c, nil
}

// Get returns the claim or ErrNotFound.
func (s *Service) Get(ctx context.Context, claimID int64) (Claim, error) {
	return s.repo.Get(ctx, claimID)
}
