// Package actors holds the concurrent workloads of the stress run. Each actor
// hammers one ledger operation through the real service layer so every race
// is resolved by the same row locks and precondition checks production uses.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"warrantyledger/claim"
	"warrantyledger/product"
)

// transientConn reports whether err looks like a dropped connection rather
// than a domain failure. The chaos routine kills backends on purpose; actors
// retry those on the next loop iteration.
func transientConn(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57P01 admin_shutdown, 57014 query_canceled, 08xxx connection exceptions
		return pgErr.Code == "57P01" || pgErr.Code == "57014" || strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err) ||
		strings.Contains(err.Error(), "conn closed") ||
		strings.Contains(err.Error(), "unexpected EOF")
}

// Registrar mints products under deliberately colliding serial numbers. At
// most one registration per serial may win; the rest must surface the
// duplicate-serial error without burning a product id for a committed row.
func Registrar(ctx context.Context, svc *product.Service, manufacturerID, retailerID string, serialPool []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		serial := serialPool[rand.Intn(len(serialPool))]
		_, err := svc.Register(ctx, manufacturerID, product.RegisterParams{
			InitialOwnerID:   retailerID,
			SerialNumber:     serial,
			Model:            "Stress Widget",
			WarrantyDuration: 365 * 24 * time.Hour,
			ClaimLimit:       3,
		})
		if err != nil && !errors.Is(err, product.ErrSerialExists) {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if !transientConn(err) {
				return fmt.Errorf("registrar: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Transferrer races to move the seeded product out of retail. Exactly one
// handoff may activate the warranty; the losers see not-owner or the loud
// re-activation failure, never a second activation.
func Transferrer(ctx context.Context, svc *product.Service, retailerID string, productID int64, customerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		to := customerIDs[rand.Intn(len(customerIDs))]
		_, err := svc.Transfer(ctx, retailerID, productID, to)
		switch {
		case err == nil:
		case errors.Is(err, product.ErrNotOwner),
			errors.Is(err, product.ErrWarrantyAlreadyActivated):
			// expected once the first handoff commits
		case errors.Is(err, context.Canceled):
			return nil
		default:
			if !transientConn(err) {
				return fmt.Errorf("transferrer: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Claimant submits claims against an activated product, racing the claim
// limit. Submissions past the limit must fail without incrementing the count.
func Claimant(ctx context.Context, svc *claim.Service, customerID string, productID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Submit(ctx, customerID, productID, fmt.Sprintf("stress issue %d", rand.Int63()))
		switch {
		case err == nil:
		case errors.Is(err, claim.ErrLimitReached),
			errors.Is(err, claim.ErrNotOwner),
			errors.Is(err, claim.ErrWarrantyNotActivated),
			errors.Is(err, claim.ErrWarrantyExpired):
			// expected while the product is still in retail or the limit is hit
		case errors.Is(err, context.Canceled):
			return nil
		default:
			if !transientConn(err) {
				return fmt.Errorf("claimant: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Processor picks open claims and decides them. Concurrent decisions on the
// same claim must collapse to a single committed verdict.
func Processor(ctx context.Context, pool *pgxpool.Pool, svc *claim.Service, serviceCenterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var claimID int64
		err := pool.QueryRow(ctx, `SELECT id FROM warranty_claims WHERE NOT processed ORDER BY random() LIMIT 1`).Scan(&claimID)
		if err == nil {
			_, err = svc.Process(ctx, serviceCenterID, claimID, rand.Intn(2) == 0)
			switch {
			case err == nil:
			case errors.Is(err, claim.ErrAlreadyProcessed), errors.Is(err, claim.ErrNotFound):
				// lost the race to another processor
			case errors.Is(err, context.Canceled):
				return nil
			default:
				if !transientConn(err) {
					return fmt.Errorf("processor: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// ServiceTech records service against approved claims. A second record for
// the same claim must fail; notes never land on rejected or open claims.
func ServiceTech(ctx context.Context, pool *pgxpool.Pool, svc *claim.Service, serviceCenterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var claimID int64
		err := pool.QueryRow(ctx, `SELECT id FROM warranty_claims WHERE processed ORDER BY random() LIMIT 1`).Scan(&claimID)
		if err == nil {
			_, err = svc.RecordService(ctx, serviceCenterID, claimID, "stress repair log")
			switch {
			case err == nil:
			case errors.Is(err, claim.ErrNotApproved), errors.Is(err, claim.ErrServiceRecorded):
				// rejected claim or already serviced
			case errors.Is(err, context.Canceled):
				return nil
			default:
				if !transientConn(err) {
					return fmt.Errorf("service tech: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox rows with SKIP LOCKED and marks them
// processed, or dead after repeated simulated failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id::text FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			// simulate random publish failure
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, status=CASE WHEN attempts+1 >= 10 THEN 'dead' ELSE status END WHERE id=$1::uuid`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1::uuid`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
