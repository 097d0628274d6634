// Package ledger holds the append-only fact log shared by the product and
// claim domains. Every state change appends one event row plus a matching
// outbox message inside the caller's transaction, so the fact stream commits
// or rolls back together with the state it describes.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Fact types carried by ledger_events.type and used as outbox topics.
const (
	TypeProductRegistered  = "product.registered"
	TypeProductTransferred = "product.transferred"
	TypeWarrantyActivated  = "warranty.activated"
	TypeClaimSubmitted     = "claim.submitted"
	TypeClaimProcessed     = "claim.processed"
	TypeClaimServiced      = "claim.serviced"
)

// Event mirrors a ledger_events row.
type Event struct {
	ID         int64
	ProductID  int64
	ClaimID    *int64
	Type       string
	Payload    []byte
	RecordedAt time.Time
}

// Append writes a fact and its outbox copy inside tx. The payload must carry
// every field a consumer needs to rebuild history without re-querying state.
func Append(ctx context.Context, tx pgx.Tx, productID int64, claimID *int64, factType string, payload map[string]any) error {
	if factType == "" {
		return fmt.Errorf("ledger: empty fact type")
	}
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["product_id"] = productID
	if claimID != nil {
		payload["claim_id"] = *claimID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal payload: %w", err)
	}

	const insertEventSQL = `
INSERT INTO ledger_events (product_id, claim_id, type, payload)
VALUES ($1, $2, $3, $4);
`
	var claimArg any
	if claimID != nil {
		claimArg = *claimID
	}
	if _, err := tx.Exec(ctx, insertEventSQL, productID, claimArg, factType, body); err != nil {
		return fmt.Errorf("ledger: insert event: %w", err)
	}

	const insertOutboxSQL = `
INSERT INTO outbox (id, topic, payload)
VALUES ($1, $2, $3);
`
	if _, err := tx.Exec(ctx, insertOutboxSQL, uuid.NewString(), factType, body); err != nil {
		return fmt.Errorf("ledger: insert outbox message: %w", err)
	}

	return nil
}
