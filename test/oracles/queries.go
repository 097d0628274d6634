// Package oracles defines the cross-table invariants checked repeatedly while
// the actors run. An oracle query returning any row is a violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_serial_hash_unique",
			SQL: `SELECT serial_hash, COUNT(*) FROM products
                  GROUP BY serial_hash HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_warranty_pair_set_together",
			SQL: `SELECT id FROM products
                  WHERE (warranty_start IS NULL) <> (warranty_expiration IS NULL)`,
		},
		{
			Name: "O3_claim_count_matches_rows",
			SQL: `SELECT p.id, p.warranty_claim_count FROM products p
                  WHERE p.warranty_claim_count <> (SELECT COUNT(*) FROM warranty_claims c WHERE c.product_id = p.id)
                     OR p.warranty_claim_count > p.warranty_claim_limit`,
		},
		{
			Name: "O4_claims_only_within_warranty_window",
			SQL: `SELECT c.id FROM warranty_claims c
                  JOIN products p ON p.id = c.product_id
                  WHERE p.warranty_start IS NULL
                     OR c.submitted_at < p.warranty_start
                     OR c.submitted_at > p.warranty_expiration`,
		},
		{
			Name: "O5_decision_stamp_consistent",
			SQL: `SELECT id FROM warranty_claims
                  WHERE processed <> (processed_at IS NOT NULL)
                     OR processed <> (processed_by IS NOT NULL)
                     OR (approved AND NOT processed)`,
		},
		{
			Name: "O6_service_only_after_approval",
			SQL: `SELECT id FROM warranty_claims
                  WHERE (service_notes IS NOT NULL AND NOT (processed AND approved))
                     OR ((service_notes IS NULL) <> (serviced_at IS NULL))`,
		},
		{
			Name: "O7_single_activation_fact",
			SQL: `SELECT product_id, COUNT(*) FROM ledger_events
                  WHERE type = 'warranty.activated'
                  GROUP BY product_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_every_product_has_registration_fact",
			SQL: `SELECT p.id FROM products p
                  WHERE NOT EXISTS (
                      SELECT 1 FROM ledger_events e
                      WHERE e.product_id = p.id AND e.type = 'product.registered')`,
		},
		{
			Name: "O9_every_claim_has_submission_fact",
			SQL: `SELECT c.id FROM warranty_claims c
                  WHERE NOT EXISTS (
                      SELECT 1 FROM ledger_events e
                      WHERE e.claim_id = c.id AND e.type = 'claim.submitted')`,
		},
		{
			Name: "O10_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('pending','processed','dead')
                     OR (status = 'pending' AND now() - created_at > interval '5 minutes')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
