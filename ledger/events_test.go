package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	sql  string
	args []any
}

type captureTx struct {
	pgx.Tx
	calls []execCall
}

func (t *captureTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.calls = append(t.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func TestAppend_WritesEventAndOutboxTogether(t *testing.T) {
	tx := &captureTx{}
	claimID := int64(4)

	err := Append(context.Background(), tx, 7, &claimID, TypeClaimSubmitted, map[string]any{
		"issue_description": "compressor rattles",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(tx.calls) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(tx.calls))
	}
	if !strings.Contains(tx.calls[0].sql, "ledger_events") {
		t.Fatalf("first insert should target ledger_events: %s", tx.calls[0].sql)
	}
	if !strings.Contains(tx.calls[1].sql, "outbox") {
		t.Fatalf("second insert should target outbox: %s", tx.calls[1].sql)
	}

	// both rows carry the same payload, stamped with the subject ids
	var payload map[string]any
	if err := json.Unmarshal(tx.calls[0].args[3].([]byte), &payload); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if payload["product_id"] != float64(7) || payload["claim_id"] != float64(4) {
		t.Fatalf("payload missing subject ids: %v", payload)
	}
	if payload["issue_description"] != "compressor rattles" {
		t.Fatalf("payload lost caller fields: %v", payload)
	}

	if tx.calls[1].args[1] != TypeClaimSubmitted {
		t.Fatalf("outbox topic should be the fact type, got %v", tx.calls[1].args[1])
	}
}

func TestAppend_RejectsEmptyFactType(t *testing.T) {
	tx := &captureTx{}
	if err := Append(context.Background(), tx, 1, nil, "", nil); err == nil {
		t.Fatal("expected error for empty fact type")
	}
	if len(tx.calls) != 0 {
		t.Fatalf("no rows may be written on failure, got %d", len(tx.calls))
	}
}
