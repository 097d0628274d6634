package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = time.Second
	maxAttempts         = 10
)

// Relay drains pending outbox rows and hands them to the publisher. Multiple
// workers may run concurrently; FOR UPDATE SKIP LOCKED keeps them from
// fighting over the same rows.
type Relay struct {
	pool     *pgxpool.Pool
	pub      Publisher
	workers  int
	interval time.Duration
}

// NewRelay wires the relay.
func NewRelay(pool *pgxpool.Pool, pub Publisher, workers int) *Relay {
	if workers <= 0 {
		workers = 1
	}
	return &Relay{
		pool:     pool,
		pub:      pub,
		workers:  workers,
		interval: defaultPollInterval,
	}
}

// Run polls until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.worker(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) worker(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.drainOnce(ctx); err != nil {
				log.Printf("outbox: drain: %v", err)
			}
		}
	}
}

type pendingMessage struct {
	id      string
	topic   string
	payload []byte
}

// drainOnce claims up to one batch of pending rows, publishes them, and marks
// the outcome. Returns the number of messages published.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id::text, topic, payload
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, claimSQL, defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]pendingMessage, 0, defaultBatchSize)
	for rows.Next() {
		var msg pendingMessage
		if err := rows.Scan(&msg.id, &msg.topic, &msg.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	published := 0
	for _, msg := range batch {
		if err := r.pub.Publish(ctx, msg.topic, msg.payload); err != nil {
			log.Printf("outbox: publish %s: %v", msg.topic, err)
			const failSQL = `
				UPDATE outbox
				SET attempts = attempts + 1,
				    status = CASE WHEN attempts + 1 >= $2 THEN 'dead' ELSE 'pending' END
				WHERE id = $1::uuid
			`
			if _, err := tx.Exec(ctx, failSQL, msg.id, maxAttempts); err != nil {
				return published, fmt.Errorf("outbox: record failure: %w", err)
			}
			continue
		}

		const doneSQL = `UPDATE outbox SET status = 'processed', attempts = attempts + 1 WHERE id = $1::uuid`
		if _, err := tx.Exec(ctx, doneSQL, msg.id); err != nil {
			return published, fmt.Errorf("outbox: mark processed: %w", err)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("outbox: commit tx: %w", err)
	}
	return published, nil
}
