package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"warrantyledger/cache"
	"warrantyledger/claim"
	"warrantyledger/clock"
	"warrantyledger/config"
	"warrantyledger/db"
	"warrantyledger/httpapi"
	"warrantyledger/identity"
	"warrantyledger/outbox"
	"warrantyledger/product"
)

const outboxQueue = "warranty.ledger.facts"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	identityService := identity.NewService(identity.NewRepository(pool), cfg.JWTSecret)
	productService := product.NewService(pool, product.NewRepository(pool), identityService, clock.System{})
	claimService := claim.NewService(pool, claim.NewRepository(pool), identityService, clock.System{})

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := identityService.Bootstrap(ctx, cfg.AdminEmail, cfg.AdminName, cfg.AdminPassword); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
	}

	productCache := cache.NewProductCache(cache.NewClient(cfg.RedisAddr, cfg.RedisPassword), cfg.CacheTTL)

	server := httpapi.NewServer(identityService, productService, claimService, productCache)
	e := server.Router()

	group, ctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		publisher, err := outbox.NewAMQPPublisher(cfg.AMQPURL, outboxQueue)
		if err != nil {
			log.Fatalf("connect amqp: %v", err)
		}
		defer publisher.Close()

		relay := outbox.NewRelay(pool, publisher, cfg.OutboxWorkers)
		group.Go(func() error {
			return relay.Run(ctx)
		})
	} else {
		log.Printf("AMQP_URL not set, outbox relay disabled")
	}

	group.Go(func() error {
		log.Printf("ledger api listening on :%s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("ledger api: %v", err)
	}
}
