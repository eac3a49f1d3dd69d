package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-ledger/internal/config"
	"account-ledger/internal/httpapi"
	"account-ledger/internal/journal"
	"account-ledger/internal/ledger"
	"account-ledger/internal/metrics"
	"account-ledger/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Printf("[shutdown] %v", err)
		os.Exit(1)
	}
}

func run() error {
	start := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log.Printf("[startup] begin addr=%s replica=%t apr=%s", cfg.HTTPAddr, cfg.DBDSN != "", cfg.APR)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j := journal.New()
	m := metrics.New(prometheus.DefaultRegisterer)
	reg := ledger.New(
		ledger.WithObserver(ledger.Observers(j, m)),
		ledger.WithAPR(cfg.APR),
	)

	var st *store.Store
	if cfg.DBDSN != "" {
		pool, err := connectDB(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		st = store.New(pool)
	} else {
		log.Printf("[startup] LEDGER_DB_DSN unset, journal replica disabled")
	}

	h := httpapi.NewHandlers(reg, j)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.Router(h, promhttp.Handler(), cfg.HTTPMaxInflight),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf(
			"[startup] ready in %s, listening on %s run=%s",
			time.Since(start).Truncate(time.Millisecond),
			cfg.HTTPAddr,
			j.RunID(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Printf("[shutdown] draining http")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if st != nil {
		g.Go(func() error {
			err := st.Replicate(gctx, j, cfg.ReplicaInterval, func(n int, err error) {
				if err != nil {
					log.Printf("[replica] flush failed: %v", err)
					return
				}
				if n > 0 {
					log.Printf("[replica] flushed %d entries", n)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	waitErr := g.Wait()

	// srv.Shutdown has returned, so no handler can commit past this point.
	if st != nil {
		n, err := st.Drain(ctx, j, 5*time.Second)
		if err != nil {
			log.Printf("[replica] final flush failed: %v", err)
			if waitErr == nil {
				waitErr = fmt.Errorf("final flush: %w", err)
			}
		} else {
			log.Printf("[replica] final flush stored %d entries", n)
		}
	}

	seq, _ := j.Head()
	log.Printf("[shutdown] done accounts=%d journal_seq=%d", reg.Len(), seq)
	return waitErr
}

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	log.Printf("[startup] parsing DB config maxConns=%d", cfg.DBMaxConns)
	pcfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn failed: %w", err)
	}
	pcfg.MaxConns = int32(cfg.DBMaxConns)
	pcfg.MinConns = 1
	pcfg.HealthCheckPeriod = 10 * time.Second
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	log.Printf("[startup] connecting to DB")
	pool, err := pgxpool.NewWithConfig(startCtx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}

	if err := pool.Ping(startCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}

	if cfg.DBMigrate {
		log.Printf("[startup] running migrations")
		if err := store.Migrate(startCtx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		log.Printf("[startup] migrations complete")
	} else {
		log.Printf("[startup] migrations disabled")
	}
	return pool, nil
}
