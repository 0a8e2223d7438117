package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 10 * time.Second
	sessionPurgePeriod = time.Hour
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func run(ctx context.Context, cfg Config) error {
	var (
		db   *DB
		auth *Auth
	)
	if cfg.DBPath != "" {
		var err error
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		auth = NewAuth(db, cfg.BcryptCost)
	} else {
		log.Println("running without a database: accounts and match history disabled")
	}

	hub := NewHub(db, auth, cfg.MsgRate)
	server := &http.Server{Addr: cfg.Addr, Handler: SetupRoutes(hub, cfg.ClientDir, cfg.PublicURL)}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return hub.Run(ctx)
	})
	eg.Go(func() error {
		log.Printf("Server starting (%s)", cfg)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if db != nil {
		eg.Go(func() error {
			purgeSessions(ctx, db, auth)
			return nil
		})
	}
	return eg.Wait()
}

// purgeSessions drops expired auth sessions and idle login limiters.
func purgeSessions(ctx context.Context, db *DB, auth *Auth) {
	ticker := time.NewTicker(sessionPurgePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			auth.PruneLimiters(loginRateWindow)
			n, err := db.PurgeExpiredSessions()
			if err != nil {
				log.Printf("purge sessions: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("purged %d expired sessions", n)
			}
		}
	}
}
