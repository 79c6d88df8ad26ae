// Package main starts the plazaviva API server: the REST surface, the
// websocket gateway and the real-time marketplace services behind them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plazaviva.org/internal/catalog"
	"plazaviva.org/internal/config"
	"plazaviva.org/internal/discovery"
	"plazaviva.org/internal/gateway"
	"plazaviva.org/internal/httpapi"
	"plazaviva.org/internal/identity"
	"plazaviva.org/internal/obs"
	"plazaviva.org/internal/order"
	"plazaviva.org/internal/presence"
	"plazaviva.org/internal/session"
	"plazaviva.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// noUsers satisfies the gateway's user lookup when persistence is disabled;
// every connection then runs on a demo identity.
type noUsers struct{}

func (noUsers) FindUser(context.Context, string) (*identity.User, error) {
	return nil, identity.ErrNotFound
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store *pg.Store
	if cfg.DatabaseDSN != "" {
		store, err = pg.Open(cfg.DatabaseDSN)
		if err != nil {
			sugar.Fatalw("open database", "error", err)
		}
		defer store.Close()
	} else {
		sugar.Warnw("no database configured, running in-memory only")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := session.NewRegistry()

	var writer presence.Writer
	var persister *presence.Persister
	if store != nil {
		persister = presence.NewPersister(store, sugar, 256)
		persister.Start(ctx)
		writer = persister
	}
	pres := presence.NewService(registry, writer)

	var orderStore order.Store
	var catalogStore catalog.Store
	if store != nil {
		orderStore = store
		catalogStore = store
	}
	disc := discovery.NewService(pres, catalogStore, sugar)
	orders := order.NewService(orderStore, catalogStore, pres, registry, sugar)

	var gwUsers gateway.UserSource = noUsers{}
	if store != nil {
		gwUsers = store
	}
	gw := gateway.New(registry, pres, disc, orders, gwUsers, sugar)

	deps := httpapi.Deps{
		Orders:    orders,
		Presence:  pres,
		Discovery: disc,
		Gateway:   gw,
		Log:       sugar,
		TokenTTL:  cfg.TokenTTL,
		Version:   version,
	}
	if store != nil {
		deps.Users = store
		deps.Catalog = store
		deps.History = store
		deps.Ready = httpapi.ReadyProbe{DB: store.DB()}
	}
	api := httpapi.New(deps)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting plazaviva-api", "version", version, "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if persister != nil {
			persister.Wait()
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
