package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/cardtable-sync/internal/config"
	"github.com/DoyleJ11/cardtable-sync/internal/discovery"
	"github.com/DoyleJ11/cardtable-sync/internal/httpapi"
	"github.com/DoyleJ11/cardtable-sync/internal/hub"
	"github.com/DoyleJ11/cardtable-sync/internal/logging"
	"github.com/DoyleJ11/cardtable-sync/internal/storage"
)

type store interface {
	hub.Store
	Close() error
}

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg, err := config.LoadAuthority()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("authority stopped", zap.Error(err))
	}
}

func run(cfg config.Authority, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.NewHub(ctx, st, logger.Named("hub"))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Announce {
		port, err := portOf(cfg.Addr)
		if err != nil {
			return err
		}
		g.Go(func() error { return discovery.Announce(ctx, port, logger.Named("mdns")) })
	}
	return g.Wait()
}

func openStore(cfg config.Authority, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL, rooms live in memory")
		return storage.NewMemory(), nil
	}
	g, err := storage.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("rooms persisted to postgres")
	return g, nil
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}
