package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/affiliate/internal/db"
	"github.com/nkiryanov/affiliate/internal/handlers"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/repository/postgres"
	"github.com/nkiryanov/affiliate/internal/service/auth"
	"github.com/nkiryanov/affiliate/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/affiliate/internal/service/commission"
	"github.com/nkiryanov/affiliate/internal/service/confirmer"
	"github.com/nkiryanov/affiliate/internal/service/user"
	"github.com/nkiryanov/affiliate/internal/service/withdrawal"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	listenAddr string
	handler    http.Handler
	confirmer  *confirmer.Confirmer

	pool   *pgxpool.Pool
	logger logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	rules, err := commission.NewRuleSet(c.Level1Rate, c.Level2Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid commission rates. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey}, storage.Refresh())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	userService := user.NewService(auth.DefaultHasher, storage, logger)
	authService, err := auth.NewService(auth.Config{}, tokenManager, userService)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	ledger := commission.NewLedger(commission.Config{Rules: rules, ConfirmationWindow: c.ConfirmationWindow}, storage, logger)
	withdrawals, err := withdrawal.NewManager(withdrawal.Config{FeeRate: c.FeeRate}, storage, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating withdrawal manager. Err: %w", err)
	}

	if err := userService.GrantOperators(ctx, c.Operators); err != nil {
		pool.Close()
		return nil, err
	}

	mux := handlers.NewRouter(
		authService,
		userService,
		ledger,
		withdrawals,
		c.GatewayToken,
		logger,
	)

	return &ServerApp{
		listenAddr: c.ListenAddr,
		handler:    mux,
		confirmer:  confirmer.New(c.ConfirmInterval, ledger, logger),
		pool:       pool,
		logger:     logger,
	}, nil
}

// Run starts http server and confirmer; stops both gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.listenAddr,
		Handler: s.handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.listenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(timeoutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
			return httpServer.Close()
		}
		s.logger.Info("HTTP server stopped")
		return err
	})

	g.Go(func() error {
		<-s.confirmer.Run(gctx)
		return nil
	})

	return g.Wait()
}

func (s *ServerApp) Close() {
	s.pool.Close()
}
