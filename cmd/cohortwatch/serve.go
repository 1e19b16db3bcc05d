package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/cohortwatch/internal/api"
	"github.com/rpattn/cohortwatch/internal/db"
	"github.com/rpattn/cohortwatch/internal/ingestion"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		migrate bool
		offline string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search, detail, leaderboard and crawl endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrate, offline)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	cmd.Flags().StringVar(&offline, "offline", "", "serve uploaded crawls from a directory of saved html")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool, offline string) error {
	if migrate {
		if err := db.RunMigrations(a.cfg.Database, db.Up, a.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	s, err := openPostgres(ctx, a.cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	fetcher, err := a.fetcher(offline)
	if err != nil {
		return fmt.Errorf("failed to load offline pages: %w", err)
	}
	crawl := ingestion.NewHTTPHandler(s.orchestrator(a, fetcher, "upload"), a.cfg.Crawl.BaseURL)

	router := api.NewRouter(api.Options{
		Query:          s.queryService(),
		Entities:       s.entities,
		Crawl:          crawl,
		DB:             s.conn.Pool,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Logger:         a.logger.Named("http"),
	})

	// Uploaded crawls run synchronously, hence the long write timeout.
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	a.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server exited")
	return nil
}
