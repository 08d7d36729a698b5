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

	"forum/config"
	"forum/internal/handlers"
	"forum/internal/svc"
	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg       *config.Config
	tokenRole string
	tokenTTL  time.Duration

	rootCmd = &cobra.Command{
		Use:   "forum",
		Short: "Threaded discussion forum server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			utils.InitLogger(cfg.AppEnv)
			return nil
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	recountCmd = &cobra.Command{
		Use:   "recount [topic id...]",
		Short: "Recompute reply counters from the stored comments",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRecount,
	}

	tokenCmd = &cobra.Command{
		Use:   "token [user id]",
		Short: "Sign a bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := utils.GenerateToken(cfg, args[0], tokenRole, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "role claim, e.g. moderator")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(serveCmd, recountCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	defer zap.L().Sync()

	sc, err := svc.NewServiceContext(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sc.Consumer != nil {
		if err := sc.Consumer.Start(ctx); err != nil {
			zap.L().Warn("repair consumer not started", zap.Error(err))
		}
	}

	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handlers.NewRouter(sc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server starting", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		zap.L().Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// WebSocket streams are hijacked and end when sc.Close closes the reconciler.
	return srv.Shutdown(shutdownCtx)
}

func runRecount(cmd *cobra.Command, args []string) error {
	sc, err := svc.NewServiceContext(cfg)
	if err != nil {
		return err
	}
	defer sc.Close()

	for _, id := range args {
		stored, actual, err := sc.Counter.Drift(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("topic %s: %w", id, err)
		}
		if stored == actual {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\tok\n", id, actual)
			continue
		}
		n, err := sc.Counter.Recount(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("topic %s: %w", id, err)
		}
		sc.Topics.Invalidate(cmd.Context(), id)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\tfixed (was %d)\n", id, n, stored)
	}
	return nil
}
