package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/exoxegroup/eng-ai/internal/http"
	"github.com/exoxegroup/eng-ai/internal/http/handlers"
	"github.com/exoxegroup/eng-ai/internal/observability"
	"github.com/exoxegroup/eng-ai/internal/sysutil"
)

var (
	resyncEvery   time.Duration
	shutdownGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the HTTP API together with its background jobs: the expired-code
sweeper and the periodic push of locally mirrored sessions to the store.
SIGINT or SIGTERM drains in-flight requests before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&resyncEvery, "resync-every", 5*time.Minute, "interval between mirror resync and termination recovery passes (0 disables)")
	serveCmd.Flags().DurationVar(&shutdownGrace, "shutdown-grace", 15*time.Second, "time allowed for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion, a.db)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	h := handlers.New(handlers.Deps{
		DB:              a.db,
		Conversations:   a.conversations,
		Sessions:        a.sessions,
		Verification:    a.gate,
		Analytics:       a.analytics,
		Mirror:          a.mirror,
		Tokens:          a.tokens,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		MaxMessageRunes: cfg.MaxMessageRunes,
		WSOrigins:       cfg.CORS.AllowedOrigins,
	})
	r := gin.New()
	httpapi.RegisterRoutes(r, a.db, h, a.tokens, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      turnWriteTimeout(cfg.WriteTimeout, cfg.Oracle.Timeout),
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", appVersion).Str("store", cfg.Store.Driver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return ignoreCanceled(a.gate.Run(gctx))
	})
	if resyncEvery > 0 {
		g.Go(func() error {
			return ignoreCanceled(resyncLoop(gctx, a, resyncEvery))
		})
	}
	return g.Wait()
}

// turnWriteTimeout stretches the configured write timeout so a turn that
// streams a reply and then synthesizes a report can still answer.
func turnWriteTimeout(configured, oracle time.Duration) time.Duration {
	return max(configured, 2*oracle+10*time.Second)
}

func resyncLoop(ctx context.Context, a *app, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n, err := a.conversations.RecoverTerminations(ctx); err != nil {
				log.Warn().Err(err).Msg("termination recovery")
			} else if n > 0 {
				log.Info().Int("recovered", n).Msg("termination recovery")
			}
			n, err := a.conversations.ResyncMirror(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("mirror resync")
				continue
			}
			if n > 0 {
				log.Info().Int("synced", n).Msg("mirror resync")
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
