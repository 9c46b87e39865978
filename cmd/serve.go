package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"click-backend/internal/config"
	"click-backend/internal/handlers"
	"click-backend/internal/middleware"
	"click-backend/internal/repository"
	"click-backend/internal/services"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, migrate bool) error {
	if migrate && cfg.Store.Driver != config.DriverMemory {
		if err := applyMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	router, hub, err := buildRouter(ctx, cfg, st)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("store", cfg.Store.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		hub.Close()
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
	return nil
}

// buildRouter wires services and handlers on top of the selected store
func buildRouter(ctx context.Context, cfg *config.Config, st *stores) (http.Handler, *services.WSHub, error) {
	var offline services.Notifier
	if cfg.APNS.CertificatePath != "" {
		client, err := services.NewAPNSClient(cfg.APNS)
		if err != nil {
			return nil, nil, err
		}
		offline = services.NewPushNotifier(st.users, client, cfg.APNS.Topic)
		log.Info().Bool("production", cfg.APNS.Production).Msg("APNs push enabled")
	}
	hub := services.NewWSHub(offline)

	lifecycle := services.NewConnectionLifecycle(st.users, st.connections, st.messages, hub)
	gate := services.NewChatGate(st.users, st.connections, hub, cfg.Pairing.PresenceWindow)
	userService := services.NewUserService(st.users, lifecycle, cfg.JWT.Secret)

	var mediaService *services.MediaService
	if cfg.AWS.S3Bucket != "" {
		presigner, err := services.NewS3Presigner(ctx, cfg.AWS)
		if err != nil {
			return nil, nil, err
		}
		mediaService = services.NewMediaService(lifecycle, gate, presigner, cfg.AWS.S3Bucket)
	} else {
		log.Warn().Msg("aws.s3_bucket not set; attachment uploads disabled")
	}

	router := handlers.NewRouter(handlers.Dependencies{
		Users:       userService,
		Pairing:     services.NewPairingService(st.users, lifecycle, gate, st.reconciliations, hub, cfg.Pairing),
		Connections: services.NewConnectionService(st.users, st.connections, lifecycle, st.reconciliations, hub, cfg.Pairing.ConnectionTTL),
		Chat:        services.NewChatService(lifecycle, st.messages, gate, hub, cfg.Chat),
		Media:       mediaService,
		Hub:         hub,
		PollLimiter: middleware.NewRateLimiter(cfg.RateLimit.PollPerMinute, cfg.RateLimit.Burst, 10*time.Minute),
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	return router, hub, nil
}

func applyMigrations(ctx context.Context, cfg *config.Config) error {
	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := repository.Migrate(ctx, db)
	if err != nil {
		return err
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("Applied migration")
	}
	return nil
}
