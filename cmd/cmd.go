package cmd

import (
	"context"
	"fmt"
	"os"

	"click-backend/internal/config"
	"click-backend/internal/repository"
	"click-backend/internal/services"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command
type RootOptions struct {
	ConfigPath string
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand creates the click command tree
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "click",
		Short:        "Click backend",
		Long:         "Daily pairing, connections and chat for the Click app.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log.Level)
	return cfg, nil
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// stores is the entity store selected by store.driver
type stores struct {
	users           services.UserStore
	connections     services.ConnectionStore
	messages        services.MessageStore
	reconciliations services.ReconciliationStore
	close           func()
}

func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info().Msg("Database connection established")
	return db, nil
}

// openStores builds the entity store. Messages and reconciliation records
// live in PostgreSQL for both the postgres and dynamodb drivers.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			users:           mem.Users(),
			connections:     mem.Connections(),
			messages:        mem.Messages(),
			reconciliations: mem.Reconciliations(),
			close:           func() {},
		}, nil
	}

	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &stores{
		users:           repository.NewUserRepository(db),
		connections:     repository.NewConnectionRepository(db),
		messages:        repository.NewMessageRepository(db),
		reconciliations: repository.NewReconciliationRepository(db),
		close:           db.Close,
	}

	if cfg.Store.Driver == config.DriverDynamoDB {
		client, err := repository.NewDynamoClient(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.users = repository.NewDynamoUserRepository(client, cfg.DynamoDB.UsersTable)
		s.connections = repository.NewDynamoConnectionRepository(client, cfg.DynamoDB.ConnectionsTable)
		log.Info().
			Str("users_table", cfg.DynamoDB.UsersTable).
			Str("connections_table", cfg.DynamoDB.ConnectionsTable).
			Msg("Users and connections stored in DynamoDB")
	}
	return s, nil
}
