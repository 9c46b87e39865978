package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"click-backend/internal/config"
	"click-backend/internal/models"
	"click-backend/internal/repository"
	"click-backend/internal/services"

	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command group. Records are
// written when a multi-record write failed and its rollback failed too.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and resolve half-applied writes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List unresolved reconciliation records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReconciliations(cmd.Context(), opts, func(store services.ReconciliationStore) error {
				records, err := store.ListUnresolved(cmd.Context())
				if err != nil {
					return err
				}
				return printReconciliations(cmd.OutOrStdout(), records)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a reconciliation record as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReconciliations(cmd.Context(), opts, func(store services.ReconciliationStore) error {
				err := store.Resolve(cmd.Context(), args[0], time.Now().UTC())
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("no unresolved record %s", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withReconciliations(ctx context.Context, opts *RootOptions, fn func(services.ReconciliationStore) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("the memory store does not keep reconciliation records between runs")
	}
	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(repository.NewReconciliationRepository(db))
}

func printReconciliations(w io.Writer, records []*models.Reconciliation) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no unresolved records")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tUSERS\tCONNECTION\tCREATED\tDETAIL")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID, rec.Operation, strings.Join(rec.UserIDs, ","), rec.ConnectionID,
			rec.CreatedAt.Format(time.RFC3339), rec.Detail)
	}
	return tw.Flush()
}
