package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/enrich"
	"curator/internal/queue"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var priority int
	var forceRefresh bool
	var requireComplete bool

	cmd := &cobra.Command{
		Use:   "enrich <entity-id>",
		Short: "Queue an enrichment run for a library entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q", args[0])
			}
			return ctx.withDB(func(cfg *config.Config, db *sql.DB) error {
				payload, err := json.Marshal(enrich.EnrichmentConfig{
					EntityID:        entityID,
					Manual:          true,
					ForceRefresh:    forceRefresh,
					RequireComplete: requireComplete,
				})
				if err != nil {
					return fmt.Errorf("encode job payload: %w", err)
				}
				job, err := queue.NewStore(db).Enqueue(cmd.Context(), queue.KindEnrichment, payload, queue.EnqueueOptions{
					Priority:    priority,
					MaxAttempts: cfg.Queue.MaxAttempts,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued enrichment job %d for entity %d\n", job.ID, entityID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", queue.PriorityDefault, "Job priority (1 highest, 10 lowest)")
	cmd.Flags().BoolVar(&forceRefresh, "force", false, "Re-fetch metadata even if the entity was already enriched")
	cmd.Flags().BoolVar(&requireComplete, "require-complete", false, "Fail the run when a provider rate limit blocks the metadata refresh")
	return cmd
}
