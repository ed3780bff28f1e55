package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/config"
	"curator/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var showHistory bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *sql.DB) error {
				store := queue.NewStore(db)

				var jobs []*queue.Job
				var err error
				if showHistory {
					jobs, err = store.History(cmd.Context(), 50)
				} else {
					var statuses []queue.Status
					for _, value := range listStatuses {
						status, ok := queue.ParseStatus(value)
						if !ok {
							return fmt.Errorf("unknown status %q", value)
						}
						statuses = append(statuses, status)
					}
					jobs, err = store.List(cmd.Context(), statuses...)
				}
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Kind),
						strconv.Itoa(job.Priority),
						string(job.Status),
						fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts),
						job.CreatedAt.Local().Format(time.DateTime),
						job.Error,
					})
				}
				out := renderTable(
					[]string{"ID", "Kind", "Priority", "Status", "Attempts", "Created", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, processing, retrying, ...)")
	cmd.Flags().BoolVar(&showHistory, "history", false, "Show archived jobs instead of the active queue")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Requeue failed jobs; with no arguments, retries all",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withDB(func(cfg *config.Config, db *sql.DB) error {
				requeued, err := queue.NewStore(db).RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", requeued)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove archived jobs from the history",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := queue.ParseStatus(statusFlag)
			if !ok || !status.Terminal() {
				return fmt.Errorf("status must be completed or failed, got %q", statusFlag)
			}
			return ctx.withDB(func(cfg *config.Config, db *sql.DB) error {
				cleared, err := queue.NewStore(db).ClearHistory(cmd.Context(), status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job(s)\n", cleared)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", string(queue.StatusCompleted), "History status to clear (completed or failed)")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue counts per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(func(cfg *config.Config, db *sql.DB) error {
				stats, err := queue.NewStore(db).Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"pending", strconv.Itoa(stats.Pending)},
					{"processing", strconv.Itoa(stats.Processing)},
					{"retrying", strconv.Itoa(stats.Retrying)},
					{"completed", strconv.Itoa(stats.Completed)},
					{"failed", strconv.Itoa(stats.Failed)},
					{"total", strconv.Itoa(stats.Total)},
				}
				out := renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}
