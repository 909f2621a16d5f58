package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"convertd/internal/api"
	"convertd/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts per type and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open()
			if err != nil {
				return err
			}
			stats, err := api.NewQueueService(s.queue).Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, stats)
			}
			statuses := queue.AllStatuses()
			headers := []string{"Type"}
			aligns := []columnAlignment{alignLeft}
			for _, status := range statuses {
				headers = append(headers, label(string(status)))
				aligns = append(aligns, alignRight)
			}
			var rows [][]string
			for _, jobType := range []queue.Type{queue.TypeConversion, queue.TypeScheduledTrigger, queue.TypeNotification} {
				row := []string{label(string(jobType))}
				for _, status := range statuses {
					row = append(row, strconv.Itoa(stats[string(jobType)][string(status)]))
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	var typeFlag string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List jobs that exhausted their attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobType queue.Type
			if strings.TrimSpace(typeFlag) != "" {
				parsed, ok := queue.ParseType(typeFlag)
				if !ok {
					return fmt.Errorf("unknown job type %q", typeFlag)
				}
				jobType = parsed
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			jobs, err := api.NewQueueService(s.queue).Dead(cmd.Context(), jobType, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No dead jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					label(job.Type),
					fmt.Sprintf("%d/%d", job.AttemptsMade, job.MaxAttempts),
					job.FinishedAt,
					job.LastError,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Type", "Attempts", "Finished", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeFlag, "type", "t", "", "Only show jobs of this type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Move dead jobs back to waiting with a fresh attempt budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.open()
			if err != nil {
				return err
			}
			count, err := s.queue.RetryDead(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", count)
			return nil
		},
	}
}
