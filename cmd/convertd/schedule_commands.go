package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convertd/internal/records"
	"convertd/internal/scheduling"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring conversions",
	}
	scheduleCmd.AddCommand(newScheduleAddCommand(ctx))
	scheduleCmd.AddCommand(newScheduleListCommand(ctx))
	scheduleCmd.AddCommand(newScheduleRemoveCommand(ctx))
	scheduleCmd.AddCommand(newScheduleActiveCommand(ctx, "pause", "Stop a schedule from firing", false))
	scheduleCmd.AddCommand(newScheduleActiveCommand(ctx, "resume", "Let a paused schedule fire again", true))
	return scheduleCmd
}

func newScheduleAddCommand(ctx *commandContext) *cobra.Command {
	var name string
	var cronExpr string
	var quality int
	var resolution string
	var notify string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "add <file-id> <format>",
		Short: "Convert a file on a recurring schedule",
		Long:  "Schedules accept DAILY, WEEKLY, MONTHLY or a five-field cron expression evaluated in UTC.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			job, err := ctx.schedules(s).Create(cmd.Context(), scheduling.CreateRequest{
				AccountID:     account,
				FileID:        args[0],
				Name:          name,
				TargetFormat:  args[1],
				Schedule:      cronExpr,
				Options:       records.Options{Quality: quality, Resolution: resolution},
				NotifyAddress: notify,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created schedule %s (%s, cron %q)\n", job.ID, job.Name, job.Cron)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Schedule name")
	cmd.Flags().StringVar(&cronExpr, "cron", "DAILY", "DAILY, WEEKLY, MONTHLY or a cron expression")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "Output quality between 1 and 100")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "Target resolution as WIDTHxHEIGHT")
	cmd.Flags().StringVar(&notify, "notify", "", "Email address to notify on each run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newScheduleListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			jobs, err := ctx.schedules(s).List(cmd.Context(), account)
			if err != nil {
				return err
			}
			if jsonOutput {
				if jobs == nil {
					jobs = []*records.ScheduledJob{}
				}
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No schedules")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID, job.Name, job.TargetFormat, job.Cron, yesNo(job.Active), formatWhen(job.LastRunAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Format", "Cron", "Active", "Last Run"},
				rows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newScheduleRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <schedule-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule and its trigger",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			if err := ctx.schedules(s).Delete(cmd.Context(), account, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed schedule %s\n", args[0])
			return nil
		},
	}
}

func newScheduleActiveCommand(ctx *commandContext, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <schedule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			job, err := ctx.schedules(s).SetActive(cmd.Context(), account, args[0], active)
			if err != nil {
				return err
			}
			state := "paused"
			if job.Active {
				state = "active"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %s is %s\n", job.ID, state)
			return nil
		},
	}
}
