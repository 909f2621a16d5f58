package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"convertd/internal/conversion"
	"convertd/internal/records"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var quality int
	var resolution string
	var notify string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "convert <file-id> <format>",
		Short: "Submit a conversion of an uploaded file",
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
			conv, err := ctx.submitter(s).Submit(cmd.Context(), conversion.Request{
				AccountID:     account,
				FileID:        args[0],
				TargetFormat:  args[1],
				Options:       records.Options{Quality: quality, Resolution: resolution},
				NotifyAddress: strings.TrimSpace(notify),
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, conv)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued conversion %s (%s -> %s, job %s)\n",
				conv.ID, conv.SourceFormat, conv.TargetFormat, conv.JobID)
			return nil
		},
	}

	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "Output quality between 1 and 100")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "Target resolution as WIDTHxHEIGHT")
	cmd.Flags().StringVar(&notify, "notify", "", "Email address to notify when finished")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConversionCommand(ctx *commandContext) *cobra.Command {
	conversionCmd := &cobra.Command{
		Use:   "conversion",
		Short: "Inspect and manage conversions",
	}
	conversionCmd.AddCommand(newConversionListCommand(ctx))
	conversionCmd.AddCommand(newConversionShowCommand(ctx))
	conversionCmd.AddCommand(newConversionCancelCommand(ctx))
	return conversionCmd
}

func newConversionListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversions for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			filter := records.ConversionFilter{AccountID: account, Limit: limit}
			if strings.TrimSpace(statusFlag) != "" {
				status, ok := records.ParseConversionStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filter.Status = status
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			list, err := s.records.ListConversions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				if list == nil {
					list = []*records.Conversion{}
				}
				return writeJSON(cmd, list)
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No conversions")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, conv := range list {
				rows = append(rows, []string{
					conv.ID,
					label(string(conv.Status)),
					conv.SourceFormat + " -> " + conv.TargetFormat,
					strconv.Itoa(conv.Attempt),
					formatWhen(&conv.CreatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Status", "Conversion", "Attempt", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&statusFlag, "status", "s", "", "Only show conversions in this status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of conversions")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConversionShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <conversion-id>",
		Short: "Show a conversion in detail",
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
			conv, err := s.records.GetConversionForAccount(cmd.Context(), account, args[0])
			if err != nil {
				if errors.Is(err, records.ErrNotFound) {
					return fmt.Errorf("conversion %s not found", args[0])
				}
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, conv)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", conv.ID)
			fmt.Fprintf(out, "Status:    %s\n", label(string(conv.Status)))
			fmt.Fprintf(out, "File:      %s\n", conv.FileID)
			fmt.Fprintf(out, "Formats:   %s -> %s\n", conv.SourceFormat, conv.TargetFormat)
			fmt.Fprintf(out, "Output:    %s\n", conv.OutputKey)
			fmt.Fprintf(out, "Attempt:   %d\n", conv.Attempt)
			fmt.Fprintf(out, "Progress:  %d%%\n", conv.Progress)
			fmt.Fprintf(out, "Created:   %s\n", formatWhen(&conv.CreatedAt))
			fmt.Fprintf(out, "Started:   %s\n", formatWhen(conv.StartedAt))
			fmt.Fprintf(out, "Completed: %s\n", formatWhen(conv.CompletedAt))
			if conv.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     %s\n", conv.ErrorMessage)
			} else if conv.LastAttemptError != "" {
				fmt.Fprintf(out, "Last error: %s\n", conv.LastAttemptError)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newConversionCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <conversion-id>",
		Short: "Cancel a pending conversion",
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
			cancelled, err := ctx.submitter(s).Cancel(cmd.Context(), account, args[0])
			if err != nil {
				return err
			}
			if !cancelled {
				return fmt.Errorf("conversion %s is no longer pending", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled conversion %s\n", args[0])
			return nil
		},
	}
}
