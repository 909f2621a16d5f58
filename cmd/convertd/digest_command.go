package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"convertd/internal/notifications"
)

func newDigestCommand(ctx *commandContext) *cobra.Command {
	var email string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Queue the weekly activity digest for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			recipient := strings.TrimSpace(email)
			if recipient == "" {
				return fmt.Errorf("--email is required")
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			jobID, digest, err := notifications.SendDigest(cmd.Context(), s.records, ctx.notifier(s), account, recipient, time.Now())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{"jobId": jobID, "digest": digest})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queued digest for %s (job %s)\n", recipient, jobID)
			fmt.Fprintf(out, "Conversions: %d (%d succeeded, %d failed)\n", digest.Total, digest.Succeeded, digest.Failed)
			fmt.Fprintf(out, "Storage used: %s\n", digest.StorageUsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Recipient address")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
