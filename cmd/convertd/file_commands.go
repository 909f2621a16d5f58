package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"convertd/internal/api"
	"convertd/internal/dispatch"
	"convertd/internal/notifications"
	"convertd/internal/records"
)

func newFileCommand(ctx *commandContext) *cobra.Command {
	fileCmd := &cobra.Command{
		Use:   "file",
		Short: "Upload and list source files",
	}
	fileCmd.AddCommand(newFileAddCommand(ctx))
	fileCmd.AddCommand(newFileListCommand(ctx))
	return fileCmd
}

func newFileAddCommand(ctx *commandContext) *cobra.Command {
	var format string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Upload a local file to the object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			src, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(src)
			if err != nil {
				return fmt.Errorf("stat %s: %w", args[0], err)
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory", args[0])
			}
			name := filepath.Base(src)
			fileFormat := dispatch.NormalizeFormat(format)
			if fileFormat == "" {
				fileFormat = api.FormatFromName(name)
			}
			if fileFormat == "" {
				return fmt.Errorf("cannot infer the format of %s; pass --format", name)
			}

			s, err := ctx.open()
			if err != nil {
				return err
			}
			key := api.FileKey(account, name)
			size, err := s.objects.Put(cmd.Context(), key, src, dispatch.ContentType(fileFormat, src))
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			file := &records.SourceFile{AccountID: account, Key: key, Format: fileFormat, Name: name, Size: size}
			if err := s.records.CreateSourceFile(cmd.Context(), file); err != nil {
				_ = s.objects.Delete(cmd.Context(), key)
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, file)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added file %s (%s, %s)\n", file.ID, fileFormat, notifications.FormatBytes(size))
			if targets := dispatch.TargetsFor(fileFormat); len(targets) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Convertible to: %s\n", strings.Join(targets, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Source format when the extension is missing or misleading")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newFileListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := ctx.requireAccount()
			if err != nil {
				return err
			}
			s, err := ctx.open()
			if err != nil {
				return err
			}
			files, err := s.records.ListSourceFiles(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				if files == nil {
					files = []*records.SourceFile{}
				}
				return writeJSON(cmd, files)
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "No files")
				return nil
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				rows = append(rows, []string{f.ID, f.Name, f.Format, notifications.FormatBytes(f.Size), formatWhen(&f.CreatedAt)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Name", "Format", "Size", "Added"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of files")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
