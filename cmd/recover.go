package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/listing-enrich/internal/model"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Inspect, resume, export or discard an unfinished run",
}

// -- recover status --

var recoverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the unfinished run, if any",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, envOptions{SkipSinks: true})
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Processor.CheckForSnapshot(ctx)
		if err != nil {
			return err
		}
		if snap == nil {
			fmt.Fprintln(os.Stderr, "No unfinished run.")
			return nil
		}
		formatSnapshot(os.Stdout, snap, time.Now())
		return nil
	},
}

// -- recover resume --

var recoverResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the unfinished run against its input file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var o enrichOptions
		o.Input, _ = cmd.Flags().GetString("input")
		o.Output, _ = cmd.Flags().GetString("output")
		o.Sheet, _ = cmd.Flags().GetString("sheet")
		o.StatusAddr, _ = cmd.Flags().GetString("status-addr")
		o.Resume = true
		return runEnrich(ctx, os.Stdout, o)
	},
}

// -- recover export --

var recoverExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the completed part of the unfinished run to a workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, envOptions{SkipSinks: true})
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Processor.CheckForSnapshot(ctx)
		if err != nil {
			return err
		}
		if snap == nil {
			return eris.New("recover export: no unfinished run")
		}

		dir, _ := cmd.Flags().GetString("output")
		if dir == "" {
			dir = cfg.Sink.OutputDir
		}
		res, err := env.Processor.ExportPartial(ctx, snap, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Exported %d rows to %s\n", res.Rows, res.Location)
		return nil
	},
}

// -- recover discard --

var recoverDiscardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Delete the unfinished run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, envOptions{SkipSinks: true})
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Processor.Discard(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Snapshot discarded.")
		return nil
	},
}

func init() {
	recoverResumeCmd.Flags().String("input", "", "the listing file the run was started with")
	recoverResumeCmd.Flags().String("output", "", "output directory (default from config)")
	recoverResumeCmd.Flags().String("sheet", "", "worksheet name (default first sheet)")
	recoverResumeCmd.Flags().String("status-addr", "", "serve run status on this address")
	_ = recoverResumeCmd.MarkFlagRequired("input")

	recoverExportCmd.Flags().String("output", "", "output directory (default from config)")

	recoverCmd.AddCommand(recoverStatusCmd)
	recoverCmd.AddCommand(recoverResumeCmd)
	recoverCmd.AddCommand(recoverExportCmd)
	recoverCmd.AddCommand(recoverDiscardCmd)
	rootCmd.AddCommand(recoverCmd)
}

// formatSnapshot writes a snapshot summary to out.
func formatSnapshot(out io.Writer, snap *model.Snapshot, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "RUN\t%s\n", snap.RunID)
	_, _ = fmt.Fprintf(w, "FILE\t%s\n", snap.Filename)
	if snap.Owner != "" {
		_, _ = fmt.Fprintf(w, "OWNER\t%s\n", snap.Owner)
	}
	_, _ = fmt.Fprintf(w, "PROGRESS\t%d/%d\n", snap.Cursor, snap.TotalRecords)
	_, _ = fmt.Fprintf(w, "SUCCEEDED\t%d\n", snap.Stats.Succeeded)
	_, _ = fmt.Fprintf(w, "FAILED\t%d\n", snap.Stats.Failed)
	_, _ = fmt.Fprintf(w, "TIER\t%s\n", snap.Config.Tier)
	_, _ = fmt.Fprintf(w, "SAVED\t%s (%s ago)\n", snap.SavedAt.Format(time.RFC3339), snap.Age(now).Round(time.Second))
	_ = w.Flush()
}
