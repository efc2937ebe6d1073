package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/listing-enrich/internal/batch"
	"github.com/sells-group/listing-enrich/internal/ingest"
	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/processor"
	"github.com/sells-group/listing-enrich/internal/server"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Geocode and enrich a listing workbook",
	Long:  "Reads an .xlsx or .csv listing file, resolves every address, and writes <name>-enriched.xlsx. Ctrl-C stops after in-flight lookups finish and keeps a resumable snapshot.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var o enrichOptions
		o.Input, _ = cmd.Flags().GetString("input")
		o.Output, _ = cmd.Flags().GetString("output")
		o.Sheet, _ = cmd.Flags().GetString("sheet")
		o.Limit, _ = cmd.Flags().GetInt("limit")
		o.Owner, _ = cmd.Flags().GetString("owner")
		o.StatusAddr, _ = cmd.Flags().GetString("status-addr")
		o.Resume, _ = cmd.Flags().GetBool("resume")
		o.Fresh, _ = cmd.Flags().GetBool("fresh")
		o.DryRun, _ = cmd.Flags().GetBool("dry-run")
		return runEnrich(ctx, os.Stdout, o)
	},
}

// enrichOptions are the per-invocation settings of enrich and recover resume.
type enrichOptions struct {
	Input      string
	Output     string
	Sheet      string
	Limit      int
	Owner      string
	StatusAddr string
	Resume     bool
	Fresh      bool
	DryRun     bool
}

func runEnrich(ctx context.Context, w io.Writer, o enrichOptions) error {
	if o.Resume && o.Fresh {
		return eris.New("enrich: --resume and --fresh are mutually exclusive")
	}

	ds, err := ingest.ReadFile(ctx, o.Input, ingest.Options{SheetName: o.Sheet, Limit: o.Limit})
	if err != nil {
		return err
	}
	if err := ds.Validate(); err != nil {
		return err
	}

	if !o.DryRun {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	env, err := initEnv(ctx, cfg, envOptions{Owner: o.Owner, OutputDir: o.Output, SkipSinks: o.DryRun})
	if err != nil {
		return err
	}
	defer env.Close()
	p := env.Processor

	if o.DryRun {
		return writePlan(w, ds, p.Configure(len(ds.Records)))
	}

	snap, err := p.CheckForSnapshot(ctx)
	if err != nil {
		return err
	}
	switch {
	case snap != nil && o.Fresh:
		zap.L().Info("discarding previous snapshot", zap.String("run_id", snap.RunID))
		if err := p.Discard(ctx); err != nil {
			return err
		}
		snap = nil
	case snap != nil && !o.Resume:
		return eris.Errorf("enrich: an unfinished run of %s exists (%d/%d records, saved %s); rerun with --resume or --fresh",
			snap.Filename, snap.Cursor, snap.TotalRecords, snap.SavedAt.Format(time.RFC3339))
	case snap == nil && o.Resume:
		zap.L().Info("no snapshot to resume, starting a new run")
	}

	addr := o.StatusAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if addr != "" {
		srvCtx, cancelSrv := context.WithCancel(ctx)
		defer cancelSrv()
		go func() {
			if err := server.ListenAndServe(srvCtx, addr, server.NewRouter(p)); err != nil {
				zap.L().Error("status server failed", zap.Error(err))
			}
		}()
	}

	go logProgress(p.Subscribe(16))

	var out *processor.Outcome
	if snap != nil {
		out, err = p.Resume(ctx, ds, snap)
	} else {
		out, err = p.Start(ctx, ds, p.Configure(len(ds.Records)))
	}
	if out != nil {
		writeSummary(w, out, len(ds.Records))
	}
	return err
}

// logProgress logs per-batch progress until the channel closes.
func logProgress(ch <-chan batch.Progress) {
	for ev := range ch {
		if ev.Done || ev.Stopped {
			continue
		}
		zap.L().Info("progress",
			zap.Int("batch", ev.Batch),
			zap.Int("batches", ev.Batches),
			zap.Int("processed", ev.Cursor),
			zap.Int("total", ev.Stats.Total),
			zap.Int("failed", ev.Stats.Failed),
			zap.Float64("throughput", ev.Stats.Throughput),
			zap.Duration("eta", ev.Stats.ETA.Round(time.Second)),
		)
	}
}

type plan struct {
	File    string                `yaml:"file"`
	Records int                   `yaml:"records"`
	Columns model.DetectedColumns `yaml:"columns"`
	Config  model.BatchConfig     `yaml:"config"`
}

// writePlan prints what a run would do without calling any provider.
func writePlan(w io.Writer, ds *ingest.Dataset, bc model.BatchConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plan{File: ds.Filename, Records: len(ds.Records), Columns: ds.Columns, Config: bc}); err != nil {
		return eris.Wrap(err, "enrich: write plan")
	}
	return enc.Close()
}

// writeSummary prints the outcome of a run.
func writeSummary(w io.Writer, out *processor.Outcome, total int) {
	s := out.Stats
	_, _ = fmt.Fprintf(w, "Run %s (%s tier)\n", out.RunID, out.Config.Tier)
	_, _ = fmt.Fprintf(w, "  processed:  %d/%d\n", out.Cursor, total)
	_, _ = fmt.Fprintf(w, "  succeeded:  %d (%.1f%%)\n", s.Succeeded, s.SuccessRate*100)
	_, _ = fmt.Fprintf(w, "  failed:     %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  cache hits: %d\n", s.CacheHits)
	_, _ = fmt.Fprintf(w, "  duration:   %s\n", s.ProcessingTime.Round(time.Second))
	if out.Stopped {
		_, _ = fmt.Fprintln(w, "  stopped; rerun with --resume to continue")
		return
	}
	if out.Persisted != nil {
		_, _ = fmt.Fprintf(w, "  output:     %s\n", out.Persisted.Location)
	}
}

func init() {
	enrichCmd.Flags().String("input", "", "listing file (.xlsx or .csv)")
	enrichCmd.Flags().String("output", "", "output directory (default from config)")
	enrichCmd.Flags().String("sheet", "", "worksheet name (default first sheet)")
	enrichCmd.Flags().Int("limit", 0, "process at most N rows (0 = all)")
	enrichCmd.Flags().String("owner", "", "owner recorded with the run")
	enrichCmd.Flags().String("status-addr", "", "serve run status on this address, e.g. :8080")
	enrichCmd.Flags().Bool("resume", false, "resume an unfinished run of this file")
	enrichCmd.Flags().Bool("fresh", false, "discard any unfinished run and start over")
	enrichCmd.Flags().Bool("dry-run", false, "print detected columns and batch config, then exit")
	_ = enrichCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enrichCmd)
}
