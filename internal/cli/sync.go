package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/reconcile"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Range        string // "A:B"; empty means list and diff
	Attempts     int
	DownloadOnly bool
}

// SyncResult is the outcome of one sync command.
type SyncResult struct {
	Cycle      string   `json:"cycle"`
	State      string   `json:"state"`
	Listed     int      `json:"listed"`
	Downloaded []string `json:"downloaded"`
	ArchiveDir string   `json:"archive_dir,omitempty"`

	// Catch-up counts; zero with --download-only.
	Records   int `json:"records"`
	Covered   int `json:"covered"`
	Published int `json:"published"`
}

func (r SyncResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync %s: %s\n", r.Cycle, r.State)
	fmt.Fprintf(&b, "  listed:     %d\n", r.Listed)
	fmt.Fprintf(&b, "  downloaded: %d", len(r.Downloaded))
	for _, name := range r.Downloaded {
		fmt.Fprintf(&b, "\n    %s", name)
	}
	if r.ArchiveDir != "" {
		fmt.Fprintf(&b, "\n  card reset, local files moved to %s", r.ArchiveDir)
	}
	fmt.Fprintf(&b, "\n  published:  %d of %d records (%d already stored)", r.Published, r.Records, r.Covered)
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one card sync and catch up the store",
		Long: `Drive the logger's menu once: list its card, download the files missing
locally, then publish downloaded records newer than the store's latest.

With --range the listing is skipped and dataLogFIRST..dataLogLAST are
fetched directly, each retried up to --attempts times. Use this on links
too poor to return a clean listing.

Exit codes:
  0 - Sync and catch-up completed
  1 - Sync failed or catch-up stopped early
  2 - Command error (bad flags, config, device or store unavailable)

Examples:
  tidewatch sync
  tidewatch sync --range 120:131 --attempts 10
  tidewatch sync --download-only --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Range, "range", "", "fetch files FIRST:LAST without listing")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 5, "tries per file with --range")
	cmd.Flags().BoolVar(&opts.DownloadOnly, "download-only", false, "skip the catch-up pass")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var rng *archive.Range
	if opts.Range != "" {
		r, err := archive.ParseRange(opts.Range)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeUsage, "invalid --range", err)
		}
		r.Attempts = opts.Attempts
		rng = &r
	}

	logger := setupLogging(cmd.ErrOrStderr(), opts.RootOptions)
	g, err := opts.openGateway(formatter, logger)
	if err != nil {
		return err
	}
	defer g.close()

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	con, err := opts.openConsole(ctx, g)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeDevice, "failed to open device", err)
	}
	defer con.Close()

	syncer := g.newSyncer(con, opts.launcher(g))
	var res archive.Result
	if rng != nil {
		res, err = syncer.SyncRange(ctx, *rng)
	} else {
		res, err = syncer.Sync(ctx)
	}
	result := SyncResult{
		Cycle:      res.Cycle,
		State:      res.State,
		Listed:     len(res.Listing),
		Downloaded: res.Downloaded,
		ArchiveDir: res.ArchiveDir,
	}
	if result.Downloaded == nil {
		result.Downloaded = []string{}
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSync, "sync failed", err)
	}

	if !opts.DownloadOnly {
		r := reconcile.New(g.sink, g.fs, observation.NewCodec(g.loc),
			reconcile.WithSlack(g.cfg.Anchor.Slack),
			reconcile.WithLogger(logger),
		)
		rep, err := r.CatchUp(ctx, reconcile.RemoteFiles{Fs: g.fs, Dir: g.cfg.Dirs.Downloaded})
		result.Records, result.Covered, result.Published = rep.Records, rep.Covered, rep.Published
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeCatchUp, "catch-up stopped", err)
		}
	}

	return formatter.Success(result)
}
