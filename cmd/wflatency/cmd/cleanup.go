package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/report"
	"github.com/psantana5/wflatency/internal/teardown"
	"github.com/psantana5/wflatency/pkg/models"
)

var cleanupBatchSize int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <site> <containerTitle> [username password]",
	Short: "Delete every probe item and terminate its workflows",
	Long: `Drains the trigger list, both task lists and the history list in pages of
at most --batch-size items. Running workflow instances are terminated before
the item they belong to is deleted. Items already removed by a concurrent
cleanup are skipped, so an interrupted cleanup can simply be run again.

Example:
  wflatency cleanup https://contoso.sharepoint.com/sites/latency Pings
  wflatency cleanup --batch-size 100 https://contoso.sharepoint.com/sites/latency Pings user@contoso.com password`,
	Args: siteArgs(2),
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupBatchSize, "batch-size", 0, "items fetched and deleted per page (default from config, 250)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx, a, err := newApp(cmd, "cleanup")
	if err != nil {
		return err
	}
	defer a.close()

	containers := models.ContainersFor(args[1])
	t, err := a.connect(args[0], args[2:], containers)
	if err != nil {
		return err
	}

	cfg := teardown.Config{BatchSize: a.cfg.Teardown.BatchSize}
	if cleanupBatchSize > 0 {
		cfg.BatchSize = cleanupBatchSize
	}

	metrics := report.NewMetrics(containers.Trigger)
	textfile := a.cfg.Metrics.Textfile
	progress := func(p teardown.Progress) {
		metrics.TeardownProgress(p)
		a.logger.Info("Teardown progress", logging.Fields{
			"container": p.Container,
			"processed": p.Processed,
			"total":     p.Total,
			"percent":   fmt.Sprintf("%.1f", p.Percent),
		})
	}

	mgr := teardown.NewManager(cfg, t.gw,
		teardown.WithLogger(a.logger),
		teardown.WithTracer(a.tracer),
		teardown.WithProgress(progress),
	)
	results, drainErr := mgr.DrainAll(ctx, containers.All())

	if textfile != "" {
		if err := report.WriteTextfile(metrics.Registry(), textfile); err != nil {
			a.logger.Warn("Failed to write metrics textfile", logging.Fields{"path": textfile, "error": err})
		}
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Container", "State", "Processed", "Total", "Pages", "Terminated", "Skipped", "Duration")
	for _, r := range results {
		table.Append(
			r.Container,
			string(r.State),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Total),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Terminated),
			strconv.Itoa(r.Skipped),
			r.Duration.Round(time.Millisecond).String(),
		)
	}
	table.Render()

	return drainErr
}
