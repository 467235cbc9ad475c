package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/wflatency/internal/shutdown"
	"github.com/psantana5/wflatency/internal/store"
	"github.com/psantana5/wflatency/internal/summary"
	"github.com/psantana5/wflatency/pkg/models"
)

var (
	summaryOutput  string
	summaryHistory bool
	summaryDB      string
)

var summaryCmd = &cobra.Command{
	Use:   "summary <site> <containerTitle> [username password]",
	Short: "Count probe items and tasks per workflow generation",
	Long: `Reads every item of the trigger list and both task lists and reports, per
workflow generation, how many tasks were created, how many point back at an
existing probe item and which probe items never got a task. 2013 tasks whose
related item is not filled in yet are counted as pending; unparsable ones are
listed.

With --history the latency statistics stored by "continuous --results-db"
are printed instead.

Example:
  wflatency summary https://contoso.sharepoint.com/sites/latency Pings
  wflatency summary --output json https://contoso.sharepoint.com/sites/latency Pings
  wflatency summary --history --results-db results.db https://contoso.sharepoint.com/sites/latency Pings`,
	Args: siteArgs(2),
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	flags := summaryCmd.Flags()
	flags.StringVarP(&summaryOutput, "output", "o", summary.FormatTable, "output format: table, json or yaml")
	flags.BoolVar(&summaryHistory, "history", false, "print stored latency statistics instead of counting items")
	flags.StringVar(&summaryDB, "results-db", "", "SQLite file or postgres:// DSN written by continuous (default from config)")
}

func runSummary(cmd *cobra.Command, args []string) error {
	if !summary.ValidFormat(summaryOutput) {
		return fmt.Errorf("unknown output format %q", summaryOutput)
	}
	cmd.SilenceUsage = true

	ctx, a, err := newApp(cmd, "summary")
	if err != nil {
		return err
	}
	defer a.close()

	containers := models.ContainersFor(args[1])

	if summaryHistory {
		dsn := firstNonEmpty(summaryDB, a.cfg.ResultsDB)
		if dsn == "" {
			return fmt.Errorf("--history needs --results-db or results_db in the config")
		}
		sc := store.ParseDSN(dsn)
		sc.Scope = containers.Trigger
		st, err := store.NewStore(sc)
		if err != nil {
			return fmt.Errorf("failed to open results database: %w", err)
		}
		a.shutdown.Register("results store", shutdown.CloseResource(st))

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return err
		}
		return summary.WriteHistory(os.Stdout, summary.NewHistory(stats, sessions), summaryOutput)
	}

	t, err := a.connect(args[0], args[2:], containers)
	if err != nil {
		return err
	}

	s, err := summary.NewBuilder(t.gw, a.cfg.SubscriptionNames(), a.logger).Build(ctx, containers)
	if err != nil {
		return err
	}
	return summary.Write(os.Stdout, s, summaryOutput)
}
