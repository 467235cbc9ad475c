package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/report"
	"github.com/psantana5/wflatency/internal/sampler"
	"github.com/psantana5/wflatency/internal/shutdown"
	"github.com/psantana5/wflatency/internal/store"
	"github.com/psantana5/wflatency/internal/tlsutil"
	"github.com/psantana5/wflatency/pkg/models"
)

var (
	continuousRounds   int
	continuousMetrics  string
	continuousTextfile string
	continuousDB       string
)

var continuousCmd = &cobra.Command{
	Use:   "continuous <site> <containerTitle> <intervalSeconds> [username password]",
	Short: "Insert a probe item every interval and report workflow latency",
	Long: `Every interval a probe item is added to the trigger list and the newest task
of each workflow generation is compared against it. One tab-separated row is
written to stdout per round:

  Run  WF2010Actual  WF2013Actual  WF2010Last  WF2013Last

"Actual" is measured against the probe item the task points at, "Last"
against the newest probe item. A generation without an active workflow
reports N/A. Logs go to stderr.

Runs until interrupted (Ctrl+C) unless --rounds is set.

Example:
  wflatency continuous https://contoso.sharepoint.com/sites/latency Pings 30
  wflatency continuous --metrics-addr :9108 --results-db results.db https://contoso.sharepoint.com/sites/latency Pings 30 user@contoso.com password`,
	Args: siteArgs(3),
	RunE: runContinuous,
}

func init() {
	rootCmd.AddCommand(continuousCmd)

	flags := continuousCmd.Flags()
	flags.IntVar(&continuousRounds, "rounds", 0, "stop after this many reported rounds (0 = run until interrupted)")
	flags.StringVar(&continuousMetrics, "metrics-addr", "", "serve /metrics, /healthz and /anomalies on this address")
	flags.StringVar(&continuousTextfile, "metrics-textfile", "", "rewrite this Prometheus textfile after every round")
	flags.StringVar(&continuousDB, "results-db", "", "store every measured round in this SQLite file or postgres:// DSN")
}

func runContinuous(cmd *cobra.Command, args []string) error {
	seconds, err := strconv.Atoi(args[2])
	if err != nil || seconds <= 0 {
		return fmt.Errorf("intervalSeconds must be a positive integer, got %q", args[2])
	}
	cmd.SilenceUsage = true

	ctx, a, err := newApp(cmd, "continuous")
	if err != nil {
		return err
	}
	defer a.close()

	containers := models.ContainersFor(args[1])
	t, err := a.connect(args[0], args[3:], containers)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	log := a.logger.WithField("session", sessionID)

	interval := time.Duration(seconds) * time.Second
	metrics := report.NewMetrics(containers.Trigger)
	metrics.Health().MaxMeasureAge = 10 * interval
	sink := report.NewTSVSink(os.Stdout)
	opts := []sampler.Option{
		sampler.WithLogger(log),
		sampler.WithTracer(a.tracer),
		sampler.WithSink(sink),
		sampler.WithObserver(metrics),
	}

	if addr := firstNonEmpty(continuousMetrics, a.cfg.Metrics.Addr); addr != "" {
		srv := report.NewServer(addr, metrics, log)
		if a.cfg.Metrics.TLSCert != "" {
			tlsConfig, err := tlsutil.ServerConfig(a.cfg.Metrics.TLSCert, a.cfg.Metrics.TLSKey)
			if err != nil {
				return err
			}
			srv.UseTLS(tlsConfig)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server on %s: %w", addr, err)
		}
		a.shutdown.Register("metrics server", shutdown.StopHTTPServer(srv))
	}

	if path := firstNonEmpty(continuousTextfile, a.cfg.Metrics.Textfile); path != "" {
		opts = append(opts, sampler.WithObserver(&report.TextfileObserver{
			Metrics: metrics,
			Path:    path,
			OnError: func(err error) {
				log.Warn("Failed to write metrics textfile", logging.Fields{"path": path, "error": err})
			},
		}))
	}

	if dsn := firstNonEmpty(continuousDB, a.cfg.ResultsDB); dsn != "" {
		sc := store.ParseDSN(dsn)
		sc.Scope = containers.Trigger
		st, err := store.NewStore(sc)
		if err != nil {
			return fmt.Errorf("failed to open results database: %w", err)
		}
		a.shutdown.Register("results store", shutdown.CloseResource(st))
		opts = append(opts, sampler.WithRecorder(st))
		log.Info("Recording results", logging.Fields{"type": sc.Type})
	}

	if err := sink.WriteHeader(); err != nil {
		return err
	}

	s := sampler.New(sampler.Config{
		Interval:          interval,
		Containers:        containers,
		SubscriptionNames: a.cfg.SubscriptionNames(),
		Rounds:            continuousRounds,
		SessionID:         sessionID,
	}, t.gw, opts...)

	_, err = s.Run(ctx, sampler.State{})
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
