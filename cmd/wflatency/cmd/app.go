package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/wflatency/internal/config"
	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/logging"
	"github.com/psantana5/wflatency/internal/shutdown"
	"github.com/psantana5/wflatency/internal/tlsutil"
	"github.com/psantana5/wflatency/internal/tracing"
	"github.com/psantana5/wflatency/pkg/models"
)

// app carries what every probe mode needs: effective config, logger,
// tracer and the shutdown sequence that releases them.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	tracer   *tracing.Provider
	shutdown *shutdown.Manager
}

// newApp builds the ambient stack for one command. The returned context is
// cancelled on SIGINT or SIGTERM; call close when the command returns.
func newApp(cmd *cobra.Command, component string) (context.Context, *app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	level := logging.ParseLevel(cfg.LogLevel)
	jsonFormat := cfg.LogFormat == "json"
	base := logging.NewLogger(level, jsonFormat)
	if cfg.LogFile {
		if base, err = logging.NewFileLogger(component, level, jsonFormat); err != nil {
			return nil, nil, err
		}
	}
	logger := base.WithField("component", component)

	mgr := shutdown.New(cfg.ShutdownTimeout, logger)
	mgr.Register("logger", shutdown.CloseResource(base))

	ctx, stop := mgr.NotifyContext(cmd.Context())
	mgr.Register("signals", func(context.Context) error {
		stop()
		return nil
	})

	cfg.Tracing.ServiceVersion = Version
	tp, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		mgr.Shutdown()
		return nil, nil, err
	}
	mgr.Register("tracer", tp.Shutdown)
	if cfg.Tracing.Enabled {
		logger.Info("Tracing enabled", logging.Fields{"endpoint": cfg.Tracing.OTLPEndpoint})
	}

	return ctx, &app{cfg: cfg, logger: logger, tracer: tp, shutdown: mgr}, nil
}

func (a *app) close() {
	if failed := a.shutdown.Shutdown(); failed > 0 {
		a.logger.Warn("Shutdown incomplete", logging.Fields{"failed_steps": failed})
	}
}

// target is the remote side of a command: the gateway and its provisioner
type target struct {
	gw   gateway.Gateway
	prov gateway.Provisioner
	// engine is set for the memory backend
	engine *gateway.SimulatedEngine
}

// connect opens the configured backend for site. creds holds the optional
// username and password positional arguments.
func (a *app) connect(site string, creds []string, containers models.Containers) (*target, error) {
	if a.cfg.Backend == config.BackendMemory {
		gw := gateway.NewMemoryGateway()
		gw.PageSize = a.cfg.HTTP.PageSize
		engine := &gateway.SimulatedEngine{
			Gateway:       gw,
			Containers:    containers,
			Subscriptions: a.cfg.SubscriptionNames(),
			Lag: map[models.Generation]time.Duration{
				models.GenA: 3 * time.Second,
				models.GenB: 8 * time.Second,
			},
			Logger: a.logger.WithField("engine", "simulated"),
		}
		engine.Install()
		a.logger.Warn("Using the in-memory backend, no remote site is contacted", logging.Fields{"site": site})
		return &target{gw: gw, prov: gw, engine: engine}, nil
	}

	session := gateway.Session{
		SiteURL:  site,
		Username: a.cfg.Username,
		Password: a.cfg.Password,
		Token:    a.cfg.Token,
	}
	if len(creds) == 2 {
		session.Username, session.Password = creds[0], creds[1]
	}
	opts := a.cfg.GatewayOptions()
	if tlsOpts := a.cfg.ClientTLS(); !tlsOpts.IsZero() {
		tlsConfig, err := tlsutil.ClientConfig(tlsOpts)
		if err != nil {
			return nil, err
		}
		opts.TLS = tlsConfig
		if tlsOpts.InsecureSkipVerify {
			a.logger.Warn("TLS certificate verification is disabled")
		}
	}
	client, err := gateway.NewRESTClient(session, opts)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Connected", logging.Fields{"site": site, "user": session.Username})
	return &target{gw: client, prov: client}, nil
}

// siteArgs accepts fixed positional arguments optionally followed by a
// username and password
func siteArgs(fixed int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != fixed && len(args) != fixed+2 {
			return fmt.Errorf("accepts %d arg(s), or %d with username and password, received %d", fixed, fixed+2, len(args))
		}
		return nil
	}
}
