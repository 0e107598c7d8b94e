package main

import (
	"context"
	"strings"

	"github.com/marmos91/dittoclient/internal/logger"
	"github.com/marmos91/dittoclient/pkg/config"
	"github.com/marmos91/dittoclient/pkg/fsclient"
	"github.com/marmos91/dittoclient/pkg/metrics"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// app holds the global flags and the state shared by subcommands.
type app struct {
	configPath  string
	endpoint    string
	principal   string
	logLevel    string
	metricsAddr string
	progress    bool

	// localFs replaces the host filesystem in tests
	localFs afero.Fs

	stopMetrics context.CancelFunc
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{localFs: afero.NewOsFs()}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dittoctl",
		Short:         "Client for NFS, S3, BadgerDB and local filesystems",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Configuration file (default $XDG_CONFIG_HOME/dittoclient/config.yaml)")
	pf.StringVarP(&a.endpoint, "endpoint", "e", "", "Remote endpoint, e.g. nfs://host/export or s3://bucket/prefix")
	pf.StringVarP(&a.principal, "principal", "u", "", "Identity operations run as")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	pf.BoolVar(&a.progress, "progress", false, "Show a progress bar for transfers")

	cmd.AddCommand(
		a.lsCmd(),
		a.putCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.catCmd(),
		a.writeCmd(),
		a.mkdirCmd(),
		a.statCmd(),
		a.initCmd(),
	)
	return cmd
}

// loadConfig merges the configuration sources with the global flags.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(a.configPath)
	if err != nil {
		return nil, &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "config", Path: a.configPath, Err: err}
	}

	if a.endpoint != "" {
		cfg.Endpoint = a.endpoint
	}
	if a.principal != "" {
		cfg.Principal = a.principal
	}
	if cfg.Principal == "" {
		cfg.Principal = config.GetDefaultConfig().Principal
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(a.logLevel)
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = a.metricsAddr
	}

	if err := config.Validate(cfg); err != nil {
		return nil, &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "config", Path: a.configPath, Err: err}
	}
	return cfg, nil
}

// connect opens the connection a subcommand works on. The caller must
// call a.close with the returned Conn.
func (a *app) connect(cmd *cobra.Command) (*fsclient.Conn, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "config", Err: err}
	}

	opts := []fsclient.Option{fsclient.WithLocalFs(a.localFs)}
	if cfg.Metrics.Enabled {
		u, err := cfg.EndpointURL()
		if err != nil {
			return nil, &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "config", Err: err}
		}
		metrics.InitRegistry()
		opts = append(opts,
			fsclient.WithMetrics(metrics.NewClientMetrics()),
			fsclient.WithBackendMetrics(metrics.NewBackendMetrics(u.Scheme)),
		)
		if cfg.Metrics.Addr != "" {
			if err := a.serveMetrics(cmd.Context(), cfg.Metrics.Addr); err != nil {
				return nil, &fsclient.Error{Kind: fsclient.KindConfiguration, Op: "metrics", Path: cfg.Metrics.Addr, Err: err}
			}
		}
	}

	conn, err := fsclient.ConnectConfig(cmd.Context(), cfg, opts...)
	if err != nil {
		a.shutdownMetrics()
		return nil, err
	}
	return conn, nil
}

func (a *app) close(conn *fsclient.Conn) {
	if err := conn.Close(); err != nil {
		logger.Warn("Close connection: %v", err)
	}
	a.shutdownMetrics()
	logger.Close()
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	srv, err := metrics.NewServer(addr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stopMetrics = cancel
	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Error("Metrics server: %v", err)
		}
	}()
	logger.Info("Serving metrics on http://%s/metrics", srv.Addr())
	return nil
}

func (a *app) shutdownMetrics() {
	if a.stopMetrics != nil {
		a.stopMetrics()
		a.stopMetrics = nil
	}
}
