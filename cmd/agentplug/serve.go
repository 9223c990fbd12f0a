package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host           string
	Port           int
	Watch          bool
	Debounce       time.Duration
	ReloadSchedule string
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host:     "localhost",
		Port:     8080,
		Watch:    false,
		Debounce: engine.DefaultDebounce,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capability HTTP API",
	Long: `Start a local HTTP server exposing capability listing, request resolution
and plan execution as a JSON API. With --watch the plugin directories are
watched and capabilities reloaded while serving; --reload-schedule reloads
on a cron schedule instead, for plugin directories on network filesystems
where file events are unreliable.

The server will be available at http://localhost:8080 by default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		return runServeCommand(ctx, config)
	},
}

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the server to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the server to")
	serveCmd.Flags().Bool("watch", defaults.Watch, "Reload capabilities when plugin files change")
	serveCmd.Flags().Duration("debounce", defaults.Debounce, "Quiet period before reloading after a change")
	serveCmd.Flags().String("reload-schedule", defaults.ReloadSchedule, "Cron expression for periodic reloads, e.g. \"*/5 * * * *\" or \"@every 10m\"")
}

// getServeConfigFromFlags extracts serve configuration from command flags
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()

	if host, err := cmd.Flags().GetString("host"); err == nil {
		config.Host = host
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil {
		config.Port = port
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}
	if debounce, err := cmd.Flags().GetDuration("debounce"); err == nil {
		config.Debounce = debounce
	}
	if schedule, err := cmd.Flags().GetString("reload-schedule"); err == nil {
		config.ReloadSchedule = schedule
	}

	return config
}

func runServeCommand(ctx context.Context, config *ServeConfig) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var history server.History
	if a.recorder != nil {
		history = a.recorder
	}
	srv, err := server.New(server.Config{Host: config.Host, Port: config.Port}, a.engine, history)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if config.ReloadSchedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(config.ReloadSchedule, func() {
			if err := a.engine.Reload(gctx); err != nil {
				logger.G(gctx).WithError(err).Debug("scheduled reload failed")
			}
		})
		if err != nil {
			return errors.Wrapf(err, "invalid reload schedule '%s'", config.ReloadSchedule)
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.G(ctx).WithField("schedule", config.ReloadSchedule).Info("scheduled capability reloads")
	}

	g.Go(func() error { return srv.Start(gctx) })
	if config.Watch {
		g.Go(func() error {
			return a.engine.Watch(gctx, a.loader.Roots(), config.Debounce, nil)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.G(ctx).Info("server stopped")
	return nil
}
