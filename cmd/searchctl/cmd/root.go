// Package cmd provides the searchctl commands.
package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/backend/registry"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/tasks"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchapi/pkg/postgres"
)

// app holds what the commands of one invocation share. Stores are opened on
// first use and closed after the command ran.
type app struct {
	configPath string
	format     string
	verbose    bool

	cfg     *config.Config
	metrics *metrics.Metrics
	pg      *postgres.Client
	reg     *registry.Registry
	closers []func() error
}

// NewRootCmd creates the searchctl root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "searchctl",
		Short: "Administer search servers, indexes and the task log",
		Long: `searchctl works directly against the stores named in the config file.

Output is a table on a terminal and JSON otherwise; --format overrides.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "warn"
			if a.verbose {
				level = "debug"
			}
			logger.SetupWriter(cmd.ErrOrStderr(), level, "text")
			switch a.format {
			case formatAuto, formatJSON, formatText:
			default:
				return fmt.Errorf("unknown format %q", a.format)
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			// A private registry keeps repeated invocations in one process
			// (tests) from registering collectors twice.
			a.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/development.yaml", "Path to config file")
	cmd.PersistentFlags().StringVarP(&a.format, "format", "f", formatAuto, "Output format: auto, json, text")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(newTasksCmd(a))
	cmd.AddCommand(newDrainCmd(a))
	cmd.AddCommand(newCatalogCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newReindexCmd(a))
	cmd.AddCommand(newKeysCmd(a))

	return cmd
}

func (a *app) postgres() (*postgres.Client, error) {
	if a.pg != nil {
		return a.pg, nil
	}
	pg, err := bootstrap.Postgres(a.cfg)
	if err != nil {
		return nil, err
	}
	a.pg = pg
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

func (a *app) registry() (*registry.Registry, error) {
	if a.reg != nil {
		return a.reg, nil
	}
	reg, err := bootstrap.Registry(a.cfg, a.metrics)
	if err != nil {
		return nil, err
	}
	a.reg = reg
	a.closers = append(a.closers, reg.Close)
	return reg, nil
}

func (a *app) taskManager(ctx context.Context) (*tasks.Manager, error) {
	var pg *postgres.Client
	if a.cfg.Tasks.Store == "postgres" {
		var err error
		if pg, err = a.postgres(); err != nil {
			return nil, err
		}
	}
	store, closeStore, err := bootstrap.TaskStore(ctx, a.cfg, pg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	return bootstrap.TaskManager(a.cfg, store, reg, a.metrics), nil
}

// close releases stores in reverse opening order.
func (a *app) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	a.pg, a.reg = nil, nil
	return first
}
