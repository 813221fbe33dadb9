package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/autopeer-io/vacuumsim/cmd/vacuumd/app/options"
	"github.com/autopeer-io/vacuumsim/pkg/log"
)

const (
	commandName  = "vacuumd"
	usageColumns = 100
	commandDesc = `vacuumd simulates a vacuum robot. It cleans until its battery runs low,
recharges, reports every step as a lifecycle event and accepts remote commands
on its per-device channel and on the broadcast topic.`
)

func NewVacuumdCommand(ctx context.Context) *cobra.Command {
	opts := options.NewVacuumdOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Run a simulated vacuum robot",
		Long:         commandDesc,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := loadConfig(v, configFile, cmd.Flags(), opts); err != nil {
				return err
			}
			if err := opts.Complete(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			log.Init(opts.Log)
			defer func() { _ = log.Sync() }()

			return run(ctx, v, configFile, opts)
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	fs := cmd.Flags()
	namedfs := opts.Flags()
	namedfs.FlagSet("global").StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file. Robot tunables are reloaded when it changes.")
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	for _, f := range namedfs.FlagSets {
		fs.AddFlagSet(f)
	}

	cliflag.SetUsageAndHelpFunc(cmd, namedfs, usageColumns)

	return cmd
}

func run(ctx context.Context, v *viper.Viper, configFile string, opts *options.VacuumdOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	agent, err := cfg.NewAgent(ctx)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if configFile != "" {
		watchConfig(v, func(next *options.VacuumdOptions) {
			agent.ApplyTunables(next.RobotOptions.DustbinCapacity, next.RobotOptions.StuckChance)
		})
	}

	return agent.Run(ctx)
}
