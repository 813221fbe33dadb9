package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/vacuumsim/cmd/vacuumd/app/options"
	"github.com/autopeer-io/vacuumsim/pkg/log"
)

// reloadDebounce drops change notifications arriving in quick succession.
const reloadDebounce = 2 * time.Second

// loadConfig layers flag defaults, the config file and explicitly set flags,
// in increasing precedence, into opts.
func loadConfig(v *viper.Viper, configFile string, fs *pflag.FlagSet, opts *options.VacuumdOptions) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

// watchConfig calls apply with the re-decoded options whenever the config
// file is written. Invalid robot options are logged and skipped.
func watchConfig(v *viper.Viper, apply func(*options.VacuumdOptions)) {
	var (
		mu         sync.Mutex
		lastChange time.Time
	)

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) {
			return
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastChange) < reloadDebounce {
			mu.Unlock()
			return
		}
		lastChange = now
		mu.Unlock()

		log.Info("Configuration file changed", "file", e.Name)

		next := options.NewVacuumdOptions()
		if err := v.Unmarshal(next); err != nil {
			log.Error(err, "Failed to decode updated configuration")
			return
		}
		if errs := next.RobotOptions.Validate(); len(errs) > 0 {
			log.Error(errs[0], "Ignoring invalid configuration update", "errors", len(errs))
			return
		}

		apply(next)
		log.Info("Configuration reloaded",
			"dustbinCapacity", next.RobotOptions.DustbinCapacity,
			"stuckChance", next.RobotOptions.StuckChance)
	})
	v.WatchConfig()
}
