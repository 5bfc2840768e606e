// Package config loads the engine's three configuration fields from a
// YAML file and environment variables via viper. Command-line flags are
// not consulted.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Settings is the full set of externally configurable engine
// parameters. Nothing beyond these three fields is configurable.
type Settings struct {
	SaveFrequency time.Duration
	TrialID       int64
	MainID        int64
}

// Load reads Settings from path (if non-empty), then NOWORKFLOW_*
// environment variables, in that precedence order. A zero SaveFrequency
// disables partial flushing entirely (clock.FlushScheduler's contract).
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("noworkflow")
	v.AutomaticEnv()
	v.SetDefault("save_frequency", time.Second)
	v.SetDefault("trial_id", int64(0))
	v.SetDefault("main_id", int64(0))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, err
		}
	}

	return Settings{
		SaveFrequency: v.GetDuration("save_frequency"),
		TrialID:       v.GetInt64("trial_id"),
		MainID:        v.GetInt64("main_id"),
	}, nil
}
