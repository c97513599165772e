package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the configuration whenever the file changes and hands the
// validated result to onChange. A reload that fails to parse or validate is
// logged and ignored; the previous configuration keeps serving.
func Watch(logger *slog.Logger, onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed", slog.String("file", e.Name))

		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			logger.Error("reload rejected: failed to unmarshal config", slog.Any("err", err))
			return
		}

		if err := cfg.Validate(); err != nil {
			logger.Error("reload rejected: invalid configuration", slog.Any("err", err))
			return
		}

		onChange(&cfg)
	})

	viper.WatchConfig()
}
