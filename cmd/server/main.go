package main

import (
	"os"

	"github.com/parbhatia/gospace-sub000/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "gospace",
		Short: "Multi-room WebRTC signaling and media routing server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			setLogLevel(cfg.LogLevel)
			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	cmd.SilenceUsage = true

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	flags.Int("port", 8080, "HTTP listen port")
	flags.Int("workers", 0, "media workers, 0 for one per CPU")
	flags.String("engine", "rtc", "media engine: rtc or memory")
	bindFlag(v, "port", cmd, "port")
	bindFlag(v, "workers.count", cmd, "workers")
	bindFlag(v, "engine", cmd, "engine")
	return cmd
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
		log.Fatal().Err(err).Str("flag", name).Msg("failed to bind flag")
	}
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("gospace exited")
		os.Exit(1)
	}
}
